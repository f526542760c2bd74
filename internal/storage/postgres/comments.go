package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pribylovaa/go-comment-store/internal/models"
	"github.com/pribylovaa/go-comment-store/internal/storage"
	"github.com/pribylovaa/go-comment-store/internal/storage/tree"
	"github.com/pribylovaa/go-comment-store/pkg/log"

	"github.com/jackc/pgx/v5"
)

const columns = `id, username, body, assoc, parent_id, level, opaque, created_at, modified_at`

// parseID: id — десятичное BIGSERIAL. ok=false — id заведомо ничего не найдёт.
func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}

	return id, true
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// TIMESTAMPTZ хранит микросекунды.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func scanComment(row pgx.Row) (models.Comment, error) {
	var (
		c        models.Comment
		id       int64
		parentID *int64
	)

	if err := row.Scan(&id, &c.Username, &c.Body, &c.Assoc, &parentID, &c.Level, &c.Opaque, &c.CreatedAt, &c.ModifiedAt); err != nil {
		return models.Comment{}, err
	}

	c.ID = formatID(id)
	if parentID != nil {
		c.ParentID = models.Ptr(formatID(*parentID))
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.ModifiedAt = c.ModifiedAt.UTC()

	return c, nil
}

// buildWhere собирает AND-условие из заданных полей фильтра.
// ok=false — фильтр пуст или содержит битый id.
func buildWhere(f models.Filter) (string, []any, bool) {
	if f.IsEmpty() {
		return "", nil, false
	}

	var (
		conds []string
		args  []any
	)

	add := func(col string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if f.PostID != nil {
		id, ok := parseID(*f.PostID)
		if !ok {
			return "", nil, false
		}
		add("id", id)
	}

	if f.Username != nil {
		add("username", *f.Username)
	}

	if f.Assoc != nil {
		add("assoc", *f.Assoc)
	}

	if f.ParentID != nil {
		id, ok := parseID(*f.ParentID)
		if !ok {
			return "", nil, false
		}
		add("parent_id", id)
	}

	return strings.Join(conds, " AND "), args, true
}

// Insert создаёт корень или ответ.
// Ответ наследует assoc родителя и получает level = parent.level + 1.
func (s *Storage) Insert(ctx context.Context, in models.NewComment) (string, error) {
	const op = "storage.postgres.Insert"

	if err := storage.CheckNewComment(in); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	db, err := s.pool(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	var (
		assoc    string
		parentID *int64
		level    int32
	)

	if in.ParentID == nil {
		assoc = *in.Assoc
	} else {
		pid, ok := parseID(*in.ParentID)
		if !ok {
			return "", fmt.Errorf("%s: %w", op, storage.ErrParentNotFound)
		}

		var parentLevel int32
		err := db.QueryRow(ctx,
			fmt.Sprintf(`SELECT assoc, level FROM %s WHERE id = $1`, s.table), pid,
		).Scan(&assoc, &parentLevel)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return "", fmt.Errorf("%s: %w", op, storage.ErrParentNotFound)
			}

			return "", fmt.Errorf("%s: find parent: %w", op, err)
		}

		if in.Assoc != nil && *in.Assoc != assoc {
			log.From(ctx).Warn("assoc does not match parent assoc, using parent assoc",
				"op", op,
				"parent_id", pid,
			)
		}

		parentID = &pid
		level = parentLevel + 1
	}

	if s.policy.MaxReplyLevel > 0 && level >= s.policy.MaxReplyLevel {
		return "", fmt.Errorf("%s: %w", op, storage.ErrMaxReplyLevel)
	}

	ts := now()

	var id int64
	err = db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (username, body, assoc, parent_id, level, opaque, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id`, s.table),
		in.Username, in.Body, assoc, parentID, level, in.Opaque, ts,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("%s: insert: %w", op, err)
	}

	return formatID(id), nil
}

// Update меняет переданные поля и modified_at. Неизвестный или битый id — no-op.
func (s *Storage) Update(ctx context.Context, postID string, patch models.CommentPatch) error {
	const op = "storage.postgres.Update"

	if strings.TrimSpace(postID) == "" {
		return fmt.Errorf("%s: postId is required: %w", op, storage.ErrInvalidArgument)
	}

	db, err := s.pool(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	id, ok := parseID(postID)
	if !ok {
		return nil
	}

	sets := []string{"modified_at = $2"}
	args := []any{id, now()}

	if patch.Body != nil {
		args = append(args, *patch.Body)
		sets = append(sets, fmt.Sprintf("body = $%d", len(args)))
	}

	if patch.Opaque != nil {
		args = append(args, *patch.Opaque)
		sets = append(sets, fmt.Sprintf("opaque = $%d", len(args)))
	}

	q := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1`, s.table, strings.Join(sets, ", "))
	if _, err := db.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Delete удаляет совпадения фильтра и каскадно их потомков.
func (s *Storage) Delete(ctx context.Context, f models.Filter) (int64, error) {
	const op = "storage.postgres.Delete"

	db, err := s.pool(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	where, args, ok := buildWhere(f)
	if !ok {
		log.From(ctx).Debug("delete filter matches nothing", "op", op)
		return 0, nil
	}

	ids, err := s.queryIDs(ctx, db, fmt.Sprintf(`SELECT id FROM %s WHERE %s`, s.table, where), args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	n, err := tree.Cascade(ctx, s, ids, s.policy.FanOut)
	if err != nil {
		return n, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

// Count считает совпадения фильтра; пустой фильтр — 0.
func (s *Storage) Count(ctx context.Context, f models.Filter) (int64, error) {
	const op = "storage.postgres.Count"

	db, err := s.pool(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	where, args, ok := buildWhere(f)
	if !ok {
		return 0, nil
	}

	var n int64
	if err := db.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s WHERE %s`, s.table, where), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

// FindByID возвращает [] или [comment] с раскрытыми ответами.
func (s *Storage) FindByID(ctx context.Context, postID string, depth models.Depth, limit int64) ([]models.Comment, error) {
	const op = "storage.postgres.FindByID"

	if strings.TrimSpace(postID) == "" {
		return nil, fmt.Errorf("%s: postId is required: %w", op, storage.ErrInvalidArgument)
	}

	db, err := s.pool(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	id, ok := parseID(postID)
	if !ok {
		return []models.Comment{}, nil
	}

	items, err := s.query(ctx, db, `id = $1`, []any{id}, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.expand(ctx, op, items, depth)
}

// FindByUsernameAndAssoc — AND-фильтр без рекурсии.
func (s *Storage) FindByUsernameAndAssoc(ctx context.Context, username, assoc *string, limit int64) ([]models.Comment, error) {
	const op = "storage.postgres.FindByUsernameAndAssoc"

	db, err := s.pool(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	where, args, ok := buildWhere(models.Filter{Username: username, Assoc: assoc})
	if !ok {
		return []models.Comment{}, nil
	}

	items, err := s.query(ctx, db, where, args, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return items, nil
}

// FindRootByAssoc возвращает корни ветки assoc.
func (s *Storage) FindRootByAssoc(ctx context.Context, assoc string, depth models.Depth, limit int64) ([]models.Comment, error) {
	const op = "storage.postgres.FindRootByAssoc"

	db, err := s.pool(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	items, err := s.query(ctx, db, `assoc = $1 AND parent_id IS NULL`, []any{assoc}, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.expand(ctx, op, items, depth)
}

// Children возвращает прямых детей в порядке вставки.
func (s *Storage) Children(ctx context.Context, parentID string) ([]models.Comment, error) {
	db, err := s.pool(ctx)
	if err != nil {
		return nil, err
	}

	id, ok := parseID(parentID)
	if !ok {
		return []models.Comment{}, nil
	}

	return s.query(ctx, db, `parent_id = $1`, []any{id}, 0)
}

// DeleteIDs удаляет строки по списку id, без каскада.
func (s *Storage) DeleteIDs(ctx context.Context, ids []string) (int64, error) {
	db, err := s.pool(ctx)
	if err != nil {
		return 0, err
	}

	keys := toKeys(ids)
	if len(keys) == 0 {
		return 0, nil
	}

	tag, err := db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, s.table), keys)
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

// ChildIDs возвращает id прямых детей перечисленных родителей.
func (s *Storage) ChildIDs(ctx context.Context, parentIDs []string) ([]string, error) {
	db, err := s.pool(ctx)
	if err != nil {
		return nil, err
	}

	keys := toKeys(parentIDs)
	if len(keys) == 0 {
		return nil, nil
	}

	return s.queryIDs(ctx, db, fmt.Sprintf(`SELECT id FROM %s WHERE parent_id = ANY($1)`, s.table), keys)
}

func (s *Storage) expand(ctx context.Context, op string, items []models.Comment, depth models.Depth) ([]models.Comment, error) {
	if !depth.Recursive() {
		return items, nil
	}

	out, err := tree.Expand(ctx, s, items, depth.Levels(s.policy.MaxRecurseLevel), s.policy.FanOut)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

// query выбирает строки по условию в порядке id ASC. limit <= 0 — без лимита.
func (s *Storage) query(ctx context.Context, db queryer, where string, args []any, limit int64) ([]models.Comment, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY id ASC`, columns, s.table, where)
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	items := []models.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		items = append(items, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	return items, nil
}

func (s *Storage) queryIDs(ctx context.Context, db queryer, q string, args ...any) ([]string, error) {
	rows, err := db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}

	keys, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collect ids: %w", err)
	}

	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, formatID(k))
	}

	return ids, nil
}

// queryer — общее подмножество pgxpool.Pool и pgx.Tx.
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func toKeys(ids []string) []int64 {
	keys := make([]int64, 0, len(ids))
	for _, id := range ids {
		if k, ok := parseID(id); ok {
			keys = append(keys, k)
		}
	}

	return keys
}
