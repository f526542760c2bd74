package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pribylovaa/go-comment-store/internal/models"
	"github.com/pribylovaa/go-comment-store/internal/storage"
	"github.com/pribylovaa/go-comment-store/pkg/log"
)

// Insert — создание корневого комментария или ответа.
//
// Валидация:
//   - Username нормализуется (TrimSpace) и не должен быть пустым;
//   - Body не должен быть пустым (при sanitize_html — после очистки);
//   - пустой ParentID считается отсутствующим; корню обязателен непустой Assoc.
//
// Поведение/ошибки:
//   - ErrParentNotFound — указан ParentID, но родитель отсутствует;
//   - ErrMaxReplyLevel — ответ глубже policy.max_reply_level;
//   - ErrInternal — прочие ошибки драйвера.
func (s *Service) Insert(ctx context.Context, in models.NewComment) (string, error) {
	const op = "service/comments/Insert"

	in.ParentID = normalizeID(in.ParentID)
	lg := log.From(ctx).With("op", op, "parent_id", deref(in.ParentID))

	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" {
		lg.Warn("invalid argument: empty username")
		return "", fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	in.Body = s.clean(in.Body)
	if strings.TrimSpace(in.Body) == "" {
		lg.Warn("invalid argument: empty body")
		return "", fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	if in.Assoc != nil && *in.Assoc == "" {
		in.Assoc = nil
	}

	if in.ParentID == nil && in.Assoc == nil {
		lg.Warn("invalid argument: empty assoc for root comment")
		return "", fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	id, err := s.storage.Insert(ctx, in)
	if err != nil {
		return "", mapStorageErr(lg, op, err)
	}

	lg.Debug("comment_inserted", "id", id)
	return id, nil
}

// Update — изменение body/opaque. Неизвестный id — не ошибка.
func (s *Service) Update(ctx context.Context, postID string, patch models.CommentPatch) error {
	const op = "service/comments/Update"

	postID = strings.TrimSpace(postID)
	lg := log.From(ctx).With("op", op, "id", postID)

	if postID == "" {
		lg.Warn("invalid argument: empty postId")
		return fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	if patch.Body != nil {
		patch.Body = models.Ptr(s.clean(*patch.Body))
	}

	if err := s.storage.Update(ctx, postID, patch); err != nil {
		return mapStorageErr(lg, op, err)
	}

	return nil
}

// Delete — удаление по фильтру вместе со всеми потомками.
// Пустой фильтр ничего не удаляет.
func (s *Service) Delete(ctx context.Context, f models.Filter) (int64, error) {
	const op = "service/comments/Delete"

	lg := log.From(ctx).With("op", op)

	f.PostID = normalizeID(f.PostID)
	f.ParentID = normalizeID(f.ParentID)

	n, err := s.storage.Delete(ctx, f)
	if err != nil {
		return n, mapStorageErr(lg, op, err)
	}

	lg.Debug("comments_deleted", "removed", n)
	return n, nil
}

// Count — число комментариев под фильтром.
func (s *Service) Count(ctx context.Context, f models.Filter) (int64, error) {
	const op = "service/comments/Count"

	f.PostID = normalizeID(f.PostID)
	f.ParentID = normalizeID(f.ParentID)

	n, err := s.storage.Count(ctx, f)
	if err != nil {
		return 0, mapStorageErr(log.From(ctx).With("op", op), op, err)
	}

	return n, nil
}

// FindByID — [] или [comment]; depth задаёт раскрытие ответов.
func (s *Service) FindByID(ctx context.Context, postID string, depth models.Depth, limit int64) ([]models.Comment, error) {
	const op = "service/comments/FindByID"

	postID = strings.TrimSpace(postID)
	lg := log.From(ctx).With("op", op, "id", postID, "depth", depth.String())

	if postID == "" {
		lg.Warn("invalid argument: empty postId")
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	items, err := s.storage.FindByID(ctx, postID, depth, s.limit(limit))
	if err != nil {
		return nil, mapStorageErr(lg, op, err)
	}
	s.warnTruncated(lg, limit, len(items))

	return nonNil(items), nil
}

// FindByUsernameAndAssoc — плоская выборка по автору и/или assoc.
func (s *Service) FindByUsernameAndAssoc(ctx context.Context, username, assoc *string, limit int64) ([]models.Comment, error) {
	const op = "service/comments/FindByUsernameAndAssoc"

	lg := log.From(ctx).With("op", op)

	items, err := s.storage.FindByUsernameAndAssoc(ctx, username, assoc, s.limit(limit))
	if err != nil {
		return nil, mapStorageErr(lg, op, err)
	}
	s.warnTruncated(lg, limit, len(items))

	return nonNil(items), nil
}

// FindRootByAssoc — корни ветки assoc.
func (s *Service) FindRootByAssoc(ctx context.Context, assoc string, depth models.Depth, limit int64) ([]models.Comment, error) {
	const op = "service/comments/FindRootByAssoc"

	lg := log.From(ctx).With("op", op, "assoc", assoc, "depth", depth.String())

	if assoc == "" {
		lg.Warn("invalid argument: empty assoc")
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	items, err := s.storage.FindRootByAssoc(ctx, assoc, depth, s.limit(limit))
	if err != nil {
		return nil, mapStorageErr(lg, op, err)
	}
	s.warnTruncated(lg, limit, len(items))

	return nonNil(items), nil
}

// Ready проверяет доступность хранилища (для /healthz).
func (s *Service) Ready(ctx context.Context) error {
	const op = "service/comments/Ready"

	if err := s.storage.Ping(ctx); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrInternal, err)
	}

	return nil
}

// mapStorageErr переводит ошибки драйвера в сервисные.
// Для ErrInternal исходная цепочка сохраняется (нужна для context.DeadlineExceeded и т.п.).
func mapStorageErr(lg *slog.Logger, op string, err error) error {
	switch {
	case errors.Is(err, storage.ErrInvalidArgument):
		lg.Warn("invalid argument", "err", err)
		return fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	case errors.Is(err, storage.ErrParentNotFound):
		lg.Warn("parent not found")
		return fmt.Errorf("%s: %w", op, ErrParentNotFound)
	case errors.Is(err, storage.ErrMaxReplyLevel):
		lg.Warn("max reply level reached")
		return fmt.Errorf("%s: %w", op, ErrMaxReplyLevel)
	default:
		lg.Error("storage error", "err", err)
		return fmt.Errorf("%s: %w: %w", op, ErrInternal, err)
	}
}

func (s *Service) limit(limit int64) int64 {
	return storage.LimitOrMax(limit, s.cfg.Limits.Max)
}

// warnTruncated: limit не передан, а выдача упёрлась в limits.max.
func (s *Service) warnTruncated(lg *slog.Logger, requested int64, n int) {
	if requested <= 0 && s.cfg.Limits.Max > 0 && int64(n) >= s.cfg.Limits.Max {
		lg.Warn("result_truncated", "limits_max", s.cfg.Limits.Max)
	}
}

func (s *Service) clean(body string) string {
	if s.sanitize == nil {
		return body
	}

	return s.sanitize.Sanitize(body)
}

// normalizeID: пустой или пробельный id равносилен отсутствующему.
func normalizeID(id *string) *string {
	if id == nil {
		return nil
	}

	v := strings.TrimSpace(*id)
	if v == "" {
		return nil
	}

	return &v
}

func nonNil(items []models.Comment) []models.Comment {
	if items == nil {
		return []models.Comment{}
	}

	return items
}

func deref(p *string) string {
	if p == nil {
		return ""
	}

	return *p
}
