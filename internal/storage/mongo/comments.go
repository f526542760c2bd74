package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pribylovaa/go-comment-store/internal/models"
	"github.com/pribylovaa/go-comment-store/internal/storage"
	"github.com/pribylovaa/go-comment-store/internal/storage/tree"
	"github.com/pribylovaa/go-comment-store/pkg/log"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// commentDoc — форма записи в коллекции.
type commentDoc struct {
	ID         primitive.ObjectID  `bson:"_id,omitempty"`
	Username   string              `bson:"username"`
	Body       string              `bson:"body"`
	Assoc      string              `bson:"assoc"`
	ParentID   *primitive.ObjectID `bson:"parentId"`
	Level      int32               `bson:"level"`
	Opaque     *string             `bson:"opaque"`
	CreatedAt  time.Time           `bson:"createdAt"`
	ModifiedAt time.Time           `bson:"modifiedAt"`
}

func (d commentDoc) toModel() models.Comment {
	c := models.Comment{
		ID:         d.ID.Hex(),
		Username:   d.Username,
		Body:       d.Body,
		Assoc:      d.Assoc,
		Level:      d.Level,
		Opaque:     d.Opaque,
		CreatedAt:  d.CreatedAt.UTC(),
		ModifiedAt: d.ModifiedAt.UTC(),
	}

	if d.ParentID != nil {
		c.ParentID = models.Ptr(d.ParentID.Hex())
	}

	return c
}

// MongoDB DateTime хранит миллисекунды.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// parseID превращает строковый id в ObjectID. ok=false — id заведомо ничего не найдёт.
func parseID(s string) (primitive.ObjectID, bool) {
	oid, err := primitive.ObjectIDFromHex(strings.TrimSpace(s))
	if err != nil {
		return primitive.NilObjectID, false
	}

	return oid, true
}

// buildFilter собирает AND-фильтр из заданных полей.
// ok=false — фильтр пуст или содержит битый id и ничего не выберет.
func buildFilter(f models.Filter) (bson.D, bool) {
	if f.IsEmpty() {
		return nil, false
	}

	filter := bson.D{}

	if f.PostID != nil {
		oid, ok := parseID(*f.PostID)
		if !ok {
			return nil, false
		}
		filter = append(filter, bson.E{Key: "_id", Value: oid})
	}

	if f.Username != nil {
		filter = append(filter, bson.E{Key: "username", Value: *f.Username})
	}

	if f.Assoc != nil {
		filter = append(filter, bson.E{Key: "assoc", Value: *f.Assoc})
	}

	if f.ParentID != nil {
		oid, ok := parseID(*f.ParentID)
		if !ok {
			return nil, false
		}
		filter = append(filter, bson.E{Key: "parentId", Value: oid})
	}

	return filter, true
}

// Insert создаёт корень или ответ.
//   - Корень: assoc обязателен, level = 0.
//   - Ответ: assoc берётся у родителя, level = parent.level + 1.
//   - level >= policy.max_reply_level — storage.ErrMaxReplyLevel.
func (m *Mongo) Insert(ctx context.Context, in models.NewComment) (string, error) {
	const op = "storage/mongo/Insert"

	if err := storage.CheckNewComment(in); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	coll, err := m.collection(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	ts := now()
	doc := commentDoc{
		Username:   in.Username,
		Body:       in.Body,
		Opaque:     in.Opaque,
		CreatedAt:  ts,
		ModifiedAt: ts,
	}

	if in.ParentID == nil {
		doc.Assoc = *in.Assoc
	} else {
		parentOID, ok := parseID(*in.ParentID)
		if !ok {
			return "", fmt.Errorf("%s: %w", op, storage.ErrParentNotFound)
		}

		var parent commentDoc
		if err := coll.FindOne(ctx, bson.D{{Key: "_id", Value: parentOID}}).Decode(&parent); err != nil {
			if errors.Is(err, mongodriver.ErrNoDocuments) {
				return "", fmt.Errorf("%s: %w", op, storage.ErrParentNotFound)
			}

			return "", fmt.Errorf("%s: find parent: %w", op, err)
		}

		if in.Assoc != nil && *in.Assoc != parent.Assoc {
			log.From(ctx).Warn("assoc does not match parent assoc, using parent assoc",
				"op", op,
				"parent_id", parentOID.Hex(),
			)
		}

		doc.Assoc = parent.Assoc
		doc.ParentID = &parentOID
		doc.Level = parent.Level + 1
	}

	if m.policy.MaxReplyLevel > 0 && doc.Level >= m.policy.MaxReplyLevel {
		return "", fmt.Errorf("%s: %w", op, storage.ErrMaxReplyLevel)
	}

	res, err := coll.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("%s: insert: %w", op, err)
	}

	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("%s: inserted id type %T", op, res.InsertedID)
	}

	return oid.Hex(), nil
}

// Update меняет только переданные поля и всегда обновляет modifiedAt.
// Битый или неизвестный id — no-op.
func (m *Mongo) Update(ctx context.Context, postID string, patch models.CommentPatch) error {
	const op = "storage/mongo/Update"

	if strings.TrimSpace(postID) == "" {
		return fmt.Errorf("%s: postId is required: %w", op, storage.ErrInvalidArgument)
	}

	coll, err := m.collection(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	oid, ok := parseID(postID)
	if !ok {
		return nil
	}

	set := bson.D{{Key: "modifiedAt", Value: now()}}
	if patch.Body != nil {
		set = append(set, bson.E{Key: "body", Value: *patch.Body})
	}

	if patch.Opaque != nil {
		set = append(set, bson.E{Key: "opaque", Value: *patch.Opaque})
	}

	if _, err := coll.UpdateByID(ctx, oid, bson.D{{Key: "$set", Value: set}}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Delete удаляет совпадения фильтра и каскадно их потомков.
func (m *Mongo) Delete(ctx context.Context, f models.Filter) (int64, error) {
	const op = "storage/mongo/Delete"

	coll, err := m.collection(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	filter, ok := buildFilter(f)
	if !ok {
		log.From(ctx).Debug("delete filter matches nothing", "op", op)
		return 0, nil
	}

	ids, err := m.findIDs(ctx, coll, filter)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	n, err := tree.Cascade(ctx, m, ids, m.policy.FanOut)
	if err != nil {
		return n, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

// Count считает совпадения фильтра; пустой фильтр — 0.
func (m *Mongo) Count(ctx context.Context, f models.Filter) (int64, error) {
	const op = "storage/mongo/Count"

	coll, err := m.collection(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	filter, ok := buildFilter(f)
	if !ok {
		return 0, nil
	}

	n, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

// FindByID возвращает [] или [comment] с раскрытыми ответами.
func (m *Mongo) FindByID(ctx context.Context, postID string, depth models.Depth, limit int64) ([]models.Comment, error) {
	const op = "storage/mongo/FindByID"

	if strings.TrimSpace(postID) == "" {
		return nil, fmt.Errorf("%s: postId is required: %w", op, storage.ErrInvalidArgument)
	}

	coll, err := m.collection(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	oid, ok := parseID(postID)
	if !ok {
		return []models.Comment{}, nil
	}

	items, err := m.find(ctx, coll, bson.D{{Key: "_id", Value: oid}}, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return m.expand(ctx, op, items, depth)
}

// FindByUsernameAndAssoc — без рекурсии, чтобы не раздувать выборку.
func (m *Mongo) FindByUsernameAndAssoc(ctx context.Context, username, assoc *string, limit int64) ([]models.Comment, error) {
	const op = "storage/mongo/FindByUsernameAndAssoc"

	coll, err := m.collection(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	filter, ok := buildFilter(models.Filter{Username: username, Assoc: assoc})
	if !ok {
		return []models.Comment{}, nil
	}

	items, err := m.find(ctx, coll, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return items, nil
}

// FindRootByAssoc возвращает корни ветки assoc (parentId == null).
func (m *Mongo) FindRootByAssoc(ctx context.Context, assoc string, depth models.Depth, limit int64) ([]models.Comment, error) {
	const op = "storage/mongo/FindRootByAssoc"

	coll, err := m.collection(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	filter := bson.D{
		{Key: "assoc", Value: assoc},
		{Key: "parentId", Value: nil},
	}

	items, err := m.find(ctx, coll, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return m.expand(ctx, op, items, depth)
}

// Children возвращает прямых детей комментария (порядок вставки).
func (m *Mongo) Children(ctx context.Context, parentID string) ([]models.Comment, error) {
	coll, err := m.collection(ctx)
	if err != nil {
		return nil, err
	}

	oid, ok := parseID(parentID)
	if !ok {
		return []models.Comment{}, nil
	}

	return m.find(ctx, coll, bson.D{{Key: "parentId", Value: oid}}, 0)
}

// DeleteIDs удаляет комментарии по списку id (без каскада).
func (m *Mongo) DeleteIDs(ctx context.Context, ids []string) (int64, error) {
	coll, err := m.collection(ctx)
	if err != nil {
		return 0, err
	}

	oids := toObjectIDs(ids)
	if len(oids) == 0 {
		return 0, nil
	}

	res, err := coll.DeleteMany(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: oids}}}})
	if err != nil {
		return 0, err
	}

	return res.DeletedCount, nil
}

// ChildIDs возвращает id прямых детей перечисленных родителей.
func (m *Mongo) ChildIDs(ctx context.Context, parentIDs []string) ([]string, error) {
	coll, err := m.collection(ctx)
	if err != nil {
		return nil, err
	}

	oids := toObjectIDs(parentIDs)
	if len(oids) == 0 {
		return nil, nil
	}

	return m.findIDs(ctx, coll, bson.D{{Key: "parentId", Value: bson.D{{Key: "$in", Value: oids}}}})
}

func (m *Mongo) expand(ctx context.Context, op string, items []models.Comment, depth models.Depth) ([]models.Comment, error) {
	if !depth.Recursive() {
		return items, nil
	}

	out, err := tree.Expand(ctx, m, items, depth.Levels(m.policy.MaxRecurseLevel), m.policy.FanOut)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

// find выполняет выборку в порядке _id ASC (порядок вставки). limit <= 0 — без лимита.
func (m *Mongo) find(ctx context.Context, coll *mongodriver.Collection, filter bson.D, limit int64) ([]models.Comment, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		findOpts.SetLimit(limit)
	}

	cur, err := coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	defer cur.Close(ctx)

	items := []models.Comment{}
	for cur.Next(ctx) {
		var doc commentDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}

		items = append(items, doc.toModel())
	}

	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("cursor: %w", err)
	}

	return items, nil
}

// findIDs выбирает только _id совпадений.
func (m *Mongo) findIDs(ctx context.Context, coll *mongodriver.Collection, filter bson.D) ([]string, error) {
	findOpts := options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}})

	cur, err := coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find ids: %w", err)
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var row struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, fmt.Errorf("decode id: %w", err)
		}

		ids = append(ids, row.ID.Hex())
	}

	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("cursor: %w", err)
	}

	return ids, nil
}

func toObjectIDs(ids []string) []primitive.ObjectID {
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, ok := parseID(id); ok {
			oids = append(oids, oid)
		}
	}

	return oids
}
