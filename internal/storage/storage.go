// storage определяет контракт драйверов хранилища комментариев.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/pribylovaa/go-comment-store/internal/models"
)

var (
	// ErrInvalidArgument — нарушен контракт входных данных (пустой username/body,
	// корень без assoc, отсутствует postId).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrParentNotFound — указан parentId, но родитель не найден.
	ErrParentNotFound = errors.New("parent not found")
	// ErrMaxReplyLevel — level ответа упёрся в policy.max_reply_level.
	ErrMaxReplyLevel = errors.New("max reply level reached")
)

// Driver описывает операции над комментариями. Реализации: mongo, postgres.
// Соединение устанавливается лениво при первой операции и живёт до Close.
type Driver interface {
	// Insert создаёт корень (ParentID == nil, Assoc обязателен) или ответ.
	// Ответ наследует assoc родителя, level = parent.level + 1.
	// Возможные ошибки: ErrInvalidArgument, ErrParentNotFound, ErrMaxReplyLevel.
	Insert(ctx context.Context, in models.NewComment) (string, error)

	// Update меняет только переданные поля (body/opaque) и всегда обновляет modifiedAt.
	// Неизвестный id — тихий no-op.
	Update(ctx context.Context, postID string, patch models.CommentPatch) error

	// Delete удаляет всё, что подходит под фильтр, и каскадно всех потомков.
	// Пустой фильтр — no-op. Возвращает число удалённых комментариев.
	Delete(ctx context.Context, f models.Filter) (int64, error)

	// Count считает комментарии под фильтром; пустой фильтр — 0.
	Count(ctx context.Context, f models.Filter) (int64, error)

	// FindByID возвращает [] или [comment] с раскрытыми по depth ответами.
	FindByID(ctx context.Context, postID string, depth models.Depth, limit int64) ([]models.Comment, error)

	// FindByUsernameAndAssoc — AND-фильтр по заданным полям, без рекурсии.
	// Пустой фильтр — пустой список.
	FindByUsernameAndAssoc(ctx context.Context, username, assoc *string, limit int64) ([]models.Comment, error)

	// FindRootByAssoc возвращает только корни (parentId == null) для assoc.
	FindRootByAssoc(ctx context.Context, assoc string, depth models.Depth, limit int64) ([]models.Comment, error)

	// Ping устанавливает (при необходимости) соединение и проверяет его.
	Ping(ctx context.Context) error

	// Close освобождает соединения драйвера.
	Close(ctx context.Context) error
}

// LimitOrMax приводит запрошенный limit к [1, max]. max <= 0 снимает ограничение,
// тогда limit <= 0 означает «без лимита» (0).
func LimitOrMax(limit, max int64) int64 {
	if max <= 0 {
		if limit < 0 {
			return 0
		}
		return limit
	}

	if limit <= 0 || limit > max {
		return max
	}

	return limit
}

// CheckNewComment — проверки insert, не требующие обращения к БД.
func CheckNewComment(in models.NewComment) error {
	if in.Username == "" {
		return fmt.Errorf("username is required: %w", ErrInvalidArgument)
	}

	if in.Body == "" {
		return fmt.Errorf("body is required: %w", ErrInvalidArgument)
	}

	if in.ParentID == nil && in.Assoc == nil {
		return fmt.Errorf("assoc must be given for a root comment: %w", ErrInvalidArgument)
	}

	return nil
}
