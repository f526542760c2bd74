// dispatch маршрутизирует действие запроса (action + набор параметров) в сервис.
//
// Диспетчер ничего не знает о транспорте: адаптер собирает Values из query
// string или тела и сообщает, пришёл ли запрос с телом (Write).
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pribylovaa/go-comment-store/internal/models"
	"github.com/pribylovaa/go-comment-store/internal/service"
	"github.com/pribylovaa/go-comment-store/pkg/log"
)

var (
	// ErrUnknownAction — пустое или неизвестное имя действия.
	ErrUnknownAction = errors.New("action not recognized")
	// ErrMethodNotAllowed — изменяющее действие пришло без тела (не POST).
	ErrMethodNotAllowed = errors.New("action requires a write request")
	// ErrMissingField — не передан обязательный для действия параметр.
	ErrMissingField = errors.New("required field is missing")
)

// FieldError — не передан обязательный параметр Field. errors.Is(err, ErrMissingField) == true.
type FieldError struct {
	Field string
}

func (e *FieldError) Error() string {
	return ErrMissingField.Error() + ": " + e.Field
}

func (e *FieldError) Is(target error) bool {
	return target == ErrMissingField
}

// Comments — операции, которые диспетчер вызывает у сервиса.
type Comments interface {
	Insert(ctx context.Context, in models.NewComment) (string, error)
	Update(ctx context.Context, postID string, patch models.CommentPatch) error
	Delete(ctx context.Context, f models.Filter) (int64, error)
	Count(ctx context.Context, f models.Filter) (int64, error)
	FindByID(ctx context.Context, postID string, depth models.Depth, limit int64) ([]models.Comment, error)
	FindByUsernameAndAssoc(ctx context.Context, username, assoc *string, limit int64) ([]models.Comment, error)
	FindRootByAssoc(ctx context.Context, assoc string, depth models.Depth, limit int64) ([]models.Comment, error)
}

// Request — запрос к диспетчеру.
type Request struct {
	Action string
	// Write — запрос пришёл изменяющим методом (POST).
	Write  bool
	Values Values
}

// Dispatcher — роутер действий.
type Dispatcher struct {
	comments Comments
	metrics  *Metrics
}

// New создаёт диспетчер. metrics может быть nil.
func New(comments Comments, metrics *Metrics) *Dispatcher {
	return &Dispatcher{comments: comments, metrics: metrics}
}

// Dispatch выполняет действие и возвращает полезную нагрузку ответа:
//   - insert — id (string);
//   - update/delete — true;
//   - count — int64;
//   - find* — []models.Comment (никогда не nil).
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (any, error) {
	const op = "dispatch/Dispatch"

	started := time.Now()

	action, err := ParseAction(req.Action)
	if err != nil {
		d.metrics.observe("", outcomeClientError, started)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ctx = log.With(ctx, "action", string(action))

	result, err := d.route(ctx, action, req)
	switch {
	case err == nil:
		d.metrics.observe(action, outcomeOK, started)
	case isClientError(err):
		d.metrics.observe(action, outcomeClientError, started)
	default:
		d.metrics.observe(action, outcomeError, started)
	}

	if err != nil {
		log.From(ctx).Debug("dispatch_failed", "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return result, nil
}

func (d *Dispatcher) route(ctx context.Context, action Action, req Request) (any, error) {
	if action.Mutating() && !req.Write {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotAllowed, action)
	}

	p := ParseParams(req.Values)

	switch action {
	case ActionInsert:
		if name := missing(field{KeyUsername, p.Username}, field{KeyBody, p.Body}); name != "" {
			return nil, &FieldError{Field: name}
		}

		return d.comments.Insert(ctx, models.NewComment{
			Username: *p.Username,
			Body:     *p.Body,
			Assoc:    p.Assoc,
			ParentID: p.ParentID,
			Opaque:   p.Opaque,
		})

	case ActionUpdate:
		if name := missing(field{KeyPostID, p.PostID}); name != "" {
			return nil, &FieldError{Field: name}
		}

		err := d.comments.Update(ctx, *p.PostID, models.CommentPatch{Body: p.Body, Opaque: p.Opaque})
		if err != nil {
			return nil, err
		}
		return true, nil

	case ActionDelete:
		if _, err := d.comments.Delete(ctx, p.filter()); err != nil {
			return nil, err
		}
		return true, nil

	case ActionCount:
		return d.comments.Count(ctx, p.filter())

	case ActionFindByID:
		if name := missing(field{KeyPostID, p.PostID}); name != "" {
			return nil, &FieldError{Field: name}
		}

		return d.comments.FindByID(ctx, *p.PostID, p.Depth, p.Limit)

	case ActionFindByUsernameAndAssoc:
		return d.comments.FindByUsernameAndAssoc(ctx, p.Username, p.Assoc, p.Limit)

	case ActionFindRootByAssoc:
		if name := missing(field{KeyAssoc, p.Assoc}); name != "" {
			return nil, &FieldError{Field: name}
		}

		return d.comments.FindRootByAssoc(ctx, *p.Assoc, p.Depth, p.Limit)
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
}

// isClientError — ошибка вызвана запросом, а не хранилищем.
func isClientError(err error) bool {
	return errors.Is(err, ErrUnknownAction) ||
		errors.Is(err, ErrMethodNotAllowed) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, service.ErrInvalidArgument) ||
		errors.Is(err, service.ErrParentNotFound) ||
		errors.Is(err, service.ErrMaxReplyLevel)
}
