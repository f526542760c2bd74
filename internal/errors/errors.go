// errors стандартизирует ответы об ошибках HTTP-слоя.
// На вход принимает ошибку диспетчера или сервиса, на выход даёт:
//   - корректный HTTP-статус;
//   - короткий стабильный code;
//   - безопасное message без утечки деталей драйвера.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/pribylovaa/go-comment-store/internal/dispatch"
	"github.com/pribylovaa/go-comment-store/internal/service"
)

// Нестандартный код часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

// APIError — единый формат ошибки.
// Code — короткий стабильный код для машиночитаемой обработки.
// Message — безопасное человекочитаемое описание.
// RequestID — прокидывается из X-Request-Id, если есть (для трассировки).
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse — корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// ToHTTP конвертирует ошибку в HTTP-статус и унифицированный ответ.
//
// Маппинг:
//   - dispatch.ErrMissingField -> 400 missing_field (message называет поле);
//   - dispatch.ErrUnknownAction -> 400 unknown_action;
//   - dispatch.ErrMethodNotAllowed -> 405 method_not_allowed;
//   - service.ErrInvalidArgument -> 400 invalid_argument;
//   - service.ErrParentNotFound -> 404 parent_not_found;
//   - service.ErrMaxReplyLevel -> 412 max_reply_level;
//   - context.DeadlineExceeded -> 504, context.Canceled -> 499;
//   - err == nil и всё прочее -> 500/internal.
func ToHTTP(err error) (int, ErrorResponse) {
	status, code, msg := classify(err)
	return status, ErrorResponse{
		Error: APIError{
			Code:    code,
			Message: msg,
		},
	}
}

func classify(err error) (int, string, string) {
	if err == nil {
		return http.StatusInternalServerError, "internal", "internal error"
	}

	var fe *dispatch.FieldError
	switch {
	case stderrors.As(err, &fe):
		return http.StatusBadRequest, "missing_field", fe.Error()
	case stderrors.Is(err, dispatch.ErrMissingField):
		return http.StatusBadRequest, "missing_field", "required field is missing"
	case stderrors.Is(err, dispatch.ErrUnknownAction):
		return http.StatusBadRequest, "unknown_action", "action not recognized"
	case stderrors.Is(err, dispatch.ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed, "method_not_allowed", "action requires POST"
	case stderrors.Is(err, service.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument", "invalid argument"
	case stderrors.Is(err, service.ErrParentNotFound):
		return http.StatusNotFound, "parent_not_found", "parent not found"
	case stderrors.Is(err, service.ErrMaxReplyLevel):
		return http.StatusPreconditionFailed, "max_reply_level", "max reply level reached"
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded", "deadline exceeded"
	case stderrors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "canceled", "canceled"
	default:
		return http.StatusInternalServerError, "internal", "internal error"
	}
}

// WriteError — хелпер для HTTP-хендлеров.
// Пишет статус и тело, добавляет request_id из заголовка, если он есть.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.Error.RequestID = rid
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
