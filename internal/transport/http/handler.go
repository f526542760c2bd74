// http — HTTP-адаптер: собирает параметры запроса и передаёт их диспетчеру.
//
//	GET  <base>?action=findById&postId=...&isRecursive=true
//	POST <base>  (urlencoded/multipart форма или JSON-объект)
//
// Успех: 200 {"response": <payload>}. Ошибка: {"error": {...}} (см. internal/errors).
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/pribylovaa/go-comment-store/internal/dispatch"
	apierrors "github.com/pribylovaa/go-comment-store/internal/errors"
	"github.com/pribylovaa/go-comment-store/internal/service"
)

const defaultMaxBody = 1 << 20

// Dispatcher — то, что адаптер вызывает на каждый запрос.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (any, error)
}

// Envelope — тело успешного ответа.
type Envelope struct {
	Response any `json:"response"`
}

// Handler — единственный обработчик действий.
type Handler struct {
	dispatcher Dispatcher
	maxBody    int64
}

func NewHandler(d Dispatcher, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}

	return &Handler{dispatcher: d, maxBody: maxBody}
}

// Handle разбирает параметры и выполняет действие.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	values, err := h.values(w, r)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	result, err := h.dispatcher.Dispatch(r.Context(), dispatch.Request{
		Action: values[dispatch.KeyAction],
		Write:  r.Method == http.MethodPost,
		Values: values,
	})
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, Envelope{Response: result})
}

// values собирает параметры: query string, а для POST поверх неё — тело.
func (h *Handler) values(w http.ResponseWriter, r *http.Request) (dispatch.Values, error) {
	values := dispatch.Values{}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			values[k] = vs[0]
		}
	}

	if r.Method != http.MethodPost || r.Body == nil {
		return values, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		if err := decodeJSON(r, values); err != nil {
			return nil, err
		}

	case "multipart/form-data":
		if err := r.ParseMultipartForm(h.maxBody); err != nil {
			return nil, fmt.Errorf("parse multipart form: %w", service.ErrInvalidArgument)
		}
		mergeForm(values, r.PostForm)

	default:
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("parse form: %w", service.ErrInvalidArgument)
		}
		mergeForm(values, r.PostForm)
	}

	return values, nil
}

func mergeForm(dst dispatch.Values, form map[string][]string) {
	for k, vs := range form {
		if len(vs) > 0 {
			dst[k] = vs[0]
		}
	}
}

// decodeJSON читает JSON-объект и приводит значения к строкам:
// bool и числа — в текстовую форму, null — пропуск, объекты/массивы — в JSON.
func decodeJSON(r *http.Request, dst dispatch.Values) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode json body: %w", service.ErrInvalidArgument)
	}

	for k, v := range raw {
		switch t := v.(type) {
		case nil:
			continue
		case string:
			dst[k] = t
		case bool:
			dst[k] = strconv.FormatBool(t)
		case json.Number:
			dst[k] = t.String()
		default:
			b, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("encode %s: %w", k, service.ErrInvalidArgument)
			}
			dst[k] = string(b)
		}
	}

	return nil
}

// writeJSON — единый ответ JSON с нужным Content-Type.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
