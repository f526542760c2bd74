package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/pribylovaa/go-comment-store/internal/config"
	"github.com/pribylovaa/go-comment-store/internal/dispatch"
	"github.com/pribylovaa/go-comment-store/internal/models"
	"github.com/pribylovaa/go-comment-store/internal/service"
	"github.com/pribylovaa/go-comment-store/internal/storage"
	"github.com/pribylovaa/go-comment-store/mocks"
	"github.com/stretchr/testify/require"
)

// recDispatcher запоминает запрос и отдаёт заданный ответ.
type recDispatcher struct {
	got    dispatch.Request
	result any
	err    error
}

func (d *recDispatcher) Dispatch(_ context.Context, req dispatch.Request) (any, error) {
	d.got = req
	return d.result, d.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(d Dispatcher) http.Handler {
	return NewRouter(d, Options{Logger: quietLogger(), BasePath: "/comment"})
}

type errBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	} `json:"error"`
}

func TestHandle_GetQuery(t *testing.T) {
	d := &recDispatcher{result: []models.Comment{}}
	srv := newTestRouter(d)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/comment?action=findById&postId=42&isRecursive=true", nil)
	srv.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "findById", d.got.Action)
	require.False(t, d.got.Write)
	require.Equal(t, "42", d.got.Values[dispatch.KeyPostID])
	require.Equal(t, "true", d.got.Values[dispatch.KeyIsRecursive])
	require.JSONEq(t, `{"response":[]}`, rr.Body.String())
	require.NotEmpty(t, rr.Header().Get("X-Request-Id"))
}

func TestHandle_PostForm(t *testing.T) {
	d := &recDispatcher{result: "abc"}
	srv := newTestRouter(d)

	form := url.Values{"action": {"insert"}, "username": {"alice"}, "body": {"hi"}, "assoc": {"a1"}}
	req := httptest.NewRequest(http.MethodPost, "/comment/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, d.got.Write)
	require.Equal(t, "insert", d.got.Action)
	require.Equal(t, "alice", d.got.Values[dispatch.KeyUsername])
	require.JSONEq(t, `{"response":"abc"}`, rr.Body.String())
}

func TestHandle_PostJSON_Normalizes(t *testing.T) {
	d := &recDispatcher{result: true}
	srv := newTestRouter(d)

	body := `{"action":"findRootByAssoc","assoc":"a","isRecursive":true,"limit":10,"opaque":{"k":[1,2]},"parentId":null}`
	req := httptest.NewRequest(http.MethodPost, "/comment", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "true", d.got.Values[dispatch.KeyIsRecursive])
	require.Equal(t, "10", d.got.Values[dispatch.KeyLimit])
	require.JSONEq(t, `{"k":[1,2]}`, d.got.Values[dispatch.KeyOpaque])
	_, hasParent := d.got.Values[dispatch.KeyParentID]
	require.False(t, hasParent, "null must be treated as absent")
}

func TestHandle_PostJSON_Malformed(t *testing.T) {
	d := &recDispatcher{}
	srv := newTestRouter(d)

	req := httptest.NewRequest(http.MethodPost, "/comment", strings.NewReader(`{"action":`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	var eb errBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &eb))
	require.Equal(t, "invalid_argument", eb.Error.Code)
	require.NotEmpty(t, eb.Error.RequestID)
}

func TestHandle_WrongVerb(t *testing.T) {
	srv := newTestRouter(&recDispatcher{})

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/comment", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHandle_DispatchError(t *testing.T) {
	d := &recDispatcher{err: &dispatch.FieldError{Field: "postId"}}
	srv := newTestRouter(d)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/comment?action=findById", nil))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	var eb errBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &eb))
	require.Equal(t, "missing_field", eb.Error.Code)
	require.Contains(t, eb.Error.Message, "postId")
}

func TestHandle_BodyTooLarge(t *testing.T) {
	d := &recDispatcher{}
	h := NewRouter(d, Options{Logger: quietLogger(), MaxBodyBytes: 16})

	form := url.Values{"action": {"insert"}, "body": {strings.Repeat("x", 64)}}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

// Полная цепочка: HTTP -> dispatch -> service -> мок драйвера.
func TestRouter_EndToEnd(t *testing.T) {
	ctrl := gomock.NewController(t)
	md := mocks.NewMockDriver(ctrl)

	svc := service.New(md, config.Config{Limits: config.LimitsConfig{Max: 1000}})
	srv := newTestRouter(dispatch.New(svc, nil))

	// insert через GET запрещён.
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/comment?action=insert&username=u&body=b&assoc=a", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	// Ответ несуществующему родителю.
	md.EXPECT().Insert(gomock.Any(), gomock.Any()).Return("", storage.ErrParentNotFound)
	form := url.Values{"action": {"INSERT"}, "username": {"u"}, "body": {"b"}, "parentId": {"nope"}}
	req := httptest.NewRequest(http.MethodPost, "/comment", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)

	// Рекурсивное чтение корней.
	tree := []models.Comment{{
		ID: "1", Username: "u", Body: "A", Assoc: "assoc",
		Reply: []models.Comment{{ID: "2", Username: "u", Body: "B", Assoc: "assoc", ParentID: models.Ptr("1"), Level: 1, Reply: []models.Comment{}}},
	}}
	md.EXPECT().FindRootByAssoc(gomock.Any(), "assoc", models.Unbounded(), int64(1000)).Return(tree, nil)

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/comment?action=findrootbyassoc&assoc=assoc&isRecursive=true", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var env struct {
		Response []models.Comment `json:"response"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.Len(t, env.Response, 1)
	require.Equal(t, "2", env.Response[0].Reply[0].ID)

	// Поиск по id без совпадений — пустой список, не ошибка.
	md.EXPECT().FindByID(gomock.Any(), "9", models.NoDepth(), int64(1000)).Return([]models.Comment{}, nil)
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/comment?action=findById&postId=9", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"response":[]}`, rr.Body.String())
}
