package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/pribylovaa/go-comment-store/internal/models"
	"github.com/pribylovaa/go-comment-store/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// fakeComments запоминает последний вызов и отдаёт заранее заданный результат.
type fakeComments struct {
	called string

	insertIn models.NewComment
	patchID  string
	patch    models.CommentPatch
	filter   models.Filter
	postID   string
	assoc    string
	username *string
	assocPtr *string
	depth    models.Depth
	limit    int64

	list []models.Comment
	n    int64
	err  error
}

func (f *fakeComments) Insert(_ context.Context, in models.NewComment) (string, error) {
	f.called, f.insertIn = "insert", in
	return "new-id", f.err
}

func (f *fakeComments) Update(_ context.Context, postID string, patch models.CommentPatch) error {
	f.called, f.patchID, f.patch = "update", postID, patch
	return f.err
}

func (f *fakeComments) Delete(_ context.Context, flt models.Filter) (int64, error) {
	f.called, f.filter = "delete", flt
	return f.n, f.err
}

func (f *fakeComments) Count(_ context.Context, flt models.Filter) (int64, error) {
	f.called, f.filter = "count", flt
	return f.n, f.err
}

func (f *fakeComments) FindByID(_ context.Context, postID string, depth models.Depth, limit int64) ([]models.Comment, error) {
	f.called, f.postID, f.depth, f.limit = "findbyid", postID, depth, limit
	return f.list, f.err
}

func (f *fakeComments) FindByUsernameAndAssoc(_ context.Context, username, assoc *string, limit int64) ([]models.Comment, error) {
	f.called, f.username, f.assocPtr, f.limit = "findbyusernameandassoc", username, assoc, limit
	return f.list, f.err
}

func (f *fakeComments) FindRootByAssoc(_ context.Context, assoc string, depth models.Depth, limit int64) ([]models.Comment, error) {
	f.called, f.assoc, f.depth, f.limit = "findrootbyassoc", assoc, depth, limit
	return f.list, f.err
}

func newDispatcher(t *testing.T) (*Dispatcher, *fakeComments, *Metrics) {
	t.Helper()
	fc := &fakeComments{list: []models.Comment{}}
	m := NewMetrics(prometheus.NewRegistry())
	return New(fc, m), fc, m
}

func TestParseAction_CaseInsensitive(t *testing.T) {
	for _, raw := range []string{"findById", "FINDBYID", " findbyid "} {
		a, err := ParseAction(raw)
		require.NoError(t, err)
		require.Equal(t, ActionFindByID, a)
	}

	_, err := ParseAction("")
	require.ErrorIs(t, err, ErrUnknownAction)

	_, err = ParseAction("findByUsername")
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestParseParams(t *testing.T) {
	p := ParseParams(Values{
		KeyUsername:    "alice",
		KeyBody:        "",
		KeyLimit:       "abc",
		KeyIsRecursive: "3",
	})

	require.Equal(t, "alice", *p.Username)
	require.NotNil(t, p.Body, "present empty value must be kept")
	require.Nil(t, p.Assoc)
	require.Zero(t, p.Limit, "unparsable limit is ignored")
	require.Equal(t, models.Bounded(3), p.Depth)

	p = ParseParams(Values{KeyLimit: "25", KeyIsRecursive: "true"})
	require.Equal(t, int64(25), p.Limit)
	require.Equal(t, models.Unbounded(), p.Depth)

	p = ParseParams(Values{KeyLimit: "-5"})
	require.Zero(t, p.Limit)
	require.Equal(t, models.NoDepth(), p.Depth)
}

func TestDispatch_UnknownAction(t *testing.T) {
	d, fc, m := newDispatcher(t)

	_, err := d.Dispatch(context.Background(), Request{Action: "explode", Write: true})
	require.ErrorIs(t, err, ErrUnknownAction)
	require.Empty(t, fc.called)
	require.Equal(t, 1.0, testutil.ToFloat64(m.total.WithLabelValues("unknown", outcomeClientError)))
}

func TestDispatch_MutatingRequiresWrite(t *testing.T) {
	d, fc, _ := newDispatcher(t)

	for _, action := range []string{"insert", "update", "delete"} {
		_, err := d.Dispatch(context.Background(), Request{Action: action, Values: Values{
			KeyUsername: "u", KeyBody: "b", KeyAssoc: "a", KeyPostID: "1",
		}})
		require.ErrorIs(t, err, ErrMethodNotAllowed, action)
	}
	require.Empty(t, fc.called)

	// Чтение допускается любым методом.
	_, err := d.Dispatch(context.Background(), Request{Action: "count", Write: true, Values: Values{KeyAssoc: "a"}})
	require.NoError(t, err)
}

func TestDispatch_MissingFields(t *testing.T) {
	d, fc, _ := newDispatcher(t)

	tests := []struct {
		action string
		values Values
	}{
		{"insert", Values{KeyBody: "b", KeyAssoc: "a"}},
		{"insert", Values{KeyUsername: "u", KeyBody: " "}},
		{"update", Values{KeyBody: "b"}},
		{"findById", Values{}},
		{"findRootByAssoc", Values{KeyIsRecursive: "true"}},
	}

	for _, tt := range tests {
		_, err := d.Dispatch(context.Background(), Request{Action: tt.action, Write: true, Values: tt.values})
		require.ErrorIs(t, err, ErrMissingField, tt.action)
	}
	require.Empty(t, fc.called)
}

func TestDispatch_Insert(t *testing.T) {
	d, fc, m := newDispatcher(t)

	got, err := d.Dispatch(context.Background(), Request{Action: "Insert", Write: true, Values: Values{
		KeyUsername: "alice",
		KeyBody:     "hello",
		KeyParentID: "p1",
		KeyOpaque:   `{"x":1}`,
	}})
	require.NoError(t, err)
	require.Equal(t, "new-id", got)
	require.Equal(t, models.NewComment{
		Username: "alice",
		Body:     "hello",
		ParentID: models.Ptr("p1"),
		Opaque:   models.Ptr(`{"x":1}`),
	}, fc.insertIn)
	require.Equal(t, 1.0, testutil.ToFloat64(m.total.WithLabelValues("insert", outcomeOK)))
}

func TestDispatch_UpdateAndDelete(t *testing.T) {
	d, fc, _ := newDispatcher(t)
	ctx := context.Background()

	got, err := d.Dispatch(ctx, Request{Action: "update", Write: true, Values: Values{KeyPostID: "7", KeyBody: "new"}})
	require.NoError(t, err)
	require.Equal(t, true, got)
	require.Equal(t, "7", fc.patchID)
	require.Equal(t, "new", *fc.patch.Body)
	require.Nil(t, fc.patch.Opaque)

	got, err = d.Dispatch(ctx, Request{Action: "delete", Write: true, Values: Values{KeyUsername: "u", KeyAssoc: "a"}})
	require.NoError(t, err)
	require.Equal(t, true, got)
	require.Equal(t, models.Filter{Username: models.Ptr("u"), Assoc: models.Ptr("a")}, fc.filter)
}

func TestDispatch_Count(t *testing.T) {
	d, fc, _ := newDispatcher(t)
	fc.n = 12

	got, err := d.Dispatch(context.Background(), Request{Action: "count", Values: Values{KeyParentID: "p"}})
	require.NoError(t, err)
	require.Equal(t, int64(12), got)
	require.Equal(t, models.Filter{ParentID: models.Ptr("p")}, fc.filter)
}

func TestDispatch_Finds(t *testing.T) {
	d, fc, _ := newDispatcher(t)
	ctx := context.Background()
	fc.list = []models.Comment{{ID: "1"}}

	got, err := d.Dispatch(ctx, Request{Action: "findById", Values: Values{KeyPostID: "1", KeyIsRecursive: "true", KeyLimit: "5"}})
	require.NoError(t, err)
	require.Equal(t, fc.list, got)
	require.Equal(t, models.Unbounded(), fc.depth)
	require.Equal(t, int64(5), fc.limit)

	_, err = d.Dispatch(ctx, Request{Action: "findRootByAssoc", Values: Values{KeyAssoc: "a", KeyIsRecursive: "false"}})
	require.NoError(t, err)
	require.Equal(t, "findrootbyassoc", fc.called)
	require.Equal(t, models.NoDepth(), fc.depth)

	_, err = d.Dispatch(ctx, Request{Action: "findByUsernameAndAssoc", Values: Values{KeyUsername: "u"}})
	require.NoError(t, err)
	require.Equal(t, "u", *fc.username)
	require.Nil(t, fc.assocPtr)
}

func TestDispatch_ServiceErrorIsNotClientError(t *testing.T) {
	d, fc, m := newDispatcher(t)
	boom := errors.New("boom")
	fc.err = boom

	_, err := d.Dispatch(context.Background(), Request{Action: "count", Values: Values{KeyAssoc: "a"}})
	require.ErrorIs(t, err, boom)
	require.False(t, isClientError(err))
	require.Equal(t, 1.0, testutil.ToFloat64(m.total.WithLabelValues("count", outcomeError)))
}

func TestDispatch_RejectedByServiceIsClientError(t *testing.T) {
	tcs := []struct {
		name string
		err  error
	}{
		{"invalid_argument", service.ErrInvalidArgument},
		{"parent_not_found", service.ErrParentNotFound},
		{"max_reply_level", service.ErrMaxReplyLevel},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			d, fc, m := newDispatcher(t)
			fc.err = fmt.Errorf("service/comments/Insert: %w", tc.err)

			_, err := d.Dispatch(context.Background(), Request{
				Action: "insert",
				Write:  true,
				Values: Values{KeyUsername: "u", KeyBody: "b", KeyParentID: "p"},
			})
			require.ErrorIs(t, err, tc.err)
			require.Equal(t, 1.0, testutil.ToFloat64(m.total.WithLabelValues("insert", outcomeClientError)))
			require.Zero(t, testutil.ToFloat64(m.total.WithLabelValues("insert", outcomeError)))
		})
	}
}

func TestDispatch_NilMetrics(t *testing.T) {
	d := New(&fakeComments{}, nil)
	_, err := d.Dispatch(context.Background(), Request{Action: "count", Values: Values{KeyAssoc: "a"}})
	require.NoError(t, err)
}
