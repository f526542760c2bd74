package tree

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pribylovaa/go-comment-store/internal/models"
	"github.com/stretchr/testify/require"
)

// memTree — in-memory реализация Fetcher/Pruner для проверки обхода без БД.
type memTree struct {
	mu       sync.Mutex
	byID     map[string]models.Comment
	order    []string
	failOn   string
	inFlight int32
	peak     int32
}

func newMemTree() *memTree {
	return &memTree{byID: make(map[string]models.Comment)}
}

func (m *memTree) add(id string, parent string) {
	c := models.Comment{ID: id, Body: "body " + id}
	if parent != "" {
		c.ParentID = models.Ptr(parent)
	}
	m.byID[id] = c
	m.order = append(m.order, id)
}

func (m *memTree) Children(_ context.Context, parentID string) ([]models.Comment, error) {
	cur := atomic.AddInt32(&m.inFlight, 1)
	defer atomic.AddInt32(&m.inFlight, -1)
	for {
		p := atomic.LoadInt32(&m.peak)
		if cur <= p || atomic.CompareAndSwapInt32(&m.peak, p, cur) {
			break
		}
	}

	if parentID == m.failOn {
		return nil, errors.New("boom")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Comment
	for _, id := range m.order {
		c, ok := m.byID[id]
		if ok && c.ParentID != nil && *c.ParentID == parentID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memTree) DeleteIDs(_ context.Context, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, id := range ids {
		if id == m.failOn {
			return n, errors.New("boom")
		}
		if _, ok := m.byID[id]; ok {
			delete(m.byID, id)
			n++
		}
	}
	return n, nil
}

func (m *memTree) ChildIDs(_ context.Context, parentIDs []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := make(map[string]struct{}, len(parentIDs))
	for _, id := range parentIDs {
		set[id] = struct{}{}
	}

	var out []string
	for _, id := range m.order {
		c, ok := m.byID[id]
		if !ok || c.ParentID == nil {
			continue
		}
		if _, hit := set[*c.ParentID]; hit {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memTree) root(id string) models.Comment {
	return m.byID[id]
}

// A -> (B -> D, C)
func sampleTree() *memTree {
	m := newMemTree()
	m.add("A", "")
	m.add("B", "A")
	m.add("C", "A")
	m.add("D", "B")
	return m
}

func ids(cs []models.Comment) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return out
}

func TestExpand_Unbounded(t *testing.T) {
	m := sampleTree()

	out, err := Expand(context.Background(), m, []models.Comment{m.root("A")}, -1, 2)
	require.NoError(t, err)
	require.Len(t, out, 1)

	a := out[0]
	require.Equal(t, []string{"B", "C"}, ids(a.Reply))
	require.Equal(t, []string{"D"}, ids(a.Reply[0].Reply))
	require.NotNil(t, a.Reply[1].Reply)
	require.Empty(t, a.Reply[1].Reply)
	require.NotNil(t, a.Reply[0].Reply[0].Reply)
	require.Empty(t, a.Reply[0].Reply[0].Reply)
}

func TestExpand_Bounded(t *testing.T) {
	m := sampleTree()

	out, err := Expand(context.Background(), m, []models.Comment{m.root("A")}, 1, 0)
	require.NoError(t, err)

	a := out[0]
	require.Equal(t, []string{"B", "C"}, ids(a.Reply))
	// граница глубины: внуки не раскрыты.
	require.NotNil(t, a.Reply[0].Reply)
	require.Empty(t, a.Reply[0].Reply)
}

func TestExpand_ZeroLevelsKeepsRootsUntouched(t *testing.T) {
	m := sampleTree()
	roots := []models.Comment{m.root("A")}

	out, err := Expand(context.Background(), m, roots, 0, 0)
	require.NoError(t, err)
	require.Nil(t, out[0].Reply)
}

func TestExpand_KeepsFetchOrderAcrossManySiblings(t *testing.T) {
	m := newMemTree()
	m.add("root", "")
	var want []string
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("c%02d", i)
		m.add(id, "root")
		m.add(id+"-r", id)
		want = append(want, id)
	}

	out, err := Expand(context.Background(), m, []models.Comment{m.root("root")}, -1, 4)
	require.NoError(t, err)
	require.Equal(t, want, ids(out[0].Reply))
	for _, c := range out[0].Reply {
		require.Equal(t, []string{c.ID + "-r"}, ids(c.Reply))
	}
	require.LessOrEqual(t, atomic.LoadInt32(&m.peak), int32(4))
}

func TestExpand_CycleIsNotReexpanded(t *testing.T) {
	m := newMemTree()
	m.add("X", "Y")
	m.add("Y", "X")

	out, err := Expand(context.Background(), m, []models.Comment{m.root("X")}, -1, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"Y"}, ids(out[0].Reply))
	require.Empty(t, out[0].Reply[0].Reply)
}

func TestExpand_PropagatesError(t *testing.T) {
	m := sampleTree()
	m.failOn = "B"

	_, err := Expand(context.Background(), m, []models.Comment{m.root("A")}, -1, 2)
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestExpand_CanceledContext(t *testing.T) {
	m := sampleTree()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Expand(ctx, m, []models.Comment{m.root("A")}, -1, 2)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCascade_RemovesAllDescendants(t *testing.T) {
	m := sampleTree()
	m.add("E", "")

	n, err := Cascade(context.Background(), m, []string{"A"}, 2)
	require.NoError(t, err)
	require.Equal(t, int64(4), n)

	var left []string
	for id := range m.byID {
		left = append(left, id)
	}
	sort.Strings(left)
	require.Equal(t, []string{"E"}, left)
}

func TestCascade_EmptyAndMissingAreNoop(t *testing.T) {
	m := sampleTree()

	n, err := Cascade(context.Background(), m, nil, 0)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = Cascade(context.Background(), m, []string{"missing"}, 0)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, m.byID, 4)
}

func TestCascade_DeepChainAndBatches(t *testing.T) {
	m := newMemTree()
	m.add("n0", "")
	for i := 1; i < 2000; i++ {
		m.add(fmt.Sprintf("n%d", i), fmt.Sprintf("n%d", i-1))
	}
	// широкий уровень, больше одной пачки.
	for i := 0; i < 1200; i++ {
		m.add(fmt.Sprintf("w%d", i), "n0")
	}

	n, err := Cascade(context.Background(), m, []string{"n0"}, 3)
	require.NoError(t, err)
	require.Equal(t, int64(3200), n)
	require.Empty(t, m.byID)
}

func TestCascade_PartialFailure(t *testing.T) {
	m := sampleTree()
	m.failOn = "D"

	n, err := Cascade(context.Background(), m, []string{"A"}, 1)
	require.Error(t, err)
	// A, B, C уже удалены, D остался.
	require.Equal(t, int64(3), n)
	require.Contains(t, m.byID, "D")
}

func TestCascade_CanceledContext(t *testing.T) {
	m := sampleTree()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := Cascade(ctx, m, []string{"A"}, 2)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, n)
	require.Len(t, m.byID, 4)
}

func TestCascade_PartialFailureAcrossBatches(t *testing.T) {
	m := newMemTree()
	m.add("root", "")
	for i := 0; i < 3*batchSize; i++ {
		m.add(fmt.Sprintf("k%04d", i), "root")
	}
	// падает последняя пачка уровня детей.
	m.failOn = fmt.Sprintf("k%04d", 3*batchSize-1)

	n, err := Cascade(context.Background(), m, []string{"root"}, 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
	// root и две целые пачки удалены, последняя пачка — до сбойного id.
	require.Equal(t, int64(1+3*batchSize-1), n)
	require.Len(t, m.byID, 1)
}
