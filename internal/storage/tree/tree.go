// tree реализует обход дерева комментариев, общий для всех драйверов:
// раскрытие ответов (Expand) и каскадное удаление (Cascade).
//
// Оба алгоритма итеративные: очередь работ хранит текущий уровень дерева,
// поэтому глубина ветки не влияет на стек. Выборки одного уровня идут
// параллельно через errgroup (не больше fanOut одновременно), следующий уровень начинается
// только после завершения всех выборок текущего.
package tree

import (
	"context"
	"fmt"
	"sync"

	"github.com/pribylovaa/go-comment-store/internal/models"
	"golang.org/x/sync/errgroup"
)

// DefaultFanOut — параллелизм уровня, если в политике задан 0.
const DefaultFanOut = 8

// batchSize — сколько id уходит в один запрос каскадного удаления.
const batchSize = 500

// Fetcher отдаёт прямых детей комментария в порядке хранилища.
type Fetcher interface {
	Children(ctx context.Context, parentID string) ([]models.Comment, error)
}

// Pruner — примитивы каскадного удаления.
type Pruner interface {
	// DeleteIDs удаляет перечисленные комментарии; отсутствующие id пропускаются.
	DeleteIDs(ctx context.Context, ids []string) (int64, error)
	// ChildIDs возвращает id прямых детей всех перечисленных родителей.
	ChildIDs(ctx context.Context, parentIDs []string) ([]string, error)
}

type node struct {
	comment models.Comment
	kids    []*node
}

// Expand раскрывает ответы для roots не глубже levels уровней (levels < 0 — без ограничения).
// Порядок детей в Reply совпадает с порядком, в котором их вернул Fetcher.
// У узлов на границе глубины Reply пустой, но не nil.
func Expand(ctx context.Context, f Fetcher, roots []models.Comment, levels, fanOut int) ([]models.Comment, error) {
	const op = "storage/tree/Expand"

	if levels == 0 || len(roots) == 0 {
		return roots, nil
	}

	visited := make(map[string]struct{}, len(roots))
	current := make([]*node, 0, len(roots))
	for _, c := range roots {
		visited[c.ID] = struct{}{}
		current = append(current, &node{comment: c})
	}

	all := [][]*node{current}

	for depth := 1; len(current) > 0 && (levels < 0 || depth <= levels); depth++ {
		children, err := fetchLevel(ctx, f, current, fanOut)
		if err != nil {
			return nil, fmt.Errorf("%s: level %d: %w", op, depth, err)
		}

		var next []*node
		for i, parent := range current {
			for _, c := range children[i] {
				// Защита от циклов: id, уже встреченный в обходе, повторно не раскрываем.
				if _, seen := visited[c.ID]; seen {
					continue
				}
				visited[c.ID] = struct{}{}

				kid := &node{comment: c}
				parent.kids = append(parent.kids, kid)
				next = append(next, kid)
			}
		}

		all = append(all, next)
		current = next
	}

	// Сборка снизу вверх: к моменту обработки уровня все его дети уже собраны.
	for i := len(all) - 1; i >= 0; i-- {
		for _, n := range all[i] {
			n.comment.Reply = make([]models.Comment, 0, len(n.kids))
			for _, kid := range n.kids {
				n.comment.Reply = append(n.comment.Reply, kid.comment)
			}
		}
	}

	out := make([]models.Comment, 0, len(all[0]))
	for _, n := range all[0] {
		out = append(out, n.comment)
	}

	return out, nil
}

// fetchLevel выбирает детей для каждого узла уровня.
// Результат i соответствует nodes[i]; первая ошибка отменяет остальные выборки.
func fetchLevel(ctx context.Context, f Fetcher, nodes []*node, fanOut int) ([][]models.Comment, error) {
	results := make([][]models.Comment, len(nodes))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(normalizeFanOut(fanOut))

	for i, n := range nodes {
		i, n := i, n
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			children, err := f.Children(ctx, n.comment.ID)
			if err != nil {
				return fmt.Errorf("children of %s: %w", n.comment.ID, err)
			}

			results[i] = children
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// Cascade удаляет ids и всех их потомков, уровень за уровнем.
// Частичный отказ оставляет дерево частично удалённым: транзакции нет.
func Cascade(ctx context.Context, p Pruner, ids []string, fanOut int) (int64, error) {
	const op = "storage/tree/Cascade"

	visited := make(map[string]struct{}, len(ids))
	frontier := unseen(ids, visited)

	var total int64
	for level := 0; len(frontier) > 0; level++ {
		removed, children, err := pruneLevel(ctx, p, frontier, fanOut)
		total += removed
		if err != nil {
			return total, fmt.Errorf("%s: level %d: %w", op, level, err)
		}

		frontier = unseen(children, visited)
	}

	return total, nil
}

// pruneLevel удаляет уровень пачками и собирает id детей следующего уровня.
// removed учитывает и пачки, удалённые до ошибки.
func pruneLevel(ctx context.Context, p Pruner, ids []string, fanOut int) (int64, []string, error) {
	var (
		mu       sync.Mutex
		removed  int64
		children []string
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(normalizeFanOut(fanOut))

	for start := 0; start < len(ids); start += batchSize {
		batch := ids[start:min(start+batchSize, len(ids))]

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			n, err := p.DeleteIDs(ctx, batch)
			mu.Lock()
			removed += n
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}

			kids, err := p.ChildIDs(ctx, batch)
			if err != nil {
				return fmt.Errorf("children: %w", err)
			}

			mu.Lock()
			children = append(children, kids...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return removed, nil, err
	}

	return removed, children, nil
}

// unseen возвращает id, которых ещё не было в обходе, и помечает их.
func unseen(ids []string, visited map[string]struct{}) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		out = append(out, id)
	}

	return out
}

func normalizeFanOut(n int) int {
	if n <= 0 {
		return DefaultFanOut
	}

	return n
}
