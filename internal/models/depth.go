package models

import (
	"math"
	"strconv"
	"strings"
)

// DepthKind — вид бюджета рекурсии.
type DepthKind uint8

const (
	// DepthNone — только один уровень, без поля reply.
	DepthNone DepthKind = iota
	// DepthBounded — раскрыть не больше N уровней ответов.
	DepthBounded
	// DepthUnbounded — раскрыть всё дерево.
	DepthUnbounded
)

// Depth — бюджет рекурсии (isRecursive): None | Bounded(n) | Unbounded.
type Depth struct {
	Kind DepthKind
	N    int
}

// NoDepth, Unbounded и Bounded — конструкторы бюджета.
func NoDepth() Depth   { return Depth{Kind: DepthNone} }
func Unbounded() Depth { return Depth{Kind: DepthUnbounded} }

// Bounded возвращает Bounded(n); n <= 0 эквивалентно NoDepth.
func Bounded(n int) Depth {
	if n <= 0 {
		return NoDepth()
	}

	return Depth{Kind: DepthBounded, N: n}
}

// ParseDepth разбирает значение isRecursive один раз на границе:
//   - "true" (без учёта регистра) -> Unbounded;
//   - целое n > 0 (дробная часть отбрасывается) -> Bounded(n);
//   - "false", пусто, n <= 0 и всё остальное -> None.
func ParseDepth(raw string) Depth {
	s := strings.ToLower(strings.TrimSpace(raw))

	switch s {
	case "", "false":
		return NoDepth()
	case "true":
		return Unbounded()
	}

	if n, err := strconv.Atoi(s); err == nil {
		return Bounded(n)
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 1 && f <= math.MaxInt32 {
		return Bounded(int(f))
	}

	return NoDepth()
}

// Recursive сообщает, нужно ли раскрывать ответы.
func (d Depth) Recursive() bool {
	return d.Kind != DepthNone
}

// Levels возвращает число уровней ответов, которые можно раскрыть,
// с учётом потолка maxRecurse (0 — без потолка). -1 означает «без ограничения».
func (d Depth) Levels(maxRecurse int32) int {
	levels := -1

	switch d.Kind {
	case DepthNone:
		return 0
	case DepthBounded:
		levels = d.N
	}

	if maxRecurse > 0 && (levels < 0 || levels > int(maxRecurse)) {
		levels = int(maxRecurse)
	}

	return levels
}

// String — для логов.
func (d Depth) String() string {
	switch d.Kind {
	case DepthBounded:
		return strconv.Itoa(d.N)
	case DepthUnbounded:
		return "true"
	default:
		return "false"
	}
}
