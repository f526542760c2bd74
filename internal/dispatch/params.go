package dispatch

import (
	"strconv"
	"strings"

	"github.com/pribylovaa/go-comment-store/internal/models"
)

// Имена параметров запроса.
const (
	KeyAction      = "action"
	KeyUsername    = "username"
	KeyBody        = "body"
	KeyAssoc       = "assoc"
	KeyParentID    = "parentId"
	KeyPostID      = "postId"
	KeyOpaque      = "opaque"
	KeyLimit       = "limit"
	KeyIsRecursive = "isRecursive"
)

// Values — сырые параметры запроса (query string, форма или JSON).
// Отсутствующий ключ и пустая строка различаются.
type Values map[string]string

func (v Values) lookup(key string) *string {
	s, ok := v[key]
	if !ok {
		return nil
	}

	return &s
}

// Params — параметры, приведённые к каноническим типам один раз на входе.
type Params struct {
	Username *string
	Body     *string
	Assoc    *string
	ParentID *string
	PostID   *string
	Opaque   *string
	// Limit <= 0 — не задан (сервис подставит limits.max).
	Limit int64
	Depth models.Depth
}

// ParseParams нормализует сырые значения. Нечисловой limit игнорируется.
func ParseParams(v Values) Params {
	p := Params{
		Username: v.lookup(KeyUsername),
		Body:     v.lookup(KeyBody),
		Assoc:    v.lookup(KeyAssoc),
		ParentID: v.lookup(KeyParentID),
		PostID:   v.lookup(KeyPostID),
		Opaque:   v.lookup(KeyOpaque),
	}

	if raw := v.lookup(KeyLimit); raw != nil {
		if n, err := strconv.ParseInt(strings.TrimSpace(*raw), 10, 64); err == nil && n > 0 {
			p.Limit = n
		}
	}

	if raw := v.lookup(KeyIsRecursive); raw != nil {
		p.Depth = models.ParseDepth(*raw)
	}

	return p
}

func (p Params) filter() models.Filter {
	return models.Filter{
		PostID:   p.PostID,
		Username: p.Username,
		Assoc:    p.Assoc,
		ParentID: p.ParentID,
	}
}

// missing возвращает имя первого отсутствующего (или пустого) обязательного поля.
func missing(fields ...field) string {
	for _, f := range fields {
		if f.value == nil || strings.TrimSpace(*f.value) == "" {
			return f.name
		}
	}

	return ""
}

type field struct {
	name  string
	value *string
}
