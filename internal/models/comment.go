// Package models содержит доменные сущности comment-store.
package models

import (
	"encoding/json"
	"time"
)

// Comment — доменная модель комментария, общая для всех драйверов.
// Важно:
//   - ID — непрозрачная строка (ObjectID hex в MongoDB, BIGSERIAL в PostgreSQL);
//   - ParentID == nil у корня; после создания не меняется;
//   - Assoc у ответа всегда совпадает с Assoc корня ветки;
//   - Level — глубина ветки (корень = 0);
//   - Reply заполняется только при рекурсивном чтении.
type Comment struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Body       string    `json:"body"`
	Assoc      string    `json:"assoc"`
	ParentID   *string   `json:"parentId"`
	Level      int32     `json:"level"`
	Opaque     *string   `json:"opaque"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
	Reply      []Comment `json:"reply,omitempty"`
}

// MarshalJSON выводит reply только у результатов рекурсивного чтения (Reply != nil),
// в том числе пустым массивом у листьев и узлов на границе глубины.
func (c Comment) MarshalJSON() ([]byte, error) {
	type plain Comment

	if c.Reply == nil {
		return json.Marshal(plain(c))
	}

	return json.Marshal(struct {
		plain
		Reply []Comment `json:"reply"`
	}{plain(c), c.Reply})
}

// IsRoot сообщает, является ли комментарий корнем ветки.
func (c Comment) IsRoot() bool {
	return c.ParentID == nil
}

// NewComment — вход операции insert.
// Assoc обязателен для корня; для ответа игнорируется в пользу Assoc родителя.
type NewComment struct {
	Username string
	Body     string
	Assoc    *string
	ParentID *string
	Opaque   *string
}

// CommentPatch — вход операции update. nil-поле не трогаем:
// очистить значение можно только явной пустой строкой.
type CommentPatch struct {
	Body   *string
	Opaque *string
}

// Filter — AND-фильтр для delete/count. Пустой фильтр ничего не выбирает.
type Filter struct {
	PostID   *string
	Username *string
	Assoc    *string
	ParentID *string
}

// IsEmpty сообщает, что ни одно поле фильтра не задано.
func (f Filter) IsEmpty() bool {
	return f.PostID == nil && f.Username == nil && f.Assoc == nil && f.ParentID == nil
}

// Ptr — хелпер для опциональных полей.
func Ptr[T any](v T) *T {
	return &v
}
