package dispatch

import (
	"fmt"
	"strings"
)

// Action — действие над комментариями.
type Action string

const (
	ActionInsert                 Action = "insert"
	ActionUpdate                 Action = "update"
	ActionDelete                 Action = "delete"
	ActionCount                  Action = "count"
	ActionFindByID               Action = "findbyid"
	ActionFindByUsernameAndAssoc Action = "findbyusernameandassoc"
	ActionFindRootByAssoc        Action = "findrootbyassoc"
)

var actions = map[Action]struct{}{
	ActionInsert:                 {},
	ActionUpdate:                 {},
	ActionDelete:                 {},
	ActionCount:                  {},
	ActionFindByID:               {},
	ActionFindByUsernameAndAssoc: {},
	ActionFindRootByAssoc:        {},
}

// ParseAction разбирает имя действия без учёта регистра.
func ParseAction(raw string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := actions[a]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, raw)
	}

	return a, nil
}

// Mutating — действие меняет данные и требует запроса с телом.
func (a Action) Mutating() bool {
	switch a {
	case ActionInsert, ActionUpdate, ActionDelete:
		return true
	}

	return false
}

// label — значение метки action в метриках; неизвестное действие не плодит серии.
func label(a Action) string {
	if a == "" {
		return "unknown"
	}

	return string(a)
}
