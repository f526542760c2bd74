// service содержит бизнес-логику хранилища комментариев поверх storage.Driver.
package service

import (
	"errors"

	"github.com/microcosm-cc/bluemonday"
	"github.com/pribylovaa/go-comment-store/internal/config"
	"github.com/pribylovaa/go-comment-store/internal/storage"
)

var (
	// ErrInvalidArgument — неверные входные параметры запроса к сервису.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrParentNotFound — родитель ответа не найден.
	ErrParentNotFound = errors.New("parent not found")
	// ErrMaxReplyLevel — ответ глубже разрешённого policy.max_reply_level.
	ErrMaxReplyLevel = errors.New("max reply level reached")
	// ErrInternal — внутренняя ошибка (драйвер/БД/контекст и т.д.).
	ErrInternal = errors.New("internal")
)

// Service — бизнес-логика хранилища комментариев.
type Service struct {
	storage  storage.Driver
	cfg      config.Config
	sanitize *bluemonday.Policy
}

// New создает новый экземпляр Service.
func New(storage storage.Driver, cfg config.Config) *Service {
	s := &Service{
		storage: storage,
		cfg:     cfg,
	}

	if cfg.Policy.SanitizeHTML {
		s.sanitize = bluemonday.UGCPolicy()
	}

	return s
}
