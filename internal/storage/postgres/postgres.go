package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/pribylovaa/go-comment-store/internal/config"
	"github.com/pribylovaa/go-comment-store/internal/storage"
	"github.com/pribylovaa/go-comment-store/pkg/log"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/1_init_comments.up.sql
var initSchema string

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,54}$`)

// Storage — реляционный драйвер хранилища комментариев.
// Пул создаётся при первой операции и живёт до Close.
type Storage struct {
	cfg    config.PostgresConfig
	policy config.PolicyConfig
	table  string

	mu sync.Mutex
	db *pgxpool.Pool
}

// New проверяет конфигурацию и возвращает неподключённый драйвер.
func New(cfg config.PostgresConfig, policy config.PolicyConfig) (*Storage, error) {
	const op = "storage.postgres.New"

	if cfg.URL == "" {
		return nil, fmt.Errorf("%s: empty url", op)
	}

	if cfg.Table == "" {
		cfg.Table = "comments"
	}

	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("%s: bad table name %q", op, cfg.Table)
	}

	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{
		cfg:    cfg,
		policy: policy,
		table:  pgx.Identifier{cfg.Table}.Sanitize(),
	}, nil
}

// pool возвращает пул соединений, при необходимости создавая его.
func (s *Storage) pool(ctx context.Context) (*pgxpool.Pool, error) {
	const op = "storage.postgres.pool"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}

	pcfg, err := pgxpool.ParseConfig(s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if s.cfg.Username != "" {
		pcfg.ConnConfig.User = s.cfg.Username
		pcfg.ConnConfig.Password = s.cfg.Password
	}

	if s.cfg.MaxConns > 0 {
		pcfg.MaxConns = s.cfg.MaxConns
	}

	if s.cfg.MinConns > 0 {
		pcfg.MinConns = s.cfg.MinConns
	}

	db, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if s.cfg.AutoMigrate {
		if err := s.migrate(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	log.From(ctx).Debug("postgres_connected", "table", s.cfg.Table)

	s.db = db
	return db, nil
}

// migrate применяет встроенную схему. Гонка двух процессов на
// CREATE ... IF NOT EXISTS даёт unique_violation/duplicate_*, это не ошибка.
func (s *Storage) migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, s.schema()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.UniqueViolation, pgerrcode.DuplicateTable, pgerrcode.DuplicateObject:
				return nil
			}
		}

		return fmt.Errorf("migrate: %w", err)
	}

	return nil
}

func (s *Storage) schema() string {
	r := strings.NewReplacer(
		"{{table}}", s.table,
		"{{parent_idx}}", pgx.Identifier{s.cfg.Table + "_parent_id_idx"}.Sanitize(),
		"{{assoc_idx}}", pgx.Identifier{s.cfg.Table + "_assoc_root_idx"}.Sanitize(),
		"{{username_idx}}", pgx.Identifier{s.cfg.Table + "_username_assoc_idx"}.Sanitize(),
	)

	return r.Replace(initSchema)
}

// Ping подключается (если ещё нет) и проверяет соединение.
func (s *Storage) Ping(ctx context.Context) error {
	db, err := s.pool(ctx)
	if err != nil {
		return err
	}

	return db.Ping(ctx)
}

// Close закрывает пул соединений. Вызов до подключения безопасен.
func (s *Storage) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		s.db.Close()
		s.db = nil
	}

	return nil
}

// Проверка на соответствие интерфейсу Driver.
var _ storage.Driver = (*Storage)(nil)
