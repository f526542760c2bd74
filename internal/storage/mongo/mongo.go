package mongo

import (
	"context"
	"fmt"
	"sync"

	"github.com/pribylovaa/go-comment-store/internal/config"
	"github.com/pribylovaa/go-comment-store/internal/storage"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Mongo — документный драйвер хранилища комментариев.
// Подключение ленивое: клиент создаётся при первой операции и кешируется
// на время жизни экземпляра. Неудачная попытка не кешируется.
type Mongo struct {
	cfg    config.MongoConfig
	policy config.PolicyConfig

	mu       sync.Mutex
	client   *mongodriver.Client
	db       *mongodriver.Database
	comments *mongodriver.Collection
}

// New проверяет конфигурацию и возвращает неподключённый драйвер.
func New(cfg config.MongoConfig, policy config.PolicyConfig) (*Mongo, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mongo: empty url")
	}

	if cfg.Database == "" {
		cfg.Database = "express-comment-db"
	}

	if cfg.Collection == "" {
		cfg.Collection = "comments"
	}

	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("mongo: %w", err)
	}

	return &Mongo{cfg: cfg, policy: policy}, nil
}

// collection возвращает коллекцию, при необходимости подключаясь к MongoDB.
func (m *Mongo) collection(ctx context.Context) (*mongodriver.Collection, error) {
	_, coll, err := m.connect(ctx)
	return coll, err
}

// connect возвращает клиента и коллекцию из одного снимка под m.mu,
// подключаясь при первом вызове.
func (m *Mongo) connect(ctx context.Context) (*mongodriver.Client, *mongodriver.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.comments != nil {
		return m.client, m.comments, nil
	}

	opts := options.Client().ApplyURI(m.cfg.URL)
	if m.cfg.Username != "" {
		opts.SetAuth(options.Credential{
			Username: m.cfg.Username,
			Password: m.cfg.Password,
		})
	}

	if m.cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(m.cfg.MaxPoolSize)
	}

	if m.cfg.MinPoolSize > 0 {
		opts.SetMinPoolSize(m.cfg.MinPoolSize)
	}

	cli, err := mongodriver.Connect(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := cli.Database(m.cfg.Database)
	coll := db.Collection(m.cfg.Collection)

	if err := ensureIndexes(ctx, coll); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, nil, err
	}

	m.client = cli
	m.db = db
	m.comments = coll

	return cli, coll, nil
}

// Ping подключается (если ещё нет) и проверяет доступность primary.
// Close, пришедший во время Ping, даёт ошибку отключённого клиента.
func (m *Mongo) Ping(ctx context.Context) error {
	cli, _, err := m.connect(ctx)
	if err != nil {
		return err
	}

	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}

	return nil
}

// Close отключает клиента. Повторный вызов и вызов до подключения безопасны.
func (m *Mongo) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}

	err := m.client.Disconnect(ctx)
	m.client, m.db, m.comments = nil, nil, nil

	return err
}

// ensureIndexes создаёт индексы под выборки драйвера:
// - дети родителя: parentId + _id;
// - корни по assoc: assoc + parentId + _id;
// - выборка по автору: username + assoc.
func ensureIndexes(ctx context.Context, coll *mongodriver.Collection) error {
	models := []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "parentId", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("parent_id_asc"),
		},
		{
			Keys:    bson.D{{Key: "assoc", Value: 1}, {Key: "parentId", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("assoc_parent_id_asc"),
		},
		{
			Keys:    bson.D{{Key: "username", Value: 1}, {Key: "assoc", Value: 1}},
			Options: options.Index().SetName("username_assoc"),
		},
	}

	if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("mongo ensure indexes: %w", err)
	}

	return nil
}

// Проверка выполнения контракта верхнего уровня.
var _ storage.Driver = (*Mongo)(nil)
