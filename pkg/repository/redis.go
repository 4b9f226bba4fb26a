package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/docmesh/docmesh/pkg/models"
	"github.com/docmesh/docmesh/pkg/observability"
)

// RedisConfig holds connection settings for the Redis-backed store
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	Database     int           `mapstructure:"database"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MaxRetries   int           `mapstructure:"max_retries"`

	// HistoryCap bounds the stored operation log per document. Zero keeps
	// the full log.
	HistoryCap int `mapstructure:"history_cap"`
}

// RedisStore persists documents and operation logs in Redis. Document
// snapshots live at doc:{id} as JSON; the operation log is an RPUSH list
// at doc:{id}:ops.
type RedisStore struct {
	client *redis.Client
	config RedisConfig
	logger observability.Logger
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(cfg RedisConfig, logger observability.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to redis")
	}

	logger.Info("Connected to redis", map[string]interface{}{
		"address":  cfg.Address,
		"database": cfg.Database,
	})

	return &RedisStore{client: client, config: cfg, logger: logger}, nil
}

// NewRedisStoreWithClient wraps an existing client, used by tests
func NewRedisStoreWithClient(client *redis.Client, cfg RedisConfig, logger observability.Logger) *RedisStore {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &RedisStore{client: client, config: cfg, logger: logger}
}

func docKey(documentID string) string { return "doc:" + documentID }
func opsKey(documentID string) string { return "doc:" + documentID + ":ops" }

func (s *RedisStore) LoadDocument(ctx context.Context, documentID string) (*models.DocumentState, error) {
	raw, err := s.client.Get(ctx, docKey(documentID)).Bytes()
	if err == redis.Nil {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load document %s", documentID)
	}

	var doc models.DocumentState
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrapf(err, "failed to decode document %s", documentID)
	}
	if doc.Formatting == nil {
		doc.Formatting = make(map[int]models.Attributes)
	}
	return &doc, nil
}

func (s *RedisStore) SaveDocument(ctx context.Context, doc *models.DocumentState) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrapf(err, "failed to encode document %s", doc.ID)
	}
	if err := s.client.Set(ctx, docKey(doc.ID), raw, 0).Err(); err != nil {
		return errors.Wrapf(err, "failed to save document %s", doc.ID)
	}
	return nil
}

func (s *RedisStore) AppendOperations(ctx context.Context, documentID string, ops ...*models.Operation) error {
	if len(ops) == 0 {
		return nil
	}

	encoded := make([]interface{}, 0, len(ops))
	for _, op := range ops {
		raw, err := json.Marshal(op)
		if err != nil {
			return errors.Wrapf(err, "failed to encode operation %s", op.Metadata.OperationID)
		}
		encoded = append(encoded, raw)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, opsKey(documentID), encoded...)
	if s.config.HistoryCap > 0 {
		pipe.LTrim(ctx, opsKey(documentID), int64(-s.config.HistoryCap), -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "failed to append operations for document %s", documentID)
	}
	return nil
}

func (s *RedisStore) LoadOperationHistory(ctx context.Context, documentID string, limit int) ([]*models.Operation, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}

	raws, err := s.client.LRange(ctx, opsKey(documentID), start, -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load operation history for document %s", documentID)
	}

	ops := make([]*models.Operation, 0, len(raws))
	for _, raw := range raws {
		var op models.Operation
		if err := json.Unmarshal([]byte(raw), &op); err != nil {
			return nil, errors.Wrapf(err, "failed to decode stored operation for document %s", documentID)
		}
		ops = append(ops, &op)
	}
	return ops, nil
}

func (s *RedisStore) DeleteDocument(ctx context.Context, documentID string) error {
	if err := s.client.Del(ctx, docKey(documentID), opsKey(documentID)).Err(); err != nil {
		return errors.Wrapf(err, "failed to delete document %s", documentID)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
