package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vikthevar/Heimdall/pkg/types"
	"go.uber.org/zap"
)

// RedisOptions configures the Redis backend
type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	Key        string
	MaxHistory int
}

// RedisStore keeps history as a JSON list under one key
type RedisStore struct {
	client     *redis.Client
	key        string
	maxHistory int
	logger     *zap.Logger
}

// OpenRedis connects and pings the server
func OpenRedis(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.Ping(pingCtx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("Connected to Redis", zap.String("addr", opts.Addr))
	return NewRedisStore(client, opts.Key, opts.MaxHistory, logger), nil
}

// NewRedisStore wraps an existing client
func NewRedisStore(client *redis.Client, key string, maxHistory int, logger *zap.Logger) *RedisStore {
	if key == "" {
		key = "heimdall:messages"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, key: key, maxHistory: maxHistory, logger: logger}
}

func (s *RedisStore) Save(ctx context.Context, rec types.ConversationRecord) (types.ConversationRecord, error) {
	rec = prepare(rec)
	data, err := json.Marshal(rec)
	if err != nil {
		return rec, fmt.Errorf("encode record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.key, data)
	if s.maxHistory > 0 {
		pipe.LTrim(ctx, s.key, int64(-s.maxHistory), -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return rec, fmt.Errorf("append record: %w", err)
	}
	return rec, nil
}

func (s *RedisStore) LoadRecent(ctx context.Context, limit int) ([]types.ConversationRecord, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	items, err := s.client.LRange(ctx, s.key, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}

	out := make([]types.ConversationRecord, 0, len(items))
	for _, item := range items {
		var rec types.ConversationRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			s.logger.Warn("Skipping undecodable record", zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	recs, err := s.LoadRecent(ctx, statsLimit)
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(recs), nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
