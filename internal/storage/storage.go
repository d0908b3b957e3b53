// Package storage persists conversation turns, execution audit records and
// user settings. Backends are SQLite (default), Redis and a JSON file.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/vikthevar/Heimdall/pkg/types"
	"go.uber.org/zap"
)

// Store is an append-only log of conversation turns
type Store interface {
	// Save appends rec, filling in ID and Timestamp when empty
	Save(ctx context.Context, rec types.ConversationRecord) (types.ConversationRecord, error)
	// LoadRecent returns up to limit of the newest records, oldest first
	LoadRecent(ctx context.Context, limit int) ([]types.ConversationRecord, error)
	Stats(ctx context.Context) (Stats, error)
	Clear(ctx context.Context) error
	Close() error
}

// Stats summarizes the stored history
type Stats struct {
	TotalMessages   int            `json:"total_messages" yaml:"total_messages"`
	TotalCharacters int            `json:"total_characters" yaml:"total_characters"`
	Oldest          *time.Time     `json:"oldest,omitempty" yaml:"oldest,omitempty"`
	Newest          *time.Time     `json:"newest,omitempty" yaml:"newest,omitempty"`
	IntentTypes     map[string]int `json:"intent_types" yaml:"intent_types"`
}

// statsLimit caps how many records feed Stats
const statsLimit = 10000

var ErrUnknownBackend = errors.New("unknown storage backend")

// Config selects and configures a backend
type Config struct {
	Backend string // sqlite, redis or json

	SQLitePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string

	JSONPath   string
	MaxHistory int
}

// Open creates the configured backend
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case "", "sqlite":
		store, err = OpenSQLite(cfg.SQLitePath, logger)
	case "redis":
		store, err = OpenRedis(ctx, RedisOptions{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			Key:        cfg.RedisKey,
			MaxHistory: cfg.MaxHistory,
		}, logger)
	case "json":
		store, err = OpenJSON(cfg.JSONPath, cfg.MaxHistory, logger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewRecord builds a record for one turn
func NewRecord(user, assistant string, in types.Intent) (types.ConversationRecord, error) {
	rec := types.ConversationRecord{UserMessage: user, AssistantMessage: assistant}
	if in != nil {
		data, err := types.MarshalIntent(in)
		if err != nil {
			return rec, fmt.Errorf("encode intent: %w", err)
		}
		rec.Intent = data
	}
	return rec, nil
}

func prepare(rec types.ConversationRecord) types.ConversationRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return rec
}

// ComputeStats summarizes records in any order
func ComputeStats(records []types.ConversationRecord) Stats {
	s := Stats{IntentTypes: map[string]int{}}
	if len(records) == 0 {
		return s
	}
	sorted := make([]types.ConversationRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	oldest, newest := sorted[0].Timestamp, sorted[len(sorted)-1].Timestamp
	s.Oldest, s.Newest = &oldest, &newest
	s.TotalMessages = len(sorted)
	for _, r := range sorted {
		s.TotalCharacters += len([]rune(r.UserMessage)) + len([]rune(r.AssistantMessage))
		if t := r.IntentType(); t != "" {
			s.IntentTypes[string(t)]++
		}
	}
	return s
}

// lastN returns the newest n records of a chronological slice
func lastN(records []types.ConversationRecord, n int) []types.ConversationRecord {
	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	out := make([]types.ConversationRecord, len(records))
	copy(out, records)
	return out
}
