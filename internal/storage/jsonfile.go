package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vikthevar/Heimdall/pkg/types"
	"go.uber.org/zap"
)

// DefaultJSONPath is the session file used by the json backend
const DefaultJSONPath = "data/session.json"

// session is the on-disk document
type session struct {
	Messages  []types.ConversationRecord `json:"messages"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// JSONStore keeps the whole history in memory and rewrites one file per save
type JSONStore struct {
	mu         sync.RWMutex
	path       string
	maxHistory int
	sess       *session
	logger     *zap.Logger
}

// OpenJSON loads path if it exists
func OpenJSON(path string, maxHistory int, logger *zap.Logger) (*JSONStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		path = DefaultJSONPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	s := &JSONStore{path: path, maxHistory: maxHistory, logger: logger}
	sess, err := s.load()
	if err != nil {
		return nil, err
	}
	s.sess = sess
	return s, nil
}

func (s *JSONStore) load() (*session, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		now := time.Now().UTC()
		return &session{Messages: []types.ConversationRecord{}, CreatedAt: now, UpdatedAt: now}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	var sess session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

// save writes through a temp file so a crash never leaves half a document
func (s *JSONStore) save() error {
	data, err := json.MarshalIndent(s.sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

func (s *JSONStore) Save(ctx context.Context, rec types.ConversationRecord) (types.ConversationRecord, error) {
	rec = prepare(rec)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sess.Messages = append(s.sess.Messages, rec)
	s.sess.UpdatedAt = rec.Timestamp
	if s.maxHistory > 0 && len(s.sess.Messages) > s.maxHistory {
		s.sess.Messages = s.sess.Messages[len(s.sess.Messages)-s.maxHistory:]
	}
	return rec, s.save()
}

func (s *JSONStore) LoadRecent(ctx context.Context, limit int) ([]types.ConversationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastN(s.sess.Messages, limit), nil
}

func (s *JSONStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ComputeStats(s.sess.Messages), nil
}

func (s *JSONStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sess.Messages = []types.ConversationRecord{}
	s.sess.UpdatedAt = time.Now().UTC()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

func (s *JSONStore) Close() error {
	return nil
}
