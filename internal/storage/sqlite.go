package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vikthevar/Heimdall/pkg/types"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DefaultSQLitePath is where the database lives unless configured
const DefaultSQLitePath = "data/heimdall.db"

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	uid               TEXT NOT NULL UNIQUE,
	timestamp         TEXT NOT NULL,
	user_message      TEXT NOT NULL,
	assistant_message TEXT NOT NULL,
	intent_data       TEXT
);
CREATE TABLE IF NOT EXISTS settings (
	key         TEXT PRIMARY KEY,
	value       TEXT NOT NULL,
	value_type  TEXT NOT NULL,
	description TEXT,
	updated_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS settings_history (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	key        TEXT NOT NULL,
	old_value  TEXT,
	new_value  TEXT NOT NULL,
	changed_by TEXT NOT NULL DEFAULT 'user',
	changed_at TEXT NOT NULL
);
`

// SQLiteStore keeps history and settings in one SQLite database
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens or creates the database at path
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		path = DefaultSQLitePath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer avoids SQLITE_BUSY between the request and audit paths
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.ensureDefaultSettings(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed settings: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, rec types.ConversationRecord) (types.ConversationRecord, error) {
	rec = prepare(rec)
	var intent any
	if len(rec.Intent) > 0 {
		intent = string(rec.Intent)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (uid, timestamp, user_message, assistant_message, intent_data) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.Format(time.RFC3339Nano), rec.UserMessage, rec.AssistantMessage, intent)
	if err != nil {
		return rec, fmt.Errorf("insert message: %w", err)
	}
	s.logger.Debug("Saved message", zap.String("id", rec.ID))
	return rec, nil
}

func (s *SQLiteStore) LoadRecent(ctx context.Context, limit int) ([]types.ConversationRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT uid, timestamp, user_message, assistant_message, intent_data
		 FROM messages ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []types.ConversationRecord
	for rows.Next() {
		var (
			rec    types.ConversationRecord
			ts     string
			intent sql.NullString
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.UserMessage, &rec.AssistantMessage, &intent); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			s.logger.Warn("Bad message timestamp", zap.String("id", rec.ID), zap.Error(err))
		}
		if intent.Valid {
			rec.Intent = []byte(intent.String)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	recs, err := s.LoadRecent(ctx, statsLimit)
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(recs), nil
}

// Clear deletes the message history; settings and their history stay
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	s.logger.Info("All messages cleared from database")
	return nil
}
