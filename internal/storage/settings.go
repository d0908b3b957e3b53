package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// DefaultSettings are seeded on first open and restored by ResetSettings
var DefaultSettings = map[string]any{
	"simulation_mode":        true,
	"voice_output_enabled":   true,
	"voice_input_enabled":    true,
	"demo_safe_mode":         true,
	"auto_analyze_ocr":       true,
	"tts_rate":               150,
	"tts_volume":             0.8,
	"max_recording_duration": 8,
	"auto_send_transcript":   true,
	"debug_mode":             false,
	"log_level":              "INFO",
}

// ErrInvalidSetting is returned when a value fails validation
var ErrInvalidSetting = errors.New("invalid setting value")

// Settings is the settings half of the SQLite backend
type Settings interface {
	GetSetting(ctx context.Context, key string) (any, bool, error)
	SetSetting(ctx context.Context, key string, value any, changedBy string) error
	AllSettings(ctx context.Context) (map[string]any, error)
	SettingsHistory(ctx context.Context, key string, limit int) ([]SettingChange, error)
	ResetSettings(ctx context.Context) error
}

// SettingChange is one row of the settings audit trail
type SettingChange struct {
	Key       string    `json:"key"`
	OldValue  string    `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value"`
	ChangedBy string    `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`
}

// ValidateSetting checks a value against the known rules; unknown keys pass
func ValidateSetting(key string, value any) error {
	num, isNum := toFloat(value)
	ok := true
	switch key {
	case "tts_rate":
		ok = isNum && num >= 50 && num <= 300
	case "tts_volume":
		ok = isNum && num >= 0 && num <= 1
	case "max_recording_duration":
		ok = isNum && num == math.Trunc(num) && num >= 1 && num <= 30
	case "log_level":
		s, _ := value.(string)
		ok = s == "DEBUG" || s == "INFO" || s == "WARNING" || s == "ERROR"
	default:
		if def, known := DefaultSettings[key]; known {
			if _, wantBool := def.(bool); wantBool {
				_, ok = value.(bool)
			}
		}
	}
	if !ok {
		return fmt.Errorf("%w for %s: %v", ErrInvalidSetting, key, value)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// encodeSetting renders a value and its type tag. Whole JSON numbers are
// stored as ints when the default for the key is an int.
func encodeSetting(key string, value any) (string, string, error) {
	switch v := value.(type) {
	case bool:
		return strconv.FormatBool(v), "bool", nil
	case int:
		return strconv.Itoa(v), "int", nil
	case int64:
		return strconv.FormatInt(v, 10), "int", nil
	case float64:
		if _, intDefault := DefaultSettings[key].(int); intDefault && v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10), "int", nil
		}
		return strconv.FormatFloat(v, 'f', -1, 64), "float", nil
	case string:
		return v, "str", nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", "", fmt.Errorf("encode setting %s: %w", key, err)
		}
		return string(data), "json", nil
	}
}

func decodeSetting(raw, typ string) (any, error) {
	switch typ {
	case "bool":
		return strconv.ParseBool(raw)
	case "int":
		return strconv.Atoi(raw)
	case "float":
		return strconv.ParseFloat(raw, 64)
	case "json":
		var v any
		err := json.Unmarshal([]byte(raw), &v)
		return v, err
	default:
		return raw, nil
	}
}

func (s *SQLiteStore) ensureDefaultSettings(ctx context.Context) error {
	for key, value := range DefaultSettings {
		raw, typ, err := encodeSetting(key, value)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO settings (key, value, value_type, updated_at) VALUES (?, ?, ?, ?)`,
			key, raw, typ, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("seed %s: %w", key, err)
		}
	}
	return nil
}

// GetSetting returns the decoded value of key
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (any, bool, error) {
	var raw, typ string
	err := s.db.QueryRowContext(ctx, `SELECT value, value_type FROM settings WHERE key = ?`, key).Scan(&raw, &typ)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get setting %s: %w", key, err)
	}
	v, err := decodeSetting(raw, typ)
	if err != nil {
		return nil, false, fmt.Errorf("decode setting %s: %w", key, err)
	}
	return v, true, nil
}

// SetSetting validates and stores a value, recording the change in history
func (s *SQLiteStore) SetSetting(ctx context.Context, key string, value any, changedBy string) error {
	if err := ValidateSetting(key, value); err != nil {
		return err
	}
	raw, typ, err := encodeSetting(key, value)
	if err != nil {
		return err
	}
	if changedBy == "" {
		changedBy = "user"
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var old sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&old)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read setting %s: %w", key, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO settings (key, value, value_type, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, value_type = excluded.value_type, updated_at = excluded.updated_at`,
		key, raw, typ, now); err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}
	if old.Valid {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings_history (key, old_value, new_value, changed_by, changed_at) VALUES (?, ?, ?, ?, ?)`,
			key, old.String, raw, changedBy, now); err != nil {
			return fmt.Errorf("record setting history: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit setting %s: %w", key, err)
	}
	s.logger.Info("Setting changed", zap.String("key", key), zap.String("value", raw), zap.String("by", changedBy))
	return nil
}

// AllSettings returns every stored setting
func (s *SQLiteStore) AllSettings(ctx context.Context) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, value_type FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	out := map[string]any{}
	for rows.Next() {
		var key, raw, typ string
		if err := rows.Scan(&key, &raw, &typ); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		v, err := decodeSetting(raw, typ)
		if err != nil {
			s.logger.Warn("Skipping undecodable setting", zap.String("key", key), zap.Error(err))
			continue
		}
		out[key] = v
	}
	return out, rows.Err()
}

// SettingsHistory returns the newest changes first, optionally for one key
func (s *SQLiteStore) SettingsHistory(ctx context.Context, key string, limit int) ([]SettingChange, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT key, COALESCE(old_value, ''), new_value, changed_by, changed_at FROM settings_history`
	args := []any{}
	if key != "" {
		query += ` WHERE key = ?`
		args = append(args, key)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query settings history: %w", err)
	}
	defer rows.Close()

	var out []SettingChange
	for rows.Next() {
		var c SettingChange
		var at string
		if err := rows.Scan(&c.Key, &c.OldValue, &c.NewValue, &c.ChangedBy, &at); err != nil {
			return nil, fmt.Errorf("scan settings history: %w", err)
		}
		c.ChangedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ResetSettings restores the defaults; the history is kept
func (s *SQLiteStore) ResetSettings(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings`); err != nil {
		return fmt.Errorf("clear settings: %w", err)
	}
	return s.ensureDefaultSettings(ctx)
}
