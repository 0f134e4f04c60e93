package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xaenox/rewritebot/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS reminders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	user_name TEXT NOT NULL DEFAULT '',
	message_id INTEGER NOT NULL DEFAULT 0,
	remind_time TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	link TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_reminders_chat ON reminders(chat_id);

CREATE TABLE IF NOT EXISTS bot_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteStore persists reminders in a local SQLite file. The driver is
// pure Go, so the binary needs no cgo. Due times are stored as RFC 3339
// text in UTC.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path and
// ensures the schema exists.
func NewSQLiteStore(path string, log *zap.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	log.Info("SQLite storage ready", zap.String("path", path))
	return &SQLiteStore{db: db, log: log}, nil
}

func (s *SQLiteStore) AddReminder(ctx context.Context, r *models.Reminder) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (chat_id, user_id, user_name, message_id, remind_time, reason, link)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ChatID, r.UserID, r.UserName, r.MessageID,
		r.DueAt.UTC().Format(time.RFC3339Nano), r.Reason, r.Link)
	if err != nil {
		return 0, fmt.Errorf("inserting reminder: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading reminder id: %w", err)
	}
	r.ID = id
	return id, nil
}

func (s *SQLiteStore) DeleteReminder(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting reminder: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReminderExists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM reminders WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking reminder: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) PendingReminders(ctx context.Context) ([]*models.Reminder, error) {
	return s.queryReminders(ctx,
		`SELECT id, chat_id, user_id, user_name, message_id, remind_time, reason, link
		 FROM reminders ORDER BY remind_time ASC`)
}

func (s *SQLiteStore) UserReminders(ctx context.Context, chatID, userID int64) ([]*models.Reminder, error) {
	return s.queryReminders(ctx,
		`SELECT id, chat_id, user_id, user_name, message_id, remind_time, reason, link
		 FROM reminders WHERE chat_id = ? AND user_id = ? ORDER BY remind_time ASC`,
		chatID, userID)
}

func (s *SQLiteStore) ChatReminders(ctx context.Context, chatID int64) ([]*models.Reminder, error) {
	return s.queryReminders(ctx,
		`SELECT id, chat_id, user_id, user_name, message_id, remind_time, reason, link
		 FROM reminders WHERE chat_id = ? ORDER BY remind_time ASC`,
		chatID)
}

func (s *SQLiteStore) queryReminders(ctx context.Context, query string, args ...any) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reminders: %w", err)
	}
	defer rows.Close()

	var out []*models.Reminder
	for rows.Next() {
		r := &models.Reminder{}
		var due string
		if err := rows.Scan(&r.ID, &r.ChatID, &r.UserID, &r.UserName, &r.MessageID, &due, &r.Reason, &r.Link); err != nil {
			return nil, fmt.Errorf("scanning reminder: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, due)
		if err != nil {
			// A row we cannot interpret should not take down recovery.
			s.log.Warn("Skipping reminder with bad due time",
				zap.Int64("id", r.ID),
				zap.String("remind_time", due))
			continue
		}
		r.DueAt = t.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("setting state %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM bot_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading state %q: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) ClearState(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bot_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("clearing state %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
