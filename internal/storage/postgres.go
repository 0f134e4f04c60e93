package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/xaenox/rewritebot/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// PostgresStore keeps reminders in PostgreSQL, for deployments where a
// local file is not durable enough.
type PostgresStore struct {
	db  *sql.DB
	log *zap.Logger
}

func NewPostgresStore(config DatabaseConfig, log *zap.Logger) (*PostgresStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	store := &PostgresStore{db: db, log: log}
	if err := store.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	log.Info("PostgreSQL storage ready",
		zap.String("host", config.Host),
		zap.String("dbname", config.DBName))
	return store, nil
}

func (s *PostgresStore) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}
	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddReminder(ctx context.Context, r *models.Reminder) (int64, error) {
	query := `
		INSERT INTO reminders (chat_id, user_id, user_name, message_id, remind_time, reason, link)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := s.db.QueryRowContext(ctx, query,
		r.ChatID, r.UserID, r.UserName, r.MessageID, r.DueAt.UTC(), r.Reason, r.Link,
	).Scan(&r.ID)
	if err != nil {
		return 0, fmt.Errorf("error creating reminder: %w", err)
	}
	return r.ID, nil
}

func (s *PostgresStore) DeleteReminder(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = $1`, id); err != nil {
		return fmt.Errorf("error deleting reminder: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReminderExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM reminders WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("error checking reminder: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) PendingReminders(ctx context.Context) ([]*models.Reminder, error) {
	return s.queryReminders(ctx,
		`SELECT id, chat_id, user_id, user_name, message_id, remind_time, reason, link
		 FROM reminders ORDER BY remind_time ASC`)
}

func (s *PostgresStore) UserReminders(ctx context.Context, chatID, userID int64) ([]*models.Reminder, error) {
	return s.queryReminders(ctx,
		`SELECT id, chat_id, user_id, user_name, message_id, remind_time, reason, link
		 FROM reminders WHERE chat_id = $1 AND user_id = $2 ORDER BY remind_time ASC`,
		chatID, userID)
}

func (s *PostgresStore) ChatReminders(ctx context.Context, chatID int64) ([]*models.Reminder, error) {
	return s.queryReminders(ctx,
		`SELECT id, chat_id, user_id, user_name, message_id, remind_time, reason, link
		 FROM reminders WHERE chat_id = $1 ORDER BY remind_time ASC`,
		chatID)
}

func (s *PostgresStore) queryReminders(ctx context.Context, query string, args ...any) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying reminders: %w", err)
	}
	defer rows.Close()

	var out []*models.Reminder
	for rows.Next() {
		r := &models.Reminder{}
		if err := rows.Scan(&r.ID, &r.ChatID, &r.UserID, &r.UserName, &r.MessageID, &r.DueAt, &r.Reason, &r.Link); err != nil {
			return nil, fmt.Errorf("error scanning reminder: %w", err)
		}
		r.DueAt = r.DueAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_state (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("error setting state %q: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM bot_state WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("error reading state %q: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) ClearState(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bot_state WHERE key = $1`, key); err != nil {
		return fmt.Errorf("error clearing state %q: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
