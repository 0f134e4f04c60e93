package storage

import (
	"context"
	"errors"

	"github.com/xaenox/rewritebot/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// StateRestartChat is the state key holding the chat that requested a
// restart, so the bot can announce itself there after coming back up.
const StateRestartChat = "restart_chat_id"

// Store persists reminders and small pieces of bot state.
type Store interface {
	ReminderStore
	StateStore
	Close() error
}

// ReminderStore persists reminders durably enough to survive restarts.
type ReminderStore interface {
	// AddReminder stores the reminder, assigns its id and returns it.
	AddReminder(ctx context.Context, r *models.Reminder) (int64, error)
	// DeleteReminder removes a reminder. Deleting an absent id is not an
	// error; delivery and manual deletion may race.
	DeleteReminder(ctx context.Context, id int64) error
	// ReminderExists reports whether the reminder is still stored.
	ReminderExists(ctx context.Context, id int64) (bool, error)
	// PendingReminders returns all reminders ordered by due time.
	PendingReminders(ctx context.Context) ([]*models.Reminder, error)
	// UserReminders returns one user's reminders in one chat, ordered by
	// due time.
	UserReminders(ctx context.Context, chatID, userID int64) ([]*models.Reminder, error)
	// ChatReminders returns all reminders of a chat, ordered by due time.
	ChatReminders(ctx context.Context, chatID int64) ([]*models.Reminder, error)
}

// StateStore is a small key-value store for operational flags.
type StateStore interface {
	SetState(ctx context.Context, key, value string) error
	// GetState returns ErrNotFound when the key is not set.
	GetState(ctx context.Context, key string) (string, error)
	ClearState(ctx context.Context, key string) error
}
