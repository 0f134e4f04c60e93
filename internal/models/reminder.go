package models

import "time"

// Reminder is a scheduled notification. It is persisted before the timer
// is armed so that pending reminders survive a process restart.
type Reminder struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	UserID    int64     `json:"user_id"`
	UserName  string    `json:"user_name"`
	MessageID int       `json:"message_id"`
	DueAt     time.Time `json:"due_at"`
	Reason    string    `json:"reason,omitempty"`
	Link      string    `json:"link,omitempty"`
}

// Due reports whether the reminder should already have fired at now.
func (r *Reminder) Due(now time.Time) bool {
	return !r.DueAt.After(now)
}
