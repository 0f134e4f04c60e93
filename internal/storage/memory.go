package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/xaenox/rewritebot/internal/models"
)

// MemoryStore is a non-durable Store for tests and local experiments.
// Reminders kept here do not survive a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	reminders map[int64]models.Reminder
	state     map[string]string
	nextID    int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reminders: make(map[int64]models.Reminder),
		state:     make(map[string]string),
	}
}

func (s *MemoryStore) AddReminder(ctx context.Context, r *models.Reminder) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	r.ID = s.nextID
	s.reminders[r.ID] = *r
	return r.ID, nil
}

func (s *MemoryStore) DeleteReminder(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.reminders, id)
	return nil
}

func (s *MemoryStore) ReminderExists(ctx context.Context, id int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.reminders[id]
	return ok, nil
}

func (s *MemoryStore) PendingReminders(ctx context.Context) ([]*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(func(models.Reminder) bool { return true }), nil
}

func (s *MemoryStore) UserReminders(ctx context.Context, chatID, userID int64) ([]*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(func(r models.Reminder) bool {
		return r.ChatID == chatID && r.UserID == userID
	}), nil
}

func (s *MemoryStore) ChatReminders(ctx context.Context, chatID int64) ([]*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(func(r models.Reminder) bool { return r.ChatID == chatID }), nil
}

// collect returns copies matching the filter, ordered by due time. Callers
// must hold at least a read lock.
func (s *MemoryStore) collect(match func(models.Reminder) bool) []*models.Reminder {
	var out []*models.Reminder
	for _, r := range s.reminders {
		if match(r) {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DueAt.Before(out[j].DueAt)
	})
	return out
}

func (s *MemoryStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state[key] = value
	return nil
}

func (s *MemoryStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if value, ok := s.state[key]; ok {
		return value, nil
	}
	return "", ErrNotFound
}

func (s *MemoryStore) ClearState(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.state, key)
	return nil
}

func (s *MemoryStore) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
