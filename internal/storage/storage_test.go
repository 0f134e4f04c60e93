package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/rewritebot/internal/models"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "reminders.db"), zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("add assigns ids and pending orders by due time", func(t *testing.T) {
		s := open(t)
		now := time.Now().UTC().Truncate(time.Second)

		later := &models.Reminder{ChatID: 1, UserID: 10, UserName: "ann", DueAt: now.Add(2 * time.Hour), Reason: "later"}
		sooner := &models.Reminder{ChatID: 1, UserID: 10, UserName: "ann", DueAt: now.Add(time.Hour), Reason: "sooner"}

		id1, err := s.AddReminder(ctx, later)
		require.NoError(t, err)
		id2, err := s.AddReminder(ctx, sooner)
		require.NoError(t, err)
		assert.NotZero(t, id1)
		assert.NotEqual(t, id1, id2)
		assert.Equal(t, id1, later.ID)

		pending, err := s.PendingReminders(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "sooner", pending[0].Reason)
		assert.Equal(t, "later", pending[1].Reason)
		assert.True(t, pending[0].DueAt.Equal(sooner.DueAt))
	})

	t.Run("user and chat filters", func(t *testing.T) {
		s := open(t)
		due := time.Now().UTC().Add(time.Hour)

		_, err := s.AddReminder(ctx, &models.Reminder{ChatID: 1, UserID: 10, DueAt: due})
		require.NoError(t, err)
		_, err = s.AddReminder(ctx, &models.Reminder{ChatID: 1, UserID: 20, DueAt: due.Add(time.Minute)})
		require.NoError(t, err)
		_, err = s.AddReminder(ctx, &models.Reminder{ChatID: 2, UserID: 10, DueAt: due})
		require.NoError(t, err)

		mine, err := s.UserReminders(ctx, 1, 10)
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, int64(10), mine[0].UserID)

		chat, err := s.ChatReminders(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, chat, 2)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s := open(t)

		r := &models.Reminder{ChatID: 1, UserID: 10, DueAt: time.Now().UTC().Add(time.Hour)}
		id, err := s.AddReminder(ctx, r)
		require.NoError(t, err)

		require.NoError(t, s.DeleteReminder(ctx, id))
		require.NoError(t, s.DeleteReminder(ctx, id))

		ok, err := s.ReminderExists(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("exists", func(t *testing.T) {
		s := open(t)

		r := &models.Reminder{ChatID: 1, UserID: 10, DueAt: time.Now().UTC().Add(time.Hour)}
		id, err := s.AddReminder(ctx, r)
		require.NoError(t, err)

		ok, err := s.ReminderExists(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.ReminderExists(ctx, id+1000)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("state kv", func(t *testing.T) {
		s := open(t)

		_, err := s.GetState(ctx, StateRestartChat)
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.SetState(ctx, StateRestartChat, "-100123"))
		v, err := s.GetState(ctx, StateRestartChat)
		require.NoError(t, err)
		assert.Equal(t, "-100123", v)

		// Overwrite, then clear.
		require.NoError(t, s.SetState(ctx, StateRestartChat, "42"))
		v, err = s.GetState(ctx, StateRestartChat)
		require.NoError(t, err)
		assert.Equal(t, "42", v)

		require.NoError(t, s.ClearState(ctx, StateRestartChat))
		_, err = s.GetState(ctx, StateRestartChat)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reminders.db")

	s, err := NewSQLiteStore(path, zap.NewNop())
	require.NoError(t, err)

	due := time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.UTC)
	r := &models.Reminder{
		ChatID:    -1001234567,
		UserID:    42,
		UserName:  "ann",
		MessageID: 7,
		DueAt:     due,
		Reason:    "pi minute",
		Link:      "https://t.me/c/1234567/7",
	}
	id, err := s.AddReminder(ctx, r)
	require.NoError(t, err)
	require.NoError(t, s.SetState(ctx, StateRestartChat, "42"))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	pending, err := s.PendingReminders(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	got := pending[0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, r.ChatID, got.ChatID)
	assert.Equal(t, r.UserID, got.UserID)
	assert.Equal(t, r.UserName, got.UserName)
	assert.Equal(t, r.MessageID, got.MessageID)
	assert.Equal(t, r.Reason, got.Reason)
	assert.Equal(t, r.Link, got.Link)
	assert.True(t, got.DueAt.Equal(due), "due time must survive the round trip exactly")

	v, err := s.GetState(ctx, StateRestartChat)
	require.NoError(t, err)
	assert.Equal(t, "42", v)
}
