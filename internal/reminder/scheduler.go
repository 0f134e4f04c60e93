package reminder

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/rewritebot/internal/models"
	"github.com/xaenox/rewritebot/internal/storage"
)

// Deliverer sends a due reminder to its chat. missed marks reminders that
// were found overdue during recovery.
type Deliverer interface {
	DeliverReminder(ctx context.Context, r *models.Reminder, missed bool) error
}

// Scheduler persists reminders and arms one timer per pending reminder.
// A reminder is stored before its timer is armed, so a crash between the
// two delivers late after recovery instead of losing it. The stored row
// is removed only once delivery succeeds.
type Scheduler struct {
	store storage.Store
	del   Deliverer
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(store storage.Store, del Deliverer, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scheduler{store: store, del: del, log: log}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start ties the scheduler's timers to parent. Call it before Schedule or
// Recover so shutdown reaches the armed goroutines.
func (s *Scheduler) Start(parent context.Context) {
	s.ctx, s.cancel = context.WithCancel(parent)
}

// Stop cancels armed timers and waits for in-flight deliveries to wind
// down.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Schedule persists the reminder, then arms its timer.
func (s *Scheduler) Schedule(ctx context.Context, r *models.Reminder) error {
	if _, err := s.store.AddReminder(ctx, r); err != nil {
		return err
	}
	s.log.Info("Reminder scheduled",
		zap.Int64("id", r.ID),
		zap.Int64("chat_id", r.ChatID),
		zap.Time("due_at", r.DueAt))
	s.arm(r)
	return nil
}

// Recover re-arms every reminder found in the store. Overdue reminders
// are delivered immediately, marked as missed. It returns how many
// pending reminders were found.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	pending, err := s.store.PendingReminders(ctx)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	for _, r := range pending {
		r := r
		if r.Due(now) {
			s.log.Info("Delivering missed reminder",
				zap.Int64("id", r.ID),
				zap.Time("due_at", r.DueAt))
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.fire(r, true)
			}()
		} else {
			s.arm(r)
		}
	}
	return len(pending), nil
}

func (s *Scheduler) arm(r *models.Reminder) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if delay := time.Until(r.DueAt); delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-s.ctx.Done():
				return
			case <-timer.C:
			}
		}
		s.fire(r, false)
	}()
}

// fire delivers one reminder and removes it from the store. A reminder
// deleted while its timer ran is dropped without delivery. A reminder
// whose delivery fails stays stored for the next recovery pass.
func (s *Scheduler) fire(r *models.Reminder, missed bool) {
	exists, err := s.store.ReminderExists(s.ctx, r.ID)
	if err != nil {
		s.log.Warn("Could not verify reminder before delivery",
			zap.Int64("id", r.ID),
			zap.Error(err))
	} else if !exists {
		s.log.Debug("Reminder deleted before firing", zap.Int64("id", r.ID))
		return
	}

	if err := s.del.DeliverReminder(s.ctx, r, missed); err != nil {
		s.log.Error("Reminder delivery failed, keeping it stored",
			zap.Int64("id", r.ID),
			zap.Error(err))
		return
	}
	if err := s.store.DeleteReminder(s.ctx, r.ID); err != nil {
		s.log.Error("Could not delete delivered reminder",
			zap.Int64("id", r.ID),
			zap.Error(err))
		return
	}
	s.log.Info("Reminder delivered",
		zap.Int64("id", r.ID),
		zap.Bool("missed", missed))
}
