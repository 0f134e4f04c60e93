package bot

import (
	"context"
	"fmt"
	"html"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/xaenox/rewritebot/internal/models"
)

// DeliverReminder sends a due reminder to its chat, retrying transient
// transport failures. Missed reminders, found overdue after a restart,
// say so. The scheduler keeps the reminder stored when this returns an
// error.
func (b *Bot) DeliverReminder(ctx context.Context, r *models.Reminder, missed bool) error {
	label := "Reminder"
	if missed {
		label = "Missed Reminder"
	}
	text := fmt.Sprintf("🔔 <a href='tg://user?id=%d'>%s</a>", r.UserID, label)
	if missed {
		text += " (Was scheduled for earlier)"
	}
	if r.Reason != "" {
		text += ": " + html.EscapeString(r.Reason)
	}
	if r.Link != "" {
		text += fmt.Sprintf("\n\n🔗 <a href='%s'>Original Message</a>", r.Link)
	}

	msg := tgbotapi.NewMessage(r.ChatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyToMessageID = r.MessageID

	return b.retrier.Do(ctx, "reminder", func() error {
		_, err := b.api.Send(msg)
		return err
	})
}
