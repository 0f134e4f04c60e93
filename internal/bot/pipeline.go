package bot

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/rewritebot/internal/rules"
)

// handleText runs one text message through the rewrite pipeline: access
// policy, dedup and cooldown, then the rule engine. The gate is committed
// only after the engine produced an effective rewrite, so messages no rule
// touched never consume the sender's cooldown. The send happens on its own
// goroutine; the dispatch loop must not wait out a retry storm.
func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil || msg.Text == "" {
		return
	}
	user := msg.From
	if user.ID == b.self.ID {
		return
	}

	if b.awaitingRule(user.ID) {
		b.handleRuleInput(msg)
		return
	}

	snap := b.settings.Current()

	if !snap.Access.Allowed(msg.Chat.Type, msg.Chat.ID, user.ID) {
		return
	}
	if !b.gate.Admit(msg.MessageID, user.ID, msg.Time(), time.Now(), snap.Behavior.Cooldown()) {
		return
	}

	out, matched := snap.Engine.Apply(msg.Text, snap.Behavior.ProcessWholeMessage)
	if !matched || out == msg.Text || out == "" {
		return
	}

	b.gate.Commit(msg.MessageID, user.ID, time.Now())

	text := out
	if snap.Behavior.MentionUser {
		text = fmt.Sprintf("<a href='tg://user?id=%d'>%s</a>: %s",
			user.ID, html.EscapeString(user.FirstName), out)
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = tgbotapi.ModeHTML
	if snap.Behavior.SendAsReply {
		reply.ReplyToMessageID = msg.MessageID
	}
	if snap.Behavior.EnableDeleteButton {
		reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("🗑 Delete", fmt.Sprintf("del:%d", user.ID)),
			),
		)
	}

	messageID := msg.MessageID
	userID := user.ID
	go func() {
		err := b.retrier.Do(ctx, "rewrite", func() error {
			_, err := b.api.Send(reply)
			return err
		})
		if err != nil {
			return
		}
		b.logger.Info("Rewrote message",
			zap.Int("message_id", messageID),
			zap.Int64("user_id", userID))
	}()
}

// handleRuleInput consumes the message a user sends after the add-rule
// prompt. The pending flag stays set until a rule is stored, so the user
// can correct a typo by just sending the rule again.
func (b *Bot) handleRuleInput(msg *tgbotapi.Message) {
	const format = "❌ Invalid format. Use: <code>name = s@pattern@replacement@flags</code>"

	key, spec, found := strings.Cut(strings.TrimSpace(msg.Text), "=")
	if !found {
		b.replyHTML(msg, format)
		return
	}
	key = strings.TrimSpace(key)
	spec = strings.TrimSpace(spec)
	if key == "" || !rules.IsRuleSpec(spec) {
		b.replyHTML(msg, format)
		return
	}

	if err := b.settings.AddRule(key, spec); err != nil {
		b.replyHTML(msg, fmt.Sprintf("❌ Error: %s", html.EscapeString(err.Error())))
		return
	}

	b.setAwaitingRule(msg.From.ID, false)
	b.logger.Info("Rule added via chat",
		zap.String("rule", strings.ToLower(key)),
		zap.Int64("user_id", msg.From.ID))
	b.replyHTML(msg, fmt.Sprintf("✅ Rule <code>%s</code> added/updated.",
		html.EscapeString(strings.ToLower(key))))
}
