package bot

import (
	"context"
	"fmt"
	"html"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/rewritebot/internal/models"
	"github.com/xaenox/rewritebot/internal/reminder"
	"github.com/xaenox/rewritebot/internal/settings"
)

// handleCommand routes a slash command. Every command sits behind the same
// access policy as plain messages; unknown commands are ignored, they are
// usually meant for another bot in the chat.
func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	snap := b.settings.Current()
	if !snap.Access.Allowed(msg.Chat.Type, msg.Chat.ID, msg.From.ID) {
		return
	}

	switch msg.Command() {
	case "version":
		b.handleVersion(msg)
	case "remindme":
		b.handleRemindMe(ctx, msg, snap)
	case "reminders":
		b.handleReminders(ctx, msg)
	case "remindersall":
		b.handleRemindersAll(ctx, msg)
	case "settings":
		b.handleSettings(msg, snap)
	}
}

func (b *Bot) handleVersion(msg *tgbotapi.Message) {
	version := b.cfg.BotVersion
	if version == "" {
		version = "Unknown"
	}
	commit := b.cfg.BuildVersion
	if commit == "" {
		commit = "Unknown"
	}
	b.replyHTML(msg, fmt.Sprintf(
		"<b>AutoRegex Bot</b>\nVersion: <code>%s</code>\nCommit: <code>%s</code>",
		html.EscapeString(version), html.EscapeString(commit)))
}

func (b *Bot) handleRemindMe(ctx context.Context, msg *tgbotapi.Message, snap *settings.Snapshot) {
	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		b.reply(msg, "Usage: /remindme [time] (reason)\nExample: /remindme 2h (laundry)")
		return
	}

	durationPart, reason := reminder.SplitReason(args)
	d := reminder.ParseDuration(durationPart)
	if d <= 0 {
		b.reply(msg, "❌ Invalid time format. Use something like 30m, 2h, 1d.")
		return
	}

	due := time.Now().UTC().Add(d)

	var link string
	if snap.Behavior.RemindIncludeLink && msg.ReplyToMessage != nil &&
		(msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()) {
		link = messageLink(msg.Chat.ID, msg.ReplyToMessage.MessageID)
	}

	r := &models.Reminder{
		ChatID:    msg.Chat.ID,
		UserID:    msg.From.ID,
		UserName:  msg.From.FirstName,
		MessageID: msg.MessageID,
		DueAt:     due,
		Reason:    reason,
		Link:      link,
	}
	if err := b.sched.Schedule(ctx, r); err != nil {
		b.logger.Error("Failed to schedule reminder",
			zap.Error(err),
			zap.Int64("user_id", msg.From.ID))
		b.reply(msg, "❌ Could not save your reminder. Please try again.")
		return
	}

	b.replyHTML(msg, fmt.Sprintf(
		"✅⏰\nI'll try to remind you at <code>%s</code> (UTC)\nT-minus: <code>%s</code>",
		due.Format("2006-01-02T15:04:05Z"), formatTMinus(d)))
}

func (b *Bot) handleReminders(ctx context.Context, msg *tgbotapi.Message) {
	reminders, err := b.store.UserReminders(ctx, msg.Chat.ID, msg.From.ID)
	if err != nil {
		b.logger.Error("Failed to load reminders", zap.Error(err))
		b.reply(msg, "❌ Could not load your reminders.")
		return
	}
	if len(reminders) == 0 {
		b.reply(msg, "You have no pending reminders in this chat.")
		return
	}

	var sb strings.Builder
	sb.WriteString("<b>Your Pending Reminders:</b>\n\n")
	for _, r := range reminders {
		sb.WriteString(fmt.Sprintf("• <code>%s</code>%s\n",
			r.DueAt.UTC().Format("2006-01-02 15:04:05"), reasonSuffix(r.Reason)))
	}

	out := tgbotapi.NewMessage(msg.Chat.ID, sb.String())
	out.ReplyToMessageID = msg.MessageID
	out.ParseMode = tgbotapi.ModeHTML
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 Manage / Delete", "rem:manage"),
		),
	)
	b.send(out)
}

func (b *Bot) handleRemindersAll(ctx context.Context, msg *tgbotapi.Message) {
	reminders, err := b.store.ChatReminders(ctx, msg.Chat.ID)
	if err != nil {
		b.logger.Error("Failed to load reminders", zap.Error(err))
		b.reply(msg, "❌ Could not load the reminders.")
		return
	}
	if len(reminders) == 0 {
		b.reply(msg, "There are no pending reminders in this chat.")
		return
	}

	var sb strings.Builder
	sb.WriteString("<b>All Pending Reminders:</b>\n\n")
	for _, r := range reminders {
		sb.WriteString(fmt.Sprintf("• %s: <code>%s</code>%s\n",
			html.EscapeString(r.UserName),
			r.DueAt.UTC().Format("2006-01-02 15:04:05"),
			reasonSuffix(r.Reason)))
	}
	b.replyHTML(msg, sb.String())
}

// handleSettings opens the settings menu. Only whitelisted users and group
// admins may change settings.
func (b *Bot) handleSettings(msg *tgbotapi.Message, snap *settings.Snapshot) {
	if !b.canManageSettings(snap, msg.Chat, msg.From.ID) {
		b.reply(msg, "⛔ Access denied. Only whitelisted users can change settings.")
		return
	}
	text, markup := b.settingsMenu(snap)
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ParseMode = tgbotapi.ModeHTML
	out.ReplyMarkup = markup
	b.send(out)
}

func (b *Bot) canManageSettings(snap *settings.Snapshot, chat *tgbotapi.Chat, userID int64) bool {
	if snap.Access.UserWhitelisted(userID) {
		return true
	}
	return b.isGroupAdmin(chat, userID)
}

func (b *Bot) settingsMenu(snap *settings.Snapshot) (string, tgbotapi.InlineKeyboardMarkup) {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, s := range settings.BoolSettings() {
		icon := "❌"
		if s.Get(snap.Behavior) {
			icon = "✅"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(icon+" "+s.Label, "set:bot:"+s.Key),
		))
	}
	rows = append(rows,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📂 Individual Rules (Substitutions)", "set:menu:subs")),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⚠️ Reset to Defaults", "set:menu:reset_confirm")),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 Restart Bot", "set:menu:restart_confirm")),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Close", "set:close")),
	)
	return "<b>Bot Settings</b>", tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// messageLink builds the t.me deep link for a message in a group or
// supergroup. The public form drops the -100 marker from the chat id.
func messageLink(chatID int64, messageID int) string {
	id := strings.TrimPrefix(strconv.FormatInt(chatID, 10), "-100")
	return fmt.Sprintf("https://t.me/c/%s/%d", id, messageID)
}

func formatTMinus(d time.Duration) string {
	total := int64(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total%3600/60, total%60)
}

func reasonSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return fmt.Sprintf(" (%s)", html.EscapeString(reason))
}

// reasonLabel shortens a reason for inline keyboard buttons.
func reasonLabel(reason string) string {
	if reason == "" {
		return "No reason"
	}
	if utf8.RuneCountInString(reason) > 15 {
		return string([]rune(reason)[:15]) + ".."
	}
	return reason
}

func configFileName(path string) string {
	return filepath.Base(path)
}
