package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/rewritebot/internal/settings"
	"github.com/xaenox/rewritebot/internal/storage"
)

const addRulePrompt = "➕ <b>Adding a new Rule</b>\n" +
	"Please send the rule in the following format:\n" +
	"<code>name = s@pattern@replacement@flags</code>\n\n" +
	"Example:\n<code>twitter = s@twitter.com@fxtwitter.com@i</code>"

func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if query.From == nil || query.Message == nil {
		b.answer(query.ID, "")
		return
	}
	switch {
	case strings.HasPrefix(query.Data, "del:"):
		b.handleDeleteCallback(query)
	case strings.HasPrefix(query.Data, "rem:"):
		b.handleReminderCallback(ctx, query)
	case strings.HasPrefix(query.Data, "set:"):
		b.handleSettingsCallback(ctx, query)
	default:
		b.answer(query.ID, "")
	}
}

// handleDeleteCallback removes a rewritten message when the delete button
// is pressed by someone the delete_allowed policy accepts. The callback
// data carries the id of the user whose message was rewritten.
func (b *Bot) handleDeleteCallback(query *tgbotapi.CallbackQuery) {
	senderID, err := strconv.ParseInt(strings.TrimPrefix(query.Data, "del:"), 10, 64)
	if err != nil {
		b.answer(query.ID, "Error parsing permission data.")
		return
	}

	chat := query.Message.Chat
	isSender := query.From.ID == senderID

	var allowed bool
	switch b.settings.Current().Behavior.DeleteAllowed {
	case settings.DeleteAllowedSender:
		allowed = isSender
	case settings.DeleteAllowedAdmin:
		allowed = b.isGroupAdmin(chat, query.From.ID)
	case settings.DeleteAllowedSenderOrAdmin:
		allowed = isSender || b.isGroupAdmin(chat, query.From.ID)
	}

	if !allowed {
		b.alert(query.ID, "⛔ You cannot delete this message.")
		return
	}

	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chat.ID, query.Message.MessageID)); err != nil {
		b.answer(query.ID, "Could not delete message (Bot needs Delete permissions).")
		return
	}
	b.answer(query.ID, "Deleted.")
}

func (b *Bot) handleReminderCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	data := query.Data
	switch {
	case data == "rem:close":
		b.answer(query.ID, "Menu closed.")
		b.deleteMessage(query.Message.Chat.ID, query.Message.MessageID)
	case data == "rem:manage":
		b.answer(query.ID, "Loading reminders...")
		b.showReminderManageMenu(ctx, query)
	case strings.HasPrefix(data, "rem:del:"):
		id, err := strconv.ParseInt(strings.TrimPrefix(data, "rem:del:"), 10, 64)
		if err != nil {
			b.answer(query.ID, "")
			return
		}
		if err := b.store.DeleteReminder(ctx, id); err != nil {
			b.logger.Error("Failed to delete reminder",
				zap.Error(err),
				zap.Int64("reminder_id", id))
			b.answer(query.ID, "❌ Failed to delete reminder.")
			return
		}
		b.answer(query.ID, "🗑 Reminder deleted!")
		b.showReminderManageMenu(ctx, query)
	default:
		b.answer(query.ID, "")
	}
}

func (b *Bot) showReminderManageMenu(ctx context.Context, query *tgbotapi.CallbackQuery) {
	chat := query.Message.Chat
	reminders, err := b.store.UserReminders(ctx, chat.ID, query.From.ID)
	if err != nil {
		b.logger.Error("Failed to load reminders", zap.Error(err))
		b.editHTML(chat.ID, query.Message.MessageID, "❌ Could not load your reminders.")
		return
	}
	if len(reminders) == 0 {
		b.editHTML(chat.ID, query.Message.MessageID, "You have no pending reminders.")
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, r := range reminders {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("🗑 %s - %s", r.DueAt.UTC().Format("02/01 15:04"), reasonLabel(r.Reason)),
				fmt.Sprintf("rem:del:%d", r.ID),
			),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Close", "rem:close"),
	))

	b.editMenu(chat.ID, query.Message.MessageID,
		"<b>Manage Your Reminders</b>\nTap a reminder to delete it:",
		tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) handleSettingsCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	data := query.Data
	chat := query.Message.Chat

	switch data {
	case "set:close":
		b.answer(query.ID, "Menu closed.")
		b.deleteMessage(chat.ID, query.Message.MessageID)
		return
	case "set:menu:main":
		b.answer(query.ID, "Back to main settings.")
		b.setDeleteMode(query.From.ID, false)
		b.editSettingsMenu(query)
		return
	case "set:menu:subs":
		b.answer(query.ID, "Loading rules...")
		b.editSubstitutionsMenu(query)
		return
	case "set:menu:subs_delete":
		b.answer(query.ID, "Delete mode enabled.")
		b.setDeleteMode(query.From.ID, true)
		b.editSubstitutionsMenu(query)
		return
	case "set:menu:subs_normal":
		b.answer(query.ID, "Delete mode disabled.")
		b.setDeleteMode(query.From.ID, false)
		b.editSubstitutionsMenu(query)
		return
	case "set:menu:reset_confirm":
		b.answer(query.ID, "Warning: Reset requested.")
		b.editResetConfirmMenu(query)
		return
	case "set:menu:restart_confirm":
		b.answer(query.ID, "Restart requested.")
		b.editRestartConfirmMenu(query)
		return
	case "set:action:reset_do":
		if err := b.settings.Reset(); err != nil {
			b.logger.Error("Failed to reset configuration", zap.Error(err))
			b.alert(query.ID, "❌ Failed to reset configuration.")
			return
		}
		b.alert(query.ID, "✅ Settings reset to defaults!")
		b.editHTML(chat.ID, query.Message.MessageID,
			"✅ <b>Configuration has been reset to defaults.</b>")
		return
	case "set:action:restart_do":
		b.handleRestartAction(ctx, query)
		return
	case "set:rule:add_prompt":
		b.answer(query.ID, "Please send the new rule.")
		b.setAwaitingRule(query.From.ID, true)
		prompt := tgbotapi.NewMessage(chat.ID, addRulePrompt)
		prompt.ParseMode = tgbotapi.ModeHTML
		b.send(prompt)
		return
	}

	switch {
	case strings.HasPrefix(data, "set:bot:"):
		b.handleToggleSetting(query, strings.TrimPrefix(data, "set:bot:"))
	case strings.HasPrefix(data, "set:rule:"):
		b.handleToggleRule(query, strings.TrimPrefix(data, "set:rule:"))
	case strings.HasPrefix(data, "set:delrule:"):
		b.handleDeleteRule(query, strings.TrimPrefix(data, "set:delrule:"))
	default:
		b.answer(query.ID, "")
	}
}

func (b *Bot) handleToggleSetting(query *tgbotapi.CallbackQuery, key string) {
	setting, ok := settings.FindBoolSetting(key)
	if !ok {
		b.answer(query.ID, "")
		return
	}
	next := !setting.Get(b.settings.Current().Behavior)
	if err := b.settings.SetBool(key, next); err != nil {
		b.logger.Error("Failed to update setting",
			zap.Error(err),
			zap.String("key", key))
		b.answer(query.ID, "❌ Failed to update setting.")
		return
	}
	state := "OFF"
	if next {
		state = "ON"
	}
	b.answer(query.ID, fmt.Sprintf("%s set to %s", setting.Label, state))
	b.editSettingsMenu(query)
}

func (b *Bot) handleToggleRule(query *tgbotapi.CallbackQuery, key string) {
	if err := b.settings.ToggleRule(key); err != nil {
		b.logger.Error("Failed to toggle rule",
			zap.Error(err),
			zap.String("rule", key))
		b.answer(query.ID, "❌ Failed to toggle rule.")
		return
	}
	state := "disabled"
	if ruleEnabled(b.settings.Current(), key) {
		state = "enabled"
	}
	b.answer(query.ID, fmt.Sprintf("Rule '%s' %s", key, state))
	b.editSubstitutionsMenu(query)
}

func (b *Bot) handleDeleteRule(query *tgbotapi.CallbackQuery, key string) {
	if err := b.settings.RemoveRule(key); err != nil {
		b.logger.Error("Failed to delete rule",
			zap.Error(err),
			zap.String("rule", key))
		b.answer(query.ID, "❌ Failed to delete rule.")
		return
	}
	b.answer(query.ID, fmt.Sprintf("✅ Rule '%s' deleted!", key))
	b.editSubstitutionsMenu(query)
}

// handleRestartAction records where to announce the comeback, then asks
// the run loop to exit. The supervisor is expected to start a new process.
func (b *Bot) handleRestartAction(ctx context.Context, query *tgbotapi.CallbackQuery) {
	chat := query.Message.Chat
	if err := b.store.SetState(ctx, storage.StateRestartChat, strconv.FormatInt(chat.ID, 10)); err != nil {
		b.logger.Error("Failed to store restart announcement target", zap.Error(err))
	}
	b.alert(query.ID, "🔄 Restarting bot...")
	b.editHTML(chat.ID, query.Message.MessageID,
		"🔄 <b>Restarting...</b> The bot will be back online in a few seconds.")
	b.logger.Info("Restart initiated",
		zap.Int64("user_id", query.From.ID),
		zap.Int64("chat_id", chat.ID))
	b.triggerRestart()
}

func (b *Bot) editSettingsMenu(query *tgbotapi.CallbackQuery) {
	text, markup := b.settingsMenu(b.settings.Current())
	b.editMenu(query.Message.Chat.ID, query.Message.MessageID, text, markup)
}

func (b *Bot) editSubstitutionsMenu(query *tgbotapi.CallbackQuery) {
	snap := b.settings.Current()
	deleteMode := b.inDeleteMode(query.From.ID)

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, r := range snap.Rules {
		label := "🗑 " + r.Key
		callback := "set:delrule:" + r.Key
		if !deleteMode {
			icon := "❌"
			if r.Enabled {
				icon = "✅"
			}
			label = icon + " " + r.Key
			callback = "set:rule:" + r.Key
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, callback),
		))
	}

	if deleteMode {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Done Deleting", "set:menu:subs_normal"),
		))
	} else {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("➕ Add Rule", "set:rule:add_prompt"),
			tgbotapi.NewInlineKeyboardButtonData("🗑 Delete Mode", "set:menu:subs_delete"),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", "set:menu:main"),
	))

	text := "<b>Toggle Individual Rules</b>\n<i>Changes are applied instantly.</i>"
	if deleteMode {
		text = "<b>Delete Rules</b>\nTap a rule to permanently remove it."
	}
	b.editMenu(query.Message.Chat.ID, query.Message.MessageID, text,
		tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) editResetConfirmMenu(query *tgbotapi.CallbackQuery) {
	text := fmt.Sprintf(
		"<b>⚠️ WARNING: RESET TO DEFAULTS</b>\n\n"+
			"This will delete ALL your custom rules and settings in <code>%s</code> "+
			"and restore everything from the example file.\n\n"+
			"<b>This cannot be undone.</b> Are you sure?",
		configFileName(b.cfg.Files.Config))
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔥 YES, RESET EVERYTHING", "set:action:reset_do")),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Cancel", "set:menu:main")),
	)
	b.editMenu(query.Message.Chat.ID, query.Message.MessageID, text, markup)
}

func (b *Bot) editRestartConfirmMenu(query *tgbotapi.CallbackQuery) {
	text := "<b>🔄 RESTART BOT</b>\n\n" +
		"This will terminate the current process. The supervisor will automatically restart it.\n\n" +
		"The bot will be offline for a few seconds. Proceed?"
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 YES, RESTART NOW", "set:action:restart_do")),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Cancel", "set:menu:main")),
	)
	b.editMenu(query.Message.Chat.ID, query.Message.MessageID, text, markup)
}

func ruleEnabled(snap *settings.Snapshot, key string) bool {
	for _, r := range snap.Rules {
		if r.Key == key {
			return r.Enabled
		}
	}
	return false
}
