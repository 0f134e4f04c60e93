package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/rewritebot/internal/dedup"
	"github.com/xaenox/rewritebot/internal/delivery"
	"github.com/xaenox/rewritebot/internal/models"
	"github.com/xaenox/rewritebot/internal/reminder"
	"github.com/xaenox/rewritebot/internal/settings"
	"github.com/xaenox/rewritebot/internal/storage"
	"github.com/xaenox/rewritebot/pkg/config"
)

// ErrRestartRequested is returned by Run after an operator confirmed the
// restart action in the settings menu. The process should exit cleanly so
// its supervisor brings up a fresh instance.
var ErrRestartRequested = errors.New("restart requested")

// telegramAPI is the slice of the Telegram client the bot calls.
// *tgbotapi.BotAPI implements it; tests substitute a fake.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Bot struct {
	api      telegramAPI
	self     tgbotapi.User
	cfg      *config.Config
	settings *settings.Store
	store    storage.Store
	gate     *dedup.Gate
	retrier  *delivery.Retrier
	sched    *reminder.Scheduler
	logger   *zap.Logger

	mu          sync.Mutex
	pendingRule map[int64]bool // users expected to send a rule definition next
	deleteMode  map[int64]bool // users whose substitutions menu deletes instead of toggles

	restart     chan struct{}
	restartOnce sync.Once
}

func New(cfg *config.Config, st *settings.Store, store storage.Store, gate *dedup.Gate, retrier *delivery.Retrier, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Secrets.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	api.Debug = cfg.Telegram.Debug
	return newBot(api, api.Self, cfg, st, store, gate, retrier, logger), nil
}

func newBot(api telegramAPI, self tgbotapi.User, cfg *config.Config, st *settings.Store, store storage.Store, gate *dedup.Gate, retrier *delivery.Retrier, logger *zap.Logger) *Bot {
	b := &Bot{
		api:         api,
		self:        self,
		cfg:         cfg,
		settings:    st,
		store:       store,
		gate:        gate,
		retrier:     retrier,
		logger:      logger,
		pendingRule: make(map[int64]bool),
		deleteMode:  make(map[int64]bool),
		restart:     make(chan struct{}),
	}
	// The bot is the scheduler's delivery surface.
	b.sched = reminder.NewScheduler(store, b, logger)
	return b
}

// Run polls for updates until ctx is cancelled or a restart is requested.
// Reminder recovery and the restart announcement happen before the first
// update is dispatched.
func (b *Bot) Run(ctx context.Context) error {
	b.registerCommands()

	b.sched.Start(ctx)
	defer b.sched.Stop()

	if count, err := b.sched.Recover(ctx); err != nil {
		b.logger.Error("Failed to recover reminders", zap.Error(err))
	} else if count > 0 {
		b.logger.Info("Recovered reminders from database", zap.Int("count", count))
	}

	b.announceRestart(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("Bot is running", zap.String("username", b.self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case <-b.restart:
			b.api.StopReceivingUpdates()
			return ErrRestartRequested
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.settings.CheckExternalChange()
			b.dispatch(ctx, update)
		}
	}
}

// dispatch routes one update. Text messages run inline so the dedup and
// cooldown decisions stay serial; commands and callbacks do their own I/O
// and run concurrently.
func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		go b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		if update.Message.IsCommand() {
			go b.handleCommand(ctx, update.Message)
			return
		}
		b.handleText(ctx, update.Message)
	}
}

func (b *Bot) registerCommands() {
	cmds := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "version", Description: "Show bot version and commit hash"},
		tgbotapi.BotCommand{Command: "remindme", Description: "Set a reminder. Usage: /remindme 2h (reason)"},
		tgbotapi.BotCommand{Command: "reminders", Description: "See your pending reminders in this chat"},
		tgbotapi.BotCommand{Command: "remindersall", Description: "See all pending reminders in this chat"},
		tgbotapi.BotCommand{Command: "settings", Description: "Configure bot settings (Whitelisted only)"},
	)
	if _, err := b.api.Request(cmds); err != nil {
		b.logger.Warn("Failed to register bot commands", zap.Error(err))
	}
}

// announceRestart tells the chat that asked for a restart that the bot is
// back. The state key is cleared even when the announcement fails, so a
// dead chat cannot make every future boot retry it.
func (b *Bot) announceRestart(ctx context.Context) {
	value, err := b.store.GetState(ctx, storage.StateRestartChat)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			b.logger.Error("Failed to read restart state", zap.Error(err))
		}
		return
	}
	if chatID, err := strconv.ParseInt(value, 10, 64); err == nil {
		msg := tgbotapi.NewMessage(chatID, "✅ <b>Bot has restarted successfully!</b>")
		msg.ParseMode = tgbotapi.ModeHTML
		if _, err := b.api.Send(msg); err != nil {
			b.logger.Error("Failed to send restart announcement",
				zap.Error(err),
				zap.Int64("chat_id", chatID))
		}
	}
	if err := b.store.ClearState(ctx, storage.StateRestartChat); err != nil {
		b.logger.Error("Failed to clear restart state", zap.Error(err))
	}
}

func (b *Bot) triggerRestart() {
	b.restartOnce.Do(func() { close(b.restart) })
}

func (b *Bot) awaitingRule(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pendingRule[userID]
}

func (b *Bot) setAwaitingRule(userID int64, waiting bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if waiting {
		b.pendingRule[userID] = true
	} else {
		delete(b.pendingRule, userID)
	}
}

func (b *Bot) inDeleteMode(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deleteMode[userID]
}

func (b *Bot) setDeleteMode(userID int64, on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if on {
		b.deleteMode[userID] = true
	} else {
		delete(b.deleteMode, userID)
	}
}

// isGroupAdmin resolves the user's role in a group or supergroup. Private
// chats have no admins.
func (b *Bot) isGroupAdmin(chat *tgbotapi.Chat, userID int64) bool {
	if chat == nil || !(chat.IsGroup() || chat.IsSuperGroup()) {
		return false
	}
	member, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: chat.ID,
			UserID: userID,
		},
	})
	if err != nil {
		b.logger.Warn("Failed to resolve chat member",
			zap.Error(err),
			zap.Int64("chat_id", chat.ID),
			zap.Int64("user_id", userID))
		return false
	}
	return member.Status == models.MemberStatusAdministrator || member.Status == models.MemberStatusCreator
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.logger.Error("Failed to send message", zap.Error(err))
	}
}

func (b *Bot) reply(msg *tgbotapi.Message, text string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyToMessageID = msg.MessageID
	b.send(out)
}

func (b *Bot) replyHTML(msg *tgbotapi.Message, text string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyToMessageID = msg.MessageID
	out.ParseMode = tgbotapi.ModeHTML
	b.send(out)
}

func (b *Bot) editHTML(chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	b.send(edit)
}

func (b *Bot) editMenu(chatID int64, messageID int, text string, markup tgbotapi.InlineKeyboardMarkup) {
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, markup)
	edit.ParseMode = tgbotapi.ModeHTML
	b.send(edit)
}

func (b *Bot) deleteMessage(chatID int64, messageID int) {
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		b.logger.Warn("Failed to delete message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) answer(queryID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(queryID, text)); err != nil {
		b.logger.Warn("Failed to answer callback query", zap.Error(err))
	}
}

func (b *Bot) alert(queryID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallbackWithAlert(queryID, text)); err != nil {
		b.logger.Warn("Failed to answer callback query", zap.Error(err))
	}
}
