package bot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/rewritebot/internal/dedup"
	"github.com/xaenox/rewritebot/internal/delivery"
	"github.com/xaenox/rewritebot/internal/models"
	"github.com/xaenox/rewritebot/internal/settings"
	"github.com/xaenox/rewritebot/internal/storage"
	"github.com/xaenox/rewritebot/pkg/config"
)

const botUserID int64 = 999

// fakeAPI records outbound traffic instead of calling Telegram.
type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	sendErr  error
	member   tgbotapi.ChatMember
	updates  chan tgbotapi.Update
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updates: make(chan tgbotapi.Update, 16)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetChatMember(tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.member, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {}

func (f *fakeAPI) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeAPI) sentMessage(t *testing.T, i int) tgbotapi.MessageConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Greater(t, len(f.sent), i, "expected at least %d sent messages", i+1)
	msg, ok := f.sent[i].(tgbotapi.MessageConfig)
	require.True(t, ok, "sent item %d is %T, not a message", i, f.sent[i])
	return msg
}

func (f *fakeAPI) sentEdit(t *testing.T, i int) tgbotapi.EditMessageTextConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Greater(t, len(f.sent), i)
	edit, ok := f.sent[i].(tgbotapi.EditMessageTextConfig)
	require.True(t, ok, "sent item %d is %T, not an edit", i, f.sent[i])
	return edit
}

// answers returns the texts of all answered callback queries.
func (f *fakeAPI) answers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.requests {
		if cb, ok := r.(tgbotapi.CallbackConfig); ok {
			out = append(out, cb.Text)
		}
	}
	return out
}

func (f *fakeAPI) deletions() []tgbotapi.DeleteMessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.DeleteMessageConfig
	for _, r := range f.requests {
		if del, ok := r.(tgbotapi.DeleteMessageConfig); ok {
			out = append(out, del)
		}
	}
	return out
}

const testConfig = `[bot]
process_whole_message = true
cooldown_seconds = 0

[substitutions]
twitter = s@twitter\.com@fxtwitter.com@i
`

func newTestBot(t *testing.T, exampleCfg string) (*Bot, *fakeAPI) {
	t.Helper()
	dir := t.TempDir()
	example := filepath.Join(dir, "autoregexbot.cfg.example")
	local := filepath.Join(dir, "autoregexbot.cfg")
	require.NoError(t, os.WriteFile(example, []byte(exampleCfg), 0o644))

	st := settings.NewStore(example, local, zap.NewNop())
	require.NoError(t, st.Load())

	api := newFakeAPI()
	cfg := &config.Config{
		Files: config.FilesConfig{Config: local, Example: example},
	}
	b := newBot(api, tgbotapi.User{ID: botUserID, UserName: "rewrite_bot"}, cfg,
		st, storage.NewMemoryStore(),
		dedup.NewGate(dedup.DefaultWindow, zap.NewNop()),
		delivery.NewRetrier(time.Millisecond, 1, zap.NewNop()),
		zap.NewNop())
	t.Cleanup(b.sched.Stop)
	return b, api
}

func privateChat() *tgbotapi.Chat {
	return &tgbotapi.Chat{ID: 7, Type: "private"}
}

func groupChat() *tgbotapi.Chat {
	return &tgbotapi.Chat{ID: -1001234, Type: "supergroup"}
}

func sender() *tgbotapi.User {
	return &tgbotapi.User{ID: 100, FirstName: "Ada"}
}

func textMsg(id int, chat *tgbotapi.Chat, from *tgbotapi.User, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: id,
		From:      from,
		Chat:      chat,
		Text:      text,
		Date:      int(time.Now().Unix()),
	}
}

func commandMsg(id int, chat *tgbotapi.Chat, from *tgbotapi.User, text string) *tgbotapi.Message {
	msg := textMsg(id, chat, from, text)
	msg.Entities = []tgbotapi.MessageEntity{
		{Type: "bot_command", Offset: 0, Length: len(strings.Fields(text)[0])},
	}
	return msg
}

func callbackQuery(data string, chat *tgbotapi.Chat, from *tgbotapi.User) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "cq-1",
		From:    from,
		Data:    data,
		Message: &tgbotapi.Message{MessageID: 55, Chat: chat},
	}
}

func TestRunDeliversRewritesAndStopsOnCancel(t *testing.T) {
	b, api := newTestBot(t, testConfig)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	api.updates <- tgbotapi.Update{
		Message: textMsg(1, privateChat(), sender(), "see twitter.com today"),
	}

	assert.Eventually(t, func() bool { return api.sentCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, api.sentMessage(t, 0).Text, "fxtwitter.com")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}

func TestRunReturnsRestartSentinel(t *testing.T) {
	b, _ := newTestBot(t, testConfig)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	b.triggerRestart()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrRestartRequested)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on restart request")
	}
}

func TestAnnounceRestart(t *testing.T) {
	b, api := newTestBot(t, testConfig)
	ctx := context.Background()
	require.NoError(t, b.store.SetState(ctx, storage.StateRestartChat, "42"))

	b.announceRestart(ctx)

	msg := api.sentMessage(t, 0)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Contains(t, msg.Text, "restarted successfully")

	_, err := b.store.GetState(ctx, storage.StateRestartChat)
	assert.ErrorIs(t, err, storage.ErrNotFound, "state key must be consumed")
}

func TestAnnounceRestartWithoutState(t *testing.T) {
	b, api := newTestBot(t, testConfig)
	b.announceRestart(context.Background())
	assert.Zero(t, api.sentCount())
}

func TestDeliverReminder(t *testing.T) {
	b, api := newTestBot(t, testConfig)
	r := &models.Reminder{
		ID:        3,
		ChatID:    privateChat().ID,
		UserID:    100,
		MessageID: 42,
		Reason:    "tea <3",
		Link:      "https://t.me/c/1234/5",
	}

	require.NoError(t, b.DeliverReminder(context.Background(), r, false))

	msg := api.sentMessage(t, 0)
	assert.Equal(t, 42, msg.ReplyToMessageID)
	assert.Contains(t, msg.Text, "<a href='tg://user?id=100'>Reminder</a>")
	assert.Contains(t, msg.Text, "tea &lt;3", "reason must be escaped")
	assert.Contains(t, msg.Text, "<a href='https://t.me/c/1234/5'>Original Message</a>")
	assert.NotContains(t, msg.Text, "Missed")
}

func TestDeliverReminderMissed(t *testing.T) {
	b, api := newTestBot(t, testConfig)
	r := &models.Reminder{ID: 4, ChatID: 7, UserID: 100, MessageID: 9, Reason: "standup"}

	require.NoError(t, b.DeliverReminder(context.Background(), r, true))

	msg := api.sentMessage(t, 0)
	assert.Contains(t, msg.Text, ">Missed Reminder</a> (Was scheduled for earlier): standup")
}
