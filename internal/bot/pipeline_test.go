package bot

import (
	"context"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForSends(t *testing.T, api *fakeAPI, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return api.sentCount() >= n },
		time.Second, 5*time.Millisecond)
}

func assertNoSends(t *testing.T, api *fakeAPI) {
	t.Helper()
	assert.Never(t, func() bool { return api.sentCount() > 0 },
		150*time.Millisecond, 10*time.Millisecond)
}

func TestPipelineRewritesMatchingMessage(t *testing.T) {
	b, api := newTestBot(t, testConfig)

	b.handleText(context.Background(), textMsg(1, privateChat(), sender(), "read twitter.com now"))

	waitForSends(t, api, 1)
	msg := api.sentMessage(t, 0)
	assert.Equal(t, privateChat().ID, msg.ChatID)
	assert.Equal(t, 1, msg.ReplyToMessageID, "send_as_reply defaults to on")
	assert.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)
	assert.Contains(t, msg.Text, "read fxtwitter.com now")
	assert.Contains(t, msg.Text, "<a href='tg://user?id=100'>Ada</a>:", "mention_user defaults to on")

	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok, "delete button defaults to on")
	require.Len(t, markup.InlineKeyboard, 1)
	assert.Equal(t, "del:100", *markup.InlineKeyboard[0][0].CallbackData)
}

func TestPipelineIgnoresNonMatchingMessage(t *testing.T) {
	b, api := newTestBot(t, testConfig)

	b.handleText(context.Background(), textMsg(1, privateChat(), sender(), "nothing to see"))

	assertNoSends(t, api)
}

func TestPipelineIgnoresIdentityRewrite(t *testing.T) {
	// The rule matches but replaces the text with itself.
	b, api := newTestBot(t, `[bot]
process_whole_message = true

[substitutions]
noop = s@twitter\.com@twitter.com@
`)

	b.handleText(context.Background(), textMsg(1, privateChat(), sender(), "twitter.com"))

	assertNoSends(t, api)
}

func TestPipelineIgnoresOwnMessages(t *testing.T) {
	b, api := newTestBot(t, testConfig)
	self := &tgbotapi.User{ID: botUserID, FirstName: "Bot"}

	b.handleText(context.Background(), textMsg(1, privateChat(), self, "twitter.com"))

	assertNoSends(t, api)
}

func TestPipelineIgnoresDuplicateMessageID(t *testing.T) {
	b, api := newTestBot(t, testConfig)
	ctx := context.Background()

	b.handleText(ctx, textMsg(1, privateChat(), sender(), "twitter.com a"))
	b.handleText(ctx, textMsg(1, privateChat(), sender(), "twitter.com b"))

	waitForSends(t, api, 1)
	assert.Never(t, func() bool { return api.sentCount() > 1 },
		150*time.Millisecond, 10*time.Millisecond)
}

func TestPipelineIgnoresStaleMessage(t *testing.T) {
	b, api := newTestBot(t, testConfig)
	msg := textMsg(1, privateChat(), sender(), "twitter.com")
	msg.Date = int(time.Now().Add(-2 * time.Minute).Unix())

	b.handleText(context.Background(), msg)

	assertNoSends(t, api)
}

func TestPipelineCooldownSuppressesSecondMessage(t *testing.T) {
	b, api := newTestBot(t, `[bot]
process_whole_message = true
cooldown_seconds = 60

[substitutions]
twitter = s@twitter\.com@fxtwitter.com@i
`)
	ctx := context.Background()

	b.handleText(ctx, textMsg(1, privateChat(), sender(), "twitter.com one"))
	b.handleText(ctx, textMsg(2, privateChat(), sender(), "twitter.com two"))

	waitForSends(t, api, 1)
	assert.Never(t, func() bool { return api.sentCount() > 1 },
		150*time.Millisecond, 10*time.Millisecond)
}

func TestPipelineNoMatchDoesNotBurnCooldown(t *testing.T) {
	b, api := newTestBot(t, `[bot]
process_whole_message = true
cooldown_seconds = 60

[substitutions]
twitter = s@twitter\.com@fxtwitter.com@i
`)
	ctx := context.Background()

	b.handleText(ctx, textMsg(1, privateChat(), sender(), "no links here"))
	b.handleText(ctx, textMsg(2, privateChat(), sender(), "twitter.com"))

	waitForSends(t, api, 1)
	assert.Contains(t, api.sentMessage(t, 0).Text, "fxtwitter.com")
}

func TestPipelineAccessPolicyBlocks(t *testing.T) {
	whitelistCfg := `[bot]
process_whole_message = true

[access]
access_policy = whitelist
whitelist_users = 100

[substitutions]
twitter = s@twitter\.com@fxtwitter.com@i
`
	b, api := newTestBot(t, whitelistCfg)
	ctx := context.Background()

	stranger := &tgbotapi.User{ID: 555, FirstName: "Sam"}
	b.handleText(ctx, textMsg(1, privateChat(), stranger, "twitter.com"))
	assertNoSends(t, api)

	b.handleText(ctx, textMsg(2, privateChat(), sender(), "twitter.com"))
	waitForSends(t, api, 1)
}

func TestPipelineURLOnlyMode(t *testing.T) {
	b, api := newTestBot(t, `[substitutions]
twitter = s@twitter\.com@fxtwitter.com@i
`)

	b.handleText(context.Background(),
		textMsg(1, privateChat(), sender(), "look https://twitter.com/x/1 and https://example.org/y"))

	waitForSends(t, api, 1)
	msg := api.sentMessage(t, 0)
	assert.Contains(t, msg.Text, "https://fxtwitter.com/x/1")
	assert.NotContains(t, msg.Text, "example.org", "unmatched URLs are dropped")
	assert.NotContains(t, msg.Text, "look", "url mode keeps only the links")
}

func TestPipelineURLOnlyModeNoURLs(t *testing.T) {
	b, api := newTestBot(t, `[substitutions]
plain = s@look@see@
`)

	b.handleText(context.Background(), textMsg(1, privateChat(), sender(), "look around"))

	assertNoSends(t, api)
}

func TestRuleInputFlow(t *testing.T) {
	b, api := newTestBot(t, testConfig)
	ctx := context.Background()
	user := sender()

	b.setAwaitingRule(user.ID, true)

	b.handleText(ctx, textMsg(1, privateChat(), user, "mastodon = s@mastodon\\.social@mas.to@i"))

	waitForSends(t, api, 1)
	assert.Contains(t, api.sentMessage(t, 0).Text, "✅ Rule <code>mastodon</code> added/updated.")
	assert.False(t, b.awaitingRule(user.ID), "pending flag clears on success")

	snap := b.settings.Current()
	assert.True(t, ruleEnabled(snap, "mastodon"))
	out, matched := snap.Engine.Apply("https://mastodon.social/@x", false)
	assert.True(t, matched)
	assert.Equal(t, "https://mas.to/@x", out)
}

func TestRuleInputRejectsBadFormat(t *testing.T) {
	b, api := newTestBot(t, testConfig)
	ctx := context.Background()
	user := sender()
	b.setAwaitingRule(user.ID, true)

	b.handleText(ctx, textMsg(1, privateChat(), user, "no equals sign here"))

	waitForSends(t, api, 1)
	assert.Contains(t, api.sentMessage(t, 0).Text, "❌ Invalid format")
	assert.True(t, b.awaitingRule(user.ID), "pending flag stays set so the user can retry")
}

func TestRuleInputRejectsBrokenPattern(t *testing.T) {
	b, api := newTestBot(t, testConfig)
	user := sender()
	b.setAwaitingRule(user.ID, true)

	b.handleText(context.Background(), textMsg(1, privateChat(), user, "bad = s@[unclosed@x@"))

	waitForSends(t, api, 1)
	assert.Contains(t, api.sentMessage(t, 0).Text, "❌ Error:")
	assert.True(t, b.awaitingRule(user.ID))
}
