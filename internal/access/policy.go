package access

import (
	"slices"
	"strings"

	"github.com/xaenox/rewritebot/internal/models"
)

// Policy modes.
const (
	PolicyOff       = "off"
	PolicyWhitelist = "whitelist"
	PolicyBlacklist = "blacklist"
)

// Policy decides which chats and users the bot reacts to. The zero value
// admits everything.
type Policy struct {
	Mode           string
	AllowChatTypes []string
	DenyChatTypes  []string
	WhitelistChats []int64
	WhitelistUsers []int64
	BlacklistChats []int64
	BlacklistUsers []int64
}

// Allowed applies the policy to one inbound event. Chat-type checks run
// first: when an allow list is present the chat type must appear on it,
// except that a supergroup passes an allow list naming "group". The deny
// list then rejects listed types. In whitelist mode the event is admitted
// when the chat or the user is listed; in blacklist mode it is rejected
// when either is listed. Any other mode admits.
func (p Policy) Allowed(chatType string, chatID, userID int64) bool {
	ct := strings.ToLower(chatType)
	if len(p.AllowChatTypes) > 0 && !slices.Contains(p.AllowChatTypes, ct) {
		if ct != models.ChatTypeSupergroup || !slices.Contains(p.AllowChatTypes, models.ChatTypeGroup) {
			return false
		}
	}
	if slices.Contains(p.DenyChatTypes, ct) {
		return false
	}
	switch p.Mode {
	case PolicyWhitelist:
		return slices.Contains(p.WhitelistChats, chatID) || slices.Contains(p.WhitelistUsers, userID)
	case PolicyBlacklist:
		return !slices.Contains(p.BlacklistChats, chatID) && !slices.Contains(p.BlacklistUsers, userID)
	}
	return true
}

// UserWhitelisted reports whether the user appears on the whitelist,
// regardless of mode. Used for privileged commands.
func (p Policy) UserWhitelisted(userID int64) bool {
	return slices.Contains(p.WhitelistUsers, userID)
}
