package settings

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/ini.v1"

	"github.com/xaenox/rewritebot/internal/access"
	"github.com/xaenox/rewritebot/internal/rules"
)

// Config file sections.
const (
	sectionBot    = "bot"
	sectionAccess = "access"
	sectionSubs   = "substitutions"
)

// Delete button permission values.
const (
	DeleteAllowedSender        = "sender"
	DeleteAllowedAdmin         = "admin"
	DeleteAllowedSenderOrAdmin = "sender_or_admin"
)

// Behavior holds the toggles and tunables from the [bot] section.
type Behavior struct {
	SendAsReply         bool
	MentionUser         bool
	EnableDeleteButton  bool
	DeleteAllowed       string
	CooldownSeconds     float64
	ProcessWholeMessage bool
	RemindIncludeLink   bool
	DisabledRules       []string
}

// Cooldown returns the per-user cooldown as a duration.
func (b Behavior) Cooldown() time.Duration {
	return time.Duration(b.CooldownSeconds * float64(time.Second))
}

func defaultBehavior() Behavior {
	return Behavior{
		SendAsReply:        true,
		MentionUser:        true,
		EnableDeleteButton: true,
		DeleteAllowed:      DeleteAllowedSenderOrAdmin,
		CooldownSeconds:    2.0,
		RemindIncludeLink:  true,
	}
}

// Snapshot is one immutable view of the configuration. Readers take the
// whole snapshot at once so a concurrent reload cannot mix old and new
// values within a single message.
type Snapshot struct {
	Behavior Behavior
	Access   access.Policy
	Rules    []*rules.Rule
	Engine   *rules.Engine
}

func buildSnapshot(doc *ini.File, log *zap.Logger) *Snapshot {
	bot := doc.Section(sectionBot)

	b := defaultBehavior()
	b.SendAsReply = bot.Key("send_as_reply").MustBool(b.SendAsReply)
	b.MentionUser = bot.Key("mention_user").MustBool(b.MentionUser)
	b.EnableDeleteButton = bot.Key("enable_delete_button").MustBool(b.EnableDeleteButton)
	b.CooldownSeconds = bot.Key("cooldown_seconds").MustFloat64(b.CooldownSeconds)
	b.ProcessWholeMessage = bot.Key("process_whole_message").MustBool(b.ProcessWholeMessage)
	b.RemindIncludeLink = bot.Key("remind_include_link").MustBool(b.RemindIncludeLink)
	if v := strings.ToLower(strings.TrimSpace(bot.Key("delete_allowed").String())); v != "" {
		b.DeleteAllowed = v
	}
	b.DisabledRules = splitList(bot.Key("disabled_rules").String())

	acc := doc.Section(sectionAccess)

	pol := access.Policy{Mode: access.PolicyOff}
	if v := strings.ToLower(strings.TrimSpace(acc.Key("access_policy").String())); v != "" {
		pol.Mode = v
	}
	pol.AllowChatTypes = splitList(acc.Key("allow_chat_types").String())
	pol.DenyChatTypes = splitList(acc.Key("deny_chat_types").String())
	pol.WhitelistChats = splitIDList(acc.Key("whitelist_chats").String(), log, "whitelist_chats")
	pol.WhitelistUsers = splitIDList(acc.Key("whitelist_users").String(), log, "whitelist_users")
	pol.BlacklistChats = splitIDList(acc.Key("blacklist_chats").String(), log, "blacklist_chats")
	pol.BlacklistUsers = splitIDList(acc.Key("blacklist_users").String(), log, "blacklist_users")

	var rs []*rules.Rule
	for _, k := range doc.Section(sectionSubs).Keys() {
		raw := k.String()
		if !rules.IsRuleSpec(raw) {
			continue
		}
		r, err := rules.Parse(k.Name(), raw)
		if err != nil {
			log.Warn("Skipping unparsable rule",
				zap.String("rule", k.Name()),
				zap.Error(err))
			continue
		}
		r.Enabled = !slices.Contains(b.DisabledRules, strings.ToLower(k.Name()))
		rs = append(rs, r)
	}

	return &Snapshot{
		Behavior: b,
		Access:   pol,
		Rules:    rs,
		Engine:   rules.NewEngine(rs, log),
	}
}

// splitList parses a comma-separated value into trimmed lowercase items.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitIDList parses a comma-separated value into chat or user ids.
// Non-numeric entries are logged and dropped; negative ids (groups and
// supergroups) are valid.
func splitIDList(raw string, log *zap.Logger, key string) []int64 {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			log.Warn("Ignoring non-numeric id in list",
				zap.String("key", key),
				zap.String("value", p))
			continue
		}
		out = append(out, id)
	}
	return out
}
