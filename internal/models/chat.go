package models

// Telegram chat types as they appear in incoming updates.
const (
	ChatTypePrivate    = "private"
	ChatTypeGroup      = "group"
	ChatTypeSupergroup = "supergroup"
	ChatTypeChannel    = "channel"
)

// Chat member statuses relevant for permission checks.
const (
	MemberStatusCreator       = "creator"
	MemberStatusAdministrator = "administrator"
)
