package settings

// BoolSetting describes one toggle shown in the settings menu. Toggles
// are enumerated here so menu callbacks can only flip known keys.
type BoolSetting struct {
	Key   string
	Label string
	Get   func(Behavior) bool
}

// BoolSettings lists the menu toggles in display order.
func BoolSettings() []BoolSetting {
	return []BoolSetting{
		{Key: "send_as_reply", Label: "Reply to original", Get: func(b Behavior) bool { return b.SendAsReply }},
		{Key: "mention_user", Label: "Mention user", Get: func(b Behavior) bool { return b.MentionUser }},
		{Key: "process_whole_message", Label: "Process whole message", Get: func(b Behavior) bool { return b.ProcessWholeMessage }},
		{Key: "enable_delete_button", Label: "Delete button", Get: func(b Behavior) bool { return b.EnableDeleteButton }},
		{Key: "remind_include_link", Label: "Reminder links", Get: func(b Behavior) bool { return b.RemindIncludeLink }},
	}
}

// FindBoolSetting looks a toggle up by its config key.
func FindBoolSetting(key string) (BoolSetting, bool) {
	for _, s := range BoolSettings() {
		if s.Key == key {
			return s, true
		}
	}
	return BoolSetting{}, false
}
