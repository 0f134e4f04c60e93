package reminder

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	durationToken = regexp.MustCompile(`(?i)(\d+)\s*([smhd])`)
	reasonParens  = regexp.MustCompile(`\((.*)\)`)
)

// ParseDuration sums duration tokens like "2h", "1d 30m" or "90s". Units
// are seconds, minutes, hours and days, in any case, with optional spaces
// before the unit. Text without tokens yields zero; unknown units are not
// errors, they are simply not tokens.
func ParseDuration(s string) time.Duration {
	var total time.Duration
	for _, m := range durationToken.FindAllStringSubmatch(s, -1) {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		switch strings.ToLower(m[2]) {
		case "s":
			total += time.Duration(n) * time.Second
		case "m":
			total += time.Duration(n) * time.Minute
		case "h":
			total += time.Duration(n) * time.Hour
		case "d":
			total += time.Duration(n) * 24 * time.Hour
		}
	}
	return total
}

// SplitReason pulls a parenthesised reason out of command arguments:
// "2h 30m (call mom)" yields "2h 30m" and "call mom". The reason spans
// the first opening to the last closing parenthesis.
func SplitReason(args string) (rest, reason string) {
	m := reasonParens.FindStringSubmatchIndex(args)
	if m == nil {
		return strings.TrimSpace(args), ""
	}
	reason = strings.TrimSpace(args[m[2]:m[3]])
	rest = strings.TrimSpace(args[:m[0]] + args[m[1]:])
	return rest, reason
}
