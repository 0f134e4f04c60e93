package rules

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// A Rule rewrites text by regular-expression substitution. Rules are
// declared in config entries of the form
//
//	s<delim>pattern<delim>replacement<delim>flags
//
// where delim is any non-alphanumeric character (commonly @ or /) and
// flags is an optional combination of i (case-insensitive), m (multi-line)
// and s (dot matches newline). The replacement may reference capture
// groups as $1 or ${name}.
type Rule struct {
	Key         string
	Pattern     string
	Replacement string
	Flags       Flags
	Enabled     bool

	re *regexp.Regexp
}

// Flags mirror the inline regexp flags supported by rule declarations.
type Flags struct {
	CaseInsensitive bool
	Multiline       bool
	DotAll          bool
}

func (f Flags) expr() string {
	var b strings.Builder
	if f.CaseInsensitive {
		b.WriteByte('i')
	}
	if f.Multiline {
		b.WriteByte('m')
	}
	if f.DotAll {
		b.WriteByte('s')
	}
	if b.Len() == 0 {
		return ""
	}
	return "(?" + b.String() + ")"
}

// IsRuleSpec reports whether a config value declares a substitution rule.
// Values not starting with "s" are plain settings, not rules.
func IsRuleSpec(raw string) bool {
	return strings.HasPrefix(raw, "s")
}

// Parse parses a rule declaration. The key names the rule in logs and in
// the disabled_rules list. The returned rule is enabled and not yet
// compiled.
func Parse(key, raw string) (*Rule, error) {
	if !strings.HasPrefix(raw, "s") {
		return nil, fmt.Errorf("rule %q: not a substitution expression", key)
	}
	if len(raw) < 2 {
		return nil, fmt.Errorf("rule %q: missing delimiter", key)
	}
	delim, _ := utf8.DecodeRuneInString(raw[1:])
	if unicode.IsLetter(delim) || unicode.IsDigit(delim) {
		return nil, fmt.Errorf("rule %q: delimiter %q must not be alphanumeric", key, delim)
	}
	parts := strings.SplitN(raw, string(delim), 4)
	if len(parts) < 3 {
		return nil, fmt.Errorf("rule %q: incomplete expression %q", key, raw)
	}
	r := &Rule{Key: key, Pattern: parts[1], Replacement: parts[2], Enabled: true}
	if len(parts) == 4 {
		fl := strings.ToLower(parts[3])
		r.Flags.CaseInsensitive = strings.ContainsRune(fl, 'i')
		r.Flags.Multiline = strings.ContainsRune(fl, 'm')
		r.Flags.DotAll = strings.ContainsRune(fl, 's')
	}
	return r, nil
}

// Compile builds the matcher. A rule must compile before it can rewrite.
func (r *Rule) Compile() error {
	re, err := regexp.Compile(r.Flags.expr() + r.Pattern)
	if err != nil {
		return fmt.Errorf("rule %q: %w", r.Key, err)
	}
	r.re = re
	return nil
}

// Rewrite applies the rule once to text and reports whether the pattern
// matched. A replacement referencing capture groups the pattern does not
// define is rejected so a single bad rule cannot corrupt output.
func (r *Rule) Rewrite(text string) (string, bool, error) {
	if r.re == nil {
		return text, false, fmt.Errorf("rule %q: not compiled", r.Key)
	}
	if !r.re.MatchString(text) {
		return text, false, nil
	}
	if err := r.checkReplacement(); err != nil {
		return text, false, err
	}
	return r.re.ReplaceAllString(text, r.Replacement), true, nil
}

func (r *Rule) checkReplacement() error {
	tpl := r.Replacement
	for {
		i := strings.IndexByte(tpl, '$')
		if i < 0 || i == len(tpl)-1 {
			return nil
		}
		tpl = tpl[i+1:]
		if tpl[0] == '$' {
			tpl = tpl[1:]
			continue
		}
		name, rest, ok := groupRef(tpl)
		if !ok {
			// No group name follows; the $ is emitted literally.
			continue
		}
		tpl = rest
		if num, numeric := groupNumber(name); numeric {
			if num > r.re.NumSubexp() {
				return fmt.Errorf("rule %q: replacement references group %d, pattern defines %d", r.Key, num, r.re.NumSubexp())
			}
			continue
		}
		known := false
		for _, sn := range r.re.SubexpNames() {
			if sn == name {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("rule %q: replacement references unknown group %q", r.Key, name)
		}
	}
}

// groupRef extracts the capture-group reference at the start of s, using
// the same $name / ${name} recognition the regexp package applies when
// expanding replacement templates.
func groupRef(s string) (name, rest string, ok bool) {
	if s[0] == '{' {
		end := strings.IndexByte(s, '}')
		if end < 0 {
			return "", s, false
		}
		name = s[1:end]
		if name == "" || !wordChars(name) {
			return "", s, false
		}
		return name, s[end+1:], true
	}
	i := 0
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			break
		}
		i += size
	}
	if i == 0 {
		return "", s, false
	}
	return s[:i], s[i:], true
}

func wordChars(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}

// groupNumber reports whether name is a plain group index. Names with
// leading zeros are treated as named groups, matching regexp.Expand.
func groupNumber(name string) (int, bool) {
	if name[0] == '0' && len(name) > 1 {
		return 0, false
	}
	num := 0
	for i := 0; i < len(name); i++ {
		if name[i] < '0' || name[i] > '9' || num >= 1e8 {
			return 0, false
		}
		num = num*10 + int(name[i]-'0')
	}
	return num, true
}
