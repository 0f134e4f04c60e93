package rules

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// urlPattern extracts link candidates when the engine runs in URL-only mode.
var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// Engine applies an ordered rule set to message text.
type Engine struct {
	rules []*Rule
	log   *zap.Logger
}

// NewEngine compiles the enabled rules into an engine, preserving their
// declaration order. Rules that fail to compile are logged and left out;
// the remaining rules stay active.
func NewEngine(all []*Rule, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{log: log}
	for _, r := range all {
		if !r.Enabled {
			continue
		}
		if r.re == nil {
			if err := r.Compile(); err != nil {
				log.Warn("Skipping rule with invalid pattern",
					zap.String("rule", r.Key),
					zap.Error(err))
				continue
			}
		}
		e.rules = append(e.rules, r)
	}
	return e
}

// Len returns the number of active rules.
func (e *Engine) Len() int { return len(e.rules) }

// Apply rewrites text and reports whether any rule matched. Rules run in
// declaration order, each seeing the previous rule's output. In
// whole-message mode the full text is rewritten. Otherwise only URLs found
// in the text are rewritten, and the result is the rewritten URLs joined
// by newlines; URLs no rule matched are dropped from the result.
func (e *Engine) Apply(text string, wholeMessage bool) (string, bool) {
	if wholeMessage {
		return e.chain(text)
	}
	var out []string
	for _, u := range urlPattern.FindAllString(text, -1) {
		if rewritten, matched := e.chain(u); matched {
			out = append(out, rewritten)
		}
	}
	if len(out) == 0 {
		return "", false
	}
	return strings.Join(out, "\n"), true
}

func (e *Engine) chain(text string) (string, bool) {
	matched := false
	for _, r := range e.rules {
		res, ok, err := r.Rewrite(text)
		if err != nil {
			e.log.Warn("Skipping rule with invalid replacement",
				zap.String("rule", r.Key),
				zap.Error(err))
			continue
		}
		if ok {
			text = res
			matched = true
		}
	}
	return text, matched
}
