// Package extract applies the declarative rule table to a user utterance
// and produces deduplicated candidate facts. Extraction is rules-only:
// identical input and configuration always yield the same candidate set
// modulo generated ids and timestamps.
package extract

import (
	"time"

	"github.com/honey991127/char-knowledge/internal/memory"
	"github.com/honey991127/char-knowledge/internal/rules"
	"github.com/honey991127/char-knowledge/internal/textutil"
)

// Engine runs the rule table against utterances.
type Engine struct {
	table []rules.Rule
	cfg   rules.Config
	now   func() time.Time
}

// Option configures the engine.
type Option func(*Engine)

// WithRules replaces the default rule table.
func WithRules(table []rules.Rule) Option {
	return func(e *Engine) { e.table = table }
}

// WithNow pins the clock, for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an extraction engine over the default rule table.
func New(cfg rules.Config, opts ...Option) *Engine {
	if cfg.MinLen <= 0 {
		cfg.MinLen = rules.DefaultConfig().MinLen
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = rules.DefaultConfig().MaxLen
	}
	e := &Engine{
		table: rules.Default(),
		cfg:   cfg,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns candidate facts for the utterance. Empty or
// whitespace-only input yields nil. Every enabled rule runs against the
// full normalized text and contributes all of its matches; candidates
// sharing a merge key collapse to the first occurrence, in rule order
// then match order.
func (e *Engine) Extract(text string) []*memory.Fact {
	normalized := textutil.Norm(text)
	if normalized == "" {
		return nil
	}

	now := e.now().UTC()
	seen := make(map[string]bool)
	var out []*memory.Fact

	for i := range e.table {
		rule := &e.table[i]
		if !rule.Enabled(e.cfg) {
			continue
		}
		for _, match := range rule.Pattern.FindAllStringSubmatch(normalized, -1) {
			if rule.Capture >= len(match) {
				continue
			}
			payload := match[rule.Capture]
			if rule.Excluded(payload) {
				continue
			}
			clipped, ok := textutil.Clip(payload, e.cfg.MinLen, e.cfg.MaxLen)
			if !ok {
				continue
			}

			f := memory.NewFact(rule.Type, rule.Prefix+clipped, rule.Confidence, rule.Tags, now)
			if seen[f.Key()] {
				continue
			}
			seen[f.Key()] = true
			out = append(out, f)
		}
	}

	return out
}
