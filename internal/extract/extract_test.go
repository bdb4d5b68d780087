package extract

import (
	"regexp"
	"testing"
	"time"

	"github.com/honey991127/char-knowledge/internal/memory"
	"github.com/honey991127/char-knowledge/internal/rules"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newEngine(cfg rules.Config, opts ...Option) *Engine {
	opts = append(opts, WithNow(func() time.Time { return fixedNow }))
	return New(cfg, opts...)
}

func TestExtractLikeAndDislikePair(t *testing.T) {
	e := newEngine(rules.DefaultConfig())
	facts := e.Extract("我很喜歡貓，但是我討厭下雨")

	if len(facts) != 2 {
		t.Fatalf("got %d facts, want 2: %+v", len(facts), facts)
	}

	like := facts[0]
	if like.Type != memory.TypePreferenceLike {
		t.Errorf("facts[0].Type = %q, want preference_like", like.Type)
	}
	if like.Value != "使用者喜歡：貓" {
		t.Errorf("facts[0].Value = %q, want 使用者喜歡：貓", like.Value)
	}
	if like.Confidence != 0.75 {
		t.Errorf("facts[0].Confidence = %v, want 0.75", like.Confidence)
	}

	dislike := facts[1]
	if dislike.Type != memory.TypePreferenceDislike {
		t.Errorf("facts[1].Type = %q, want preference_dislike", dislike.Type)
	}
	if dislike.Value != "使用者不喜歡：下雨" {
		t.Errorf("facts[1].Value = %q, want 使用者不喜歡：下雨", dislike.Value)
	}
	if dislike.Confidence != 0.75 {
		t.Errorf("facts[1].Confidence = %v, want 0.75", dislike.Confidence)
	}
}

func TestExtractEmptyInput(t *testing.T) {
	e := newEngine(rules.DefaultConfig())
	for _, in := range []string{"", "   ", "\n\t"} {
		if facts := e.Extract(in); facts != nil {
			t.Errorf("Extract(%q) = %d facts, want none", in, len(facts))
		}
	}
}

func TestExtractNoRuleMatches(t *testing.T) {
	e := newEngine(rules.DefaultConfig())
	if facts := e.Extract("今天天氣如何？"); len(facts) != 0 {
		t.Errorf("got %d facts for a neutral utterance, want 0", len(facts))
	}
}

func TestExtractMultipleMatchesSameRule(t *testing.T) {
	e := newEngine(rules.DefaultConfig())
	facts := e.Extract("我喜歡貓。我喜歡狗")

	if len(facts) != 2 {
		t.Fatalf("got %d facts, want 2 (one rule, many matches)", len(facts))
	}
	if facts[0].Value != "使用者喜歡：貓" || facts[1].Value != "使用者喜歡：狗" {
		t.Errorf("values = %q, %q", facts[0].Value, facts[1].Value)
	}
}

func TestExtractDeduplicatesWithinCall(t *testing.T) {
	e := newEngine(rules.DefaultConfig())
	facts := e.Extract("我喜歡貓。我喜歡貓！我超喜歡貓")

	if len(facts) != 1 {
		t.Fatalf("got %d facts, want duplicates collapsed to 1", len(facts))
	}
}

func TestExtractDeterministic(t *testing.T) {
	e := newEngine(rules.DefaultConfig())
	text := "叫我小明。我很喜歡貓，我想要一台相機"

	a := e.Extract(text)
	b := e.Extract(text)

	if len(a) != len(b) {
		t.Fatalf("runs disagree: %d vs %d facts", len(a), len(b))
	}
	for i := range a {
		if a[i].Type != b[i].Type || a[i].Value != b[i].Value || a[i].Confidence != b[i].Confidence {
			t.Errorf("fact %d differs across runs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestExtractCandidateDefaults(t *testing.T) {
	e := newEngine(rules.DefaultConfig())
	facts := e.Extract("我很喜歡貓")

	if len(facts) != 1 {
		t.Fatalf("got %d facts, want 1", len(facts))
	}
	f := facts[0]
	if f.ID == "" {
		t.Error("candidate must get a generated id")
	}
	if f.Status != memory.StatusActive {
		t.Errorf("Status = %q, want active", f.Status)
	}
	if !f.CreatedAt.Equal(fixedNow) || !f.LastSeenAt.Equal(fixedNow) {
		t.Errorf("timestamps = %v / %v, want both %v", f.CreatedAt, f.LastSeenAt, fixedNow)
	}
	if len(f.Tags) != 1 || f.Tags[0] != "preference" {
		t.Errorf("Tags = %v, want [preference]", f.Tags)
	}
}

func TestExtractClipTruncatesLongPayloads(t *testing.T) {
	cfg := rules.DefaultConfig()
	cfg.MaxLen = 4
	e := newEngine(cfg)

	facts := e.Extract("我很喜歡又大又圓的橘貓")
	if len(facts) != 1 {
		t.Fatalf("got %d facts, want 1", len(facts))
	}
	if facts[0].Value != "使用者喜歡：又大又圓…" {
		t.Errorf("Value = %q, want truncation marker after 4 runes", facts[0].Value)
	}
}

func TestExtractExperienceRequiresOptIn(t *testing.T) {
	text := "我以前住在台南"

	e := newEngine(rules.DefaultConfig())
	if facts := e.Extract(text); len(facts) != 0 {
		t.Fatalf("experience rule ran while disabled: %+v", facts)
	}

	cfg := rules.DefaultConfig()
	cfg.ExperienceRules = true
	e = newEngine(cfg)
	facts := e.Extract(text)
	if len(facts) != 1 || facts[0].Type != memory.TypeExperience {
		t.Fatalf("got %+v, want one experience fact", facts)
	}
	if facts[0].Value != "使用者的經歷：住在台南" {
		t.Errorf("Value = %q", facts[0].Value)
	}
}

func TestExtractGoalPlanDefersToWant(t *testing.T) {
	e := newEngine(rules.DefaultConfig())
	facts := e.Extract("我打算想買一台新電腦")

	for _, f := range facts {
		if f.Type == memory.TypeGoalPlan {
			t.Errorf("goal_plan claimed a want-looking span: %q", f.Value)
		}
	}
}

func TestExtractCustomRuleTable(t *testing.T) {
	table := []rules.Rule{{
		Name:       "english_like",
		Pattern:    regexp.MustCompile(`(?i)\bi (?:really )?like ([a-z0-9 ]{1,60})`),
		Type:       memory.TypePreferenceLike,
		Confidence: 0.75,
		Tags:       []string{"preference"},
		Capture:    1,
		Prefix:     "user likes: ",
	}}

	e := newEngine(rules.DefaultConfig(), WithRules(table))
	facts := e.Extract("I really like black coffee.")
	if len(facts) != 1 {
		t.Fatalf("got %d facts, want 1", len(facts))
	}
	if facts[0].Value != "user likes: black coffee" {
		t.Errorf("Value = %q", facts[0].Value)
	}
}
