package rules

import (
	"testing"

	"github.com/honey991127/char-knowledge/internal/memory"
)

func ruleByName(t *testing.T, name string) Rule {
	t.Helper()
	for _, r := range Default() {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no rule named %q", name)
	return Rule{}
}

func TestRulePayloads(t *testing.T) {
	tests := []struct {
		rule    string
		text    string
		payload string
	}{
		{"preference_like", "我很喜歡貓", "貓"},
		{"preference_like", "本人超愛黑咖啡", "黑咖啡"},
		{"preference_dislike", "我討厭下雨", "下雨"},
		{"preference_dislike", "我最不喜歡排隊", "排隊"},
		{"interest", "我最近在學日文", "日文"},
		{"interest", "我在追一部新番", "一部新番"},
		{"want", "我超想要一台相機", "一台相機"},
		{"goal_plan", "我打算明年搬家", "明年搬家"},
		{"habit", "我每天喝咖啡", "每天喝咖啡"},
		{"skill_role", "我的工作是護理師", "護理師"},
		{"relationship", "我的朋友叫小華", "朋友叫小華"},
		{"boundary", "請不要提到我的前任", "提到我的前任"},
		{"experience", "我以前住在台南", "住在台南"},
		{"identity_name", "你可以叫我小明", "小明"},
		{"identity_name", "叫我阿傑就好", "阿傑就好"},
	}
	for _, tt := range tests {
		t.Run(tt.rule+"/"+tt.text, func(t *testing.T) {
			r := ruleByName(t, tt.rule)
			m := r.Pattern.FindStringSubmatch(tt.text)
			if m == nil {
				t.Fatalf("rule %s did not match %q", tt.rule, tt.text)
			}
			if got := m[r.Capture]; got != tt.payload {
				t.Errorf("payload = %q, want %q", got, tt.payload)
			}
		})
	}
}

func TestRuleNonMatches(t *testing.T) {
	tests := []struct {
		rule string
		text string
	}{
		// 不愛 belongs to the dislike family, not like.
		{"preference_like", "我不愛下雨"},
		// No first-person marker.
		{"preference_like", "他很喜歡貓"},
		{"want", "我不想要了"},
		// 是 blocks the interest verb position.
		{"interest", "我是學生"},
	}
	for _, tt := range tests {
		t.Run(tt.rule+"/"+tt.text, func(t *testing.T) {
			r := ruleByName(t, tt.rule)
			if m := r.Pattern.FindStringSubmatch(tt.text); m != nil {
				t.Errorf("rule %s matched %q: %q", tt.rule, tt.text, m[0])
			}
		})
	}
}

func TestPayloadStopsAtClauseBreaks(t *testing.T) {
	r := ruleByName(t, "preference_like")
	m := r.Pattern.FindStringSubmatch("我很喜歡貓，但是我討厭下雨")
	if m == nil {
		t.Fatal("no match")
	}
	if m[r.Capture] != "貓" {
		t.Errorf("payload = %q, want %q (comma ends the span)", m[r.Capture], "貓")
	}
}

func TestGoalPlanSkipsWantPhrases(t *testing.T) {
	r := ruleByName(t, "goal_plan")
	if !r.Excluded("想要一台新電腦") {
		t.Error("goal_plan must defer want-looking payloads to the want family")
	}
	if r.Excluded("明年搬去台北") {
		t.Error("plain plan payloads must not be excluded")
	}
}

func TestExperienceFamilyIsOptIn(t *testing.T) {
	r := ruleByName(t, "experience")
	if r.Enabled(DefaultConfig()) {
		t.Error("experience rules must be disabled by default")
	}
	cfg := DefaultConfig()
	cfg.ExperienceRules = true
	if !r.Enabled(cfg) {
		t.Error("experience rules must enable via config")
	}
}

func TestTableMetadata(t *testing.T) {
	table := Default()
	if len(table) == 0 {
		t.Fatal("empty rule table")
	}
	seen := make(map[string]bool)
	for _, r := range table {
		if r.Name == "" || r.Pattern == nil || r.Prefix == "" {
			t.Errorf("rule %+v missing name, pattern, or prefix", r)
		}
		if seen[r.Name] {
			t.Errorf("duplicate rule name %q", r.Name)
		}
		seen[r.Name] = true
		if !memory.KnownType(r.Type) {
			t.Errorf("rule %s has unknown fact type %q", r.Name, r.Type)
		}
		if r.Confidence <= 0 || r.Confidence > 1 {
			t.Errorf("rule %s confidence %v out of (0,1]", r.Name, r.Confidence)
		}
		if r.Capture < 1 || r.Capture > r.Pattern.NumSubexp() {
			t.Errorf("rule %s capture index %d out of range", r.Name, r.Capture)
		}
	}
}
