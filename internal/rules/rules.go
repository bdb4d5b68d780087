// Package rules defines the declarative extraction rule table: one
// descriptor per rule family (pattern, fact type, base confidence, tags,
// payload capture) consumed by the generic matching loop in extract.
// Adding a locale or a rule family means adding table entries, not
// touching engine logic.
package rules

import (
	"regexp"
	"strings"

	"github.com/honey991127/char-knowledge/internal/memory"
)

// Config carries the extraction knobs a rule may consult.
type Config struct {
	// MinLen and MaxLen bound the clipped payload length in runes.
	MinLen int
	MaxLen int
	// ExperienceRules opts in the past-experience rule family.
	ExperienceRules bool
}

// DefaultConfig returns the extraction defaults.
func DefaultConfig() Config {
	return Config{MinLen: 1, MaxLen: 60}
}

// Rule is a single declarative extraction rule. Pattern runs against the
// normalized utterance; Capture picks the payload group; the fact value
// is Prefix plus the clipped payload.
type Rule struct {
	Name       string
	Pattern    *regexp.Regexp
	Type       memory.FactType
	Confidence float64
	Tags       []string
	Capture    int
	Prefix     string

	// EnabledIf, when set, gates the rule on configuration.
	EnabledIf func(Config) bool
	// ExcludeIf, when set, rejects payloads already owned by an earlier,
	// more specific family. Substring heuristic, not a guarantee.
	ExcludeIf func(payload string) bool
}

// Enabled reports whether the rule applies under cfg.
func (r *Rule) Enabled(cfg Config) bool {
	return r.EnabledIf == nil || r.EnabledIf(cfg)
}

// Excluded reports whether the payload should be skipped.
func (r *Rule) Excluded(payload string) bool {
	return r.ExcludeIf != nil && r.ExcludeIf(payload)
}

// payload is the span a rule captures: runs to the next sentence break or
// comma. Clause-final particles keep captured objects short, which is what
// keeps the like/dislike example pair separable.
const payload = `([^。！？，,\n]{1,80})`

// wantMarkers are the spans the want family owns; the goal_plan family
// skips payloads containing them.
var wantMarkers = []string{"想要", "想買", "想入手", "想得到", "想收到"}

func looksLikeWant(payload string) bool {
	for _, marker := range wantMarkers {
		if strings.Contains(payload, marker) {
			return true
		}
	}
	return false
}

// Default returns the rule table in presentation order. Order is the
// tie-break for presentation only; fact identity is always the merge key.
func Default() []Rule {
	return []Rule{
		{
			Name:       "preference_like",
			Pattern:    regexp.MustCompile(`(我|俺|本人)\s*(很|超|非常|最)?\s*(喜歡|喜愛|愛|偏好)\s*` + payload),
			Type:       memory.TypePreferenceLike,
			Confidence: 0.75,
			Tags:       []string{"preference"},
			Capture:    4,
			Prefix:     "使用者喜歡：",
		},
		{
			Name:       "preference_dislike",
			Pattern:    regexp.MustCompile(`(我|俺|本人)\s*(很|超|非常|最)?\s*(不喜歡|討厭|不愛|雷)\s*` + payload),
			Type:       memory.TypePreferenceDislike,
			Confidence: 0.75,
			Tags:       []string{"boundary"},
			Capture:    4,
			Prefix:     "使用者不喜歡：",
		},
		{
			Name:       "interest",
			Pattern:    regexp.MustCompile(`(我|俺|本人)\s*(最近在|在|對)?\s*(學|研究|玩|看|追|有興趣)\s*` + payload),
			Type:       memory.TypeInterest,
			Confidence: 0.65,
			Tags:       []string{"interest"},
			Capture:    4,
			Prefix:     "使用者的興趣/在做：",
		},
		{
			Name:       "want",
			Pattern:    regexp.MustCompile(`(我|俺|本人)\s*(很|超|非常)?\s*(想要|想買|想入手|想得到|想收到)\s*` + payload),
			Type:       memory.TypeWant,
			Confidence: 0.7,
			Tags:       []string{"want"},
			Capture:    4,
			Prefix:     "使用者想要：",
		},
		{
			Name:       "goal_plan",
			Pattern:    regexp.MustCompile(`(我|俺|本人)\s*(最近)?\s*(打算|計畫|計劃|準備|目標是)\s*` + payload),
			Type:       memory.TypeGoalPlan,
			Confidence: 0.65,
			Tags:       []string{"goal"},
			Capture:    4,
			Prefix:     "使用者的目標/計畫：",
			ExcludeIf:  looksLikeWant,
		},
		{
			Name:       "habit",
			Pattern:    regexp.MustCompile(`(我|俺|本人)\s*((?:每天|每週|每周|習慣|常常|經常)\s*[^。！？，,\n]{1,80})`),
			Type:       memory.TypeHabit,
			Confidence: 0.6,
			Tags:       []string{"habit"},
			Capture:    2,
			Prefix:     "使用者的習慣：",
		},
		{
			Name:       "skill_role",
			Pattern:    regexp.MustCompile(`(我是|我的工作是|我的職業是|我擅長)\s*` + payload),
			Type:       memory.TypeSkillRole,
			Confidence: 0.65,
			Tags:       []string{"skill"},
			Capture:    2,
			Prefix:     "使用者的身分/擅長：",
		},
		{
			Name:       "relationship",
			Pattern:    regexp.MustCompile(`我的((?:家人|朋友|同事|伴侶|男友|女友|老婆|老公|媽媽|爸爸|哥哥|姊姊|弟弟|妹妹)[^。！？，,\n]{0,40})`),
			Type:       memory.TypeRelationship,
			Confidence: 0.6,
			Tags:       []string{"relationship"},
			Capture:    1,
			Prefix:     "使用者的人際關係：",
		},
		{
			Name:       "boundary",
			Pattern:    regexp.MustCompile(`(請不要|請勿|不要再|別再)\s*` + payload),
			Type:       memory.TypeBoundary,
			Confidence: 0.8,
			Tags:       []string{"boundary"},
			Capture:    2,
			Prefix:     "使用者的底線/請勿：",
		},
		{
			Name:       "experience",
			Pattern:    regexp.MustCompile(`(我曾經|我以前|我小時候)\s*` + payload),
			Type:       memory.TypeExperience,
			Confidence: 0.55,
			Tags:       []string{"experience"},
			Capture:    2,
			Prefix:     "使用者的經歷：",
			EnabledIf:  func(cfg Config) bool { return cfg.ExperienceRules },
		},
		{
			Name:       "identity_name",
			Pattern:    regexp.MustCompile(`(叫我|我叫|稱呼我|你可以叫我)\s*([^\s，。！？\n]{1,30})`),
			Type:       memory.TypeIdentityName,
			Confidence: 0.7,
			Tags:       []string{"identity"},
			Capture:    2,
			Prefix:     "使用者希望被稱呼為：",
		},
	}
}
