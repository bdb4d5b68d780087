// Package config resolves runtime settings from defaults, an optional
// YAML file, and environment variables, in that precedence order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/honey991127/char-knowledge/internal/rules"
)

// Settings holds every knob the engine consults.
type Settings struct {
	// Enabled gates the whole feature: no extraction, no injection.
	Enabled bool `yaml:"enabled"`
	// AutoExtract gates the automatic write path; manual edits still work.
	AutoExtract bool `yaml:"auto_extract"`
	// MaxItems bounds the injected fact list.
	MaxItems int `yaml:"max_items"`
	// Relevance switches scoring on; off means chronological tail.
	Relevance bool `yaml:"relevance"`
	// RecencyBonus adds the age-based term to relevance scores.
	RecencyBonus bool `yaml:"recency_bonus"`
	// InjectInGroups permits injection in multi-party conversations.
	// Extraction stays off there regardless; this flag only affects reads.
	InjectInGroups bool `yaml:"inject_in_groups"`
	// Depth is the context depth the host injects at.
	Depth int `yaml:"depth"`
	// MinLen and MaxLen bound fact values at creation time, in runes.
	MinLen int `yaml:"min_len"`
	MaxLen int `yaml:"max_len"`
	// ExperienceRules opts in the past-experience extraction family.
	ExperienceRules bool `yaml:"experience_rules"`
	// DBPath locates the SQLite store.
	DBPath string `yaml:"db_path"`
}

// Default returns the shipped defaults.
func Default() Settings {
	return Settings{
		Enabled:        true,
		AutoExtract:    true,
		MaxItems:       12,
		Relevance:      true,
		RecencyBonus:   true,
		InjectInGroups: false,
		Depth:          1,
		MinLen:         1,
		MaxLen:         60,
	}
}

// DefaultConfigPath is where Load looks when no path is given.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".charknowledge", "config.yaml")
}

// RuleConfig projects the settings the rule table consults.
func (s Settings) RuleConfig() rules.Config {
	return rules.Config{
		MinLen:          s.MinLen,
		MaxLen:          s.MaxLen,
		ExperienceRules: s.ExperienceRules,
	}
}

// Load resolves settings: defaults, then the YAML file at path (or the
// default location; a missing file is not an error), then CHARKNOWLEDGE_*
// environment variables. The result is clamped to valid ranges.
func Load(path string) (Settings, error) {
	s := Default()

	if strings.TrimSpace(path) == "" {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// defaults stand
	case err != nil:
		return s, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnv(&s)
	s.Clamp()
	return s, nil
}

// applyEnv overrides settings from CHARKNOWLEDGE_* variables.
func applyEnv(s *Settings) {
	envBool("CHARKNOWLEDGE_ENABLED", &s.Enabled)
	envBool("CHARKNOWLEDGE_AUTO_EXTRACT", &s.AutoExtract)
	envInt("CHARKNOWLEDGE_MAX_ITEMS", &s.MaxItems)
	envBool("CHARKNOWLEDGE_RELEVANCE", &s.Relevance)
	envBool("CHARKNOWLEDGE_RECENCY_BONUS", &s.RecencyBonus)
	envBool("CHARKNOWLEDGE_INJECT_IN_GROUPS", &s.InjectInGroups)
	envInt("CHARKNOWLEDGE_DEPTH", &s.Depth)
	envInt("CHARKNOWLEDGE_MIN_LEN", &s.MinLen)
	envInt("CHARKNOWLEDGE_MAX_LEN", &s.MaxLen)
	envBool("CHARKNOWLEDGE_EXPERIENCE_RULES", &s.ExperienceRules)
	if v := strings.TrimSpace(os.Getenv("CHARKNOWLEDGE_DB_PATH")); v != "" {
		s.DBPath = v
	}
}

func envBool(key string, dst *bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if parsed, err := strconv.ParseBool(v); err == nil {
		*dst = parsed
	}
}

func envInt(key string, dst *int) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if parsed, err := strconv.Atoi(v); err == nil {
		*dst = parsed
	}
}

// Clamp forces out-of-range values back into their valid ranges. Range
// violations are corrected silently, never rejected.
func (s *Settings) Clamp() {
	s.MaxItems = clamp(s.MaxItems, 1, 50)
	s.Depth = clamp(s.Depth, 0, 20)
	if s.MinLen < 1 {
		s.MinLen = 1
	}
	if s.MaxLen < s.MinLen {
		s.MaxLen = Default().MaxLen
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
