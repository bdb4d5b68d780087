// Package memory holds the per-conversation fact store: the Fact and
// Record types, the merge/upsert reconciliation, the owner-lock access
// gate, and the JSON codec used for persistence and import/export.
package memory

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/honey991127/char-knowledge/internal/textutil"
)

// FactType classifies what a fact says about the user.
type FactType string

const (
	TypePreferenceLike    FactType = "preference_like"
	TypePreferenceDislike FactType = "preference_dislike"
	TypeInterest          FactType = "interest"
	TypeWant              FactType = "want"
	TypeGoalPlan          FactType = "goal_plan"
	TypeHabit             FactType = "habit"
	TypeSkillRole         FactType = "skill_role"
	TypeRelationship      FactType = "relationship"
	TypeBoundary          FactType = "boundary"
	TypeExperience        FactType = "experience"
	TypeIdentityName      FactType = "identity_name"
	TypeOther             FactType = "other"
)

var knownTypes = map[FactType]bool{
	TypePreferenceLike:    true,
	TypePreferenceDislike: true,
	TypeInterest:          true,
	TypeWant:              true,
	TypeGoalPlan:          true,
	TypeHabit:             true,
	TypeSkillRole:         true,
	TypeRelationship:      true,
	TypeBoundary:          true,
	TypeExperience:        true,
	TypeIdentityName:      true,
	TypeOther:             true,
}

// KnownType reports whether t is part of the closed type enumeration.
func KnownType(t FactType) bool {
	return knownTypes[t]
}

// Status marks whether a fact participates in selection.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// DefaultConfidence is assigned when a confidence value is missing.
const DefaultConfidence = 0.5

// Fact is a single typed, confidence-scored statement about the user,
// scoped to one conversation.
type Fact struct {
	ID         string
	Type       FactType
	Value      string
	Status     Status
	Confidence float64
	Tags       []string
	Source     string
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// NewFact builds a fresh active fact with a generated id. Value is
// whitespace-normalized and confidence clamped to [0,1].
func NewFact(t FactType, value string, confidence float64, tags []string, now time.Time) *Fact {
	if !KnownType(t) {
		t = TypeOther
	}
	return &Fact{
		ID:         NewID(),
		Type:       t,
		Value:      textutil.Norm(value),
		Status:     StatusActive,
		Confidence: ClampConfidence(confidence),
		Tags:       dedupeTags(tags),
		CreatedAt:  now,
		LastSeenAt: now,
	}
}

// NewID returns an opaque fact identifier.
func NewID() string {
	return uuid.NewString()
}

// Key is the fact's merge identity: type plus the lowercased normalized
// value. No two facts in a record may share a key, regardless of status.
func (f *Fact) Key() string {
	return Key(f.Type, f.Value)
}

// Key computes the merge key for a (type, value) pair.
func Key(t FactType, value string) string {
	return string(t) + "::" + textutil.Fold(value)
}

// ClampConfidence forces c into [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// dedupeTags normalizes tags, drops empties, and collapses duplicates
// while keeping first-seen order.
func dedupeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = textutil.Norm(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// unionTags merges extra into base, collapsing duplicates.
func unionTags(base, extra []string) []string {
	return dedupeTags(append(append([]string(nil), base...), extra...))
}

// isoFormat is ISO-8601 UTC with millisecond precision, the format
// version-2 exported files carry.
const isoFormat = "2006-01-02T15:04:05.000Z"

// factJSON is the wire shape of a Fact. Timestamps travel as ISO-8601
// strings; pointers distinguish missing fields from zero values so import
// defaulting only fills what is genuinely absent.
type factJSON struct {
	ID         string   `json:"id"`
	Type       FactType `json:"type"`
	Value      string   `json:"value"`
	Status     Status   `json:"status"`
	Confidence *float64 `json:"confidence"`
	Tags       []string `json:"tags"`
	Source     string   `json:"source"`
	CreatedAt  string   `json:"createdAt"`
	LastSeenAt string   `json:"lastSeenAt"`
}

// MarshalJSON implements json.Marshaler.
func (f *Fact) MarshalJSON() ([]byte, error) {
	conf := f.Confidence
	tags := f.Tags
	if tags == nil {
		tags = []string{}
	}
	return json.Marshal(factJSON{
		ID:         f.ID,
		Type:       f.Type,
		Value:      f.Value,
		Status:     f.Status,
		Confidence: &conf,
		Tags:       tags,
		Source:     f.Source,
		CreatedAt:  f.CreatedAt.UTC().Format(isoFormat),
		LastSeenAt: f.LastSeenAt.UTC().Format(isoFormat),
	})
}

// UnmarshalJSON implements json.Unmarshaler. Malformed or missing fields
// are normalized later by Normalize rather than rejected here.
func (f *Fact) UnmarshalJSON(data []byte) error {
	var raw factJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.ID = raw.ID
	f.Type = raw.Type
	f.Value = raw.Value
	f.Status = raw.Status
	if raw.Confidence != nil {
		f.Confidence = *raw.Confidence
	} else {
		f.Confidence = DefaultConfidence
	}
	f.Tags = raw.Tags
	f.Source = raw.Source
	f.CreatedAt = parseTime(raw.CreatedAt)
	f.LastSeenAt = parseTime(raw.LastSeenAt)
	return nil
}

// parseTime accepts ISO-8601 / RFC 3339 strings; anything else yields the
// zero time, which Normalize replaces with "now".
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, isoFormat} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// Normalize applies the creation-time defaulting and clamping rules to a
// fact that arrived from outside (import payloads, manual edits): missing
// id generated, unknown type folded to "other", value normalized, missing
// status defaulted to active, confidence clamped, tags collapsed, zero
// timestamps set to now.
func (f *Fact) Normalize(now time.Time) {
	if f.ID == "" {
		f.ID = NewID()
	}
	if !KnownType(f.Type) {
		f.Type = TypeOther
	}
	f.Value = textutil.Norm(f.Value)
	if f.Status != StatusInactive {
		f.Status = StatusActive
	}
	f.Confidence = ClampConfidence(f.Confidence)
	f.Tags = dedupeTags(f.Tags)
	f.Source = textutil.Norm(f.Source)
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	if f.LastSeenAt.IsZero() {
		f.LastSeenAt = now
	}
}
