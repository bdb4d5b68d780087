package memory

import (
	"time"

	"github.com/honey991127/char-knowledge/internal/textutil"
)

// SchemaVersion tags the persisted record layout.
const SchemaVersion = 2

// Record is the per-conversation memory store: the owner lock plus the
// ordered fact list. Fact order is creation order and serves as the
// fallback recency ordering and ranking tie-break.
type Record struct {
	Version     int
	OwnerCharID *string
	Facts       []*Fact
	UpdatedAt   time.Time
}

// NewRecord returns an empty, unlocked record.
func NewRecord() *Record {
	return &Record{Version: SchemaVersion}
}

// Touch stamps the record's last-mutation time.
func (r *Record) Touch(now time.Time) {
	r.UpdatedAt = now
}

// FactByID returns the fact with the given id, or nil.
func (r *Record) FactByID(id string) *Fact {
	for _, f := range r.Facts {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// FactByKey returns the fact with the given merge key, or nil. Both
// active and inactive facts participate; the key is the sole identity.
func (r *Record) FactByKey(key string) *Fact {
	for _, f := range r.Facts {
		if f.Key() == key {
			return f
		}
	}
	return nil
}

// Merge reconciles extraction candidates into the record. For an existing
// key the fact is reinforced: lastSeenAt is refreshed, confidence keeps
// the maximum, tags are unioned. Value, id, and status are never touched
// by merge, so manual edits and deliberate deactivation survive
// re-extraction. Unknown keys append in arrival order. Merge never
// deletes; it returns how many candidates were appended vs reinforced.
func (r *Record) Merge(candidates []*Fact, now time.Time) (added, reinforced int) {
	for _, cand := range candidates {
		if cand == nil {
			continue
		}
		if existing := r.FactByKey(cand.Key()); existing != nil {
			existing.LastSeenAt = now
			if cand.Confidence > existing.Confidence {
				existing.Confidence = ClampConfidence(cand.Confidence)
			}
			existing.Tags = unionTags(existing.Tags, cand.Tags)
			reinforced++
			continue
		}
		r.Facts = append(r.Facts, cand)
		added++
	}
	if added > 0 || reinforced > 0 {
		r.Touch(now)
	}
	return added, reinforced
}

// Append adds a manually created fact. If the key already exists the fact
// is routed through Merge instead, keeping the no-duplicate-keys
// invariant. Returns the stored fact.
func (r *Record) Append(f *Fact, now time.Time) *Fact {
	if existing := r.FactByKey(f.Key()); existing != nil {
		r.Merge([]*Fact{f}, now)
		return existing
	}
	r.Facts = append(r.Facts, f)
	r.Touch(now)
	return f
}

// FactPatch describes a manual edit. Nil fields are left unchanged.
type FactPatch struct {
	Type       *FactType
	Value      *string
	Status     *Status
	Confidence *float64
	Tags       []string
	Source     *string
}

// Update applies a manual edit to the fact with the given id. The edit
// refreshes lastSeenAt. A value or type change that would collide with
// another fact's key is rejected so the key invariant holds; collapsing
// two facts is merge's job, not edit's.
func (r *Record) Update(id string, patch FactPatch, now time.Time) (*Fact, bool) {
	f := r.FactByID(id)
	if f == nil {
		return nil, false
	}

	newType := f.Type
	if patch.Type != nil && KnownType(*patch.Type) {
		newType = *patch.Type
	}
	newValue := f.Value
	if patch.Value != nil {
		newValue = textutil.Norm(*patch.Value)
	}
	if other := r.FactByKey(Key(newType, newValue)); other != nil && other.ID != id {
		return nil, false
	}

	f.Type = newType
	f.Value = newValue
	if patch.Status != nil {
		if *patch.Status == StatusInactive {
			f.Status = StatusInactive
		} else {
			f.Status = StatusActive
		}
	}
	if patch.Confidence != nil {
		f.Confidence = ClampConfidence(*patch.Confidence)
	}
	if patch.Tags != nil {
		f.Tags = dedupeTags(patch.Tags)
	}
	if patch.Source != nil {
		f.Source = textutil.Norm(*patch.Source)
	}
	f.LastSeenAt = now
	r.Touch(now)
	return f, true
}

// Remove deletes the fact with the given id. This is the only removal
// path; extraction and merge never shrink the fact list.
func (r *Record) Remove(id string, now time.Time) bool {
	for i, f := range r.Facts {
		if f.ID == id {
			r.Facts = append(r.Facts[:i], r.Facts[i+1:]...)
			r.Touch(now)
			return true
		}
	}
	return false
}

// Clear drops every fact.
func (r *Record) Clear(now time.Time) {
	r.Facts = nil
	r.Touch(now)
}

// ActiveFacts returns the facts eligible for selection: active status and
// a non-empty value, in store order.
func (r *Record) ActiveFacts() []*Fact {
	out := make([]*Fact, 0, len(r.Facts))
	for _, f := range r.Facts {
		if f.Status == StatusActive && textutil.Norm(f.Value) != "" {
			out = append(out, f)
		}
	}
	return out
}
