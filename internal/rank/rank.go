// Package rank scores active facts against the latest user utterance and
// returns the bounded subset the injection builder will render.
package rank

import (
	"sort"
	"time"

	"github.com/honey991127/char-knowledge/internal/memory"
	"github.com/honey991127/char-knowledge/internal/textutil"
)

// Scoring weights. Token overlap dominates, confidence breaks topical
// ties, and the optional recency bonus nudges recently reinforced facts.
const (
	overlapWeight    = 2.0
	confidenceWeight = 5.0
	recencyCapDays   = 10.0
)

// Options controls selection behavior.
type Options struct {
	// Relevance off means the chronological tail wins: the last MaxItems
	// facts in store order.
	Relevance bool
	// RecencyBonus adds max(0, 10 - ageDays) to relevance scores.
	RecencyBonus bool
	// Now anchors the recency computation; zero means time.Now.
	Now time.Time
}

// Select returns at most maxItems active, non-empty facts from the
// record. With relevance enabled, facts are ordered by descending score
// with store order as the stable tie-break; otherwise the most recently
// added facts are returned in their original relative order.
func Select(rec *memory.Record, queryText string, maxItems int, opts Options) []*memory.Fact {
	if maxItems <= 0 {
		return nil
	}
	facts := rec.ActiveFacts()

	if !opts.Relevance {
		if len(facts) > maxItems {
			facts = facts[len(facts)-maxItems:]
		}
		return facts
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	query := textutil.Tokenize(queryText)

	type scored struct {
		fact  *memory.Fact
		score float64
	}
	entries := make([]scored, len(facts))
	for i, f := range facts {
		s := overlapWeight*float64(textutil.Overlap(query, textutil.Tokenize(f.Value))) +
			confidenceWeight*f.Confidence
		if opts.RecencyBonus {
			s += recencyBonus(f.LastSeenAt, now)
		}
		entries[i] = scored{fact: f, score: s}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].score > entries[j].score
	})

	if len(entries) > maxItems {
		entries = entries[:maxItems]
	}
	out := make([]*memory.Fact, len(entries))
	for i, e := range entries {
		out[i] = e.fact
	}
	return out
}

// recencyBonus decreases linearly with the fact's age since lastSeenAt
// and bottoms out at zero after recencyCapDays days.
func recencyBonus(lastSeen, now time.Time) float64 {
	if lastSeen.IsZero() || lastSeen.After(now) {
		return recencyCapDays
	}
	ageDays := now.Sub(lastSeen).Hours() / 24
	if ageDays >= recencyCapDays {
		return 0
	}
	return recencyCapDays - ageDays
}
