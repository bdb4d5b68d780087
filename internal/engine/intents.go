package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/honey991127/char-knowledge/internal/memory"
)

// Manual intents mirror the editor actions. Every write is owner-gated:
// a non-owner persona or a multi-party conversation performs no mutation
// and reports applied=false with a nil error.

// AddFact appends a manually entered fact. A duplicate merge key routes
// through merge instead of creating a second fact.
func (e *Engine) AddFact(ctx context.Context, cc ConversationContext, t memory.FactType, value string, confidence float64, tags []string, source string) (*memory.Fact, bool, error) {
	rec, err := e.record(ctx, cc)
	if err != nil {
		return nil, false, err
	}
	if !memory.IsOwner(rec, cc.PersonaID, cc.IsMultiParty) {
		return nil, false, nil
	}

	now := e.now().UTC()
	f := memory.NewFact(t, value, confidence, tags, now)
	f.Source = source
	stored := rec.Append(f, now)
	if err := e.flush(ctx, cc, rec); err != nil {
		return stored, true, err
	}
	return stored, true, nil
}

// UpdateFact applies a manual edit to a fact by id. An unknown id or an
// edit that would collide with another fact's key reports applied=false.
func (e *Engine) UpdateFact(ctx context.Context, cc ConversationContext, id string, patch memory.FactPatch) (*memory.Fact, bool, error) {
	rec, err := e.record(ctx, cc)
	if err != nil {
		return nil, false, err
	}
	if !memory.IsOwner(rec, cc.PersonaID, cc.IsMultiParty) {
		return nil, false, nil
	}

	f, ok := rec.Update(id, patch, e.now().UTC())
	if !ok {
		return nil, false, nil
	}
	if err := e.flush(ctx, cc, rec); err != nil {
		return f, true, err
	}
	return f, true, nil
}

// DeleteFact removes a fact by id. This is the only removal path in the
// automatic or manual flow.
func (e *Engine) DeleteFact(ctx context.Context, cc ConversationContext, id string) (bool, error) {
	rec, err := e.record(ctx, cc)
	if err != nil {
		return false, err
	}
	if !memory.IsOwner(rec, cc.PersonaID, cc.IsMultiParty) {
		return false, nil
	}

	if !rec.Remove(id, e.now().UTC()) {
		return false, nil
	}
	if err := e.flush(ctx, cc, rec); err != nil {
		return true, err
	}
	return true, nil
}

// ClearFacts drops every fact in the conversation.
func (e *Engine) ClearFacts(ctx context.Context, cc ConversationContext) (bool, error) {
	rec, err := e.record(ctx, cc)
	if err != nil {
		return false, err
	}
	if !memory.IsOwner(rec, cc.PersonaID, cc.IsMultiParty) {
		return false, nil
	}

	rec.Clear(e.now().UTC())
	if err := e.flush(ctx, cc, rec); err != nil {
		return true, err
	}
	return true, nil
}

// ListFacts returns the conversation's facts in store order. Reads are
// not owner-gated; the editor shows facts to non-owners read-only.
func (e *Engine) ListFacts(ctx context.Context, cc ConversationContext) ([]*memory.Fact, error) {
	rec, err := e.record(ctx, cc)
	if err != nil {
		return nil, err
	}
	out := make([]*memory.Fact, len(rec.Facts))
	copy(out, rec.Facts)
	return out, nil
}

// OwnerStatus describes the gate's view of the conversation, for the
// editor header.
type OwnerStatus struct {
	OwnerCharID string
	Locked      bool
	IsOwner     bool
}

// Owner reports the owner-lock state for the persona.
func (e *Engine) Owner(ctx context.Context, cc ConversationContext) (OwnerStatus, error) {
	rec, err := e.record(ctx, cc)
	if err != nil {
		return OwnerStatus{}, err
	}
	st := OwnerStatus{IsOwner: memory.IsOwner(rec, cc.PersonaID, cc.IsMultiParty)}
	if rec.OwnerCharID != nil {
		st.OwnerCharID = *rec.OwnerCharID
		st.Locked = true
	}
	return st, nil
}

// Export writes the conversation's record as JSON.
func (e *Engine) Export(ctx context.Context, cc ConversationContext, w io.Writer) error {
	rec, err := e.record(ctx, cc)
	if err != nil {
		return err
	}
	return rec.Export(w)
}

// Import replaces the conversation's facts from an exported payload.
// Malformed payloads are rejected with memory.ErrInvalidPayload and no
// mutation; the gate declining reports applied=false.
func (e *Engine) Import(ctx context.Context, cc ConversationContext, r io.Reader) (bool, error) {
	rec, err := e.record(ctx, cc)
	if err != nil {
		return false, err
	}
	if !memory.IsOwner(rec, cc.PersonaID, cc.IsMultiParty) {
		return false, nil
	}

	if err := rec.Import(r, e.now().UTC()); err != nil {
		return false, fmt.Errorf("importing memory: %w", err)
	}
	if err := e.flush(ctx, cc, rec); err != nil {
		return true, err
	}
	return true, nil
}

// Stats summarizes a conversation's store for observability surfaces.
type Stats struct {
	Facts    int
	Active   int
	Inactive int
	Owner    string
	Locked   bool
}

// StoreStats reports counts for the conversation.
func (e *Engine) StoreStats(ctx context.Context, cc ConversationContext) (Stats, error) {
	rec, err := e.record(ctx, cc)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Facts: len(rec.Facts)}
	for _, f := range rec.Facts {
		if f.Status == memory.StatusActive {
			st.Active++
		} else {
			st.Inactive++
		}
	}
	if rec.OwnerCharID != nil {
		st.Owner = *rec.OwnerCharID
		st.Locked = true
	}
	return st, nil
}
