// Package engine wires the pieces together: the access gate, extraction,
// merge, persistence, selection, and injection rendering. The host calls
// Observe when a user message arrives and BuildInjection before each
// generation; the manual intents mirror the editor actions (add, edit,
// delete, import, export).
//
// The engine assumes the host serializes events per conversation; it
// holds no locks of its own.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/honey991127/char-knowledge/internal/config"
	"github.com/honey991127/char-knowledge/internal/extract"
	"github.com/honey991127/char-knowledge/internal/inject"
	"github.com/honey991127/char-knowledge/internal/memory"
	"github.com/honey991127/char-knowledge/internal/rank"
	"github.com/honey991127/char-knowledge/internal/store"
)

// ConversationContext identifies who is talking where.
type ConversationContext struct {
	ConversationID string
	// PersonaID is the addressed persona; empty when unavailable.
	PersonaID string
	// IsMultiParty marks conversations with more than one persona.
	IsMultiParty bool
}

// Engine is the conversation memory engine.
type Engine struct {
	repo store.Repository
	cfg  config.Settings
	ex   *extract.Engine
	log  *zap.Logger
	now  func() time.Time

	// records caches the active record per conversation. The in-memory
	// record is the source of truth between flushes; a failed save must
	// not make the next call reload stale state.
	records map[string]*memory.Record
}

// Option configures the engine.
type Option func(*Engine)

// WithNow pins the clock, for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithExtractor replaces the default extraction engine.
func WithExtractor(ex *extract.Engine) Option {
	return func(e *Engine) { e.ex = ex }
}

// New creates an engine over the repository with the given settings.
func New(repo store.Repository, cfg config.Settings, log *zap.Logger, opts ...Option) *Engine {
	cfg.Clamp()
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		repo:    repo,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		records: make(map[string]*memory.Record),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.ex == nil {
		e.ex = extract.New(cfg.RuleConfig(), extract.WithNow(func() time.Time { return e.now() }))
	}
	return e
}

// Settings returns the engine's resolved settings.
func (e *Engine) Settings() config.Settings {
	return e.cfg
}

// record returns the cached record for the conversation, loading it
// lazily, and fires the owner-lock transition.
func (e *Engine) record(ctx context.Context, cc ConversationContext) (*memory.Record, error) {
	rec, ok := e.records[cc.ConversationID]
	if !ok {
		loaded, err := e.repo.Load(ctx, cc.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("loading conversation %s: %w", cc.ConversationID, err)
		}
		rec = loaded
		e.records[cc.ConversationID] = rec
	}
	if memory.EnsureOwner(rec, cc.PersonaID, cc.IsMultiParty) {
		e.log.Info("memory store locked to owner",
			zap.String("conversation", cc.ConversationID),
			zap.String("owner", cc.PersonaID))
	}
	return rec, nil
}

// flush persists the record. A flush failure is logged and returned for
// surfacing but the in-memory record keeps the mutation; it remains the
// source of truth until the next successful save.
func (e *Engine) flush(ctx context.Context, cc ConversationContext, rec *memory.Record) error {
	if err := e.repo.Save(ctx, cc.ConversationID, rec); err != nil {
		e.log.Warn("memory flush failed; in-memory state retained",
			zap.String("conversation", cc.ConversationID),
			zap.Error(err))
		return fmt.Errorf("flushing conversation %s: %w", cc.ConversationID, err)
	}
	return nil
}

// ObserveResult reports what an Observe call did. Applied false with a
// nil error means the gate declined the write; the store is untouched.
type ObserveResult struct {
	Applied    bool
	Extracted  int
	Added      int
	Reinforced int
	// FlushErr records a persistence failure. The in-memory merge stands.
	FlushErr error
}

// Observe is the write path for an incoming user utterance: gate check,
// extraction, merge, flush. Disabled settings, a non-owner persona, or a
// multi-party conversation make it a silent no-op.
func (e *Engine) Observe(ctx context.Context, cc ConversationContext, text string) (ObserveResult, error) {
	var res ObserveResult
	if !e.cfg.Enabled || !e.cfg.AutoExtract {
		return res, nil
	}

	rec, err := e.record(ctx, cc)
	if err != nil {
		return res, err
	}
	if !memory.IsOwner(rec, cc.PersonaID, cc.IsMultiParty) {
		return res, nil
	}

	candidates := e.ex.Extract(text)
	res.Applied = true
	res.Extracted = len(candidates)
	if len(candidates) == 0 {
		return res, nil
	}

	res.Added, res.Reinforced = rec.Merge(candidates, e.now().UTC())
	res.FlushErr = e.flush(ctx, cc, rec)
	return res, nil
}

// Injection is the advisory block handed to the host, plus the depth the
// host should inject it at.
type Injection struct {
	Text  string
	Depth int
	Facts []*memory.Fact
}

// BuildInjection is the read path: selects the relevant facts for the
// latest user utterance and renders the advisory block. It returns an
// empty injection when the feature is disabled, when a multi-party
// conversation has injection suppressed, or when the persona does not
// own the store. The multi-party display flag is independent of the
// owner lock: a group conversation never has an owner but may still be
// configured to show facts.
func (e *Engine) BuildInjection(ctx context.Context, cc ConversationContext, lastUserText string) (Injection, error) {
	if !e.cfg.Enabled {
		return Injection{}, nil
	}

	rec, err := e.record(ctx, cc)
	if err != nil {
		return Injection{}, err
	}

	if cc.IsMultiParty {
		if !e.cfg.InjectInGroups {
			return Injection{}, nil
		}
	} else if !memory.IsOwner(rec, cc.PersonaID, cc.IsMultiParty) {
		return Injection{}, nil
	}

	selected := rank.Select(rec, lastUserText, e.cfg.MaxItems, rank.Options{
		Relevance:    e.cfg.Relevance,
		RecencyBonus: e.cfg.RecencyBonus,
		Now:          e.now().UTC(),
	})
	return Injection{
		Text:  inject.Build(selected),
		Depth: e.cfg.Depth,
		Facts: selected,
	}, nil
}
