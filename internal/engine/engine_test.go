package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/honey991127/char-knowledge/internal/config"
	"github.com/honey991127/char-knowledge/internal/memory"
	"github.com/honey991127/char-knowledge/internal/store"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, cfg config.Settings) (*Engine, *store.MemoryRepository) {
	t.Helper()
	repo := store.NewMemory()
	e := New(repo, cfg, zap.NewNop(), WithNow(func() time.Time { return fixedNow }))
	return e, repo
}

func solo(conv string) ConversationContext {
	return ConversationContext{ConversationID: conv, PersonaID: "alice", IsMultiParty: false}
}

func TestObserveExtractsAndPersists(t *testing.T) {
	e, repo := newTestEngine(t, config.Default())
	ctx := context.Background()

	res, err := e.Observe(ctx, solo("c1"), "我很喜歡貓，但是我討厭下雨")
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if !res.Applied || res.Extracted != 2 || res.Added != 2 {
		t.Fatalf("res = %+v, want applied with 2 extracted and added", res)
	}
	if res.FlushErr != nil {
		t.Fatalf("FlushErr = %v", res.FlushErr)
	}
	if repo.Len() != 1 {
		t.Errorf("repo has %d conversations, want 1", repo.Len())
	}

	facts, err := e.ListFacts(ctx, solo("c1"))
	if err != nil {
		t.Fatalf("ListFacts: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("got %d facts, want 2", len(facts))
	}
	if facts[0].Value != "使用者喜歡：貓" || facts[1].Value != "使用者不喜歡：下雨" {
		t.Errorf("values = %q, %q", facts[0].Value, facts[1].Value)
	}
}

func TestObserveIdempotentAcrossCalls(t *testing.T) {
	e, _ := newTestEngine(t, config.Default())
	ctx := context.Background()
	text := "我很喜歡貓"

	for i := 0; i < 3; i++ {
		if _, err := e.Observe(ctx, solo("c1"), text); err != nil {
			t.Fatalf("Observe #%d: %v", i, err)
		}
	}

	facts, _ := e.ListFacts(ctx, solo("c1"))
	if len(facts) != 1 {
		t.Fatalf("got %d facts after repeated observe, want 1", len(facts))
	}
}

func TestObserveMultiPartyIsNoOp(t *testing.T) {
	e, repo := newTestEngine(t, config.Default())
	ctx := context.Background()
	cc := ConversationContext{ConversationID: "g1", PersonaID: "alice", IsMultiParty: true}

	res, err := e.Observe(ctx, cc, "我很喜歡貓")
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if res.Applied {
		t.Error("multi-party observe must not apply")
	}
	facts, _ := e.ListFacts(ctx, cc)
	if len(facts) != 0 {
		t.Errorf("facts length = %d, want unchanged 0", len(facts))
	}
	if repo.Len() != 0 {
		t.Error("no-op must not persist anything")
	}
}

func TestObserveNonOwnerIsNoOp(t *testing.T) {
	e, _ := newTestEngine(t, config.Default())
	ctx := context.Background()

	// alice locks the store, then bob tries to write.
	if _, err := e.Observe(ctx, solo("c1"), "我很喜歡貓"); err != nil {
		t.Fatal(err)
	}
	bob := ConversationContext{ConversationID: "c1", PersonaID: "bob"}
	res, err := e.Observe(ctx, bob, "我很喜歡狗")
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if res.Applied {
		t.Error("non-owner observe must not apply")
	}
	facts, _ := e.ListFacts(ctx, solo("c1"))
	if len(facts) != 1 {
		t.Errorf("got %d facts, want 1 (bob's write ignored)", len(facts))
	}
}

func TestObserveDistinguishesNoOpFromZeroFacts(t *testing.T) {
	e, _ := newTestEngine(t, config.Default())
	ctx := context.Background()

	// Owner writes, but the utterance has nothing to extract.
	res, err := e.Observe(ctx, solo("c1"), "今天天氣如何？")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Applied || res.Extracted != 0 {
		t.Errorf("res = %+v, want applied with zero extracted", res)
	}

	// Gate refusal looks different: not applied at all.
	group := ConversationContext{ConversationID: "c1", PersonaID: "alice", IsMultiParty: true}
	res, err = e.Observe(ctx, group, "今天天氣如何？")
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied {
		t.Errorf("res = %+v, want gate refusal (not applied)", res)
	}
}

func TestObserveDisabledSettings(t *testing.T) {
	for _, tc := range []struct {
		name string
		mut  func(*config.Settings)
	}{
		{"disabled", func(s *config.Settings) { s.Enabled = false }},
		{"auto_extract off", func(s *config.Settings) { s.AutoExtract = false }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mut(&cfg)
			e, repo := newTestEngine(t, cfg)

			res, err := e.Observe(context.Background(), solo("c1"), "我很喜歡貓")
			if err != nil {
				t.Fatal(err)
			}
			if res.Applied || repo.Len() != 0 {
				t.Errorf("res = %+v, repo = %d; want untouched", res, repo.Len())
			}
		})
	}
}

// failingRepo wraps a working repository but fails every Save.
type failingRepo struct {
	*store.MemoryRepository
	saveErr error
}

func (f *failingRepo) Save(context.Context, string, *memory.Record) error {
	return f.saveErr
}

func TestObserveSurvivesFlushFailure(t *testing.T) {
	repo := &failingRepo{MemoryRepository: store.NewMemory(), saveErr: errors.New("disk full")}
	e := New(repo, config.Default(), zap.NewNop(), WithNow(func() time.Time { return fixedNow }))
	ctx := context.Background()

	res, err := e.Observe(ctx, solo("c1"), "我很喜歡貓")
	if err != nil {
		t.Fatalf("Observe must not fail on flush errors: %v", err)
	}
	if !res.Applied || res.Added != 1 {
		t.Fatalf("res = %+v, want the merge applied", res)
	}
	if res.FlushErr == nil || !errors.Is(res.FlushErr, repo.saveErr) {
		t.Fatalf("FlushErr = %v, want the save error surfaced", res.FlushErr)
	}

	// The in-memory record remains the source of truth.
	facts, err := e.ListFacts(ctx, solo("c1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(facts) != 1 {
		t.Errorf("got %d facts, want the merge retained in memory", len(facts))
	}
}

func TestBuildInjectionSelectsAndRenders(t *testing.T) {
	e, _ := newTestEngine(t, config.Default())
	ctx := context.Background()

	if _, err := e.Observe(ctx, solo("c1"), "我很喜歡貓"); err != nil {
		t.Fatal(err)
	}
	inj, err := e.BuildInjection(ctx, solo("c1"), "貓")
	if err != nil {
		t.Fatalf("BuildInjection: %v", err)
	}
	if !strings.Contains(inj.Text, "- 使用者喜歡：貓") {
		t.Errorf("injection missing fact bullet:\n%s", inj.Text)
	}
	if !strings.Contains(inj.Text, "{{char}}") {
		t.Error("injection must keep the persona placeholder literal")
	}
	if inj.Depth != 1 {
		t.Errorf("Depth = %d, want configured depth 1", inj.Depth)
	}
	if len(inj.Facts) != 1 {
		t.Errorf("got %d selected facts, want 1", len(inj.Facts))
	}
}

func TestBuildInjectionEmptyStoreHasPlaceholder(t *testing.T) {
	e, _ := newTestEngine(t, config.Default())
	inj, err := e.BuildInjection(context.Background(), solo("c1"), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(inj.Text, "（尚無）") {
		t.Errorf("empty store must render the placeholder line:\n%s", inj.Text)
	}
}

func TestBuildInjectionSuppressedForNonOwner(t *testing.T) {
	e, _ := newTestEngine(t, config.Default())
	ctx := context.Background()
	if _, err := e.Observe(ctx, solo("c1"), "我很喜歡貓"); err != nil {
		t.Fatal(err)
	}

	bob := ConversationContext{ConversationID: "c1", PersonaID: "bob"}
	inj, err := e.BuildInjection(ctx, bob, "貓")
	if err != nil {
		t.Fatal(err)
	}
	if inj.Text != "" {
		t.Errorf("non-owner injection = %q, want empty", inj.Text)
	}
}

func TestBuildInjectionMultiPartyPolicy(t *testing.T) {
	ctx := context.Background()
	group := ConversationContext{ConversationID: "g1", PersonaID: "alice", IsMultiParty: true}

	// Default: suppressed entirely.
	e, _ := newTestEngine(t, config.Default())
	inj, err := e.BuildInjection(ctx, group, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if inj.Text != "" {
		t.Errorf("default multi-party injection = %q, want empty", inj.Text)
	}

	// Opted in: facts display even though a group never has an owner.
	cfg := config.Default()
	cfg.InjectInGroups = true
	e, _ = newTestEngine(t, cfg)
	inj, err = e.BuildInjection(ctx, group, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if inj.Text == "" {
		t.Error("opted-in multi-party injection must render")
	}
}

func TestBuildInjectionDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Enabled = false
	e, _ := newTestEngine(t, cfg)

	inj, err := e.BuildInjection(context.Background(), solo("c1"), "hi")
	if err != nil {
		t.Fatal(err)
	}
	if inj.Text != "" {
		t.Errorf("disabled injection = %q, want empty", inj.Text)
	}
}

func TestBuildInjectionBounded(t *testing.T) {
	cfg := config.Default()
	cfg.MaxItems = 2
	cfg.Relevance = false
	e, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	for _, text := range []string{"我喜歡貓", "我喜歡狗", "我喜歡鳥", "我喜歡魚", "我喜歡馬"} {
		if _, err := e.Observe(ctx, solo("c1"), text); err != nil {
			t.Fatal(err)
		}
	}
	inj, err := e.BuildInjection(ctx, solo("c1"), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(inj.Facts) != 2 {
		t.Fatalf("got %d facts, want 2", len(inj.Facts))
	}
	// Chronological tail, original relative order.
	if inj.Facts[0].Value != "使用者喜歡：魚" || inj.Facts[1].Value != "使用者喜歡：馬" {
		t.Errorf("tail = %q, %q", inj.Facts[0].Value, inj.Facts[1].Value)
	}
}

func TestOwnerLockPersistsAcrossEngineRestart(t *testing.T) {
	repo := store.NewMemory()
	ctx := context.Background()

	e := New(repo, config.Default(), zap.NewNop(), WithNow(func() time.Time { return fixedNow }))
	if _, err := e.Observe(ctx, solo("c1"), "我很喜歡貓"); err != nil {
		t.Fatal(err)
	}

	// Fresh engine over the same repository: bob still is not owner.
	e2 := New(repo, config.Default(), zap.NewNop(), WithNow(func() time.Time { return fixedNow }))
	st, err := e2.Owner(ctx, ConversationContext{ConversationID: "c1", PersonaID: "bob"})
	if err != nil {
		t.Fatal(err)
	}
	if !st.Locked || st.OwnerCharID != "alice" || st.IsOwner {
		t.Errorf("owner status = %+v, want locked to alice, bob not owner", st)
	}
}
