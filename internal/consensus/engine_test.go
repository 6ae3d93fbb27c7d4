package consensus

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jordanhubbard/quorum/internal/manager"
	"github.com/jordanhubbard/quorum/internal/providers"
)

// scriptedProvider answers by inspecting the prompt: proposals, challenges,
// and revisions are told apart by their system messages, matching how the
// phases build them.
type scriptedProvider struct {
	id             string
	models         []providers.ModelInfo
	challengeCalls atomic.Int64

	propose   string
	challenge func(round int64) string
	revise    string
}

func (s *scriptedProvider) ID() string                        { return s.id }
func (s *scriptedProvider) ListModels() []providers.ModelInfo { return s.models }
func (s *scriptedProvider) HealthCheck(ctx context.Context) bool {
	return true
}

func (s *scriptedProvider) Send(ctx context.Context, messages []providers.Message, modelID string, opts providers.SendOptions) (*providers.ModelResponse, error) {
	system := ""
	for _, m := range messages {
		if m.Role == providers.RoleSystem {
			system = m.Content
		}
	}
	var content string
	switch {
	case strings.Contains(system, "critical reviewer"):
		round := s.challengeCalls.Add(1)
		content = s.challenge(round)
	case strings.Contains(system, "panel's critique"):
		content = s.revise
	default:
		content = s.propose
	}
	return &providers.ModelResponse{
		Content: content,
		Usage:   providers.TokenUsage{InputTokens: 100, OutputTokens: 100},
	}, nil
}

func (s *scriptedProvider) Stream(ctx context.Context, messages []providers.Message, modelID string, opts providers.SendOptions) (<-chan providers.StreamChunk, error) {
	ch := make(chan providers.StreamChunk, 1)
	ch <- providers.StreamChunk{IsFinal: true}
	close(ch)
	return ch, nil
}

func newScripted(id, modelID string, challenge func(round int64) string) *scriptedProvider {
	return &scriptedProvider{
		id: id,
		models: []providers.ModelInfo{{
			ProviderID: id, ModelID: modelID,
			InputCostPerMTok: 1, OutputCostPerMTok: 1,
			ProposerEligible: true,
		}},
		propose:   "Use PostgreSQL for the workload.",
		challenge: challenge,
		revise:    "Revised: use PostgreSQL with managed failover.",
	}
}

func newPanelEngine(t *testing.T, cfg Config, provs ...providers.Provider) *Engine {
	t.Helper()
	mgr := manager.New()
	for _, p := range provs {
		if err := mgr.Register(p); err != nil {
			t.Fatal(err)
		}
	}
	return NewEngine(mgr, cfg)
}

func TestTwoRoundConvergence(t *testing.T) {
	stabilizing := func(round int64) string {
		if round == 1 {
			return "PostgreSQL adds complexity"
		}
		return "PostgreSQL adds operational complexity"
	}
	cfg := DefaultConfig()
	cfg.MaxRounds = 3
	eng := newPanelEngine(t, cfg,
		newScripted("a", "m1", stabilizing),
		newScripted("b", "m2", stabilizing),
		newScripted("c", "m3", stabilizing),
	)

	res, err := eng.RunConsensus(context.Background(), "t1", "Which database should we use?")
	if err != nil {
		t.Fatal(err)
	}
	if res.Rounds != 2 {
		t.Errorf("rounds = %d, want 2 (converged before budget)", res.Rounds)
	}
	if !res.Session.Converged {
		t.Error("expected convergence")
	}
	if res.Session.State != StateComplete {
		t.Errorf("state = %v, want COMPLETE", res.Session.State)
	}
	if len(res.Session.RoundHistory) != 2 {
		t.Errorf("history = %d, want 2", len(res.Session.RoundHistory))
	}
}

func TestSycophancyFilteredFromDissent(t *testing.T) {
	genuine := "I disagree: the O(n^2) step will dominate."
	cfg := DefaultConfig()
	cfg.MaxRounds = 1
	eng := newPanelEngine(t, cfg,
		newScripted("a", "m1", func(int64) string { return "unused" }),
		newScripted("b", "m2", func(int64) string { return "Great answer! Nothing to add." }),
		newScripted("c", "m3", func(int64) string { return genuine }),
	)

	res, err := eng.RunConsensus(context.Background(), "t1", "Is the algorithm efficient?")
	if err != nil {
		t.Fatal(err)
	}
	if res.Rigor != 0.75 {
		t.Errorf("rigor = %v, want 0.75", res.Rigor)
	}
	if res.Confidence != 0.75 {
		t.Errorf("confidence = %v, want 0.75 (rigor below default cap)", res.Confidence)
	}
	if !strings.HasPrefix(res.Dissent, "[c:m3]: I disagree") {
		t.Errorf("dissent = %q", res.Dissent)
	}
	if strings.Contains(res.Dissent, "Great answer") {
		t.Error("sycophantic challenge leaked into dissent")
	}
}

func TestProposerRotatesAcrossRounds(t *testing.T) {
	divergent := func(int64) string { return "a fresh unrelated objection every time honestly" }
	alternating := func(round int64) string {
		if round%2 == 0 {
			return "alpha beta gamma delta"
		}
		return "epsilon zeta eta theta"
	}
	cfg := DefaultConfig()
	cfg.MaxRounds = 2
	eng := newPanelEngine(t, cfg,
		newScripted("a", "m1", divergent),
		newScripted("b", "m2", alternating),
		newScripted("c", "m3", alternating),
	)

	res, err := eng.RunConsensus(context.Background(), "t1", "q")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Session.RoundHistory) != 2 {
		t.Fatalf("history = %d, want 2", len(res.Session.RoundHistory))
	}
	if got := res.Session.RoundHistory[0].ProposalModel; got != "a:m1" {
		t.Errorf("round 1 proposer = %s, want a:m1", got)
	}
	if got := res.Session.RoundHistory[1].ProposalModel; got != "b:m2" {
		t.Errorf("round 2 proposer = %s, want b:m2", got)
	}
}

func TestStreamEventSequence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRounds = 1
	eng := newPanelEngine(t, cfg,
		newScripted("a", "m1", func(int64) string { return "objection one" }),
		newScripted("b", "m2", func(int64) string { return "objection two" }),
		newScripted("c", "m3", func(int64) string { return "objection three" }),
	)

	var got []string
	_, err := eng.StreamConsensus(context.Background(), "t1", "q", func(ev Event) {
		tag := ev.Type
		if ev.Phase != "" {
			tag += ":" + ev.Phase
		}
		got = append(got, tag)
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"phase_start:PROPOSE", "phase_complete:PROPOSE",
		"phase_start:CHALLENGE", "challenge", "challenge", "phase_complete:CHALLENGE",
		"phase_start:REVISE", "phase_complete:REVISE",
		"commit",
		"complete",
	}
	if len(got) != len(want) {
		t.Fatalf("events = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestInsufficientChallengers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRounds = 1
	eng := newPanelEngine(t, cfg,
		newScripted("a", "m1", func(int64) string { return "x" }),
		newScripted("b", "m2", func(int64) string { return "y" }),
	)

	var sawError bool
	_, err := eng.StreamConsensus(context.Background(), "t1", "q", func(ev Event) {
		if ev.Type == "error" {
			sawError = true
		}
	})
	if providers.KindOf(err) != providers.KindInsufficientModels {
		t.Fatalf("kind = %v, want KindInsufficientModels", providers.KindOf(err))
	}
	if !sawError {
		t.Error("expected a terminal error event")
	}
}

func TestChallengerProviderDiversity(t *testing.T) {
	multi := &scriptedProvider{
		id: "a",
		models: []providers.ModelInfo{
			{ProviderID: "a", ModelID: "m1", OutputCostPerMTok: 1, ProposerEligible: true},
			{ProviderID: "a", ModelID: "m2", OutputCostPerMTok: 1, ProposerEligible: true},
			{ProviderID: "a", ModelID: "m3", OutputCostPerMTok: 1, ProposerEligible: true},
		},
		propose:   "p",
		challenge: func(int64) string { return "c" },
		revise:    "r",
	}
	other := newScripted("b", "m4", func(int64) string { return "c" })

	eng := newPanelEngine(t, DefaultConfig(), multi, other)
	challengers, err := eng.selectChallengers("a:m1")
	if err != nil {
		t.Fatal(err)
	}
	var refs []string
	for _, m := range challengers {
		refs = append(refs, m.Ref())
	}
	// One model per provider first, then the remainder.
	want := []string{"a:m2", "b:m4", "a:m3"}
	for i := range want {
		if refs[i] != want[i] {
			t.Fatalf("order = %v, want %v", refs, want)
		}
	}
}

func TestMiniConsensusCapsChallengers(t *testing.T) {
	genuine := func(int64) string { return "PostgreSQL adds operational complexity" }
	provs := []*scriptedProvider{
		newScripted("a", "m1", genuine),
		newScripted("b", "m2", genuine),
		newScripted("c", "m3", genuine),
		newScripted("d", "m4", genuine),
		newScripted("e", "m5", genuine),
	}
	var asProviders []providers.Provider
	for _, p := range provs {
		asProviders = append(asProviders, p)
	}
	eng := newPanelEngine(t, DefaultConfig(), asProviders...)

	if _, err := eng.MiniConsensus(context.Background(), "t-mini", "q"); err != nil {
		t.Fatal(err)
	}

	var challenges int64
	for _, p := range provs {
		challenges += p.challengeCalls.Load()
	}
	// A five-model panel still challenges with only two models per subtask.
	if challenges != 2 {
		t.Errorf("challenge calls = %d, want 2", challenges)
	}

	// The full protocol is unaffected: all four non-proposers challenge.
	full := newPanelEngine(t, DefaultConfig(), asProviders...)
	got, err := full.selectChallengers("a:m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Errorf("full-protocol challengers = %d, want 4", len(got))
	}
}

func TestPanelRestriction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Panel = []string{"a:m1", "c:m3", "b:m2"}
	eng := newPanelEngine(t, cfg,
		newScripted("a", "m1", func(int64) string { return "x" }),
		newScripted("b", "m2", func(int64) string { return "x" }),
		newScripted("c", "m3", func(int64) string { return "x" }),
	)
	panel, err := eng.panelModels()
	if err != nil {
		t.Fatal(err)
	}
	// Panel order is the configured order, not registry order.
	if panel[0].Ref() != "a:m1" || panel[1].Ref() != "c:m3" || panel[2].Ref() != "b:m2" {
		t.Errorf("panel = %v", panel)
	}

	cfg.Panel = []string{"a:m1", "z:none"}
	eng = newPanelEngine(t, cfg, newScripted("a", "m1", func(int64) string { return "x" }))
	if _, err := eng.panelModels(); providers.KindOf(err) != providers.KindModelNotFound {
		t.Errorf("kind = %v, want KindModelNotFound", providers.KindOf(err))
	}
}
