package voting

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jordanhubbard/quorum/internal/manager"
	"github.com/jordanhubbard/quorum/internal/providers"
)

type voteProvider struct {
	id      string
	outCost float64
	answer  string
	fail    error
	calls   atomic.Int64
}

func (v *voteProvider) ID() string { return v.id }
func (v *voteProvider) ListModels() []providers.ModelInfo {
	return []providers.ModelInfo{{
		ProviderID: v.id, ModelID: "m",
		OutputCostPerMTok: v.outCost, ProposerEligible: true,
	}}
}
func (v *voteProvider) HealthCheck(ctx context.Context) bool { return true }

func (v *voteProvider) Send(ctx context.Context, messages []providers.Message, modelID string, opts providers.SendOptions) (*providers.ModelResponse, error) {
	v.calls.Add(1)
	if v.fail != nil {
		return nil, v.fail
	}
	answer := v.answer
	for _, m := range messages {
		if m.Role == providers.RoleSystem && strings.Contains(m.Content, "judge") {
			answer = "judged: " + v.answer
		}
	}
	return &providers.ModelResponse{Content: answer}, nil
}

func (v *voteProvider) Stream(ctx context.Context, messages []providers.Message, modelID string, opts providers.SendOptions) (<-chan providers.StreamChunk, error) {
	ch := make(chan providers.StreamChunk, 1)
	ch <- providers.StreamChunk{IsFinal: true}
	close(ch)
	return ch, nil
}

func newVotingManager(t *testing.T, provs ...providers.Provider) *manager.Manager {
	t.Helper()
	mgr := manager.New()
	for _, p := range provs {
		if err := mgr.Register(p); err != nil {
			t.Fatal(err)
		}
	}
	return mgr
}

func TestVotingOneSurvivorSkipsJudge(t *testing.T) {
	authErr := providers.NewError(providers.KindProviderAuth, "bad key")
	survivor := &voteProvider{id: "c", outCost: 1, answer: "Answer."}
	mgr := newVotingManager(t,
		&voteProvider{id: "a", outCost: 75, fail: authErr},
		&voteProvider{id: "b", outCost: 10, fail: authErr},
		survivor,
	)

	agg, err := Run(context.Background(), mgr, "q", StrategyMajority)
	if err != nil {
		t.Fatal(err)
	}
	if agg.Decision != "Answer." {
		t.Errorf("decision = %q", agg.Decision)
	}
	if agg.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", agg.Confidence)
	}
	if agg.Strategy != StrategyMajority {
		t.Errorf("strategy = %q", agg.Strategy)
	}
	if agg.JudgeModel != "" {
		t.Error("single survivor must not invoke a judge")
	}
	if survivor.calls.Load() != 1 {
		t.Errorf("survivor calls = %d, want 1", survivor.calls.Load())
	}
}

func TestVotingZeroSurvivors(t *testing.T) {
	authErr := providers.NewError(providers.KindProviderAuth, "bad key")
	mgr := newVotingManager(t,
		&voteProvider{id: "a", outCost: 1, fail: authErr},
		&voteProvider{id: "b", outCost: 1, fail: authErr},
	)

	agg, err := Run(context.Background(), mgr, "q", StrategyWeighted)
	if err != nil {
		t.Fatal(err)
	}
	if agg.Confidence != 0 || agg.Decision != "" {
		t.Errorf("aggregation = %+v, want empty with confidence 0", agg)
	}
}

func TestVotingMajorityUsesStrongestJudge(t *testing.T) {
	strongest := &voteProvider{id: "a", outCost: 75, answer: "A"}
	mgr := newVotingManager(t,
		strongest,
		&voteProvider{id: "b", outCost: 10, answer: "B"},
		&voteProvider{id: "c", outCost: 1, answer: "C"},
	)

	agg, err := Run(context.Background(), mgr, "q", StrategyMajority)
	if err != nil {
		t.Fatal(err)
	}
	if agg.JudgeModel != "a:m" {
		t.Errorf("judge = %q, want a:m (highest output cost)", agg.JudgeModel)
	}
	if agg.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", agg.Confidence)
	}
	if !strings.HasPrefix(agg.Decision, "judged:") {
		t.Errorf("decision = %q, want a judged synthesis", agg.Decision)
	}
	if len(agg.Votes) != 3 {
		t.Errorf("votes = %d, want 3", len(agg.Votes))
	}
}

func TestVotingWeightedConfidence(t *testing.T) {
	mgr := newVotingManager(t,
		&voteProvider{id: "a", outCost: 75, answer: "A"},
		&voteProvider{id: "b", outCost: 10, answer: "B"},
	)
	agg, err := Run(context.Background(), mgr, "q", StrategyWeighted)
	if err != nil {
		t.Fatal(err)
	}
	if agg.Confidence != 0.85 {
		t.Errorf("confidence = %v, want 0.85", agg.Confidence)
	}
}

func TestVotingUnknownStrategy(t *testing.T) {
	mgr := newVotingManager(t, &voteProvider{id: "a", outCost: 1, answer: "A"})
	if _, err := Run(context.Background(), mgr, "q", "plurality"); providers.KindOf(err) != providers.KindConfig {
		t.Errorf("kind = %v, want KindConfig", providers.KindOf(err))
	}
}
