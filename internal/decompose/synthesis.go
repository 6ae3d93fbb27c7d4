package decompose

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jordanhubbard/quorum/internal/consensus"
	"github.com/jordanhubbard/quorum/internal/manager"
	"github.com/jordanhubbard/quorum/internal/providers"
)

// Synthesis strategies.
const (
	StrategyMerge      = "merge"
	StrategyPrioritize = "prioritize"
)

// SynthesisResult is the fused answer over all subtask outcomes.
type SynthesisResult struct {
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Rigor      float64 `json:"rigor"`
	Strategy   string  `json:"strategy"`
	ModelRef   string  `json:"model_ref"`
}

// Synthesize fuses completed subtask outcomes with the strongest registered
// model. Aggregate confidence and rigor are the arithmetic means over
// subtasks; the strategy name is returned verbatim.
func Synthesize(ctx context.Context, mgr *manager.Manager, question string, outcomes []consensus.SubtaskOutcome, strategy string) (*SynthesisResult, error) {
	if len(outcomes) == 0 {
		return nil, providers.NewError(providers.KindConsensus, "nothing to synthesize: no subtask outcomes")
	}
	model, ok := consensus.StrongestModel(mgr.ListAllModels())
	if !ok {
		return nil, providers.NewError(providers.KindInsufficientModels, "no model available for synthesis")
	}

	ordered := make([]consensus.SubtaskOutcome, len(outcomes))
	copy(ordered, outcomes)
	if strategy == StrategyPrioritize {
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Confidence > ordered[j].Confidence
		})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question:\n%s\n\nPartial answers:\n", question)
	for _, o := range ordered {
		fmt.Fprintf(&b, "\n[%s] (confidence %.2f):\n%s\n", o.Label, o.Confidence, o.Decision)
	}
	switch strategy {
	case StrategyPrioritize:
		b.WriteString("\nCompose a complete answer to the question, weighting higher-confidence partial answers more heavily.")
	case StrategyMerge:
		b.WriteString("\nCompose a complete answer to the question, integrating all partial answers with equal weight.")
	default:
		return nil, providers.NewError(providers.KindConfig, "unknown synthesis strategy %q", strategy)
	}
	b.WriteString(" Write the answer directly; do not mention the partial answers or how it was assembled.")

	resp, err := mgr.Send(ctx, model.Ref(), []providers.Message{
		{Role: providers.RoleUser, Content: b.String()},
	}, providers.SendOptions{})
	if err != nil {
		return nil, err
	}

	var confSum, rigorSum float64
	for _, o := range outcomes {
		confSum += o.Confidence
		rigorSum += o.Rigor
	}
	n := float64(len(outcomes))
	return &SynthesisResult{
		Decision:   resp.Content,
		Confidence: confSum / n,
		Rigor:      rigorSum / n,
		Strategy:   strategy,
		ModelRef:   model.Ref(),
	}, nil
}

// Run is the full decomposition pipeline: decompose, schedule, synthesize.
// A decomposition of fewer than two usable subtasks falls back to plain
// consensus.
func Run(ctx context.Context, eng *consensus.Engine, threadID, question string, maxSubtasks int, parallel bool, strategy string) (*SynthesisResult, error) {
	if strategy == "" {
		strategy = StrategyMerge
	}
	mgr := eng.Manager()

	specs, err := Decompose(ctx, mgr, question, maxSubtasks)
	if err != nil {
		return nil, err
	}
	if len(specs) < 2 {
		res, runErr := eng.RunConsensus(ctx, threadID, question)
		if runErr != nil {
			return nil, runErr
		}
		return &SynthesisResult{
			Decision:   res.Decision,
			Confidence: res.Confidence,
			Rigor:      res.Rigor,
			Strategy:   "consensus_fallback",
		}, nil
	}

	outcomes, err := NewScheduler(eng, parallel).Execute(ctx, threadID, question, specs)
	if err != nil {
		return nil, err
	}
	return Synthesize(ctx, mgr, question, outcomes, strategy)
}
