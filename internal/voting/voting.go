// Package voting implements the fan-out alternative to consensus: every
// registered model answers the question in parallel and a meta-judge
// aggregates the survivors.
package voting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jordanhubbard/quorum/internal/consensus"
	"github.com/jordanhubbard/quorum/internal/manager"
	"github.com/jordanhubbard/quorum/internal/providers"
)

// Aggregation strategies.
const (
	StrategyMajority = "majority"
	StrategyWeighted = "weighted"
)

// VoteResult is one model's answer.
type VoteResult struct {
	ModelRef string  `json:"model_ref"`
	Content  string  `json:"content"`
	Weight   float64 `json:"weight"`
}

// Aggregation is the combined outcome of a voting run.
type Aggregation struct {
	Decision   string       `json:"decision"`
	Confidence float64      `json:"confidence"`
	Strategy   string       `json:"strategy"`
	Votes      []VoteResult `json:"votes"`
	JudgeModel string       `json:"judge_model,omitempty"`
}

// Run fans the question out to every registered model, drops failures, and
// aggregates. Zero survivors yield an empty aggregation with confidence 0;
// a single survivor is returned as-is with confidence 1.0 and no judge call.
func Run(ctx context.Context, mgr *manager.Manager, question, strategy string) (*Aggregation, error) {
	if strategy != StrategyMajority && strategy != StrategyWeighted {
		return nil, providers.NewError(providers.KindConfig, "unknown voting strategy %q", strategy)
	}
	models := mgr.ListAllModels()
	if len(models) == 0 {
		return nil, providers.NewError(providers.KindInsufficientModels, "no models registered for voting")
	}

	votes := make([]*VoteResult, len(models))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range models {
		g.Go(func() error {
			resp, err := mgr.Send(gctx, m.Ref(), []providers.Message{
				{Role: providers.RoleUser, Content: question},
			}, providers.SendOptions{})
			if err != nil {
				if providers.KindOf(err) == providers.KindCostLimitExceeded {
					return err
				}
				slog.Warn("vote dropped",
					slog.String("model", m.Ref()),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			votes[i] = &VoteResult{ModelRef: m.Ref(), Content: resp.Content, Weight: m.OutputCostPerMTok}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	survivors := make([]VoteResult, 0, len(votes))
	for _, v := range votes {
		if v != nil {
			survivors = append(survivors, *v)
		}
	}

	switch len(survivors) {
	case 0:
		return &Aggregation{Strategy: strategy, Confidence: 0}, nil
	case 1:
		return &Aggregation{
			Decision:   survivors[0].Content,
			Confidence: 1.0,
			Strategy:   strategy,
			Votes:      survivors,
		}, nil
	}

	judge, ok := consensus.StrongestModel(models)
	if !ok {
		return nil, providers.NewError(providers.KindInsufficientModels, "no judge model available")
	}
	decision, err := judgeVotes(ctx, mgr, judge, question, survivors, strategy)
	if err != nil {
		return nil, err
	}

	confidence := 0.8
	if strategy == StrategyWeighted {
		confidence = 0.85
	}
	return &Aggregation{
		Decision:   decision,
		Confidence: confidence,
		Strategy:   strategy,
		Votes:      survivors,
		JudgeModel: judge.Ref(),
	}, nil
}

func judgeVotes(ctx context.Context, mgr *manager.Manager, judge providers.ModelInfo, question string, votes []VoteResult, strategy string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question:\n%s\n\nIndependent answers:\n", question)
	for i, v := range votes {
		if strategy == StrategyWeighted {
			fmt.Fprintf(&b, "\nAnswer %d (capability weight %.2f):\n%s\n", i+1, v.Weight, v.Content)
		} else {
			fmt.Fprintf(&b, "\nAnswer %d:\n%s\n", i+1, v.Content)
		}
	}
	if strategy == StrategyWeighted {
		b.WriteString("\nSynthesize a single best answer, weighting higher-capability answers more heavily.")
	} else {
		b.WriteString("\nReturn the best answer, improving it where the others expose gaps.")
	}

	resp, err := mgr.Send(ctx, judge.Ref(), []providers.Message{
		{Role: providers.RoleSystem, Content: "You are the judge over a panel of independent answers."},
		{Role: providers.RoleUser, Content: b.String()},
	}, providers.SendOptions{})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
