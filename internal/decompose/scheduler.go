package decompose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jordanhubbard/quorum/internal/consensus"
	"github.com/jordanhubbard/quorum/internal/providers"
)

// Scheduler executes a validated subtask DAG, running a one-round
// mini-consensus per subtask and feeding dependency decisions into dependent
// prompts.
type Scheduler struct {
	engine   *consensus.Engine
	parallel bool
}

// NewScheduler creates a scheduler over a consensus engine.
func NewScheduler(engine *consensus.Engine, parallel bool) *Scheduler {
	return &Scheduler{engine: engine, parallel: parallel}
}

// Execute runs all subtasks in dependency order. Independent ready batches
// run concurrently when parallel is enabled. Results come back in spec order.
// Any subtask failure aborts the DAG.
func (s *Scheduler) Execute(ctx context.Context, threadID, question string, specs []SubtaskSpec) ([]consensus.SubtaskOutcome, error) {
	index := make(map[string]int, len(specs))
	for i, spec := range specs {
		index[spec.Label] = i
	}

	n := len(specs)
	indegree := make([]int, n)
	adjacency := make([][]int, n)
	for i, spec := range specs {
		for _, dep := range spec.Dependencies {
			j := index[dep]
			adjacency[j] = append(adjacency[j], i)
			indegree[i]++
		}
	}

	outcomes := make([]consensus.SubtaskOutcome, n)
	var mu sync.Mutex

	ready := make([]int, 0, n) // FIFO
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	completed := 0
	for len(ready) > 0 {
		batch := ready
		ready = nil

		runOne := func(ctx context.Context, i int) error {
			outcome, err := s.runSubtask(ctx, threadID, question, specs[i], outcomes, index)
			if err != nil {
				return err
			}
			mu.Lock()
			outcomes[i] = outcome
			mu.Unlock()
			return nil
		}

		if s.parallel && len(batch) > 1 {
			g, gctx := errgroup.WithContext(ctx)
			for _, i := range batch {
				g.Go(func() error {
					return runOne(gctx, i)
				})
			}
			if err := g.Wait(); err != nil {
				return nil, err
			}
		} else {
			for _, i := range batch {
				if err := runOne(ctx, i); err != nil {
					return nil, err
				}
			}
		}

		completed += len(batch)
		for _, i := range batch {
			for _, next := range adjacency[i] {
				indegree[next]--
				if indegree[next] == 0 {
					ready = append(ready, next)
				}
			}
		}
	}
	if completed != n {
		return nil, providers.NewError(providers.KindConsensus,
			"subtask graph stalled: %d of %d completed", completed, n)
	}
	return outcomes, nil
}

func (s *Scheduler) runSubtask(ctx context.Context, threadID, question string, spec SubtaskSpec, outcomes []consensus.SubtaskOutcome, index map[string]int) (consensus.SubtaskOutcome, error) {
	augmented := s.augmentQuestion(question, spec, outcomes, index)

	res, err := s.engine.MiniConsensus(ctx, fmt.Sprintf("%s/%s", threadID, spec.Label), augmented)
	if err != nil {
		return consensus.SubtaskOutcome{}, providers.NewError(providers.KindConsensus,
			"subtask %q failed: %v", spec.Label, err)
	}
	slog.Debug("subtask complete",
		slog.String("label", spec.Label),
		slog.Float64("confidence", res.Confidence),
	)
	return consensus.SubtaskOutcome{
		Label:      spec.Label,
		Decision:   res.Decision,
		Confidence: res.Confidence,
		Rigor:      res.Rigor,
	}, nil
}

// augmentQuestion builds the per-subtask prompt: original question, the
// subtask description, and the decisions of its dependencies.
func (s *Scheduler) augmentQuestion(question string, spec SubtaskSpec, outcomes []consensus.SubtaskOutcome, index map[string]int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original question:\n%s\n\nSubtask:\n%s\n", question, spec.Description)
	if len(spec.Dependencies) > 0 {
		b.WriteString("\nAnswers already established:\n")
		for _, dep := range spec.Dependencies {
			fmt.Fprintf(&b, "[%s]: %s\n", dep, outcomes[index[dep]].Decision)
		}
	}
	return b.String()
}
