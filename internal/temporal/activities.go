package temporal

import (
	"context"
	"encoding/json"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/jordanhubbard/quorum/internal/apikey"
	"github.com/jordanhubbard/quorum/internal/consensus"
	"github.com/jordanhubbard/quorum/internal/decompose"
	"github.com/jordanhubbard/quorum/internal/events"
	"github.com/jordanhubbard/quorum/internal/metrics"
	"github.com/jordanhubbard/quorum/internal/stats"
	"github.com/jordanhubbard/quorum/internal/store"
	"github.com/jordanhubbard/quorum/internal/voting"
)

// Activities holds dependencies for Temporal activity implementations.
type Activities struct {
	Engine  *consensus.Engine
	Store   store.Store
	Bus     *events.Bus
	Metrics *metrics.Registry
	Stats   *stats.Collector
	Budget  *apikey.BudgetChecker
}

// RunConsensus drives a full deliberation session as a single activity.
// Phase progress is surfaced as heartbeats so a stalled panel is detected by
// the heartbeat timeout rather than the much longer activity timeout.
func (a *Activities) RunConsensus(ctx context.Context, input ConsensusInput) (SessionOutput, error) {
	return a.RunConsensusWithSink(ctx, input, nil)
}

// RunConsensusWithSink is RunConsensus with phase events also delivered to
// the caller's sink. The SSE handler uses it to stream progress while the
// session is still persisted and observed the same way as the durable path.
func (a *Activities) RunConsensusWithSink(ctx context.Context, input ConsensusInput, extra consensus.Sink) (SessionOutput, error) {
	start := time.Now()
	a.publishLifecycle(events.EventSessionStarted, input.ThreadID, "consensus", 0, "")

	sink := func(ev consensus.Event) {
		if extra != nil {
			extra(ev)
		}
		if activity.IsActivity(ctx) {
			activity.RecordHeartbeat(ctx, ev.Type)
		}
		if a.Bus != nil {
			a.Bus.Publish(events.Event{
				Type:     events.EventPhaseCompleted,
				ThreadID: input.ThreadID,
				Protocol: "consensus",
				Phase:    ev.Phase,
				Round:    ev.Round,
				ModelRef: ev.Model,
			})
		}
	}

	res, err := a.Engine.StreamConsensus(ctx, input.ThreadID, input.Question, sink)
	latencyMs := time.Since(start).Milliseconds()
	if err != nil {
		a.publishLifecycle(events.EventSessionFailed, input.ThreadID, "consensus", 0, err.Error())
		a.observeSession("consensus", stats.Snapshot{
			ThreadID:  input.ThreadID,
			Protocol:  "consensus",
			LatencyMs: float64(latencyMs),
		})
		return SessionOutput{}, err
	}
	a.publishLifecycle(events.EventSessionCompleted, input.ThreadID, "consensus", res.Confidence, "")

	rec := store.SessionRecord{
		ThreadID:   input.ThreadID,
		Question:   input.Question,
		Protocol:   "consensus",
		State:      string(consensus.StateComplete),
		Decision:   res.Decision,
		Confidence: res.Confidence,
		Rigor:      res.Rigor,
		Dissent:    res.Dissent,
		Converged:  res.Session.Converged,
		Rounds:     res.Rounds,
		CostUSD:    res.Cost,
		LatencyMs:  latencyMs,
	}

	var roundRecs []store.RoundRecord
	for _, rr := range res.Session.RoundHistory {
		challenges, _ := json.Marshal(rr.Challenges)
		roundRecs = append(roundRecs, store.RoundRecord{
			ThreadID:      input.ThreadID,
			RoundNumber:   rr.RoundNumber,
			ProposerModel: rr.ProposalModel,
			Proposal:      rr.Proposal,
			Challenges:    string(challenges),
			Revision:      rr.Revision,
			Decision:      rr.Decision,
			Confidence:    rr.Confidence,
			Rigor:         rr.Rigor,
			Dissent:       rr.Dissent,
		})
	}

	a.observeSession("consensus", stats.Snapshot{
		ThreadID:   input.ThreadID,
		Protocol:   "consensus",
		Rounds:     res.Rounds,
		Converged:  res.Session.Converged,
		Confidence: res.Confidence,
		Rigor:      res.Rigor,
		CostUSD:    res.Cost,
		LatencyMs:  float64(latencyMs),
		Success:    true,
	})

	return SessionOutput{
		Decision:     res.Decision,
		Confidence:   res.Confidence,
		Rigor:        res.Rigor,
		Dissent:      res.Dissent,
		CostUSD:      res.Cost,
		Rounds:       res.Rounds,
		Record:       rec,
		RoundRecords: roundRecs,
	}, nil
}

// RunVote fans the question out to the panel and aggregates the answers.
func (a *Activities) RunVote(ctx context.Context, input VoteInput) (SessionOutput, error) {
	mgr := a.Engine.Manager()
	start := time.Now()
	costBefore := mgr.TotalCost()

	a.publishLifecycle(events.EventSessionStarted, input.ThreadID, "voting", 0, "")
	if activity.IsActivity(ctx) {
		activity.RecordHeartbeat(ctx, "voting")
	}
	agg, err := voting.Run(ctx, mgr, input.Question, input.Strategy)
	latencyMs := time.Since(start).Milliseconds()
	cost := mgr.TotalCost() - costBefore

	if err != nil {
		a.publishLifecycle(events.EventSessionFailed, input.ThreadID, "voting", 0, err.Error())
		a.observeSession("voting", stats.Snapshot{
			ThreadID:  input.ThreadID,
			Protocol:  "voting",
			CostUSD:   cost,
			LatencyMs: float64(latencyMs),
		})
		return SessionOutput{}, err
	}

	if a.Bus != nil {
		a.Bus.Publish(events.Event{
			Type:       events.EventVoteCompleted,
			ThreadID:   input.ThreadID,
			Protocol:   "voting",
			Confidence: agg.Confidence,
			CostUSD:    cost,
		})
	}
	a.publishLifecycle(events.EventSessionCompleted, input.ThreadID, "voting", agg.Confidence, "")
	a.observeSession("voting", stats.Snapshot{
		ThreadID:   input.ThreadID,
		Protocol:   "voting",
		Rounds:     1,
		Confidence: agg.Confidence,
		CostUSD:    cost,
		LatencyMs:  float64(latencyMs),
		Success:    true,
	})

	return SessionOutput{
		Decision:   agg.Decision,
		Confidence: agg.Confidence,
		CostUSD:    cost,
		Rounds:     1,
		Record: store.SessionRecord{
			ThreadID:   input.ThreadID,
			Question:   input.Question,
			Protocol:   "voting",
			State:      string(consensus.StateComplete),
			Decision:   agg.Decision,
			Confidence: agg.Confidence,
			Rounds:     1,
			CostUSD:    cost,
			LatencyMs:  latencyMs,
		},
	}, nil
}

// RunDecompose splits the question into a subtask DAG, resolves each subtask
// with a mini consensus round, and synthesizes the final answer.
func (a *Activities) RunDecompose(ctx context.Context, input DecomposeInput) (SessionOutput, error) {
	mgr := a.Engine.Manager()
	start := time.Now()
	costBefore := mgr.TotalCost()

	a.publishLifecycle(events.EventSessionStarted, input.ThreadID, "decompose", 0, "")
	if activity.IsActivity(ctx) {
		activity.RecordHeartbeat(ctx, "decomposing")
	}
	res, err := decompose.Run(ctx, a.Engine, input.ThreadID, input.Question, input.MaxSubtasks, input.Parallel, input.Strategy)
	latencyMs := time.Since(start).Milliseconds()
	cost := mgr.TotalCost() - costBefore

	if err != nil {
		a.publishLifecycle(events.EventSessionFailed, input.ThreadID, "decompose", 0, err.Error())
		a.observeSession("decompose", stats.Snapshot{
			ThreadID:  input.ThreadID,
			Protocol:  "decompose",
			CostUSD:   cost,
			LatencyMs: float64(latencyMs),
		})
		return SessionOutput{}, err
	}

	a.publishLifecycle(events.EventSessionCompleted, input.ThreadID, "decompose", res.Confidence, "")
	a.observeSession("decompose", stats.Snapshot{
		ThreadID:   input.ThreadID,
		Protocol:   "decompose",
		Rounds:     1,
		Confidence: res.Confidence,
		Rigor:      res.Rigor,
		CostUSD:    cost,
		LatencyMs:  float64(latencyMs),
		Success:    true,
	})

	return SessionOutput{
		Decision:   res.Decision,
		Confidence: res.Confidence,
		Rigor:      res.Rigor,
		CostUSD:    cost,
		Rounds:     1,
		Record: store.SessionRecord{
			ThreadID:   input.ThreadID,
			Question:   input.Question,
			Protocol:   "decompose",
			State:      string(consensus.StateComplete),
			Decision:   res.Decision,
			Confidence: res.Confidence,
			Rigor:      res.Rigor,
			Rounds:     1,
			CostUSD:    cost,
			LatencyMs:  latencyMs,
		},
	}, nil
}

// PersistSession writes the session summary and its archived rounds.
func (a *Activities) PersistSession(ctx context.Context, input PersistInput) error {
	if a.Store == nil {
		return nil
	}
	if err := a.Store.SaveSession(ctx, input.Record); err != nil {
		return err
	}
	for _, r := range input.Rounds {
		if err := a.Store.SaveRound(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// ChargeBudget records a completed session's cost against the caller's key.
func (a *Activities) ChargeBudget(ctx context.Context, input ChargeInput) error {
	if a.Budget == nil || input.APIKeyID == "" {
		return nil
	}
	return a.Budget.Charge(ctx, input.APIKeyID, input.CostUSD)
}

// publishLifecycle emits a session bookend event on the bus.
func (a *Activities) publishLifecycle(typ events.EventType, threadID, protocol string, confidence float64, errMsg string) {
	if a.Bus == nil {
		return
	}
	a.Bus.Publish(events.Event{
		Type:       typ,
		ThreadID:   threadID,
		Protocol:   protocol,
		Confidence: confidence,
		ErrorMsg:   errMsg,
	})
}

func (a *Activities) observeSession(protocol string, snap stats.Snapshot) {
	outcome := "failed"
	if snap.Success {
		outcome = "completed"
	}
	if a.Metrics != nil {
		a.Metrics.ObserveSession(protocol, outcome, snap.Rounds, float64(snap.LatencyMs), snap.Confidence)
	}
	if a.Stats != nil {
		a.Stats.Record(snap)
	}
}
