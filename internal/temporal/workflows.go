package temporal

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/jordanhubbard/quorum/internal/store"
)

const (
	// A full session is many model calls; the heartbeat timeout is what
	// catches a hung panel, the activity timeout is the overall ceiling.
	protocolTimeout  = 10 * time.Minute
	heartbeatTimeout = 60 * time.Second
	persistTimeout   = 10 * time.Second
)

// ConsensusWorkflow runs a deliberation session durably: the protocol
// activity does the model calls, then the result is persisted and charged
// against the caller's key even if the server restarts in between.
func ConsensusWorkflow(ctx workflow.Context, input ConsensusInput) (SessionOutput, error) {
	return protocolWorkflow(ctx, "consensus", input.ThreadID, input.Question, input.APIKeyID,
		func(ctx workflow.Context) (SessionOutput, error) {
			var out SessionOutput
			err := workflow.ExecuteActivity(ctx, (*Activities).RunConsensus, input).Get(ctx, &out)
			return out, err
		})
}

// VoteWorkflow runs a voting session durably.
func VoteWorkflow(ctx workflow.Context, input VoteInput) (SessionOutput, error) {
	return protocolWorkflow(ctx, "voting", input.ThreadID, input.Question, input.APIKeyID,
		func(ctx workflow.Context) (SessionOutput, error) {
			var out SessionOutput
			err := workflow.ExecuteActivity(ctx, (*Activities).RunVote, input).Get(ctx, &out)
			return out, err
		})
}

// DecomposeWorkflow runs a decomposition session durably.
func DecomposeWorkflow(ctx workflow.Context, input DecomposeInput) (SessionOutput, error) {
	return protocolWorkflow(ctx, "decompose", input.ThreadID, input.Question, input.APIKeyID,
		func(ctx workflow.Context) (SessionOutput, error) {
			var out SessionOutput
			err := workflow.ExecuteActivity(ctx, (*Activities).RunDecompose, input).Get(ctx, &out)
			return out, err
		})
}

func protocolWorkflow(ctx workflow.Context, protocol, threadID, question, apiKeyID string,
	run func(workflow.Context) (SessionOutput, error)) (SessionOutput, error) {

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: protocolTimeout,
		HeartbeatTimeout:    heartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1, // provider calls retry internally
		},
	}
	runCtx := workflow.WithActivityOptions(ctx, ao)
	persistCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: persistTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})

	start := workflow.Now(ctx)
	out, err := run(runCtx)

	if err != nil {
		rec := store.SessionRecord{
			ThreadID:  threadID,
			Question:  question,
			Protocol:  protocol,
			State:     "FAILED",
			ErrorMsg:  err.Error(),
			LatencyMs: workflow.Now(ctx).Sub(start).Milliseconds(),
		}
		_ = workflow.ExecuteActivity(persistCtx, (*Activities).PersistSession, PersistInput{Record: rec}).Get(ctx, nil)
		return SessionOutput{}, err
	}

	_ = workflow.ExecuteActivity(persistCtx, (*Activities).PersistSession, PersistInput{
		Record: out.Record,
		Rounds: out.RoundRecords,
	}).Get(ctx, nil)

	if apiKeyID != "" && out.CostUSD > 0 {
		_ = workflow.ExecuteActivity(persistCtx, (*Activities).ChargeBudget, ChargeInput{
			APIKeyID: apiKeyID,
			CostUSD:  out.CostUSD,
		}).Get(ctx, nil)
	}

	return out, nil
}
