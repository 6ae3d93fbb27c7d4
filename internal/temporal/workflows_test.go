package temporal

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/jordanhubbard/quorum/internal/store"
)

// actsRef is a nil *Activities pointer used to create bound method references
// for Temporal mock registration. The SDK only uses reflection to extract the
// method name — no actual method body runs.
var actsRef *Activities

func sampleOutput(protocol string) SessionOutput {
	return SessionOutput{
		Decision:   "Use PostgreSQL with pgbouncer.",
		Confidence: 0.85,
		Rigor:      1.0,
		CostUSD:    0.042,
		Rounds:     2,
		Record: store.SessionRecord{
			ThreadID:   "thread-1",
			Question:   "Should we use PostgreSQL?",
			Protocol:   protocol,
			State:      "COMPLETE",
			Decision:   "Use PostgreSQL with pgbouncer.",
			Confidence: 0.85,
			Rigor:      1.0,
			Rounds:     2,
			CostUSD:    0.042,
		},
		RoundRecords: []store.RoundRecord{
			{ThreadID: "thread-1", RoundNumber: 1},
			{ThreadID: "thread-1", RoundNumber: 2},
		},
	}
}

func TestConsensusWorkflow_Success(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	want := sampleOutput("consensus")
	env.OnActivity(actsRef.RunConsensus, mock.Anything, mock.Anything).Return(want, nil)
	env.OnActivity(actsRef.PersistSession, mock.Anything, mock.MatchedBy(func(in PersistInput) bool {
		return in.Record.State == "COMPLETE" && len(in.Rounds) == 2
	})).Return(nil)

	input := ConsensusInput{ThreadID: "thread-1", Question: "Should we use PostgreSQL?"}
	env.ExecuteWorkflow(ConsensusWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out SessionOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, want.Decision, out.Decision)
	require.Equal(t, want.Confidence, out.Confidence)
	require.Equal(t, want.CostUSD, out.CostUSD)

	env.AssertExpectations(t)
}

func TestConsensusWorkflow_FailurePersistsFailedRecord(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	env.OnActivity(actsRef.RunConsensus, mock.Anything, mock.Anything).
		Return(SessionOutput{}, fmt.Errorf("all challengers failed"))
	env.OnActivity(actsRef.PersistSession, mock.Anything, mock.MatchedBy(func(in PersistInput) bool {
		return in.Record.State == "FAILED" && in.Record.ErrorMsg != ""
	})).Return(nil)

	env.ExecuteWorkflow(ConsensusWorkflow, ConsensusInput{ThreadID: "thread-1", Question: "q"})

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())

	env.AssertExpectations(t)
}

func TestConsensusWorkflow_ChargesBudget(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	want := sampleOutput("consensus")
	env.OnActivity(actsRef.RunConsensus, mock.Anything, mock.Anything).Return(want, nil)
	env.OnActivity(actsRef.PersistSession, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(actsRef.ChargeBudget, mock.Anything, mock.MatchedBy(func(in ChargeInput) bool {
		return in.APIKeyID == "key-abc" && in.CostUSD == want.CostUSD
	})).Return(nil)

	input := ConsensusInput{ThreadID: "thread-1", APIKeyID: "key-abc", Question: "q"}
	env.ExecuteWorkflow(ConsensusWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	env.AssertExpectations(t)
}

func TestVoteWorkflow_Success(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	want := sampleOutput("voting")
	want.RoundRecords = nil
	env.OnActivity(actsRef.RunVote, mock.Anything, mock.MatchedBy(func(in VoteInput) bool {
		return in.Strategy == "weighted"
	})).Return(want, nil)
	env.OnActivity(actsRef.PersistSession, mock.Anything, mock.Anything).Return(nil)

	input := VoteInput{ThreadID: "thread-1", Question: "q", Strategy: "weighted"}
	env.ExecuteWorkflow(VoteWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out SessionOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, want.Decision, out.Decision)

	env.AssertExpectations(t)
}

func TestDecomposeWorkflow_Success(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	want := sampleOutput("decompose")
	want.RoundRecords = nil
	env.OnActivity(actsRef.RunDecompose, mock.Anything, mock.Anything).Return(want, nil)
	env.OnActivity(actsRef.PersistSession, mock.Anything, mock.Anything).Return(nil)

	input := DecomposeInput{ThreadID: "thread-1", Question: "q", Parallel: true, Strategy: "merge"}
	env.ExecuteWorkflow(DecomposeWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	env.AssertExpectations(t)
}
