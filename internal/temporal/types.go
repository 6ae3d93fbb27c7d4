package temporal

import (
	"github.com/jordanhubbard/quorum/internal/store"
)

// ConsensusInput is the input for the ConsensusWorkflow.
type ConsensusInput struct {
	ThreadID string `json:"thread_id"`
	APIKeyID string `json:"api_key_id,omitempty"`
	Question string `json:"question"`
}

// VoteInput is the input for the VoteWorkflow.
type VoteInput struct {
	ThreadID string `json:"thread_id"`
	APIKeyID string `json:"api_key_id,omitempty"`
	Question string `json:"question"`
	Strategy string `json:"strategy"` // majority or weighted
}

// DecomposeInput is the input for the DecomposeWorkflow.
type DecomposeInput struct {
	ThreadID    string `json:"thread_id"`
	APIKeyID    string `json:"api_key_id,omitempty"`
	Question    string `json:"question"`
	MaxSubtasks int    `json:"max_subtasks,omitempty"`
	Parallel    bool   `json:"parallel"`
	Strategy    string `json:"strategy"` // merge or prioritize
}

// SessionOutput is the common result of the protocol activities. Record and
// Rounds carry the persisted form so the workflow can hand them to
// PersistSession without re-deriving anything.
type SessionOutput struct {
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Rigor      float64 `json:"rigor"`
	Dissent    string  `json:"dissent,omitempty"`
	CostUSD    float64 `json:"cost_usd"`
	Rounds     int     `json:"rounds"`

	Record       store.SessionRecord `json:"record"`
	RoundRecords []store.RoundRecord `json:"round_records,omitempty"`
}

// PersistInput is the input for the PersistSession activity.
type PersistInput struct {
	Record store.SessionRecord `json:"record"`
	Rounds []store.RoundRecord `json:"rounds,omitempty"`
}

// ChargeInput is the input for the ChargeBudget activity.
type ChargeInput struct {
	APIKeyID string  `json:"api_key_id"`
	CostUSD  float64 `json:"cost_usd"`
}
