// Package consensus implements the multi-round debate protocol: a state
// machine drives PROPOSE, CHALLENGE, REVISE, and COMMIT phases across a panel
// of models until the challenge set stabilizes or the round budget runs out.
package consensus

import (
	"github.com/jordanhubbard/quorum/internal/providers"
)

// State is a node in the session state machine.
type State string

const (
	StateIdle      State = "IDLE"
	StateDecompose State = "DECOMPOSE"
	StatePropose   State = "PROPOSE"
	StateChallenge State = "CHALLENGE"
	StateRevise    State = "REVISE"
	StateCommit    State = "COMMIT"
	StateComplete  State = "COMPLETE"
	StateFailed    State = "FAILED"
)

// legalTransitions holds the forward edges. FAILED is additionally reachable
// from every non-terminal state via Fail.
var legalTransitions = map[State][]State{
	StateIdle:      {StatePropose, StateDecompose},
	StateDecompose: {StatePropose},
	StatePropose:   {StateChallenge},
	StateChallenge: {StateRevise},
	StateRevise:    {StateCommit},
	StateCommit:    {StatePropose, StateComplete},
	StateComplete:  {},
	StateFailed:    {},
}

// ChallengeResult is one challenger's response to the current proposal.
type ChallengeResult struct {
	ModelRef    string `json:"model_ref"`
	Content     string `json:"content"`
	Sycophantic bool   `json:"sycophantic"`
	Framing     string `json:"framing"`
}

// RoundResult is a frozen snapshot of one completed round.
type RoundResult struct {
	RoundNumber   int               `json:"round_number"`
	Proposal      string            `json:"proposal"`
	ProposalModel string            `json:"proposal_model"`
	Challenges    []ChallengeResult `json:"challenges"`
	Revision      string            `json:"revision"`
	Decision      string            `json:"decision"`
	Confidence    float64           `json:"confidence"`
	Rigor         float64           `json:"rigor"`
	Dissent       string            `json:"dissent,omitempty"`
}

// Taxonomy classifies the question; Intent keys the domain confidence cap.
type Taxonomy struct {
	Intent   string `json:"intent"`
	Category string `json:"category"`
	Genus    string `json:"genus"`
}

// ToolInvocation records one tool call made during an augmented send.
type ToolInvocation struct {
	Name    string         `json:"name"`
	Input   map[string]any `json:"input"`
	Result  string         `json:"result"`
	IsError bool           `json:"is_error"`
}

// SubtaskOutcome is the committed result of one decomposed subtask.
type SubtaskOutcome struct {
	Label      string  `json:"label"`
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Rigor      float64 `json:"rigor"`
}

// Session is the mutable per-debate context, owned by exactly one state
// machine. Handlers mutate the working-round fields; Transition archives them
// into RoundHistory at round boundaries.
type Session struct {
	ThreadID  string
	Question  string
	MaxRounds int

	State        State
	CurrentRound int

	// Working-round fields, cleared on each entry to PROPOSE.
	Proposal      string
	ProposalModel string
	Challenges    []ChallengeResult
	Revision      string
	Decision      string
	Confidence    float64
	Rigor         float64
	Dissent       string
	Converged     bool

	RoundHistory []RoundResult

	Subtasks     []SubtaskOutcome
	Taxonomy     *Taxonomy
	ToolCallsLog []ToolInvocation
	Err          string
}

// NewSession creates an idle session for a question.
func NewSession(threadID, question string, maxRounds int) *Session {
	return &Session{
		ThreadID:  threadID,
		Question:  question,
		MaxRounds: maxRounds,
		State:     StateIdle,
	}
}

func (s *Session) legal(to State) bool {
	for _, t := range legalTransitions[s.State] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition moves the session to a new state after checking legality and
// guards, then applies side effects. On any error the state is unchanged.
func (s *Session) Transition(to State) error {
	if !s.legal(to) {
		return providers.NewError(providers.KindConsensus,
			"illegal transition %s -> %s", s.State, to)
	}
	if err := s.checkGuards(to); err != nil {
		return err
	}
	s.applyEffects(to)
	s.State = to
	return nil
}

func (s *Session) checkGuards(to State) error {
	switch to {
	case StateDecompose:
		if s.Question == "" {
			return providers.NewError(providers.KindConsensus, "cannot decompose an empty question")
		}
	case StatePropose:
		if s.State == StateIdle || s.State == StateDecompose {
			if s.Question == "" {
				return providers.NewError(providers.KindConsensus, "cannot propose on an empty question")
			}
		} else { // COMMIT -> PROPOSE starts a new round
			if s.Converged {
				return providers.NewError(providers.KindConsensus, "cannot start a new round after convergence")
			}
			if s.CurrentRound >= s.MaxRounds {
				return providers.NewError(providers.KindConsensus,
					"round budget exhausted (%d/%d)", s.CurrentRound, s.MaxRounds)
			}
		}
	case StateChallenge:
		if s.Proposal == "" {
			return providers.NewError(providers.KindConsensus, "no proposal to challenge")
		}
	case StateRevise:
		if len(s.Challenges) == 0 {
			return providers.NewError(providers.KindConsensus, "no challenges to revise against")
		}
	case StateCommit:
		if s.Revision == "" {
			return providers.NewError(providers.KindConsensus, "no revision to commit")
		}
	case StateComplete:
		if !s.Converged && s.CurrentRound < s.MaxRounds {
			return providers.NewError(providers.KindConsensus,
				"cannot complete: not converged and %d rounds remain", s.MaxRounds-s.CurrentRound)
		}
	}
	return nil
}

func (s *Session) applyEffects(to State) {
	switch to {
	case StatePropose:
		if s.State == StateIdle || s.State == StateDecompose {
			s.CurrentRound = 1
			s.clearWorkingFields()
		} else {
			s.RoundHistory = append(s.RoundHistory, s.snapshot())
			s.CurrentRound++
			s.clearWorkingFields()
		}
	case StateComplete:
		s.RoundHistory = append(s.RoundHistory, s.snapshot())
	}
}

// Fail moves the session to FAILED from any non-terminal state and records
// the message.
func (s *Session) Fail(message string) {
	if s.State == StateComplete || s.State == StateFailed {
		return
	}
	s.State = StateFailed
	s.Err = message
}

func (s *Session) clearWorkingFields() {
	s.Proposal = ""
	s.ProposalModel = ""
	s.Challenges = nil
	s.Revision = ""
	s.Decision = ""
	s.Confidence = 0
	s.Rigor = 0
	s.Dissent = ""
	s.Converged = false
}

func (s *Session) snapshot() RoundResult {
	challenges := make([]ChallengeResult, len(s.Challenges))
	copy(challenges, s.Challenges)
	return RoundResult{
		RoundNumber:   s.CurrentRound,
		Proposal:      s.Proposal,
		ProposalModel: s.ProposalModel,
		Challenges:    challenges,
		Revision:      s.Revision,
		Decision:      s.Decision,
		Confidence:    s.Confidence,
		Rigor:         s.Rigor,
		Dissent:       s.Dissent,
	}
}

// PreviousChallenges returns the archived challenges of the most recent
// completed round, or nil in round 1.
func (s *Session) PreviousChallenges() []ChallengeResult {
	if len(s.RoundHistory) == 0 {
		return nil
	}
	return s.RoundHistory[len(s.RoundHistory)-1].Challenges
}
