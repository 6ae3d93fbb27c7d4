package consensus

import (
	"context"
	"log/slog"
	"time"

	"github.com/jordanhubbard/quorum/internal/manager"
)

// Config controls a consensus session.
type Config struct {
	MaxRounds            int      `yaml:"max_rounds"`
	Panel                []string `yaml:"panel"`
	ProposerStrategy     string   `yaml:"proposer_strategy"`
	MinChallengers       int      `yaml:"min_challengers"`
	ChallengeTypes       []string `yaml:"challenge_types"`
	ConvergenceThreshold float64  `yaml:"convergence_threshold"`
	ToolsEnabled         bool     `yaml:"tools_enabled"`
	MaxToolRounds        int      `yaml:"max_tool_rounds"`
	TaxonomyEnabled      bool     `yaml:"taxonomy_enabled"`
	TaxonomyModelRef     string   `yaml:"taxonomy_model_ref"`
}

// DefaultConfig returns the standard debate parameters.
func DefaultConfig() Config {
	return Config{
		MaxRounds:            3,
		ProposerStrategy:     "round_robin",
		MinChallengers:       2,
		ChallengeTypes:       DefaultChallengeTypes,
		ConvergenceThreshold: DefaultConvergenceThreshold,
		MaxToolRounds:        DefaultMaxToolRounds,
	}
}

// Event is one wire-level progress record emitted during a streamed session.
type Event struct {
	Type       string   `json:"type"`
	Phase      string   `json:"phase,omitempty"`
	Model      string   `json:"model,omitempty"`
	Models     []string `json:"models,omitempty"`
	Round      int      `json:"round,omitempty"`
	Content    string   `json:"content,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Dissent    string   `json:"dissent,omitempty"`
	Decision   string   `json:"decision,omitempty"`
	Cost       float64  `json:"cost,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// Sink receives events in emission order. A nil sink discards them.
type Sink func(Event)

// Result is the outcome of a completed session.
type Result struct {
	Decision   string
	Confidence float64
	Rigor      float64
	Dissent    string
	Cost       float64
	Rounds     int
	Session    *Session
}

// Engine drives sessions against a shared provider manager. It holds no
// per-session state; a single Engine serves concurrent sessions.
type Engine struct {
	mgr   *manager.Manager
	cfg   Config
	tools ToolRegistry

	// challengerCap bounds the challenge fan-out; 0 means every non-proposer
	// panel model challenges. Set by MiniConsensus to keep subtask rounds cheap.
	challengerCap int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTools attaches a tool registry for augmented sends.
func WithTools(reg ToolRegistry) EngineOption {
	return func(e *Engine) { e.tools = reg }
}

// NewEngine creates an engine over a manager.
func NewEngine(mgr *manager.Manager, cfg Config, opts ...EngineOption) *Engine {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 3
	}
	if cfg.MinChallengers <= 0 {
		cfg.MinChallengers = 2
	}
	e := &Engine{mgr: mgr, cfg: cfg}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Config returns the engine's session parameters.
func (e *Engine) Config() Config { return e.cfg }

// RunConsensus drives the state machine end to end and returns the decision.
func (e *Engine) RunConsensus(ctx context.Context, threadID, question string) (*Result, error) {
	return e.run(ctx, threadID, question, nil)
}

// StreamConsensus is RunConsensus with progress events delivered to the sink.
// The terminal event is either "complete" or "error", never both.
func (e *Engine) StreamConsensus(ctx context.Context, threadID, question string, sink Sink) (*Result, error) {
	return e.run(ctx, threadID, question, sink)
}

// MiniConsensus runs a single PROPOSE/CHALLENGE/REVISE/COMMIT round with two
// challengers, used per subtask by the decomposition scheduler.
func (e *Engine) MiniConsensus(ctx context.Context, threadID, question string) (*Result, error) {
	mini := *e
	mini.cfg.MaxRounds = 1
	mini.cfg.MinChallengers = 2
	mini.challengerCap = 2
	return mini.run(ctx, threadID, question, nil)
}

func (e *Engine) run(ctx context.Context, threadID, question string, sink Sink) (*Result, error) {
	emit := func(ev Event) {
		if sink != nil {
			sink(ev)
		}
	}
	fail := func(sess *Session, err error) (*Result, error) {
		sess.Fail(err.Error())
		emit(Event{Type: "error", Message: err.Error()})
		return nil, err
	}

	sess := NewSession(threadID, question, e.cfg.MaxRounds)
	startCost := e.mgr.TotalCost()
	started := time.Now()

	if err := sess.Transition(StatePropose); err != nil {
		return fail(sess, err)
	}

	for {
		proposer, err := e.selectProposer(sess)
		if err != nil {
			return fail(sess, err)
		}
		emit(Event{Type: "phase_start", Phase: "PROPOSE", Model: proposer.Ref(), Round: sess.CurrentRound})
		if err := e.runPropose(ctx, sess, proposer); err != nil {
			return fail(sess, err)
		}
		emit(Event{Type: "phase_complete", Phase: "PROPOSE", Content: sess.Proposal})

		if err := sess.Transition(StateChallenge); err != nil {
			return fail(sess, err)
		}
		challengers, err := e.selectChallengers(sess.ProposalModel)
		if err != nil {
			return fail(sess, err)
		}
		refs := make([]string, len(challengers))
		for i, m := range challengers {
			refs[i] = m.Ref()
		}
		emit(Event{Type: "phase_start", Phase: "CHALLENGE", Models: refs, Round: sess.CurrentRound})
		if err := e.runChallenge(ctx, sess, challengers); err != nil {
			return fail(sess, err)
		}
		for _, c := range sess.Challenges {
			emit(Event{Type: "challenge", Model: c.ModelRef, Content: c.Content})
		}
		emit(Event{Type: "phase_complete", Phase: "CHALLENGE"})

		if err := sess.Transition(StateRevise); err != nil {
			return fail(sess, err)
		}
		emit(Event{Type: "phase_start", Phase: "REVISE", Model: sess.ProposalModel, Round: sess.CurrentRound})
		if err := e.runRevise(ctx, sess); err != nil {
			return fail(sess, err)
		}
		emit(Event{Type: "phase_complete", Phase: "REVISE", Content: sess.Revision})

		if err := sess.Transition(StateCommit); err != nil {
			return fail(sess, err)
		}
		e.runCommit(ctx, sess)
		emit(Event{Type: "commit", Confidence: sess.Confidence, Dissent: sess.Dissent, Round: sess.CurrentRound})

		if sess.Converged || sess.CurrentRound >= sess.MaxRounds {
			if err := sess.Transition(StateComplete); err != nil {
				return fail(sess, err)
			}
			break
		}
		if err := sess.Transition(StatePropose); err != nil {
			return fail(sess, err)
		}
	}

	result := &Result{
		Decision:   sess.Decision,
		Confidence: sess.Confidence,
		Rigor:      sess.Rigor,
		Dissent:    sess.Dissent,
		Cost:       e.mgr.TotalCost() - startCost,
		Rounds:     len(sess.RoundHistory),
		Session:    sess,
	}
	emit(Event{Type: "complete", Decision: result.Decision, Confidence: result.Confidence, Dissent: result.Dissent, Cost: result.Cost})
	slog.Info("consensus complete",
		slog.String("thread_id", threadID),
		slog.Int("rounds", result.Rounds),
		slog.Float64("confidence", result.Confidence),
		slog.Float64("cost_usd", result.Cost),
		slog.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

// Manager exposes the underlying provider manager to collaborators that need
// model listings or direct sends (voting, decomposition).
func (e *Engine) Manager() *manager.Manager { return e.mgr }
