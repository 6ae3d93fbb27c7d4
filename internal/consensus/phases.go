package consensus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jordanhubbard/quorum/internal/providers"
)

// DefaultChallengeTypes are the framings rotated across challengers.
var DefaultChallengeTypes = []string{"flaw", "alternative", "risk", "devils_advocate"}

var challengeInstructions = map[string]string{
	"flaw":            "Identify concrete flaws, errors, or gaps in the answer.",
	"alternative":     "Propose a materially different approach and argue for it.",
	"risk":            "Surface risks, failure modes, and hidden assumptions.",
	"devils_advocate": "Argue the strongest possible case against the answer.",
}

// panelModels returns the models participating in this session: the
// configured panel refs resolved against the registry, or every registered
// model when no panel is pinned. Ordering is stable.
func (e *Engine) panelModels() ([]providers.ModelInfo, error) {
	all := e.mgr.ListAllModels()
	if len(e.cfg.Panel) == 0 {
		return all, nil
	}
	byRef := make(map[string]providers.ModelInfo, len(all))
	for _, m := range all {
		byRef[m.Ref()] = m
	}
	panel := make([]providers.ModelInfo, 0, len(e.cfg.Panel))
	for _, ref := range e.cfg.Panel {
		m, ok := byRef[ref]
		if !ok {
			return nil, providers.NewError(providers.KindModelNotFound, "panel model %q not registered", ref)
		}
		panel = append(panel, m)
	}
	return panel, nil
}

// selectProposer rotates through proposer-eligible panel models, keyed by the
// number of archived rounds so the speaker changes every round.
func (e *Engine) selectProposer(sess *Session) (providers.ModelInfo, error) {
	panel, err := e.panelModels()
	if err != nil {
		return providers.ModelInfo{}, err
	}
	eligible := make([]providers.ModelInfo, 0, len(panel))
	for _, m := range panel {
		if m.ProposerEligible {
			eligible = append(eligible, m)
		}
	}
	if len(eligible) == 0 {
		return providers.ModelInfo{}, providers.NewError(providers.KindInsufficientModels,
			"no proposer-eligible models in panel of %d", len(panel))
	}
	return eligible[len(sess.RoundHistory)%len(eligible)], nil
}

// selectChallengers returns all panel models except the proposer, ordered to
// prefer provider diversity: one model per provider first, then the rest.
func (e *Engine) selectChallengers(proposerRef string) ([]providers.ModelInfo, error) {
	panel, err := e.panelModels()
	if err != nil {
		return nil, err
	}
	var candidates []providers.ModelInfo
	for _, m := range panel {
		if m.Ref() != proposerRef {
			candidates = append(candidates, m)
		}
	}
	minChallengers := e.cfg.MinChallengers
	if len(candidates) < minChallengers {
		return nil, providers.NewError(providers.KindInsufficientModels,
			"need %d challengers, only %d models available", minChallengers, len(candidates))
	}

	seen := make(map[string]bool)
	var diverse, rest []providers.ModelInfo
	for _, m := range candidates {
		if !seen[m.ProviderID] {
			seen[m.ProviderID] = true
			diverse = append(diverse, m)
		} else {
			rest = append(rest, m)
		}
	}
	ordered := append(diverse, rest...)
	if e.challengerCap > 0 && len(ordered) > e.challengerCap {
		ordered = ordered[:e.challengerCap]
	}
	return ordered, nil
}

// runPropose asks the proposer for an initial answer and stores it on the
// session.
func (e *Engine) runPropose(ctx context.Context, sess *Session, proposer providers.ModelInfo) error {
	messages := []providers.Message{
		{Role: providers.RoleSystem, Content: "You are one voice on a panel of independent experts. Answer directly and commit to a position."},
	}
	prompt := sess.Question
	if len(sess.RoundHistory) > 0 {
		last := sess.RoundHistory[len(sess.RoundHistory)-1]
		prompt = fmt.Sprintf("%s\n\nYour previous round concluded:\n%s\n\nRefine or restate your answer.", sess.Question, last.Decision)
	}
	messages = append(messages, providers.Message{Role: providers.RoleUser, Content: prompt})

	resp, err := e.send(ctx, sess, proposer.Ref(), messages)
	if err != nil {
		return err
	}
	sess.Proposal = resp.Content
	sess.ProposalModel = proposer.Ref()
	return nil
}

// runChallenge fans out all challenger calls concurrently and classifies each
// response. Individual failures shrink the challenge set; the phase fails
// only when every challenger fails.
func (e *Engine) runChallenge(ctx context.Context, sess *Session, challengers []providers.ModelInfo) error {
	types := e.cfg.ChallengeTypes
	if len(types) == 0 {
		types = DefaultChallengeTypes
	}

	results := make([]*ChallengeResult, len(challengers))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range challengers {
		framing := types[i%len(types)]
		g.Go(func() error {
			messages := []providers.Message{
				{Role: providers.RoleSystem, Content: "You are a critical reviewer on an expert panel. " + challengeInstructions[framing]},
				{Role: providers.RoleUser, Content: fmt.Sprintf("Question:\n%s\n\nProposed answer:\n%s\n\nChallenge it.", sess.Question, sess.Proposal)},
			}
			resp, err := e.send(gctx, sess, m.Ref(), messages)
			if err != nil {
				if providers.KindOf(err) == providers.KindCostLimitExceeded {
					return err
				}
				slog.Warn("challenger failed",
					slog.String("model", m.Ref()),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			results[i] = &ChallengeResult{
				ModelRef:    m.Ref(),
				Content:     resp.Content,
				Sycophantic: IsSycophantic(resp.Content),
				Framing:     framing,
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Selection order, not response order, so dissent reads stably.
	sess.Challenges = sess.Challenges[:0]
	for _, r := range results {
		if r != nil {
			sess.Challenges = append(sess.Challenges, *r)
		}
	}
	if len(sess.Challenges) == 0 {
		return providers.NewError(providers.KindConsensus, "all %d challengers failed", len(challengers))
	}
	return nil
}

// runRevise sends the proposal plus every challenge back to the proposer.
func (e *Engine) runRevise(ctx context.Context, sess *Session) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Question:\n%s\n\nYour answer:\n%s\n\nPanel challenges:\n", sess.Question, sess.Proposal)
	for _, c := range sess.Challenges {
		fmt.Fprintf(&b, "\n[%s] (%s):\n%s\n", c.ModelRef, c.Framing, c.Content)
	}
	b.WriteString("\nRevise your answer. Address the substantive challenges; hold your position where the challenges are weak.")

	messages := []providers.Message{
		{Role: providers.RoleSystem, Content: "You wrote the proposed answer and now respond to the panel's critique."},
		{Role: providers.RoleUser, Content: b.String()},
	}
	resp, err := e.send(ctx, sess, sess.ProposalModel, messages)
	if err != nil {
		return err
	}
	sess.Revision = resp.Content
	return nil
}

// runCommit finalizes the round: decision, convergence, rigor, confidence,
// and the dissent record built from non-sycophantic challenges.
func (e *Engine) runCommit(ctx context.Context, sess *Session) {
	sess.Decision = sess.Revision

	threshold := e.cfg.ConvergenceThreshold
	if threshold == 0 {
		threshold = DefaultConvergenceThreshold
	}
	if CheckConvergence(sess.Challenges, sess.PreviousChallenges(), threshold) {
		sess.Converged = true
	}

	sess.Rigor = RigorScore(sess.Challenges)

	if e.cfg.TaxonomyEnabled && sess.Taxonomy == nil {
		if tax, err := e.classifyTaxonomy(ctx, sess); err != nil {
			// Classification is best-effort; confidence falls back to the
			// default domain cap.
			slog.Warn("taxonomy classification failed", slog.String("error", err.Error()))
		} else {
			sess.Taxonomy = tax
		}
	}
	intent := ""
	if sess.Taxonomy != nil {
		intent = sess.Taxonomy.Intent
	}
	sess.Confidence = ConfidenceScore(intent, sess.Rigor)

	sess.Dissent = BuildDissent(sess.Challenges)
}

// BuildDissent concatenates every genuine challenge as "[model_ref]: content"
// blocks separated by blank lines. Empty when all challenges were
// sycophantic.
func BuildDissent(challenges []ChallengeResult) string {
	var parts []string
	for _, c := range challenges {
		if c.Sycophantic || c.Content == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s]: %s", c.ModelRef, c.Content))
	}
	return strings.Join(parts, "\n\n")
}

// CheapestModel returns the model with the lowest input cost, preferring
// proposer-eligible ones. Local zero-cost models sort first naturally.
func CheapestModel(models []providers.ModelInfo) (providers.ModelInfo, bool) {
	var best providers.ModelInfo
	found := false
	for _, m := range models {
		if !m.ProposerEligible {
			continue
		}
		if !found || m.InputCostPerMTok < best.InputCostPerMTok {
			best = m
			found = true
		}
	}
	return best, found
}

// StrongestModel returns the model with the highest output cost, the proxy
// used for capability ranking.
func StrongestModel(models []providers.ModelInfo) (providers.ModelInfo, bool) {
	var best providers.ModelInfo
	found := false
	for _, m := range models {
		if !found || m.OutputCostPerMTok > best.OutputCostPerMTok {
			best = m
			found = true
		}
	}
	return best, found
}
