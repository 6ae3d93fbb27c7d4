package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.temporal.io/sdk/client"

	"github.com/jordanhubbard/quorum/internal/apikey"
	"github.com/jordanhubbard/quorum/internal/providers"
	"github.com/jordanhubbard/quorum/internal/store"
	temporalpkg "github.com/jordanhubbard/quorum/internal/temporal"
)

// ConsensusRequest is the JSON body for /v1/consensus and /v1/consensus/stream.
type ConsensusRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
	Question string `json:"question"`
}

// VoteRequest is the JSON body for /v1/vote.
type VoteRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
	Question string `json:"question"`
	Strategy string `json:"strategy,omitempty"` // majority (default) or weighted
}

// DecomposeRequest is the JSON body for /v1/decompose.
type DecomposeRequest struct {
	ThreadID    string `json:"thread_id,omitempty"`
	Question    string `json:"question"`
	MaxSubtasks int    `json:"max_subtasks,omitempty"`
	Parallel    *bool  `json:"parallel,omitempty"` // default true
	Strategy    string `json:"strategy,omitempty"` // merge (default) or prioritize
}

// SessionResponse is the JSON body returned by the protocol endpoints.
type SessionResponse struct {
	ThreadID   string  `json:"thread_id"`
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Rigor      float64 `json:"rigor,omitempty"`
	Dissent    string  `json:"dissent,omitempty"`
	CostUSD    float64 `json:"cost_usd"`
	Rounds     int     `json:"rounds"`
}

func (d Dependencies) activities() *temporalpkg.Activities {
	return &temporalpkg.Activities{
		Engine:  d.Engine,
		Store:   d.Store,
		Bus:     d.EventBus,
		Metrics: d.Metrics,
		Stats:   d.Stats,
		Budget:  d.Budget,
	}
}

// requestContext stamps the request and thread IDs for provider tracing.
func requestContext(r *http.Request, threadID string) context.Context {
	ctx := providers.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
	return providers.WithThreadID(ctx, threadID)
}

func callerKeyID(r *http.Request) string {
	if rec := apikey.FromContext(r.Context()); rec != nil {
		return rec.ID
	}
	return ""
}

func orNewThreadID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}

func writeSession(w http.ResponseWriter, threadID string, out temporalpkg.SessionOutput) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(SessionResponse{
		ThreadID:   threadID,
		Decision:   out.Decision,
		Confidence: out.Confidence,
		Rigor:      out.Rigor,
		Dissent:    out.Dissent,
		CostUSD:    out.CostUSD,
		Rounds:     out.Rounds,
	})
}

func ConsensusHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConsensusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Question == "" {
			jsonError(w, "question required", http.StatusUnprocessableEntity)
			return
		}

		threadID := orNewThreadID(req.ThreadID)
		input := temporalpkg.ConsensusInput{
			ThreadID: threadID,
			APIKeyID: callerKeyID(r),
			Question: req.Question,
		}

		if d.TemporalClient != nil {
			var out temporalpkg.SessionOutput
			run, err := d.TemporalClient.ExecuteWorkflow(r.Context(), client.StartWorkflowOptions{
				ID:        "consensus-" + threadID,
				TaskQueue: d.TemporalTaskQueue,
			}, temporalpkg.ConsensusWorkflow, input)
			if err != nil {
				jsonError(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			if err := run.Get(r.Context(), &out); err != nil {
				protocolError(w, d, err)
				return
			}
			writeSession(w, threadID, out)
			return
		}

		acts := d.activities()
		ctx := requestContext(r, threadID)
		out, err := acts.RunConsensus(ctx, input)
		finishLocal(acts, ctx, "consensus", input.ThreadID, input.Question, input.APIKeyID, out, err)
		if err != nil {
			protocolError(w, d, err)
			return
		}
		writeSession(w, threadID, out)
	}
}

func VoteHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Question == "" {
			jsonError(w, "question required", http.StatusUnprocessableEntity)
			return
		}
		if req.Strategy == "" {
			req.Strategy = "majority"
		}

		threadID := orNewThreadID(req.ThreadID)
		input := temporalpkg.VoteInput{
			ThreadID: threadID,
			APIKeyID: callerKeyID(r),
			Question: req.Question,
			Strategy: req.Strategy,
		}

		if d.TemporalClient != nil {
			var out temporalpkg.SessionOutput
			run, err := d.TemporalClient.ExecuteWorkflow(r.Context(), client.StartWorkflowOptions{
				ID:        "vote-" + threadID,
				TaskQueue: d.TemporalTaskQueue,
			}, temporalpkg.VoteWorkflow, input)
			if err != nil {
				jsonError(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			if err := run.Get(r.Context(), &out); err != nil {
				protocolError(w, d, err)
				return
			}
			writeSession(w, threadID, out)
			return
		}

		acts := d.activities()
		ctx := requestContext(r, threadID)
		out, err := acts.RunVote(ctx, input)
		finishLocal(acts, ctx, "voting", input.ThreadID, input.Question, input.APIKeyID, out, err)
		if err != nil {
			protocolError(w, d, err)
			return
		}
		writeSession(w, threadID, out)
	}
}

func DecomposeHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DecomposeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Question == "" {
			jsonError(w, "question required", http.StatusUnprocessableEntity)
			return
		}
		parallel := true
		if req.Parallel != nil {
			parallel = *req.Parallel
		}
		if req.Strategy == "" {
			req.Strategy = "merge"
		}

		threadID := orNewThreadID(req.ThreadID)
		input := temporalpkg.DecomposeInput{
			ThreadID:    threadID,
			APIKeyID:    callerKeyID(r),
			Question:    req.Question,
			MaxSubtasks: req.MaxSubtasks,
			Parallel:    parallel,
			Strategy:    req.Strategy,
		}

		if d.TemporalClient != nil {
			var out temporalpkg.SessionOutput
			run, err := d.TemporalClient.ExecuteWorkflow(r.Context(), client.StartWorkflowOptions{
				ID:        "decompose-" + threadID,
				TaskQueue: d.TemporalTaskQueue,
			}, temporalpkg.DecomposeWorkflow, input)
			if err != nil {
				jsonError(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			if err := run.Get(r.Context(), &out); err != nil {
				protocolError(w, d, err)
				return
			}
			writeSession(w, threadID, out)
			return
		}

		acts := d.activities()
		ctx := requestContext(r, threadID)
		out, err := acts.RunDecompose(ctx, input)
		finishLocal(acts, ctx, "decompose", input.ThreadID, input.Question, input.APIKeyID, out, err)
		if err != nil {
			protocolError(w, d, err)
			return
		}
		writeSession(w, threadID, out)
	}
}

// finishLocal persists and charges a session when Temporal is not in play.
// Mirrors the persistence bookend of the durable workflow path.
func finishLocal(acts *temporalpkg.Activities, ctx context.Context, protocol, threadID, question, apiKeyID string, out temporalpkg.SessionOutput, runErr error) {
	if runErr != nil {
		warnOnErr("save_session", acts.PersistSession(ctx, temporalpkg.PersistInput{
			Record: store.SessionRecord{
				ThreadID: threadID,
				Question: question,
				Protocol: protocol,
				State:    "FAILED",
				ErrorMsg: runErr.Error(),
			},
		}))
		return
	}
	warnOnErr("save_session", acts.PersistSession(ctx, temporalpkg.PersistInput{
		Record: out.Record,
		Rounds: out.RoundRecords,
	}))
	if apiKeyID != "" && out.CostUSD > 0 {
		warnOnErr("charge_budget", acts.ChargeBudget(ctx, temporalpkg.ChargeInput{
			APIKeyID: apiKeyID,
			CostUSD:  out.CostUSD,
		}))
	}
}
