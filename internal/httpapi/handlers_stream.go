package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jordanhubbard/quorum/internal/consensus"
	temporalpkg "github.com/jordanhubbard/quorum/internal/temporal"
)

// ConsensusStreamHandler runs a session with phase events streamed to the
// client as Server-Sent Events. The terminal frame is either complete or
// error; the session is persisted the same way as the non-streaming path.
func ConsensusStreamHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			jsonError(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

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

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Thread-ID", threadID)
		w.WriteHeader(http.StatusOK)

		sink := func(ev consensus.Event) {
			data, _ := json.Marshal(ev)
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}

		acts := d.activities()
		ctx := requestContext(r, threadID)
		out, err := acts.RunConsensusWithSink(ctx, input, sink)
		finishLocal(acts, ctx, "consensus", input.ThreadID, input.Question, input.APIKeyID, out, err)
		// The engine already emitted the terminal error event; nothing more
		// to write on the wire here.
	}
}
