package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// ModelsHandler handles GET /v1/models — the panel roster with pricing and
// capability metadata.
func ModelsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models := d.Engine.Manager().ListAllModels()
		sort.Slice(models, func(i, j int) bool {
			return models[i].Ref() < models[j].Ref()
		})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"models": models,
			"count":  len(models),
		})
	}
}

// SessionsListHandler handles GET /v1/sessions?limit=N&offset=N — archived
// session summaries, newest first.
func SessionsListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			_ = json.NewEncoder(w).Encode(map[string]any{"sessions": []any{}})
			return
		}
		limit, offset := parsePagination(r)
		sessions, err := d.Store.ListSessions(r.Context(), limit, offset)
		if err != nil {
			jsonError(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sessions": sessions,
			"count":    len(sessions),
			"limit":    limit,
			"offset":   offset,
		})
	}
}

// SessionGetHandler handles GET /v1/sessions/{threadID} — one session with its
// archived rounds.
func SessionGetHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			jsonError(w, "store not configured", http.StatusServiceUnavailable)
			return
		}
		threadID := chi.URLParam(r, "threadID")
		if threadID == "" {
			jsonError(w, "thread id required", http.StatusBadRequest)
			return
		}

		session, err := d.Store.GetSession(r.Context(), threadID)
		if err != nil {
			jsonError(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if session == nil {
			jsonError(w, "session not found", http.StatusNotFound)
			return
		}
		rounds, err := d.Store.ListRounds(r.Context(), threadID)
		if err != nil {
			jsonError(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"session": session,
			"rounds":  rounds,
		})
	}
}

func parseIntParam(v string) (int, error) {
	return strconv.Atoi(v)
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = 100
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := parseIntParam(v); err == nil && n > 0 {
			limit = n
			if limit > 1000 {
				limit = 1000
			}
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := parseIntParam(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
