package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/jordanhubbard/quorum/internal/providers"
)

// jsonError writes a JSON-encoded error response with the given status code.
// Response body format: {"error": "<msg>"}
func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// warnOnErr logs a warning if a background store operation fails. Audit and
// usage logs should not block the response but their failures must be visible.
func warnOnErr(op string, err error) {
	if err != nil {
		slog.Warn("store operation failed", slog.String("op", op), slog.String("error", err.Error()))
	}
}

// statusFor maps a protocol error to an HTTP status code. Provider outages
// are 503 (try again), deliberation failures are 502 (the panel itself
// failed), cost exhaustion is 402, and caller mistakes are 4xx.
func statusFor(err error) int {
	switch providers.KindOf(err) {
	case providers.KindCostLimitExceeded:
		return http.StatusPaymentRequired
	case providers.KindConsensus:
		return http.StatusBadGateway
	case providers.KindConfig, providers.KindModelNotFound:
		return http.StatusBadRequest
	case providers.KindInsufficientModels:
		return http.StatusUnprocessableEntity
	case providers.KindProviderAuth, providers.KindProviderRateLimit,
		providers.KindProviderTimeout, providers.KindProviderOverload:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// protocolError writes the mapped status for a failed session. Cost-limit
// rejections include the running spend so callers can see how far over they are.
func protocolError(w http.ResponseWriter, d Dependencies, err error) {
	code := statusFor(err)
	if code == http.StatusPaymentRequired {
		mgr := d.Engine.Manager()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":          err.Error(),
			"total_usd":      mgr.TotalCost(),
			"hard_limit_usd": mgr.HardLimit(),
		})
		return
	}
	jsonError(w, err.Error(), code)
}
