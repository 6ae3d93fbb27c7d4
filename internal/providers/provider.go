package providers

import "context"

// Provider is the uniform surface every backend adapter implements. Adapters
// translate the provider-agnostic envelope into vendor API calls and map
// HTTP failures into the typed error taxonomy.
type Provider interface {
	// ID returns the stable unique provider identifier.
	ID() string

	// ListModels returns the full model set this adapter serves. The result
	// is deterministic within a session.
	ListModels() []ModelInfo

	// Send performs a blocking completion call against one model.
	Send(ctx context.Context, messages []Message, modelID string, opts SendOptions) (*ModelResponse, error)

	// Stream opens a streaming completion. The returned channel yields text
	// chunks; the final chunk has IsFinal=true and populated usage. The
	// channel is closed after the final chunk or an error chunk.
	Stream(ctx context.Context, messages []Message, modelID string, opts SendOptions) (<-chan StreamChunk, error)

	// HealthCheck probes reachability. It never returns an error; an
	// unreachable backend reports false.
	HealthCheck(ctx context.Context) bool
}
