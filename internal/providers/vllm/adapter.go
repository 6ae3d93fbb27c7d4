// Package vllm adapts self-hosted vLLM endpoints, which expose an
// OpenAI-compatible chat API without authentication. Models served here are
// marked local and carry zero per-token cost.
package vllm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jordanhubbard/quorum/internal/providers"
	"github.com/jordanhubbard/quorum/internal/providers/openai"
)

// Adapter implements providers.Provider for a vLLM endpoint. Chat calls are
// delegated to an embedded OpenAI adapter pointed at the local base URL;
// the model catalog is discovered from the endpoint instead of being static.
type Adapter struct {
	id      string
	baseURL string
	client  *http.Client
	inner   *openai.Adapter

	models []providers.ModelInfo
}

// New creates a vLLM adapter for the given endpoint.
func New(id, baseURL string, opts ...Option) *Adapter {
	a := &Adapter{
		id:      id,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	a.inner = openai.New(id, "", baseURL, openai.WithTimeout(a.client.Timeout), openai.WithModels(a.models))
	return a
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		a.client.Timeout = d
	}
}

// WithModels pins the model catalog instead of discovering it at startup.
func WithModels(models []providers.ModelInfo) Option {
	return func(a *Adapter) {
		a.models = models
	}
}

func (a *Adapter) ID() string { return a.id }

// ListModels returns the pinned catalog, or discovers the served models from
// the endpoint on first call. Discovery failures yield an empty catalog; the
// manager treats such an adapter as contributing no models.
func (a *Adapter) ListModels() []providers.ModelInfo {
	if len(a.models) > 0 {
		out := make([]providers.ModelInfo, len(a.models))
		copy(out, a.models)
		return out
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	body, err := providers.DoGet(ctx, a.client, a.baseURL+"/v1/models", nil)
	if err != nil {
		return nil
	}
	var parsed struct {
		Data []struct {
			ID         string `json:"id"`
			MaxModelLen int   `json:"max_model_len"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil
	}
	for _, m := range parsed.Data {
		ctxWindow := m.MaxModelLen
		if ctxWindow == 0 {
			ctxWindow = 8192
		}
		a.models = append(a.models, providers.ModelInfo{
			ProviderID:  a.id,
			ModelID:     m.ID,
			DisplayName: fmt.Sprintf("%s (local)", m.ID),
			Capabilities: providers.Capabilities{
				SupportsJSON: true, SupportsStreaming: true,
			},
			ContextWindow:    ctxWindow,
			MaxOutputTokens:  4096,
			IsLocal:          true,
			ProposerEligible: true,
		})
	}
	return a.models
}

func (a *Adapter) HealthCheck(ctx context.Context) bool {
	_, err := providers.DoGet(ctx, a.client, a.baseURL+"/v1/models", nil)
	return err == nil
}

func (a *Adapter) Send(ctx context.Context, messages []providers.Message, modelID string, opts providers.SendOptions) (*providers.ModelResponse, error) {
	resp, err := a.inner.Send(ctx, messages, modelID, opts)
	if err != nil {
		return nil, err
	}
	resp.ModelInfo = a.modelInfo(modelID)
	return resp, nil
}

func (a *Adapter) Stream(ctx context.Context, messages []providers.Message, modelID string, opts providers.SendOptions) (<-chan providers.StreamChunk, error) {
	return a.inner.Stream(ctx, messages, modelID, opts)
}

func (a *Adapter) modelInfo(modelID string) providers.ModelInfo {
	for _, m := range a.models {
		if m.ModelID == modelID {
			return m
		}
	}
	return providers.ModelInfo{ProviderID: a.id, ModelID: modelID, IsLocal: true, ProposerEligible: true}
}
