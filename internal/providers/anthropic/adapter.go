package anthropic

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jordanhubbard/quorum/internal/providers"
)

// Adapter implements providers.Provider for the Anthropic Messages API.
type Adapter struct {
	id      string
	apiKey  string
	baseURL string
	client  *http.Client
	models  []providers.ModelInfo
}

// New creates an Anthropic adapter. Without WithModels the default catalog
// is served.
func New(id, apiKey, baseURL string, opts ...Option) *Adapter {
	a := &Adapter{
		id:      id,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	if len(a.models) == 0 {
		a.models = defaultCatalog(id)
	}
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

// WithModels replaces the default model catalog.
func WithModels(models []providers.ModelInfo) Option {
	return func(a *Adapter) {
		a.models = models
	}
}

func defaultCatalog(id string) []providers.ModelInfo {
	caps := providers.Capabilities{SupportsTools: true, SupportsJSON: true, SupportsStreaming: true}
	return []providers.ModelInfo{
		{
			ProviderID: id, ModelID: "claude-opus-4-1", DisplayName: "Claude Opus 4.1",
			Capabilities: caps, ContextWindow: 200000, MaxOutputTokens: 32000,
			InputCostPerMTok: 15.0, OutputCostPerMTok: 75.0, ProposerEligible: true,
		},
		{
			ProviderID: id, ModelID: "claude-sonnet-4-5", DisplayName: "Claude Sonnet 4.5",
			Capabilities: caps, ContextWindow: 200000, MaxOutputTokens: 64000,
			InputCostPerMTok: 3.0, OutputCostPerMTok: 15.0, ProposerEligible: true,
		},
		{
			ProviderID: id, ModelID: "claude-haiku-4-5", DisplayName: "Claude Haiku 4.5",
			Capabilities: caps, ContextWindow: 200000, MaxOutputTokens: 64000,
			InputCostPerMTok: 1.0, OutputCostPerMTok: 5.0, ProposerEligible: true,
		},
	}
}

func (a *Adapter) ID() string { return a.id }

func (a *Adapter) ListModels() []providers.ModelInfo {
	out := make([]providers.ModelInfo, len(a.models))
	copy(out, a.models)
	return out
}

// HealthCheck probes the messages endpoint. A GET returns 405 (Method Not
// Allowed), which proves reachability without spending tokens.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", a.baseURL+"/v1/messages", nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

func (a *Adapter) Send(ctx context.Context, messages []providers.Message, modelID string, opts providers.SendOptions) (*providers.ModelResponse, error) {
	payload := a.buildPayload(messages, modelID, opts, false)

	start := time.Now()
	body, err := providers.DoRequest(ctx, a.client, a.baseURL+"/v1/messages", payload, a.authHeaders())
	if err != nil {
		return nil, a.mapError(err)
	}

	var parsed struct {
		Content []struct {
			Type  string          `json:"type"`
			Text  string          `json:"text"`
			ID    string          `json:"id"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens              int `json:"input_tokens"`
			OutputTokens             int `json:"output_tokens"`
			CacheReadInputTokens     int `json:"cache_read_input_tokens"`
			CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse anthropic response: %w", err)
	}

	resp := &providers.ModelResponse{
		ModelInfo:    a.modelInfo(modelID),
		FinishReason: parsed.StopReason,
		LatencyMs:    time.Since(start).Milliseconds(),
		Usage: providers.TokenUsage{
			InputTokens:      parsed.Usage.InputTokens,
			OutputTokens:     parsed.Usage.OutputTokens,
			CacheReadTokens:  parsed.Usage.CacheReadInputTokens,
			CacheWriteTokens: parsed.Usage.CacheCreationInputTokens,
		},
	}
	var text strings.Builder
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			var input map[string]any
			_ = json.Unmarshal(block.Input, &input)
			resp.ToolCalls = append(resp.ToolCalls, providers.ToolCall{
				ID: block.ID, Name: block.Name, Input: input,
			})
		}
	}
	resp.Content = text.String()
	return resp, nil
}

// Stream opens an SSE stream and converts Anthropic events into chunks.
func (a *Adapter) Stream(ctx context.Context, messages []providers.Message, modelID string, opts providers.SendOptions) (<-chan providers.StreamChunk, error) {
	payload := a.buildPayload(messages, modelID, opts, true)

	body, err := providers.DoStreamRequest(ctx, a.client, a.baseURL+"/v1/messages", payload, a.authHeaders())
	if err != nil {
		return nil, a.mapError(err)
	}

	out := make(chan providers.StreamChunk, 16)
	go func() {
		defer close(out)
		defer func() { _ = body.Close() }()

		var usage providers.TokenUsage
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")

			var ev struct {
				Type  string `json:"type"`
				Delta struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"delta"`
				Message struct {
					Usage struct {
						InputTokens int `json:"input_tokens"`
					} `json:"usage"`
				} `json:"message"`
				Usage struct {
					OutputTokens int `json:"output_tokens"`
				} `json:"usage"`
			}
			if json.Unmarshal([]byte(data), &ev) != nil {
				continue
			}
			switch ev.Type {
			case "message_start":
				usage.InputTokens = ev.Message.Usage.InputTokens
			case "content_block_delta":
				if ev.Delta.Text != "" {
					select {
					case out <- providers.StreamChunk{Text: ev.Delta.Text}:
					case <-ctx.Done():
						return
					}
				}
			case "message_delta":
				if ev.Usage.OutputTokens > 0 {
					usage.OutputTokens = ev.Usage.OutputTokens
				}
			case "message_stop":
				out <- providers.StreamChunk{IsFinal: true, Usage: usage}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- providers.StreamChunk{Err: a.mapError(err), IsFinal: true, Usage: usage}
		} else {
			out <- providers.StreamChunk{IsFinal: true, Usage: usage}
		}
	}()
	return out, nil
}

func (a *Adapter) buildPayload(messages []providers.Message, modelID string, opts providers.SendOptions, stream bool) map[string]any {
	// Anthropic takes the system prompt as a top-level field.
	var system string
	chat := make([]map[string]string, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == providers.RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += msg.Content
			continue
		}
		chat = append(chat, map[string]string{"role": msg.Role, "content": msg.Content})
	}

	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	payload := map[string]any{
		"model":      modelID,
		"messages":   chat,
		"max_tokens": maxTokens,
	}
	if system != "" {
		payload["system"] = system
	}
	if opts.Temperature > 0 {
		payload["temperature"] = opts.Temperature
	}
	if len(opts.StopSequences) > 0 {
		payload["stop_sequences"] = opts.StopSequences
	}
	if len(opts.Tools) > 0 {
		tools := make([]map[string]any, len(opts.Tools))
		for i, t := range opts.Tools {
			tools[i] = map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": t.InputSchema,
			}
		}
		payload["tools"] = tools
	}
	if stream {
		payload["stream"] = true
	}
	return payload
}

func (a *Adapter) mapError(err error) error {
	mapped := providers.MapStatus(a.id, err)
	if pe, ok := providers.AsError(mapped); ok {
		if se, isStatus := err.(*providers.StatusError); isStatus {
			// Anthropic reports capacity pressure as 529.
			if se.StatusCode == 529 {
				pe.Kind = providers.KindProviderOverload
			}
			if strings.Contains(se.Body, "authentication_error") {
				pe.Kind = providers.KindProviderAuth
			}
		}
		return pe
	}
	return mapped
}

func (a *Adapter) authHeaders() map[string]string {
	return map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": "2023-06-01",
	}
}

func (a *Adapter) modelInfo(modelID string) providers.ModelInfo {
	for _, m := range a.models {
		if m.ModelID == modelID {
			return m
		}
	}
	return providers.ModelInfo{ProviderID: a.id, ModelID: modelID}
}
