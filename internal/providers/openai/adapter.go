package openai

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

// Adapter implements providers.Provider for OpenAI-style chat completions.
type Adapter struct {
	id      string
	apiKey  string
	baseURL string
	client  *http.Client
	models  []providers.ModelInfo
}

// New creates an OpenAI adapter.
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
			ProviderID: id, ModelID: "gpt-5", DisplayName: "GPT-5",
			Capabilities: caps, ContextWindow: 272000, MaxOutputTokens: 128000,
			InputCostPerMTok: 1.25, OutputCostPerMTok: 10.0, ProposerEligible: true,
		},
		{
			ProviderID: id, ModelID: "gpt-5-mini", DisplayName: "GPT-5 Mini",
			Capabilities: caps, ContextWindow: 272000, MaxOutputTokens: 128000,
			InputCostPerMTok: 0.25, OutputCostPerMTok: 2.0, ProposerEligible: true,
		},
		{
			// Search-grounded variant: answers lean agreeable, so it is
			// kept out of the proposer rotation.
			ProviderID: id, ModelID: "gpt-5-search", DisplayName: "GPT-5 Search",
			Capabilities: providers.Capabilities{SupportsJSON: true, SupportsStreaming: true},
			ContextWindow: 128000, MaxOutputTokens: 16000,
			InputCostPerMTok: 2.5, OutputCostPerMTok: 10.0, ProposerEligible: false,
		},
	}
}

func (a *Adapter) ID() string { return a.id }

func (a *Adapter) ListModels() []providers.ModelInfo {
	out := make([]providers.ModelInfo, len(a.models))
	copy(out, a.models)
	return out
}

// HealthCheck lists models with auth; a 200 means the backend is reachable
// and the key is valid.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	_, err := providers.DoGet(ctx, a.client, a.baseURL+"/v1/models", a.authHeaders())
	return err == nil
}

func (a *Adapter) Send(ctx context.Context, messages []providers.Message, modelID string, opts providers.SendOptions) (*providers.ModelResponse, error) {
	payload := a.buildPayload(messages, modelID, opts, false)

	start := time.Now()
	body, err := providers.DoRequest(ctx, a.client, a.baseURL+"/v1/chat/completions", payload, a.authHeaders())
	if err != nil {
		return nil, providers.MapStatus(a.id, err)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse openai response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, providers.NewError(providers.KindProviderOverload, "empty choices from %s", a.id)
	}

	choice := parsed.Choices[0]
	resp := &providers.ModelResponse{
		Content:      choice.Message.Content,
		ModelInfo:    a.modelInfo(modelID),
		FinishReason: choice.FinishReason,
		LatencyMs:    time.Since(start).Milliseconds(),
		Usage: providers.TokenUsage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		var input map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		resp.ToolCalls = append(resp.ToolCalls, providers.ToolCall{
			ID: tc.ID, Name: tc.Function.Name, Input: input,
		})
	}
	return resp, nil
}

// Stream opens an SSE stream; deltas arrive as chat.completion.chunk objects
// terminated by a "[DONE]" sentinel.
func (a *Adapter) Stream(ctx context.Context, messages []providers.Message, modelID string, opts providers.SendOptions) (<-chan providers.StreamChunk, error) {
	payload := a.buildPayload(messages, modelID, opts, true)
	payload["stream_options"] = map[string]any{"include_usage": true}

	body, err := providers.DoStreamRequest(ctx, a.client, a.baseURL+"/v1/chat/completions", payload, a.authHeaders())
	if err != nil {
		return nil, providers.MapStatus(a.id, err)
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
			if data == "[DONE]" {
				out <- providers.StreamChunk{IsFinal: true, Usage: usage}
				return
			}
			var ev struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
				} `json:"choices"`
				Usage *struct {
					PromptTokens     int `json:"prompt_tokens"`
					CompletionTokens int `json:"completion_tokens"`
				} `json:"usage"`
			}
			if json.Unmarshal([]byte(data), &ev) != nil {
				continue
			}
			if ev.Usage != nil {
				usage.InputTokens = ev.Usage.PromptTokens
				usage.OutputTokens = ev.Usage.CompletionTokens
			}
			if len(ev.Choices) > 0 && ev.Choices[0].Delta.Content != "" {
				select {
				case out <- providers.StreamChunk{Text: ev.Choices[0].Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}
		out <- providers.StreamChunk{IsFinal: true, Usage: usage, Err: scanner.Err()}
	}()
	return out, nil
}

func (a *Adapter) buildPayload(messages []providers.Message, modelID string, opts providers.SendOptions, stream bool) map[string]any {
	chat := make([]map[string]string, len(messages))
	for i, msg := range messages {
		chat[i] = map[string]string{"role": msg.Role, "content": msg.Content}
	}
	payload := map[string]any{
		"model":    modelID,
		"messages": chat,
	}
	if opts.MaxTokens > 0 {
		payload["max_tokens"] = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		payload["temperature"] = opts.Temperature
	}
	if len(opts.StopSequences) > 0 {
		payload["stop"] = opts.StopSequences
	}
	if opts.ResponseFormat == providers.FormatJSON {
		payload["response_format"] = map[string]string{"type": "json_object"}
	}
	if len(opts.Tools) > 0 {
		tools := make([]map[string]any, len(opts.Tools))
		for i, t := range opts.Tools {
			tools[i] = map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.InputSchema,
				},
			}
		}
		payload["tools"] = tools
	}
	if stream {
		payload["stream"] = true
	}
	return payload
}

func (a *Adapter) authHeaders() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + a.apiKey,
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
