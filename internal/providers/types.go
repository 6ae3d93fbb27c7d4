package providers

import (
	"fmt"
	"strings"
)

// Role values for prompt messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single prompt message in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Capabilities is the fixed capability set a model advertises.
type Capabilities struct {
	SupportsTools     bool `json:"supports_tools"`
	SupportsJSON      bool `json:"supports_json"`
	SupportsStreaming bool `json:"supports_streaming"`
}

// ModelInfo describes one model served by a provider. Produced once at
// registration and never mutated afterwards.
type ModelInfo struct {
	ProviderID       string       `json:"provider_id"`
	ModelID          string       `json:"model_id"`
	DisplayName      string       `json:"display_name"`
	Capabilities     Capabilities `json:"capabilities"`
	ContextWindow    int          `json:"context_window"`
	MaxOutputTokens  int          `json:"max_output_tokens"`
	InputCostPerMTok float64      `json:"input_cost_per_mtok"`
	OutputCostPerMTok float64     `json:"output_cost_per_mtok"`
	IsLocal          bool         `json:"is_local"`
	ProposerEligible bool         `json:"proposer_eligible"`
}

// Ref returns the canonical model reference "provider_id:model_id" used for
// routing throughout the system.
func (m ModelInfo) Ref() string {
	return m.ProviderID + ":" + m.ModelID
}

// SplitRef splits a model_ref into provider_id and model_id. Model IDs may
// themselves contain colons (vendor version tags), so only the first colon
// separates.
func SplitRef(ref string) (providerID, modelID string, err error) {
	providerID, modelID, ok := strings.Cut(ref, ":")
	if !ok || providerID == "" || modelID == "" {
		return "", "", fmt.Errorf("malformed model_ref %q", ref)
	}
	return providerID, modelID, nil
}

// TokenUsage is the token accounting for a single provider call.
type TokenUsage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
}

// Add returns the element-wise sum of two usages.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:      u.InputTokens + o.InputTokens,
		OutputTokens:     u.OutputTokens + o.OutputTokens,
		CacheReadTokens:  u.CacheReadTokens + o.CacheReadTokens,
		CacheWriteTokens: u.CacheWriteTokens + o.CacheWriteTokens,
	}
}

// ResponseFormat selects the output shape requested from a model.
type ResponseFormat string

const (
	FormatPlain ResponseFormat = "plain"
	FormatJSON  ResponseFormat = "json"
)

// ToolSchema describes a tool exposed to a model for tool-augmented calls.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCall is a tool invocation requested by a model.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// SendOptions carries per-call generation options.
type SendOptions struct {
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Temperature    float64        `json:"temperature,omitempty"`
	StopSequences  []string       `json:"stop_sequences,omitempty"`
	ResponseFormat ResponseFormat `json:"response_format,omitempty"`
	Tools          []ToolSchema   `json:"tools,omitempty"`
}

// ModelResponse is the unified result of a blocking Send call.
type ModelResponse struct {
	Content      string     `json:"content"`
	ModelInfo    ModelInfo  `json:"model_info"`
	Usage        TokenUsage `json:"usage"`
	FinishReason string     `json:"finish_reason"`
	LatencyMs    int64      `json:"latency_ms"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
}

// StreamChunk is one element of a streamed response. The final chunk carries
// IsFinal=true and a populated Usage.
type StreamChunk struct {
	Text    string     `json:"text"`
	IsFinal bool       `json:"is_final"`
	Usage   TokenUsage `json:"usage,omitempty"`
	Err     error      `json:"-"`
}
