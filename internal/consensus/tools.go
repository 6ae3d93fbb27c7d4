package consensus

import (
	"context"
	"fmt"

	"github.com/jordanhubbard/quorum/internal/providers"
)

// DefaultMaxToolRounds bounds the tool loop per send.
const DefaultMaxToolRounds = 5

// ToolRegistry executes model-requested tool calls. Execution errors are
// reported back to the model as tool results, not raised.
type ToolRegistry interface {
	Schemas() []providers.ToolSchema
	Execute(ctx context.Context, call providers.ToolCall) (string, error)
}

// send routes a phase call through the manager. When tools are enabled and a
// registry is attached, tool-call responses are executed and fed back as user
// messages until the model answers with text or the round budget runs out.
// Every invocation lands in the session's tool log.
func (e *Engine) send(ctx context.Context, sess *Session, modelRef string, messages []providers.Message) (*providers.ModelResponse, error) {
	opts := providers.SendOptions{}
	if !e.cfg.ToolsEnabled || e.tools == nil {
		return e.mgr.Send(ctx, modelRef, messages, opts)
	}
	opts.Tools = e.tools.Schemas()

	maxRounds := e.cfg.MaxToolRounds
	if maxRounds == 0 {
		maxRounds = DefaultMaxToolRounds
	}

	conversation := append([]providers.Message(nil), messages...)
	var resp *providers.ModelResponse
	for round := 0; round < maxRounds; round++ {
		var err error
		resp, err = e.mgr.Send(ctx, modelRef, conversation, opts)
		if err != nil {
			return nil, err
		}
		if len(resp.ToolCalls) == 0 {
			return resp, nil
		}

		if resp.Content != "" {
			conversation = append(conversation, providers.Message{Role: providers.RoleAssistant, Content: resp.Content})
		}
		for _, call := range resp.ToolCalls {
			result, execErr := e.tools.Execute(ctx, call)
			inv := ToolInvocation{Name: call.Name, Input: call.Input, Result: result}
			if execErr != nil {
				inv.Result = execErr.Error()
				inv.IsError = true
			}
			sess.ToolCallsLog = append(sess.ToolCallsLog, inv)
			conversation = append(conversation, providers.Message{
				Role:    providers.RoleUser,
				Content: fmt.Sprintf("Tool %s returned:\n%s", call.Name, inv.Result),
			})
		}
	}
	return resp, nil
}
