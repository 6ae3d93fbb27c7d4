// Package decompose splits a complex question into a DAG of subtasks, runs a
// mini-consensus per subtask respecting dependencies, and synthesizes the
// results with the strongest model.
package decompose

import (
	"context"
	"fmt"
	"strings"

	"github.com/jordanhubbard/quorum/internal/consensus"
	"github.com/jordanhubbard/quorum/internal/jsonextract"
	"github.com/jordanhubbard/quorum/internal/manager"
	"github.com/jordanhubbard/quorum/internal/providers"
)

// SubtaskSpec is one node of the decomposition DAG.
type SubtaskSpec struct {
	Label        string   `json:"label"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies"`
}

const decomposePrompt = `Break the question below into between 2 and %d subtasks. Respond with only a JSON object:
{"subtasks": [{"label": short unique identifier, "description": what to answer, "dependencies": [labels this subtask needs first]}]}

Keep the graph shallow; only add a dependency when a subtask genuinely needs another's answer.

Question:
%s`

// Decompose asks the cheapest eligible model to split the question and
// projects the reply into validated subtask specs.
func Decompose(ctx context.Context, mgr *manager.Manager, question string, maxSubtasks int) ([]SubtaskSpec, error) {
	model, ok := consensus.CheapestModel(mgr.ListAllModels())
	if !ok {
		return nil, providers.NewError(providers.KindInsufficientModels, "no model available for decomposition")
	}

	resp, err := mgr.Send(ctx, model.Ref(), []providers.Message{
		{Role: providers.RoleUser, Content: fmt.Sprintf(decomposePrompt, maxSubtasks, question)},
	}, providers.SendOptions{ResponseFormat: providers.FormatJSON})
	if err != nil {
		return nil, err
	}

	specs, err := ParseSubtasks(resp.Content)
	if err != nil {
		return nil, providers.NewError(providers.KindConsensus, "decomposer returned unusable output: %v", err)
	}
	// A single subtask is not a decomposition; the caller falls back to
	// plain consensus instead of failing validation.
	if len(specs) <= 1 {
		return specs, nil
	}
	if err := Validate(specs, maxSubtasks); err != nil {
		return nil, err
	}
	return specs, nil
}

// ParseSubtasks extracts the subtask array from model output. Each element
// must be a mapping with string label and description; missing dependency
// arrays default to empty, anything else is rejected.
func ParseSubtasks(content string) ([]SubtaskSpec, error) {
	obj, err := jsonextract.Object(content)
	if err != nil {
		return nil, err
	}
	raw, ok := obj["subtasks"].([]any)
	if !ok {
		return nil, fmt.Errorf("missing subtasks array")
	}

	specs := make([]SubtaskSpec, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("subtask %d is not an object", i)
		}
		label, _ := m["label"].(string)
		desc, _ := m["description"].(string)
		spec := SubtaskSpec{Label: strings.TrimSpace(label), Description: desc}
		if deps, present := m["dependencies"]; present && deps != nil {
			list, ok := deps.([]any)
			if !ok {
				return nil, fmt.Errorf("subtask %q dependencies is not an array", spec.Label)
			}
			for _, d := range list {
				s, ok := d.(string)
				if !ok {
					return nil, fmt.Errorf("subtask %q has a non-string dependency", spec.Label)
				}
				spec.Dependencies = append(spec.Dependencies, strings.TrimSpace(s))
			}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
