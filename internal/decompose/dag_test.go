package decompose

import (
	"strings"
	"testing"

	"github.com/jordanhubbard/quorum/internal/providers"
)

func specsOf(pairs ...[2]string) []SubtaskSpec {
	var specs []SubtaskSpec
	for _, p := range pairs {
		spec := SubtaskSpec{Label: p[0], Description: "task " + p[0]}
		if p[1] != "" {
			spec.Dependencies = strings.Split(p[1], ",")
		}
		specs = append(specs, spec)
	}
	return specs
}

func TestValidateAcceptsChain(t *testing.T) {
	specs := specsOf([2]string{"a", ""}, [2]string{"b", "a"}, [2]string{"c", "b"})
	if err := Validate(specs, 7); err != nil {
		t.Fatal(err)
	}
}

func TestValidateRejectsCycle(t *testing.T) {
	specs := specsOf([2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"c", "a"})
	err := Validate(specs, 7)
	if providers.KindOf(err) != providers.KindConsensus {
		t.Fatalf("kind = %v, want KindConsensus", providers.KindOf(err))
	}
}

func TestValidateRejectsPartialCycle(t *testing.T) {
	// A root exists, but b and c deadlock each other.
	specs := specsOf([2]string{"a", ""}, [2]string{"b", "c"}, [2]string{"c", "b"})
	err := Validate(specs, 7)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("err = %v, want cycle detection", err)
	}
}

func TestValidateRejectsSelfDependency(t *testing.T) {
	specs := specsOf([2]string{"a", ""}, [2]string{"b", "b"})
	if err := Validate(specs, 7); err == nil {
		t.Fatal("expected self-dependency rejection")
	}
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	specs := specsOf([2]string{"a", ""}, [2]string{"b", "ghost"})
	if err := Validate(specs, 7); err == nil {
		t.Fatal("expected unknown-dependency rejection")
	}
}

func TestValidateRejectsDuplicateLabel(t *testing.T) {
	specs := specsOf([2]string{"a", ""}, [2]string{"a", ""})
	if err := Validate(specs, 7); err == nil {
		t.Fatal("expected duplicate-label rejection")
	}
}

func TestValidateRejectsEmptyLabel(t *testing.T) {
	specs := []SubtaskSpec{{Label: "a"}, {Label: ""}}
	if err := Validate(specs, 7); err == nil {
		t.Fatal("expected empty-label rejection")
	}
}

func TestValidateCountBounds(t *testing.T) {
	if err := Validate(specsOf([2]string{"a", ""}), 7); err == nil {
		t.Error("expected rejection below 2 subtasks")
	}
	var pairs [][2]string
	for _, l := range []string{"a", "b", "c", "d"} {
		pairs = append(pairs, [2]string{l, ""})
	}
	if err := Validate(specsOf(pairs...), 3); err == nil {
		t.Error("expected rejection above max subtasks")
	}
}

func TestParseSubtasks(t *testing.T) {
	content := "```json\n" + `{"subtasks": [
		{"label": " a ", "description": "first", "dependencies": []},
		{"label": "b", "description": "second", "dependencies": ["a"]}
	]}` + "\n```"
	specs, err := ParseSubtasks(content)
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 2 {
		t.Fatalf("specs = %d, want 2", len(specs))
	}
	if specs[0].Label != "a" {
		t.Errorf("label = %q, want trimmed %q", specs[0].Label, "a")
	}
	if len(specs[1].Dependencies) != 1 || specs[1].Dependencies[0] != "a" {
		t.Errorf("dependencies = %v", specs[1].Dependencies)
	}
}

func TestParseSubtasksRejectsShapes(t *testing.T) {
	bad := []string{
		`{"tasks": []}`,
		`{"subtasks": ["just a string"]}`,
		`{"subtasks": [{"label": "a", "dependencies": "not-an-array"}]}`,
		`{"subtasks": [{"label": "a", "dependencies": [42]}]}`,
		`no json here at all`,
	}
	for _, content := range bad {
		if _, err := ParseSubtasks(content); err == nil {
			t.Errorf("expected rejection for %q", content)
		}
	}
}
