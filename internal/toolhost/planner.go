package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/adagate/pkg/types"
)

// PlannerToolName is the registry key of the builtin planning tool.
const PlannerToolName = "planner_create_plan"

// plannerArgs is the input schema of the planner tool.
type plannerArgs struct {
	Task  string   `json:"task"`
	Steps []string `json:"steps"`
}

// planStep is one entry of a produced plan.
type planStep struct {
	Number      int    `json:"number"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// plan is the planner tool's JSON output.
type plan struct {
	Task  string     `json:"task"`
	Steps []planStep `json:"steps"`
}

// PlannerTool returns the definition and handler of the builtin planning tool.
//
// The tool turns a task and an optional step list into a numbered,
// status-tagged plan. When no steps are supplied the task itself becomes the
// single step, so a caller that never decomposes still gets a valid plan.
func PlannerTool() (types.ToolDefinition, func(ctx context.Context, args string) (string, error)) {
	def := types.ToolDefinition{
		Name: PlannerToolName,
		Description: "Create a numbered execution plan for a task. " +
			"Pass the task and, optionally, an ordered list of step descriptions.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task": map[string]any{
					"type":        "string",
					"description": "The task to plan for.",
				},
				"steps": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Ordered step descriptions. Optional; defaults to the task as a single step.",
				},
			},
			"required": []any{"task"},
		},
	}
	return def, createPlan
}

// createPlan is the planner tool handler.
func createPlan(_ context.Context, args string) (string, error) {
	var in plannerArgs
	if args != "" {
		if err := json.Unmarshal([]byte(args), &in); err != nil {
			return "", fmt.Errorf("toolhost: planner args: %w", err)
		}
	}
	if strings.TrimSpace(in.Task) == "" {
		return "", fmt.Errorf("toolhost: planner requires a non-empty task")
	}

	steps := in.Steps
	if len(steps) == 0 {
		steps = []string{in.Task}
	}

	out := plan{Task: in.Task}
	for i, desc := range steps {
		desc = strings.TrimSpace(desc)
		if desc == "" {
			continue
		}
		out.Steps = append(out.Steps, planStep{
			Number:      i + 1,
			Description: desc,
			Status:      "pending",
		})
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("toolhost: encode plan: %w", err)
	}
	return string(data), nil
}
