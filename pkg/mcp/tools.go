package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/flowengine/internal/worker"
	"github.com/rendis/flowengine/pkg/schema"
)

// handleExecuteFlow begins a run.
func (s *Server) handleExecuteFlow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var fv schema.FlowVersion
	if err := decodeArgument(req, "flow_version", &fv); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	begin := &worker.BeginRunRequest{
		FlowVersion:    fv,
		RunID:          req.GetString("run_id", ""),
		ProjectID:      req.GetString("project_id", ""),
		TriggerPayload: mcp.ParseStringMap(req, "trigger_payload", nil),
		TimeoutSeconds: toInt(mcp.ParseArgument(req, "timeout_seconds", nil), 0),
	}

	resp, err := s.runs.BeginRun(ctx, begin)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("flow execution failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"run_id": begin.RunID, "result": resp})
}

// handleResumeFlow resumes a paused run. Without captured_steps the steps and
// task count of the stored response are used.
func (s *Server) handleResumeFlow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	var fv schema.FlowVersion
	if err := decodeArgument(req, "flow_version", &fv); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resume := &worker.ResumeRunRequest{
		BeginRunRequest: worker.BeginRunRequest{
			FlowVersion: fv,
			RunID:       runID,
			ProjectID:   req.GetString("project_id", ""),
		},
		ResumePayload: mcp.ParseStringMap(req, "resume_payload", nil),
	}

	if mcp.ParseArgument(req, "captured_steps", nil) != nil {
		if err := decodeArgument(req, "captured_steps", &resume.CapturedSteps); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		resume.Tasks = toInt(mcp.ParseArgument(req, "tasks", nil), 0)
	} else {
		run, statusErr := s.runs.RunStatus(ctx, runID)
		if statusErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("captured_steps not given and run lookup failed: %v", statusErr)), nil
		}
		if run.Response != nil {
			resume.CapturedSteps = run.Response.Steps
			resume.Tasks = run.Response.Tasks
		}
	}

	resp, err := s.runs.ResumeRun(ctx, resume)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resume failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"run_id": runID, "result": resp})
}

// handleResolveVariable previews an expression.
func (s *Server) handleResolveVariable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stepName, err := req.RequireString("step_name")
	if err != nil {
		return mcp.NewToolResultError("step_name is required"), nil
	}
	expression, err := req.RequireString("expression")
	if err != nil {
		return mcp.NewToolResultError("expression is required"), nil
	}
	var fv schema.FlowVersion
	if err := decodeArgument(req, "flow_version", &fv); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resolve := &schema.ResolveVariableRequest{
		FlowVersion:        fv,
		StepName:           stepName,
		VariableExpression: expression,
	}
	if mcp.ParseArgument(req, "step_test_outputs", nil) != nil {
		if err := decodeArgument(req, "step_test_outputs", &resolve.StepTestOutputs); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	return marshalResult(s.runs.ResolveVariable(ctx, resolve))
}

// handleRunStatus returns the persisted run.
func (s *Server) handleRunStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	run, statusErr := s.runs.RunStatus(ctx, runID)
	if statusErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
	}
	return marshalResult(run)
}

// --- Helpers ---

// decodeArgument re-encodes an object argument into target.
func decodeArgument(req mcp.CallToolRequest, key string, target any) error {
	raw := mcp.ParseArgument(req, key, nil)
	if raw == nil {
		return fmt.Errorf("%s is required", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %v", key, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("invalid %s: %v", key, err)
	}
	return nil
}

// toInt converts a value to int with a default.
func toInt(v any, defaultVal int) int {
	if v == nil {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
