package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowengine/internal/store"
	"github.com/rendis/flowengine/internal/worker"
	"github.com/rendis/flowengine/pkg/schema"
)

// RunService is the engine surface exposed as tools. Satisfied by
// worker.Worker.
type RunService interface {
	BeginRun(ctx context.Context, req *worker.BeginRunRequest) (schema.FlowRunResponse, error)
	ResumeRun(ctx context.Context, req *worker.ResumeRunRequest) (schema.FlowRunResponse, error)
	ResolveVariable(ctx context.Context, req *schema.ResolveVariableRequest) schema.ResolveVariableResponse
	RunStatus(ctx context.Context, runID string) (*store.Run, error)
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Runs   RunService
	Logger *slog.Logger
}

// Server wraps an MCP server with the flowengine tool handlers.
type Server struct {
	runs      RunService
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all 4 tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{runs: deps.Runs, logger: logger}

	mcpSrv := server.NewMCPServer(
		"flowengine",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("flowengine executes flow versions (trees of code, block, branch, loop and split steps). Use flowengine.execute_flow to run a flow from its trigger, flowengine.resume_flow to continue a paused run, flowengine.resolve_variable to preview a {{ }} expression at a step, and flowengine.run_status to inspect a persisted run."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: executeFlowTool(), Handler: s.handleExecuteFlow},
		{Tool: resumeFlowTool(), Handler: s.handleResumeFlow},
		{Tool: resolveVariableTool(), Handler: s.handleResolveVariable},
		{Tool: runStatusTool(), Handler: s.handleRunStatus},
	}
}

// --- Tool definitions ---

func executeFlowTool() mcp.Tool {
	return mcp.NewTool("flowengine.execute_flow",
		mcp.WithDescription("Execute a flow version from its trigger"),
		mcp.WithObject("flow_version", mcp.Required(), mcp.Description("Flow version document (trigger and action tree)")),
		mcp.WithObject("trigger_payload", mcp.Description("Output recorded for the trigger step")),
		mcp.WithString("run_id", mcp.Description("Run ID (default: generated)")),
		mcp.WithString("project_id", mcp.Description("Project the run belongs to")),
		mcp.WithNumber("timeout_seconds", mcp.Description("Run time budget in seconds (default: worker setting)")),
	)
}

func resumeFlowTool() mcp.Tool {
	return mcp.NewTool("flowengine.resume_flow",
		mcp.WithDescription("Resume a paused run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the paused run")),
		mcp.WithObject("flow_version", mcp.Required(), mcp.Description("Flow version the run was started with")),
		mcp.WithObject("captured_steps", mcp.Description("Step map of the run when it paused (default: stored response)")),
		mcp.WithNumber("tasks", mcp.Description("Tasks executed before the pause, used with captured_steps")),
		mcp.WithObject("resume_payload", mcp.Description("Payload handed to the step that paused")),
		mcp.WithString("project_id", mcp.Description("Project the run belongs to")),
	)
}

func resolveVariableTool() mcp.Tool {
	return mcp.NewTool("flowengine.resolve_variable",
		mcp.WithDescription("Resolve a {{ }} expression as a step would see it"),
		mcp.WithObject("flow_version", mcp.Required(), mcp.Description("Flow version document")),
		mcp.WithString("step_name", mcp.Required(), mcp.Description("Step at which the expression is resolved")),
		mcp.WithString("expression", mcp.Required(), mcp.Description("Expression, e.g. {{step_1.output.id}}")),
		mcp.WithObject("step_test_outputs", mcp.Description("Encoded sample outputs keyed by step id")),
	)
}

func runStatusTool() mcp.Tool {
	return mcp.NewTool("flowengine.run_status",
		mcp.WithDescription("Get the persisted status of a run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}
