// Package mcp exposes the workflow engine as Model Context Protocol tools so
// agents can drive tasks and inspect schedules.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vithaluntold/accute1-sub000/internal/apperr"
	"github.com/vithaluntold/accute1-sub000/internal/requestctx"
	"github.com/vithaluntold/accute1-sub000/internal/services"
	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

// DefaultActor is recorded for tool calls that carry no authenticated user.
const DefaultActor = "mcp"

type Server struct {
	mcpServer *server.MCPServer
	engine    *services.Engine
}

func NewServer(engine *services.Engine, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Workflow Engine",
			version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		engine: engine,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_workflows",
			mcp.WithDescription("List the workflows visible to the caller"),
		),
		s.handleListWorkflows,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"complete_task",
			mcp.WithDescription("Complete a task, or submit it for review when review is required, and auto-advance its parents"),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("The ID of the task")),
		),
		s.handleCompleteTask,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"run_automation",
			mcp.WithDescription("Run a task's automation actions; the task completes only if every attempted action succeeds"),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("The ID of the task")),
			mcp.WithObject("context", mcp.Description("Extra values exposed to conditions and placeholders")),
		),
		s.handleRunAutomation,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"approve_review",
			mcp.WithDescription("Approve a task awaiting review and complete it"),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("The ID of the task")),
		),
		s.handleApproveReview,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"add_dependency",
			mcp.WithDescription("Add a dependency between two tasks of a workflow; edges that would create a cycle are rejected"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The ID of the workflow")),
			mcp.WithString("from_task_id", mcp.Required(), mcp.Description("The predecessor task")),
			mcp.WithString("to_task_id", mcp.Required(), mcp.Description("The successor task")),
			mcp.WithString("type", mcp.Description("finish_to_start (default), start_to_start, finish_to_finish or start_to_finish")),
			mcp.WithNumber("lag_minutes", mcp.Description("Lag in minutes; may be negative")),
		),
		s.handleAddDependency,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"critical_path",
			mcp.WithDescription("Compute the critical-path schedule of a workflow"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The ID of the workflow")),
		),
		s.handleCriticalPath,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"validate_dependencies",
			mcp.WithDescription("Check a workflow's dependency graph for cycles and dangling edges"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The ID of the workflow")),
		),
		s.handleValidateDependencies,
	)
}

func actor(ctx context.Context) string {
	if a := requestctx.ActorID(ctx); a != "" {
		return a
	}
	return DefaultActor
}

// result renders v as JSON, or err as a tool error the model can read.
func result(v any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		msg := apperr.MessageOf(err)
		if code := apperr.CodeOf(err); code != "" {
			msg = string(code) + ": " + msg
		}
		return mcp.NewToolResultError(msg), nil
	}
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleListWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return result(s.engine.ListWorkflows(ctx))
}

func (s *Server) handleCompleteTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: task_id"), nil
	}
	return result(s.engine.CompleteTask(ctx, taskID, actor(ctx)))
}

func (s *Server) handleRunAutomation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: task_id"), nil
	}
	var extra map[string]any
	if raw, ok := request.GetArguments()["context"]; ok && raw != nil {
		if extra, ok = raw.(map[string]any); !ok {
			return mcp.NewToolResultError("Parameter context must be an object"), nil
		}
	}
	return result(s.engine.RunAutomation(ctx, taskID, extra))
}

func (s *Server) handleApproveReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: task_id"), nil
	}
	return result(s.engine.ApproveReview(ctx, taskID, actor(ctx)))
}

func (s *Server) handleAddDependency(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dep := models.TaskDependency{
		Type:       models.DependencyType(request.GetString("type", "")),
		LagMinutes: request.GetInt("lag_minutes", 0),
	}
	for _, p := range []struct {
		name string
		dst  *string
	}{
		{"workflow_id", &dep.WorkflowID},
		{"from_task_id", &dep.FromTaskID},
		{"to_task_id", &dep.ToTaskID},
	} {
		v, err := request.RequireString(p.name)
		if err != nil {
			return mcp.NewToolResultError("Missing required parameter: " + p.name), nil
		}
		*p.dst = v
	}
	return result(s.engine.AddDependency(ctx, dep))
}

func (s *Server) handleCriticalPath(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := request.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}
	return result(s.engine.ComputeCriticalPath(ctx, workflowID))
}

func (s *Server) handleValidateDependencies(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := request.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}
	return result(s.engine.ValidateDependencies(ctx, workflowID))
}

// MountHTTPHandlers serves the SSE transport under /mcp.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
