package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/civicdesk/internal/agent"
	"github.com/kalambet/civicdesk/internal/retrieval"
	"github.com/kalambet/civicdesk/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Pipeline  Pipeline
	Runner    TaskRunner
	Config    OrgConfig
	Retriever retrieval.Retriever // optional; search_knowledge fails without it
	MinScore  float64
	Version   string
}

// NewMCPServer creates an MCP server exposing the pipeline as tools and the
// agent roster as a resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.MinScore <= 0 {
		deps.MinScore = retrieval.DefaultMinScore
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := server.NewMCPServer(
		"civicdesk",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("civicdesk classifies and routes citizen requests and drafts replies using configured agents and a municipal knowledge base."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("process_request",
			mcp.WithDescription("Classify a stored request, assign it to a department and record the result."),
			mcp.WithNumber("request_id", mcp.Description("ID of the stored request"), mcp.Required()),
		),
		mcpPipelineStep(deps.Pipeline.ProcessNew),
	)

	s.AddTool(
		mcp.NewTool("generate_response",
			mcp.WithDescription("Draft a reply to a stored request with the response agent."),
			mcp.WithNumber("request_id", mcp.Description("ID of the stored request"), mcp.Required()),
		),
		mcpPipelineStep(deps.Pipeline.GenerateResponse),
	)

	s.AddTool(
		mcp.NewTool("search_knowledge",
			mcp.WithDescription("Search the knowledge base and return passages scored in [0,1]."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
			mcp.WithNumber("min_score", mcp.Description("Minimum relevance score (default from config)")),
		),
		mcpSearchKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("run_agent_task",
			mcp.WithDescription("Run one task through a configured agent and return the task result."),
			mcp.WithNumber("agent_id", mcp.Description("Agent ID"), mcp.Required()),
			mcp.WithString("type", mcp.Description("Task type: classification, summarization, response, analytics, translation, citizen_request, document, protocol"), mcp.Required()),
			mcp.WithString("content", mcp.Description("Task input text"), mcp.Required()),
			mcp.WithString("priority", mcp.Description("low, medium, high or urgent")),
		),
		mcpRunAgentTask(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"org://agents",
			"Agents",
			mcp.WithResourceDescription("Configured agents as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceAgents(deps),
	)

	return s
}

func mcpPipelineStep(step func(ctx context.Context, id int64) (storage.Request, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := int64(req.GetFloat("request_id", 0))
		if id <= 0 {
			return mcpError("request_id is required"), nil
		}
		updated, err := step(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("request %d not found", id)), nil
		}
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(updated)
	}
}

func mcpSearchKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Retriever == nil {
			return mcpError("knowledge search is not configured"), nil
		}
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}
		minScore := req.GetFloat("min_score", deps.MinScore)

		passages, err := deps.Retriever.Search(ctx, query, limit, minScore)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if passages == nil {
			passages = []retrieval.Passage{}
		}
		return mcpJSON(passages)
	}
}

func mcpRunAgentTask(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentID := int64(req.GetFloat("agent_id", 0))
		if agentID <= 0 {
			return mcpError("agent_id is required"), nil
		}
		taskType, err := req.RequireString("type")
		if err != nil {
			return mcpError("type is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil || content == "" {
			return mcpError("content is required"), nil
		}

		res := deps.Runner.RunByID(ctx, deps.Config, agent.Task{
			Type:     taskType,
			AgentID:  agentID,
			Content:  content,
			Priority: req.GetString("priority", ""),
		})
		if !res.Success {
			return mcpError(res.Error), nil
		}
		return mcpJSON(res)
	}
}

func mcpResourceAgents(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		agents := deps.Config.Snapshot().Agents
		if agents == nil {
			agents = []storage.Agent{}
		}
		b, err := json.Marshal(agents)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal agents: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
