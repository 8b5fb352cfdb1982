package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/salesdojo/internal/trainer"
)

// NewMCPServer creates an MCP server exposing practice sessions as tools.
// Tools take the acting user id as an argument; the stdio transport is a
// single local operator.
func NewMCPServer(svc *trainer.Service) *server.MCPServer {
	s := server.NewMCPServer(
		"salesdojo",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("salesdojo: practice sales conversations against a simulated prospect, get graded, earn XP."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("start_session",
			mcp.WithDescription("Start a practice session against a simulated prospect."),
			mcp.WithString("user_id", mcp.Description("Acting sales rep"), mcp.Required()),
			mcp.WithString("industry", mcp.Description("Industry key, see salesdojo://catalog"), mcp.Required()),
			mcp.WithNumber("difficulty", mcp.Description("Difficulty tier 1-5"), mcp.Required()),
			mcp.WithString("persona", mcp.Description("Optional prospect persona")),
			mcp.WithString("company_id", mcp.Description("Company to register the rep under if they have no profile yet")),
			mcp.WithString("display_name", mcp.Description("Display name used when registering")),
		),
		mcpStartSession(svc),
	)

	s.AddTool(
		mcp.NewTool("take_turn",
			mcp.WithDescription("Send the rep's next message and get the prospect's reply."),
			mcp.WithString("user_id", mcp.Description("Acting sales rep"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Session id from start_session"), mcp.Required()),
			mcp.WithString("message", mcp.Description("What the rep says"), mcp.Required()),
		),
		mcpTakeTurn(svc),
	)

	s.AddTool(
		mcp.NewTool("grade_session",
			mcp.WithDescription("Grade a session, credit XP and close it. Grading twice returns the stored report."),
			mcp.WithString("user_id", mcp.Description("Acting sales rep"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Session to grade"), mcp.Required()),
		),
		mcpGradeSession(svc),
	)

	s.AddTool(
		mcp.NewTool("leaderboard",
			mcp.WithDescription("Rank the reps of the caller's company by level and XP."),
			mcp.WithString("user_id", mcp.Description("Acting sales rep"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of entries (default 50)")),
		),
		mcpLeaderboard(svc),
	)

	s.AddResource(
		mcp.NewResource(
			"salesdojo://catalog",
			"Practice Catalog",
			mcp.WithResourceDescription("Industries, personas and difficulty descriptors as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCatalog(svc),
	)

	return s
}

func mcpStartSession(svc *trainer.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		industry, err := req.RequireString("industry")
		if err != nil {
			return mcpError("industry is required"), nil
		}
		difficulty, err := req.RequireInt("difficulty")
		if err != nil {
			return mcpError("difficulty is required"), nil
		}

		sess, err := svc.StartSession(ctx, userID, trainer.StartRequest{
			Industry:    industry,
			Difficulty:  difficulty,
			Persona:     req.GetString("persona", ""),
			CompanyID:   req.GetString("company_id", ""),
			DisplayName: req.GetString("display_name", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("start failed: %v", err)), nil
		}
		return mcpJSON(sess)
	}
}

func mcpTakeTurn(svc *trainer.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		turn, err := svc.TakeTurn(ctx, userID, sessionID, trainer.TurnRequest{Message: message})
		if err != nil {
			return mcpError(fmt.Sprintf("turn failed: %v", err)), nil
		}

		type turnResult struct {
			Reply   string `json:"reply"`
			Done    bool   `json:"done"`
			Outcome string `json:"outcome,omitempty"`
		}
		return mcpJSON(turnResult{Reply: turn.Text, Done: turn.Done, Outcome: turn.Outcome})
	}
}

func mcpGradeSession(svc *trainer.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		res, err := svc.Grade(ctx, userID, sessionID)
		if err != nil {
			return mcpError(fmt.Sprintf("grading failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpLeaderboard(svc *trainer.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		entries, err := svc.CallerLeaderboard(ctx, userID, req.GetInt("limit", 0))
		if err != nil {
			return mcpError(fmt.Sprintf("leaderboard failed: %v", err)), nil
		}
		if len(entries) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(entries)
	}
}

func mcpResourceCatalog(svc *trainer.Service) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(svc.Catalog())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal catalog: %w", err)
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
