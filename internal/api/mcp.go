package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/parleyhq/parley/internal/profile"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Interviews InterviewService
	Profile    *profile.Manager // profile resource; optional
}

// NewMCPServer creates an MCP server with all parley tools and resources
// registered, so coach agents can drive practice interviews.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"parley",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("parley — mock interview practice engine: start sessions, submit answers, and review feedback."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("start_interview",
			mcp.WithDescription("Start a new practice interview for a user. Replaces any previous active session."),
			mcp.WithString("user_id", mcp.Description("User starting the interview"), mcp.Required()),
			mcp.WithString("role_id", mcp.Description("Role being practiced, e.g. backend"), mcp.Required()),
		),
		mcpStartInterview(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_answer",
			mcp.WithDescription("Submit a recorded answer to the current question and receive quick feedback."),
			mcp.WithString("interview_id", mcp.Description("Interview session id"), mcp.Required()),
			mcp.WithString("audio_url", mcp.Description("URL of the recorded answer"), mcp.Required()),
			mcp.WithNumber("duration_ms", mcp.Description("Answer length in milliseconds"), mcp.Required()),
		),
		mcpSubmitAnswer(deps),
	)

	s.AddTool(
		mcp.NewTool("continue_interview",
			mcp.WithDescription("Acknowledge the feedback or checkpoint screen and move to the next question."),
			mcp.WithString("interview_id", mcp.Description("Interview session id"), mcp.Required()),
		),
		mcpContinueInterview(deps),
	)

	s.AddTool(
		mcp.NewTool("get_interview_state",
			mcp.WithDescription("Report an interview's current state, screen, and render payload."),
			mcp.WithString("interview_id", mcp.Description("Interview session id"), mcp.Required()),
		),
		mcpGetInterviewState(deps),
	)

	s.AddTool(
		mcp.NewTool("pause_interview",
			mcp.WithDescription("Pause a running interview so it can be resumed later."),
			mcp.WithString("interview_id", mcp.Description("Interview session id"), mcp.Required()),
		),
		mcpPauseInterview(deps),
	)

	s.AddTool(
		mcp.NewTool("resume_interview",
			mcp.WithDescription("Resume a paused or abandoned interview at its current question."),
			mcp.WithString("interview_id", mcp.Description("Interview session id"), mcp.Required()),
		),
		mcpResumeInterview(deps),
	)

	s.AddTool(
		mcp.NewTool("get_summary",
			mcp.WithDescription("Fetch the final summary of a completed interview."),
			mcp.WithString("interview_id", mcp.Description("Interview session id"), mcp.Required()),
		),
		mcpGetSummary(deps),
	)

	s.AddTool(
		mcp.NewTool("get_active_interview",
			mcp.WithDescription("Look up a user's active interview session, if any."),
			mcp.WithString("user_id", mcp.Description("User to look up"), mcp.Required()),
		),
		mcpGetActiveInterview(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"candidate://profile",
			"Candidate Profile",
			mcp.WithResourceDescription("Aggregated practice record across completed interviews"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	return s
}

func mcpStartInterview(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		roleID, err := req.RequireString("role_id")
		if err != nil {
			return mcpError("role_id is required"), nil
		}

		res, err := deps.Interviews.StartInterview(ctx, userID, roleID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to start interview: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpSubmitAnswer(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("interview_id")
		if err != nil {
			return mcpError("interview_id is required"), nil
		}
		audioURL, err := req.RequireString("audio_url")
		if err != nil {
			return mcpError("audio_url is required"), nil
		}
		durationMs := req.GetInt("duration_ms", 0)
		if durationMs <= 0 {
			return mcpError("duration_ms must be positive"), nil
		}

		res, err := deps.Interviews.SubmitAnswer(ctx, id, audioURL, int64(durationMs))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to submit answer: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpContinueInterview(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("interview_id")
		if err != nil {
			return mcpError("interview_id is required"), nil
		}

		res, err := deps.Interviews.Continue(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to continue: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpGetInterviewState(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("interview_id")
		if err != nil {
			return mcpError("interview_id is required"), nil
		}

		res, err := deps.Interviews.GetState(id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get state: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpPauseInterview(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("interview_id")
		if err != nil {
			return mcpError("interview_id is required"), nil
		}

		if err := deps.Interviews.Pause(ctx, id); err != nil {
			return mcpError(fmt.Sprintf("failed to pause: %v", err)), nil
		}
		return mcpText("Interview paused."), nil
	}
}

func mcpResumeInterview(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("interview_id")
		if err != nil {
			return mcpError("interview_id is required"), nil
		}

		res, err := deps.Interviews.Resume(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to resume: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpGetSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("interview_id")
		if err != nil {
			return mcpError("interview_id is required"), nil
		}

		sum, processing, err := deps.Interviews.GetSummary(id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get summary: %v", err)), nil
		}
		if processing {
			return mcpText("Summary still processing; feedback refinement is in progress."), nil
		}
		return mcpJSON(sum)
	}
}

func mcpGetActiveInterview(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		active := deps.Interviews.GetActiveInterview(userID)
		if active == nil {
			return mcpText("No active interview."), nil
		}
		return mcpJSON(active)
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		if deps.Profile == nil {
			return nil, fmt.Errorf("profile not available")
		}

		p, err := deps.Profile.GetProfile()
		if err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}

		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
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
