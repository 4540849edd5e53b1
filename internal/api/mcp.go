package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/calmweave/keepsake/internal/storage"
)

// NewMCPServer creates an MCP server exposing keepsake's ingestion and read
// surfaces. Review actions are not registered here; promoting a candidate
// into a signal happens only through the owner-facing API.
func NewMCPServer(deps AppDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"keepsake",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("keepsake is a local life memory. Tools ingest conversations and event notes, and read the pending review queue and accepted signals. Review decisions belong to the owner and are not available over this interface."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("ingest_transcript",
			mcp.WithDescription("Store a conversation transcript for later signal extraction."),
			mcp.WithString("title", mcp.Description("Title for the conversation")),
			mcp.WithString("text", mcp.Description("Raw transcript text, one message per line"), mcp.Required()),
		),
		mcpIngestTranscript(deps),
	)

	s.AddTool(
		mcp.NewTool("add_event_note",
			mcp.WithDescription("Append a note to a calendar event. The event's note context becomes extractable again."),
			mcp.WithString("event_id", mcp.Description("ID of the calendar event"), mcp.Required()),
			mcp.WithString("body", mcp.Description("Note text"), mcp.Required()),
		),
		mcpAddEventNote(deps),
	)

	s.AddTool(
		mcp.NewTool("review_queue",
			mcp.WithDescription("List candidates awaiting the owner's review, oldest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of candidates (default 20)")),
		),
		mcpReviewQueue(deps),
	)

	s.AddTool(
		mcp.NewTool("list_signals",
			mcp.WithDescription("List accepted signals."),
			mcp.WithString("status", mcp.Description("Filter by status, open or closed")),
			mcp.WithString("query", mcp.Description("Substring filter on label and description")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of signals (default 20)")),
		),
		mcpListSignals(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"keepsake://profile",
			"Owner Profile",
			mcp.WithResourceDescription("Current owner profile as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"keepsake://signals/recent",
			"Recent Signals",
			mcp.WithResourceDescription("Last 10 accepted signals (summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentSignals(deps),
	)

	return s
}

func mcpIngestTranscript(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		title := req.GetString("title", "")

		conv, units, err := ingestTranscript(deps.Store, deps.userID(), title, "mcp", text)
		if errors.Is(err, errNoContent) {
			return mcpError("transcript contains no text"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store transcript: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Stored conversation %s with %d segments", conv.ID, len(units))), nil
	}
}

func mcpAddEventNote(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		eventID, err := req.RequireString("event_id")
		if err != nil {
			return mcpError("event_id is required"), nil
		}
		body, err := req.RequireString("body")
		if err != nil {
			return mcpError("body is required"), nil
		}

		noteID, unit, err := appendEventNote(deps.Store, deps.userID(), eventID, body)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return mcpError(fmt.Sprintf("event %s not found", eventID)), nil
		case errors.Is(err, storage.ErrConflict):
			return mcpError("extraction in progress for this event's notes; try again later"), nil
		case err != nil:
			return mcpError(fmt.Sprintf("failed to append note: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Added note %s; text unit %s is %s", noteID, unit.ID, unit.ExtractionStatus)), nil
	}
}

func mcpReviewQueue(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		cands, err := deps.Store.ListCandidates(deps.userID(), "pending", "", limit, 0)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list candidates: %v", err)), nil
		}
		if len(cands) == 0 {
			return mcpText("[]"), nil
		}

		type queueEntry struct {
			ID          string `json:"id"`
			SignalType  string `json:"signal_type"`
			Label       string `json:"label"`
			Description string `json:"description"`
			Excerpt     string `json:"excerpt"`
			CreatedAt   string `json:"created_at"`
		}

		entries := make([]queueEntry, len(cands))
		for i, c := range cands {
			entries[i] = queueEntry{
				ID:          c.ID,
				SignalType:  c.SignalType,
				Label:       c.Label,
				Description: c.Description,
				Excerpt:     c.Excerpt,
				CreatedAt:   c.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(entries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal queue: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListSignals(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := req.GetString("status", "")
		query := req.GetString("query", "")
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		sigs, err := deps.Store.ListSignals(deps.userID(), status, query, limit, 0)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list signals: %v", err)), nil
		}
		if len(sigs) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(signalSummaries(sigs))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal signals: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

type signalSummary struct {
	ID             string `json:"id"`
	SignalType     string `json:"signal_type"`
	Label          string `json:"label"`
	Description    string `json:"description"`
	Status         string `json:"status"`
	ActionRequired bool   `json:"action_required"`
	CreatedAt      string `json:"created_at"`
}

func signalSummaries(sigs []storage.Signal) []signalSummary {
	summaries := make([]signalSummary, len(sigs))
	for i, sig := range sigs {
		desc := sig.Description
		if utf8.RuneCountInString(desc) > 200 {
			runes := []rune(desc)
			desc = string(runes[:200]) + "..."
		}
		summaries[i] = signalSummary{
			ID:             sig.ID,
			SignalType:     sig.SignalType,
			Label:          sig.Label,
			Description:    desc,
			Status:         sig.Status,
			ActionRequired: sig.ActionRequired,
			CreatedAt:      sig.CreatedAt.Format(time.RFC3339),
		}
	}
	return summaries
}

func mcpResourceProfile(deps AppDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
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

func mcpResourceRecentSignals(deps AppDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sigs, err := deps.Store.ListSignals(deps.userID(), "", "", 10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list signals: %w", err)
		}

		b, err := json.Marshal(signalSummaries(sigs))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal signals: %w", err)
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
