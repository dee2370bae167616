package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/calder-labs/engram/internal/config"
	"github.com/calder-labs/engram/internal/engine"
)

// NewMCPServer exposes the engine's memory operations as MCP tools so
// MCP-speaking agent hosts can remember exchanges, recall knowledge, and
// run full queries without the HTTP API.
func NewMCPServer(eng *engine.Engine) *server.MCPServer {
	s := server.NewMCPServer(
		"engram",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("engram — adaptive memory for conversational agents: interaction history, ingested knowledge, and context-aware answers."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("remember",
			mcp.WithDescription("Store a query/response exchange in the interaction memory."),
			mcp.WithString("query", mcp.Description("The user query"), mcp.Required()),
			mcp.WithString("response", mcp.Description("The response given"), mcp.Required()),
		),
		mcpRemember(eng),
	)

	s.AddTool(
		mcp.NewTool("recall",
			mcp.WithDescription("Search ingested knowledge for units relevant to a query."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpRecall(eng),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Answer a query using stored knowledge and recent interactions, and record the exchange."),
			mcp.WithString("query", mcp.Description("The question to answer"), mcp.Required()),
		),
		mcpAsk(eng),
	)

	s.AddTool(
		mcp.NewTool("ingest_text",
			mcp.WithDescription("Ingest inline text as a knowledge source, replacing any previous units under the same source id."),
			mcp.WithString("source_id", mcp.Description("Stable identifier for the source"), mcp.Required()),
			mcp.WithString("name", mcp.Description("Human-readable source name"), mcp.Required()),
			mcp.WithString("text", mcp.Description("The text to ingest"), mcp.Required()),
		),
		mcpIngestText(eng),
	)

	s.AddResource(
		mcp.NewResource(
			"memory://recent",
			"Recent Interactions",
			mcp.WithResourceDescription("Most recent stored interactions (query summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(eng),
	)

	return s
}

func mcpRemember(eng *engine.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		response, err := req.RequireString("response")
		if err != nil {
			return mcpError("response is required"), nil
		}

		id, err := eng.AddRecord(query, response, map[string]any{"source": "mcp"})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store exchange: %v", err)), nil
		}
		if id == "" {
			return mcpError("exchange rejected: query and response must not be blank"), nil
		}
		return mcpText(fmt.Sprintf("Stored interaction %s", id)), nil
	}
}

func mcpRecall(eng *engine.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		units, err := eng.SearchKnowledge(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}
		if len(units) == 0 {
			return mcpText("[]"), nil
		}

		type unitResult struct {
			ID       string  `json:"id"`
			SourceID string  `json:"source_id"`
			Content  string  `json:"content"`
			Score    float32 `json:"score"`
		}
		results := make([]unitResult, len(units))
		for i, u := range units {
			results[i] = unitResult{
				ID:       u.ID,
				SourceID: u.SourceID,
				Content:  u.Content,
				Score:    u.Score,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAsk(eng *engine.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		res, err := eng.ProcessQuery(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return mcpText(res.Response), nil
	}
}

func mcpIngestText(eng *engine.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sourceID, err := req.RequireString("source_id")
		if err != nil {
			return mcpError("source_id is required"), nil
		}
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		res, err := eng.Ingest(ctx, config.KnowledgeSource{
			ID:   sourceID,
			Name: name,
			Type: config.SourceText,
			Text: text,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("ingest failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Ingested %d units from %s (%d embedding failures)", res.Units, name, res.EmbedFailures)), nil
	}
}

func mcpResourceRecent(eng *engine.Engine) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records, err := eng.RecentRecords(10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent interactions: %w", err)
		}

		type recordSummary struct {
			ID        string `json:"id"`
			Timestamp string `json:"timestamp"`
			Query     string `json:"query"`
		}
		summaries := make([]recordSummary, len(records))
		for i, rec := range records {
			query := rec.Query
			if utf8.RuneCountInString(query) > 200 {
				runes := []rune(query)
				query = string(runes[:200]) + "..."
			}
			summaries[i] = recordSummary{
				ID:        rec.ID,
				Timestamp: rec.Timestamp.Format(time.RFC3339),
				Query:     query,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interactions: %w", err)
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
