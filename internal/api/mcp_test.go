package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/calder-labs/engram/internal/config"
	"github.com/calder-labs/engram/internal/engine"
	"github.com/calder-labs/engram/internal/provider"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	d := config.NewDesign("mcp test")
	d.Provider.BaseURL = ""
	d.Chunking.Size = 60
	d.Chunking.MinSize = 10

	eng, err := engine.New(d, engine.Options{
		BasePath: ":memory:",
		Embedder: provider.NewHashEmbedder(32),
		Generator: provider.GeneratorFunc(func(_ context.Context, query, _ string) (string, error) {
			return "answer to: " + query, nil
		}),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func TestMCPTool_Remember(t *testing.T) {
	eng := newTestEngine(t)
	handler := mcpRemember(eng)

	result, err := handler(context.Background(), makeCallToolRequest("remember", map[string]interface{}{
		"query":    "what port does the service use?",
		"response": "8080 by default",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	records, err := eng.RecentRecords(5)
	if err != nil {
		t.Fatalf("RecentRecords: %v", err)
	}
	if len(records) != 1 || records[0].Response != "8080 by default" {
		t.Fatalf("exchange not stored: %+v", records)
	}
	if records[0].Metadata["source"] != "mcp" {
		t.Errorf("metadata = %+v", records[0].Metadata)
	}
}

func TestMCPTool_RememberRejectsBlank(t *testing.T) {
	eng := newTestEngine(t)
	handler := mcpRemember(eng)

	result, err := handler(context.Background(), makeCallToolRequest("remember", map[string]interface{}{
		"query":    "   ",
		"response": "a",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("blank query should produce a tool error")
	}
}

func TestMCPTool_IngestAndRecall(t *testing.T) {
	eng := newTestEngine(t)

	ingest := mcpIngestText(eng)
	result, err := ingest(context.Background(), makeCallToolRequest("ingest_text", map[string]interface{}{
		"source_id": "notes",
		"name":      "runbook",
		"text":      "Incident escalation goes to the on-call channel first, then to the duty manager.",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("ingest error: %s", toolText(t, result))
	}

	recall := mcpRecall(eng)
	result, err = recall(context.Background(), makeCallToolRequest("recall", map[string]interface{}{
		"query": "incident escalation on-call",
		"limit": 3,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("recall error: %s", toolText(t, result))
	}

	var hits []struct {
		ID       string  `json:"id"`
		SourceID string  `json:"source_id"`
		Content  string  `json:"content"`
		Score    float32 `json:"score"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &hits); err != nil {
		t.Fatalf("decoding recall output: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("recall returned nothing")
	}
	if hits[0].SourceID != "notes" {
		t.Errorf("source = %q", hits[0].SourceID)
	}
}

func TestMCPTool_Recall_EmptyResult(t *testing.T) {
	eng := newTestEngine(t)
	handler := mcpRecall(eng)

	result, err := handler(context.Background(), makeCallToolRequest("recall", map[string]interface{}{
		"query": "anything",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toolText(t, result) != "[]" {
		t.Errorf("empty recall = %q, want []", toolText(t, result))
	}
}

func TestMCPTool_Ask(t *testing.T) {
	eng := newTestEngine(t)
	handler := mcpAsk(eng)

	result, err := handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"query": "how do rollbacks work?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("ask error: %s", toolText(t, result))
	}
	if toolText(t, result) != "answer to: how do rollbacks work?" {
		t.Errorf("answer = %q", toolText(t, result))
	}

	records, _ := eng.RecentRecords(1)
	if len(records) != 1 {
		t.Fatal("ask did not record the exchange")
	}
}

func TestMCPResource_Recent(t *testing.T) {
	eng := newTestEngine(t)
	if _, err := eng.AddRecord("first question", "first answer", nil); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}

	handler := mcpResourceRecent(eng)
	contents, err := handler(context.Background(), makeReadResourceRequest("memory://recent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d, want 1", len(contents))
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var summaries []struct {
		ID    string `json:"id"`
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(text.Text), &summaries); err != nil {
		t.Fatalf("decoding resource: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Query != "first question" {
		t.Fatalf("summaries = %+v", summaries)
	}
}

func TestMCPTool_MissingArguments(t *testing.T) {
	eng := newTestEngine(t)

	for name, handler := range map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"remember":    mcpRemember(eng),
		"recall":      mcpRecall(eng),
		"ask":         mcpAsk(eng),
		"ingest_text": mcpIngestText(eng),
	} {
		result, err := handler(context.Background(), makeCallToolRequest(name, map[string]interface{}{}))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if !result.IsError {
			t.Errorf("%s: missing arguments should produce a tool error", name)
		}
	}
}
