package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/calder-labs/engram/internal/config"
	"github.com/calder-labs/engram/internal/engine"
	"github.com/calder-labs/engram/internal/provider"
)

const testToken = "test-token-12345"

func setupHandler(t *testing.T, token string) (http.Handler, *engine.Engine) {
	t.Helper()
	d := config.NewDesign("api test")
	d.Provider.BaseURL = ""
	d.Chunking.Size = 60
	d.Chunking.MinSize = 10

	eng, err := engine.New(d, engine.Options{
		BasePath: ":memory:",
		Embedder: provider.NewHashEmbedder(32),
		Generator: provider.GeneratorFunc(func(_ context.Context, query, _ string) (string, error) {
			return "answering: " + query, nil
		}),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	return NewHandler(eng, token), eng
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAuthRequired(t *testing.T) {
	h, _ := setupHandler(t, testToken)

	rr := do(t, h, authReq(http.MethodGet, "/interactions", "", ""))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rr.Code)
	}

	rr = do(t, h, authReq(http.MethodGet, "/interactions", "", "wrong"))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rr.Code)
	}

	rr = do(t, h, authReq(http.MethodGet, "/interactions", "", testToken))
	if rr.Code != http.StatusOK {
		t.Errorf("good token: status = %d, want 200; body = %s", rr.Code, rr.Body.String())
	}
}

func TestHealthSkipsAuth(t *testing.T) {
	h, _ := setupHandler(t, testToken)
	rr := do(t, h, authReq(http.MethodGet, "/health", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp struct {
		Status string       `json:"status"`
		Stats  engine.Stats `json:"stats"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding health: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestRecordCRUDOverHTTP(t *testing.T) {
	h, _ := setupHandler(t, testToken)

	rr := do(t, h, authReq(http.MethodPost, "/interactions",
		`{"query":"how do I deploy?","response":"use the script","metadata":{"topic":"ops"}}`, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var created map[string]string
	json.NewDecoder(rr.Body).Decode(&created)
	id := created["id"]
	if id == "" {
		t.Fatal("create returned no id")
	}

	rr = do(t, h, authReq(http.MethodGet, "/interactions/"+id, "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rr.Code)
	}
	var rec RecordJSON
	json.NewDecoder(rr.Body).Decode(&rec)
	if rec.Query != "how do I deploy?" || rec.Metadata["topic"] != "ops" {
		t.Errorf("round trip mismatch: %+v", rec)
	}

	rr = do(t, h, authReq(http.MethodPatch, "/interactions/"+id,
		`{"response":"use the release pipeline"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("patch: status = %d; body = %s", rr.Code, rr.Body.String())
	}

	rr = do(t, h, authReq(http.MethodGet, "/interactions?limit=5", "", testToken))
	var list []RecordJSON
	json.NewDecoder(rr.Body).Decode(&list)
	if len(list) != 1 || list[0].Response != "use the release pipeline" {
		t.Fatalf("list after patch: %+v", list)
	}

	rr = do(t, h, authReq(http.MethodDelete, "/interactions/"+id, "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", rr.Code)
	}
	rr = do(t, h, authReq(http.MethodGet, "/interactions/"+id, "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", rr.Code)
	}
}

func TestAddRecordRejectsBlank(t *testing.T) {
	h, _ := setupHandler(t, testToken)
	rr := do(t, h, authReq(http.MethodPost, "/interactions", `{"query":"  ","response":"a"}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body = %s", rr.Code, rr.Body.String())
	}
}

// TestAddRecordMemoryDisabled verifies a well-formed add against a design
// with interaction memory switched off is reported as a conflict, not as a
// validation failure.
func TestAddRecordMemoryDisabled(t *testing.T) {
	d := config.NewDesign("memory off")
	d.Provider.BaseURL = ""
	d.Memory.Enabled = false

	eng, err := engine.New(d, engine.Options{BasePath: ":memory:"})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	h := NewHandler(eng, testToken)

	rr := do(t, h, authReq(http.MethodPost, "/interactions", `{"query":"q","response":"a"}`, testToken))
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409; body = %s", rr.Code, rr.Body.String())
	}

	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Type != "memory_disabled" {
		t.Errorf("error type = %q, want memory_disabled", body.Error.Type)
	}
}

func TestPatchDeleteUnknownID(t *testing.T) {
	h, _ := setupHandler(t, testToken)

	rr := do(t, h, authReq(http.MethodPatch, "/interactions/missing", `{"response":"x"}`, testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("patch: status = %d, want 404", rr.Code)
	}
	rr = do(t, h, authReq(http.MethodDelete, "/interactions/missing", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("delete: status = %d, want 404", rr.Code)
	}
}

func TestIngestAndQuery(t *testing.T) {
	h, _ := setupHandler(t, testToken)

	rr := do(t, h, authReq(http.MethodPost, "/ingest",
		`{"id":"notes","name":"runbook","type":"text","text":"Incident escalation goes to the on-call channel first, then to the duty manager."}`,
		testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("ingest: status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var ingest struct {
		SourceID string `json:"source_id"`
		Units    int    `json:"units"`
	}
	json.NewDecoder(rr.Body).Decode(&ingest)
	if ingest.Units == 0 {
		t.Fatal("ingest produced no units")
	}

	rr = do(t, h, authReq(http.MethodPost, "/query",
		`{"query":"where does incident escalation go?"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("query: status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var qr QueryResponse
	json.NewDecoder(rr.Body).Decode(&qr)
	if qr.Response == "" {
		t.Fatal("query returned empty response")
	}
	if qr.RecordID == "" {
		t.Error("query did not record the exchange")
	}
}

func TestQueryRejectsBlank(t *testing.T) {
	h, _ := setupHandler(t, testToken)
	rr := do(t, h, authReq(http.MethodPost, "/query", `{"query":"   "}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestIngestRejectsInvalidSource(t *testing.T) {
	h, _ := setupHandler(t, testToken)
	rr := do(t, h, authReq(http.MethodPost, "/ingest", `{"name":"nameless"}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body = %s", rr.Code, rr.Body.String())
	}
}

func TestPruneEndpoint(t *testing.T) {
	h, _ := setupHandler(t, testToken)
	rr := do(t, h, authReq(http.MethodPost, "/prune", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp map[string]int
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["removed"] != 0 {
		t.Errorf("removed = %d, want 0", resp["removed"])
	}
}
