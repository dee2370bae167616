// Package api exposes the engine over HTTP and MCP. The HTTP surface is a
// small JSON API for agent hosts that embed the engine out of process; the
// MCP surface serves the same operations as tools for MCP-speaking clients.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/calder-labs/engram/internal/config"
	"github.com/calder-labs/engram/internal/engine"
	"github.com/calder-labs/engram/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

type QueryRequest struct {
	Query string `json:"query"`
}

type QueryResponse struct {
	Response     string `json:"response"`
	RecordID     string `json:"record_id,omitempty"`
	ContextItems int    `json:"context_items"`
	Degraded     bool   `json:"degraded"`
}

type IngestRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Path        string `json:"path,omitempty"`
	Text        string `json:"text,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

type RecordRequest struct {
	Query    string         `json:"query"`
	Response string         `json:"response"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type RecordPatchRequest struct {
	Query     *string        `json:"query,omitempty"`
	Response  *string        `json:"response,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type RecordJSON struct {
	ID        string         `json:"id"`
	Query     string         `json:"query"`
	Response  string         `json:"response"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func recordJSON(rec storage.InteractionRecord) RecordJSON {
	return RecordJSON{
		ID:        rec.ID,
		Query:     rec.Query,
		Response:  rec.Response,
		Timestamp: rec.Timestamp,
		Metadata:  rec.Metadata,
	}
}

// NewHandler returns the HTTP API for one engine. All routes except /health
// require the bearer token; an empty token disables auth.
func NewHandler(eng *engine.Engine, token string) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(eng))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(token))

		r.Post("/query", handleQuery(eng))
		r.Post("/ingest", handleIngest(eng))
		r.Post("/prune", handlePrune(eng))

		r.Get("/interactions", handleListRecords(eng))
		r.Post("/interactions", handleAddRecord(eng))
		r.Get("/interactions/{id}", handleGetRecord(eng))
		r.Patch("/interactions/{id}", handlePatchRecord(eng))
		r.Delete("/interactions/{id}", handleDeleteRecord(eng))
	})

	return r
}

func handleHealth(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := eng.Stats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read stats: %v", err)
			return
		}
		writeJSON(w, map[string]any{
			"status": "ok",
			"stats":  stats,
		})
	}
}

func handleQuery(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		res, err := eng.ProcessQuery(r.Context(), req.Query)
		if errors.Is(err, storage.ErrValidation) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query must not be empty")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "query failed: %v", err)
			return
		}

		writeJSON(w, QueryResponse{
			Response:     res.Response,
			RecordID:     res.RecordID,
			ContextItems: res.ContextItems,
			Degraded:     res.Degraded,
		})
	}
}

func handleIngest(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		src := config.KnowledgeSource{
			ID:          req.ID,
			Name:        req.Name,
			Type:        config.SourceType(req.Type),
			Path:        req.Path,
			Text:        req.Text,
			ContentType: req.ContentType,
		}
		if src.Type == "" {
			src.Type = config.SourceText
		}
		if err := src.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		res, err := eng.Ingest(r.Context(), src)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "ingest failed: %v", err)
			return
		}

		writeJSON(w, map[string]any{
			"source_id":      src.ID,
			"units":          res.Units,
			"embed_failures": res.EmbedFailures,
		})
	}
}

func handlePrune(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed, err := eng.Prune()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "prune failed: %v", err)
			return
		}
		writeJSON(w, map[string]int{"removed": removed})
	}
}

func handleListRecords(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		records, err := eng.RecentRecords(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list records: %v", err)
			return
		}

		out := make([]RecordJSON, len(records))
		for i, rec := range records {
			out[i] = recordJSON(rec)
		}
		writeJSON(w, out)
	}
}

func handleAddRecord(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req RecordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		id, err := eng.AddRecord(req.Query, req.Response, req.Metadata)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to add record: %v", err)
			return
		}
		if id == "" {
			// An empty id with no error means either the memory toggle
			// discarded the record or validation rejected it.
			if !eng.Design().Memory.Enabled {
				httpError(w, http.StatusConflict, "memory_disabled", "interaction memory is disabled for this design")
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query and response must not be empty")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": id})
	}
}

func handleGetRecord(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := eng.GetRecord(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "record not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get record: %v", err)
			return
		}
		writeJSON(w, recordJSON(rec))
	}
}

func handlePatchRecord(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req RecordPatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		ok, err := eng.UpdateRecord(chi.URLParam(r, "id"), storage.RecordPatch{
			Query:     req.Query,
			Response:  req.Response,
			Timestamp: req.Timestamp,
			Metadata:  req.Metadata,
		})
		if errors.Is(err, storage.ErrValidation) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update record: %v", err)
			return
		}
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "record not found")
			return
		}
		writeJSON(w, map[string]string{"status": "updated"})
	}
}

func handleDeleteRecord(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, err := eng.DeleteRecord(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete record: %v", err)
			return
		}
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "record not found")
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
