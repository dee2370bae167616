// Package pipeline runs the end-to-end query flow: embed the query,
// assemble context, generate a response, and persist the exchange as an
// interaction record. Every stage short of persistence degrades instead of
// failing, so a caller always gets a usable response.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/calder-labs/engram/internal/assembler"
	"github.com/calder-labs/engram/internal/provider"
	"github.com/calder-labs/engram/internal/storage"
)

// ContextAssembler produces the bounded context for a query.
type ContextAssembler interface {
	Assemble(query string, queryEmbedding []float32) (assembler.Context, error)
}

// RecordAdder persists the completed exchange.
type RecordAdder interface {
	Add(rec storage.InteractionRecord) (string, error)
}

// Result reports the outcome of one query run.
type Result struct {
	Response     string
	RecordID     string // empty when the exchange could not be recorded
	ContextItems int
	Degraded     bool // true when any stage fell back
}

// Pipeline wires the retrieval and generation stages together. Embedder and
// Generator may be nil; the pipeline then runs keyword-only retrieval and
// context-derived fallback responses.
type Pipeline struct {
	assembler ContextAssembler
	records   RecordAdder
	embedder  provider.Embedder
	generator provider.Generator
	logger    *slog.Logger
}

// New builds a Pipeline. A nil logger defaults to slog.Default().
func New(ca ContextAssembler, records RecordAdder, embedder provider.Embedder, generator provider.Generator, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		assembler: ca,
		records:   records,
		embedder:  embedder,
		generator: generator,
		logger:    logger,
	}
}

// ProcessQuery runs the full flow for one query. The returned error is
// non-nil only when the query is blank or the finished exchange could not be
// persisted; retrieval and generation failures degrade to fallbacks and are
// reported through Result.Degraded instead.
func (p *Pipeline) ProcessQuery(ctx context.Context, query string) (Result, error) {
	if strings.TrimSpace(query) == "" {
		return Result{}, fmt.Errorf("%w: empty query", storage.ErrValidation)
	}

	var res Result

	var queryEmbedding []float32
	if p.embedder != nil {
		emb, err := p.embedder.Embed(ctx, query)
		if err != nil {
			p.logger.Warn("query embedding failed, falling back to keyword search", "error", err)
			res.Degraded = true
		} else {
			queryEmbedding = emb
		}
	}

	assembled, err := p.assembler.Assemble(query, queryEmbedding)
	if err != nil {
		p.logger.Warn("context assembly failed, continuing without context", "error", err)
		assembled = assembler.Context{}
		res.Degraded = true
	}
	res.ContextItems = len(assembled.Items)

	res.Response = p.generate(ctx, query, assembled, &res.Degraded)

	id, err := p.records.Add(storage.InteractionRecord{
		Query:    query,
		Response: res.Response,
		Metadata: map[string]any{
			"context_items": res.ContextItems,
			"degraded":      res.Degraded,
		},
	})
	if err != nil {
		if errors.Is(err, storage.ErrValidation) {
			p.logger.Warn("exchange not recorded", "error", err)
			return res, nil
		}
		return res, fmt.Errorf("recording exchange: %w", err)
	}
	res.RecordID = id
	return res, nil
}

func (p *Pipeline) generate(ctx context.Context, query string, assembled assembler.Context, degraded *bool) string {
	if p.generator != nil {
		resp, err := p.generator.Generate(ctx, query, assembled.Text)
		if err == nil && strings.TrimSpace(resp) != "" {
			return resp
		}
		if err != nil && !errors.Is(err, provider.ErrUnconfigured) {
			p.logger.Warn("generation failed, falling back to stored context", "error", err)
		}
	}
	*degraded = true
	return fallbackResponse(assembled)
}

// fallbackResponse is always non-empty so callers and the record store never
// see a blank answer.
func fallbackResponse(assembled assembler.Context) string {
	if assembled.Text == "" {
		return "No response could be generated, and no stored context matched the query."
	}
	return "No response could be generated. The most relevant stored context follows.\n\n" + assembled.Text
}
