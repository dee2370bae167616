// Package knowledge turns heterogeneous knowledge sources into retrievable
// units: it reads raw content, splits it into bounded chunks, embeds each
// chunk, and replaces the source's units in the index atomically.
package knowledge

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/calder-labs/engram/internal/config"
	"github.com/calder-labs/engram/internal/index"
	"github.com/calder-labs/engram/internal/provider"
)

// embedConcurrency bounds parallel embedding calls per ingest.
const embedConcurrency = 4

// Result reports the outcome of one source ingestion.
type Result struct {
	Units         int // units written to the index
	EmbedFailures int // chunks stored without an embedding
}

// Ingestor converts knowledge sources into indexed units.
type Ingestor struct {
	index    *index.Index
	embedder provider.Embedder // nil means units are keyword-searchable only
	chunking config.Chunking
	logger   *slog.Logger
}

// NewIngestor creates an Ingestor. embedder may be nil; units are then
// stored without vectors.
func NewIngestor(ix *index.Index, embedder provider.Embedder, chunking config.Chunking) *Ingestor {
	return &Ingestor{
		index:    ix,
		embedder: embedder,
		chunking: chunking,
		logger:   slog.Default(),
	}
}

// Ingest reads the source, chunks it, embeds the chunks, and atomically
// replaces the source's previous units. A failed embedding keeps its chunk
// (keyword-searchable only) and is counted in Result.EmbedFailures; only
// source I/O and index write failures abort the ingest.
func (ing *Ingestor) Ingest(ctx context.Context, src config.KnowledgeSource) (Result, error) {
	if err := src.Validate(); err != nil {
		return Result{}, err
	}

	docs, err := ReadSource(src)
	if err != nil {
		return Result{}, err
	}

	now := time.Now().UTC()
	var units []index.Unit
	for _, doc := range docs {
		for _, ch := range SplitText(doc.Text, ing.chunking) {
			meta := map[string]any{
				"position":    ch.Position,
				"source_name": src.Name,
			}
			if doc.Path != "" {
				meta["path"] = doc.Path
			}
			units = append(units, index.Unit{
				ID:        uuid.New().String(),
				SourceID:  src.ID,
				Content:   ch.Content,
				Position:  ch.Position,
				Metadata:  meta,
				CreatedAt: now,
			})
		}
	}

	failures := ing.embedUnits(ctx, units)

	// Replace even when the new set is empty: re-ingesting a now-empty
	// source must drop its stale units.
	if err := ing.index.ReplaceSourceUnits(src.ID, units); err != nil {
		return Result{}, err
	}

	ing.logger.Info("ingested knowledge source",
		"source", src.Name,
		"units", len(units),
		"embed_failures", failures,
	)
	return Result{Units: len(units), EmbedFailures: failures}, nil
}

// embedUnits fills unit embeddings in place with bounded concurrency and
// returns the failure count. Failures are per-chunk: the goroutines record
// them instead of returning errors, so one bad chunk never aborts the batch.
func (ing *Ingestor) embedUnits(ctx context.Context, units []index.Unit) int {
	if len(units) == 0 {
		return 0
	}
	if ing.embedder == nil {
		return len(units)
	}

	var failures atomic.Int64
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for i := range units {
		g.Go(func() error {
			vec, err := ing.embedder.Embed(gCtx, units[i].Content)
			if err != nil {
				ing.logger.Warn("embedding chunk failed",
					"unit", units[i].ID,
					"position", units[i].Position,
					"error", err,
				)
				failures.Add(1)
				return nil
			}
			units[i].Embedding = vec
			return nil
		})
	}
	g.Wait()

	return int(failures.Load())
}
