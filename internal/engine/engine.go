// Package engine is the embeddable facade over the memory subsystems. One
// Engine owns one design-scoped SQLite database holding both interaction
// records and knowledge units, plus the ingestion and query pipelines wired
// on top of it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/calder-labs/engram/internal/assembler"
	"github.com/calder-labs/engram/internal/config"
	"github.com/calder-labs/engram/internal/index"
	"github.com/calder-labs/engram/internal/knowledge"
	"github.com/calder-labs/engram/internal/pipeline"
	"github.com/calder-labs/engram/internal/provider"
	"github.com/calder-labs/engram/internal/storage"
)

// pruneInterval is how often the retention loop runs once started.
const pruneInterval = time.Hour

// Options tune engine construction beyond the design itself.
type Options struct {
	// BasePath is the directory holding the engine database. The special
	// value ":memory:" keeps the database in memory. Empty means the
	// current directory.
	BasePath string

	// Embedder and Generator override the providers built from the
	// design's provider config. Leave nil to use that config.
	Embedder  provider.Embedder
	Generator provider.Generator

	Logger *slog.Logger
}

// Stats is a point-in-time snapshot of stored state.
type Stats struct {
	Records int `json:"records"`
	Units   int `json:"units"`
}

// Engine exposes the memory operations for one design.
type Engine struct {
	design config.Design
	dbPath string
	logger *slog.Logger

	store    *storage.Store
	index    *index.Index
	records  *recordGate
	ingestor *knowledge.Ingestor
	pipeline *pipeline.Pipeline
	embedder provider.Embedder

	stopPrune context.CancelFunc
	pruneDone chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New validates the design, opens (or creates) its database, and wires the
// subsystems. The database file is named after the design so distinct
// designs never share state. Knowledge sources are not ingested here; call
// Start or IngestAll.
func New(design config.Design, opts Options) (*Engine, error) {
	if err := design.Validate(); err != nil {
		return nil, fmt.Errorf("invalid design: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dbPath := DBPath(opts.BasePath, design)
	store, err := storage.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening engine database: %w", err)
	}

	embedder := opts.Embedder
	generator := opts.Generator
	if embedder == nil || generator == nil {
		if client := providerClient(design.Provider); client != nil {
			if embedder == nil {
				embedder = client
			}
			if generator == nil {
				generator = client
			}
		}
	}

	ix := index.New(store.DB())
	records := &recordGate{store: store, enabled: design.Memory.Enabled}
	asm := assembler.New(ix, records, design.Assembly)

	e := &Engine{
		design:   design,
		dbPath:   dbPath,
		logger:   logger,
		store:    store,
		index:    ix,
		records:  records,
		ingestor: knowledge.NewIngestor(ix, embedder, design.Chunking),
		pipeline: pipeline.New(asm, records, embedder, generator, logger),
		embedder: embedder,
	}
	return e, nil
}

// DBPath returns the database location for a design under basePath:
// <prefix>_<design id>.sqlite. ":memory:" passes through unchanged.
func DBPath(basePath string, design config.Design) string {
	if basePath == ":memory:" {
		return ":memory:"
	}
	name := fmt.Sprintf("%s_%s.sqlite", design.Memory.DBNamePrefix, design.ID)
	return filepath.Join(basePath, name)
}

func providerClient(cfg config.Provider) *provider.OllamaClient {
	if cfg.BaseURL == "" {
		return nil
	}
	return provider.NewOllamaClient(cfg.BaseURL, cfg.EmbedModel, cfg.GenerateModel, cfg.Timeout)
}

// Start ingests the design's knowledge sources and launches the retention
// loop. Ingestion failures are logged per source and do not abort startup;
// the engine serves queries with whatever was indexed. The retention loop
// runs until ctx is cancelled or Close is called.
func (e *Engine) Start(ctx context.Context) error {
	e.IngestAll(ctx)

	if horizon := e.design.RetentionHorizon(); horizon > 0 {
		pruneCtx, cancel := context.WithCancel(ctx)
		e.stopPrune = cancel
		e.pruneDone = make(chan struct{})
		go e.pruneLoop(pruneCtx, horizon)
	}
	return nil
}

func (e *Engine) pruneLoop(ctx context.Context, horizon time.Duration) {
	defer close(e.pruneDone)

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		removed, err := e.store.Prune(horizon)
		if err != nil {
			e.logger.Error("retention prune failed", "error", err)
		} else if removed > 0 {
			e.logger.Info("pruned expired interaction records", "removed", removed)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close stops the retention loop and closes the database.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.stopPrune != nil {
			e.stopPrune()
			<-e.pruneDone
		}
		e.closeErr = e.store.Close()
	})
	return e.closeErr
}

// Design returns the engine's immutable configuration.
func (e *Engine) Design() config.Design { return e.design }

// DatabasePath returns where this engine persists its state.
func (e *Engine) DatabasePath() string { return e.dbPath }

// --- Interaction records ---

// AddRecord stores a query/response exchange and returns its ID. Malformed
// input (blank query or response, unrepresentable metadata) is not stored
// and yields an empty ID without an error. With memory disabled the call is
// a no-op.
func (e *Engine) AddRecord(query, response string, metadata map[string]any) (string, error) {
	id, err := e.records.Add(storage.InteractionRecord{
		Query:    query,
		Response: response,
		Metadata: metadata,
	})
	if errors.Is(err, storage.ErrValidation) {
		e.logger.Warn("record rejected", "error", err)
		return "", nil
	}
	return id, err
}

// GetRecord returns one record by ID, or storage.ErrNotFound.
func (e *Engine) GetRecord(id string) (storage.InteractionRecord, error) {
	return e.store.Get(id)
}

// RecentRecords returns at most limit records, newest first.
func (e *Engine) RecentRecords(limit int) ([]storage.InteractionRecord, error) {
	return e.records.GetRecent(limit)
}

// UpdateRecord applies a partial update. It reports false for unknown IDs
// instead of failing.
func (e *Engine) UpdateRecord(id string, patch storage.RecordPatch) (bool, error) {
	return e.store.Update(id, patch)
}

// DeleteRecord removes a record, reporting false for unknown IDs.
func (e *Engine) DeleteRecord(id string) (bool, error) {
	return e.store.Delete(id)
}

// Prune removes records older than the design's retention horizon and
// returns how many were removed. With retention disabled it is a no-op.
func (e *Engine) Prune() (int, error) {
	return e.store.Prune(e.design.RetentionHorizon())
}

// --- Knowledge ---

// IngestAll (re)ingests every knowledge source in the design. Failures are
// logged and counted, not propagated, so one bad source cannot take down
// the others.
func (e *Engine) IngestAll(ctx context.Context) {
	for _, src := range e.design.KnowledgeSources {
		if _, err := e.ingestor.Ingest(ctx, src); err != nil {
			e.logger.Error("knowledge source ingest failed", "source", src.Name, "error", err)
		}
	}
}

// Ingest (re)ingests one source, replacing its previous units.
func (e *Engine) Ingest(ctx context.Context, src config.KnowledgeSource) (knowledge.Result, error) {
	return e.ingestor.Ingest(ctx, src)
}

// SearchKnowledge finds the units most similar to the query, embedding it
// when an embedder is available and falling back to keyword overlap
// otherwise.
func (e *Engine) SearchKnowledge(ctx context.Context, query string, k int) ([]index.ScoredUnit, error) {
	if e.embedder != nil {
		emb, err := e.embedder.Embed(ctx, query)
		if err == nil {
			return e.index.Search(emb, k)
		}
		e.logger.Warn("query embedding failed, using keyword search", "error", err)
	}
	return e.index.SearchKeyword(query, k)
}

// --- Query ---

// ProcessQuery runs the full retrieve/generate/record flow for one query.
func (e *Engine) ProcessQuery(ctx context.Context, query string) (pipeline.Result, error) {
	return e.pipeline.ProcessQuery(ctx, query)
}

// Stats reports current record and unit counts.
func (e *Engine) Stats() (Stats, error) {
	records, err := e.store.Count()
	if err != nil {
		return Stats{}, err
	}
	units, err := e.index.Count()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Records: records, Units: units}, nil
}

// recordGate applies the design's memory toggle in front of the store.
// Disabled memory turns writes and recency reads into no-ops while leaving
// knowledge retrieval untouched.
type recordGate struct {
	store   *storage.Store
	enabled bool
}

func (g *recordGate) Add(rec storage.InteractionRecord) (string, error) {
	if !g.enabled {
		return "", nil
	}
	return g.store.Add(rec)
}

func (g *recordGate) GetRecent(limit int) ([]storage.InteractionRecord, error) {
	if !g.enabled {
		return nil, nil
	}
	return g.store.GetRecent(limit)
}
