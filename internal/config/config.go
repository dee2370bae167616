package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SourceType identifies where a knowledge source's content comes from.
type SourceType string

const (
	SourceFile      SourceType = "file"
	SourceDirectory SourceType = "directory"
	SourceText      SourceType = "text"
)

// KnowledgeSource describes one origin of reference knowledge: a file, a
// directory of files, or inline text. Sources are configuration-level
// entities; only their IDs are persisted, as back-references on the units
// produced from them.
type KnowledgeSource struct {
	ID          string
	Name        string
	Type        SourceType
	Path        string // file or directory path; unused for inline text
	Text        string // inline content; only for SourceText
	ContentType string // optional hint, e.g. "text/plain"
}

// Validate checks that the source is well-formed.
func (s KnowledgeSource) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("knowledge source %q: missing id", s.Name)
	}
	if s.Name == "" {
		return fmt.Errorf("knowledge source %s: missing name", s.ID)
	}
	switch s.Type {
	case SourceFile, SourceDirectory:
		if s.Path == "" {
			return fmt.Errorf("knowledge source %q: type %s requires a path", s.Name, s.Type)
		}
	case SourceText:
		// Empty inline text is allowed; it ingests zero units.
	default:
		return fmt.Errorf("knowledge source %q: unknown type %q", s.Name, s.Type)
	}
	return nil
}

// Memory configures the interaction record store.
type Memory struct {
	Enabled      bool
	DBNamePrefix string
	// RetentionDays is the retention horizon for interaction records.
	// Zero disables pruning.
	RetentionDays int
}

// Chunking configures how source text is split into knowledge units.
type Chunking struct {
	Size    int     // target chunk size in runes
	Overlap float64 // fraction of Size carried over between adjacent chunks
	MinSize int     // fragments shorter than this are dropped (a short source still yields one unit)
}

// Assembly configures context assembly for queries.
type Assembly struct {
	MaxItems int // per candidate list (knowledge units and interactions)
	MaxChars int // budget for the serialized context
	// RecencyWeight scales interaction priorities relative to knowledge
	// similarity. At 0 interactions rank below all knowledge; at 1 the most
	// recent interaction ranks level with a perfect similarity match.
	RecencyWeight float64
}

// Provider configures the external embedding/generation backend.
type Provider struct {
	BaseURL       string
	EmbedModel    string
	GenerateModel string
	Timeout       time.Duration // per provider call
}

// Design is the immutable configuration of one engine instance. Construct
// with NewDesign and validate at the boundary; the engine never re-checks
// ranges at use time.
type Design struct {
	ID               string
	Name             string
	KnowledgeSources []KnowledgeSource
	Memory           Memory
	Chunking         Chunking
	Assembly         Assembly
	Provider         Provider
}

// NewDesign returns a Design with a generated ID and default tuning.
func NewDesign(name string) Design {
	return Design{
		ID:   uuid.New().String(),
		Name: name,
		Memory: Memory{
			Enabled:      true,
			DBNamePrefix: "engram_memory",
		},
		Chunking: Chunking{
			Size:    800,
			Overlap: 0.15,
			MinSize: 40,
		},
		Assembly: Assembly{
			MaxItems:      5,
			MaxChars:      8000,
			RecencyWeight: 0.35,
		},
		Provider: Provider{
			BaseURL:       "http://localhost:11434",
			EmbedModel:    "nomic-embed-text",
			GenerateModel: "mistral-nemo",
			Timeout:       30 * time.Second,
		},
	}
}

// Validate rejects invalid designs at construction time.
func (d Design) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("design: missing id")
	}
	if d.Name == "" {
		return fmt.Errorf("design %s: missing name", d.ID)
	}
	if d.Memory.DBNamePrefix == "" {
		return fmt.Errorf("design %q: missing db name prefix", d.Name)
	}
	if d.Memory.RetentionDays < 0 {
		return fmt.Errorf("design %q: retention days must be >= 0, got %d", d.Name, d.Memory.RetentionDays)
	}
	if d.Chunking.Size <= 0 {
		return fmt.Errorf("design %q: chunk size must be > 0, got %d", d.Name, d.Chunking.Size)
	}
	if d.Chunking.MinSize <= 0 || d.Chunking.MinSize > d.Chunking.Size {
		return fmt.Errorf("design %q: min chunk size must be in (0, %d], got %d", d.Name, d.Chunking.Size, d.Chunking.MinSize)
	}
	if d.Chunking.Overlap < 0 || d.Chunking.Overlap >= 1 {
		return fmt.Errorf("design %q: chunk overlap must be in [0, 1), got %g", d.Name, d.Chunking.Overlap)
	}
	if d.Assembly.MaxItems <= 0 {
		return fmt.Errorf("design %q: assembly max items must be > 0, got %d", d.Name, d.Assembly.MaxItems)
	}
	if d.Assembly.MaxChars <= 0 {
		return fmt.Errorf("design %q: assembly max chars must be > 0, got %d", d.Name, d.Assembly.MaxChars)
	}
	if d.Assembly.RecencyWeight < 0 || d.Assembly.RecencyWeight > 1 {
		return fmt.Errorf("design %q: recency weight must be in [0, 1], got %g", d.Name, d.Assembly.RecencyWeight)
	}
	if d.Provider.Timeout <= 0 {
		return fmt.Errorf("design %q: provider timeout must be > 0, got %v", d.Name, d.Provider.Timeout)
	}
	for _, src := range d.KnowledgeSources {
		if err := src.Validate(); err != nil {
			return fmt.Errorf("design %q: %w", d.Name, err)
		}
	}
	return nil
}

// RetentionHorizon converts RetentionDays to a duration. Zero means
// retention is disabled.
func (d Design) RetentionHorizon() time.Duration {
	return time.Duration(d.Memory.RetentionDays) * 24 * time.Hour
}
