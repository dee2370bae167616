package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// designFile is the on-disk JSON shape of a design. Sections and fields are
// optional; anything absent keeps the NewDesign default. Pointer fields
// distinguish "not set" from a meaningful zero.
type designFile struct {
	ID               string        `json:"id,omitempty"`
	Name             string        `json:"name"`
	KnowledgeSources []sourceFile  `json:"knowledge_sources,omitempty"`
	Memory           *memoryFile   `json:"memory,omitempty"`
	Chunking         *chunkingFile `json:"chunking,omitempty"`
	Assembly         *assemblyFile `json:"assembly,omitempty"`
	Provider         *providerFile `json:"provider,omitempty"`
}

type sourceFile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Path        string `json:"path,omitempty"`
	Text        string `json:"text,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

type memoryFile struct {
	Enabled       *bool  `json:"enabled,omitempty"`
	DBNamePrefix  string `json:"db_name_prefix,omitempty"`
	RetentionDays int    `json:"retention_days,omitempty"`
}

type chunkingFile struct {
	Size    int      `json:"size,omitempty"`
	Overlap *float64 `json:"overlap,omitempty"`
	MinSize int      `json:"min_size,omitempty"`
}

type assemblyFile struct {
	MaxItems      int      `json:"max_items,omitempty"`
	MaxChars      int      `json:"max_chars,omitempty"`
	RecencyWeight *float64 `json:"recency_weight,omitempty"`
}

type providerFile struct {
	BaseURL        string `json:"base_url,omitempty"`
	EmbedModel     string `json:"embed_model,omitempty"`
	GenerateModel  string `json:"generate_model,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// LoadDesign reads a design from a JSON file, fills defaults for anything
// the file omits, applies ENGRAM_* environment overrides, and validates the
// result. Relative source paths are resolved against the file's directory.
func LoadDesign(path string) (Design, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Design{}, fmt.Errorf("reading design file: %w", err)
	}

	var f designFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Design{}, fmt.Errorf("parsing design file %s: %w", path, err)
	}

	d := NewDesign(f.Name)
	if f.ID != "" {
		d.ID = f.ID
	}

	baseDir := filepath.Dir(path)
	for _, src := range f.KnowledgeSources {
		srcPath := src.Path
		if srcPath != "" && !filepath.IsAbs(srcPath) {
			srcPath = filepath.Join(baseDir, srcPath)
		}
		d.KnowledgeSources = append(d.KnowledgeSources, KnowledgeSource{
			ID:          src.ID,
			Name:        src.Name,
			Type:        SourceType(src.Type),
			Path:        srcPath,
			Text:        src.Text,
			ContentType: src.ContentType,
		})
	}

	if m := f.Memory; m != nil {
		if m.Enabled != nil {
			d.Memory.Enabled = *m.Enabled
		}
		if m.DBNamePrefix != "" {
			d.Memory.DBNamePrefix = m.DBNamePrefix
		}
		if m.RetentionDays != 0 {
			d.Memory.RetentionDays = m.RetentionDays
		}
	}
	if c := f.Chunking; c != nil {
		if c.Size != 0 {
			d.Chunking.Size = c.Size
		}
		if c.Overlap != nil {
			d.Chunking.Overlap = *c.Overlap
		}
		if c.MinSize != 0 {
			d.Chunking.MinSize = c.MinSize
		}
	}
	if a := f.Assembly; a != nil {
		if a.MaxItems != 0 {
			d.Assembly.MaxItems = a.MaxItems
		}
		if a.MaxChars != 0 {
			d.Assembly.MaxChars = a.MaxChars
		}
		if a.RecencyWeight != nil {
			d.Assembly.RecencyWeight = *a.RecencyWeight
		}
	}
	if p := f.Provider; p != nil {
		if p.BaseURL != "" {
			d.Provider.BaseURL = p.BaseURL
		}
		if p.EmbedModel != "" {
			d.Provider.EmbedModel = p.EmbedModel
		}
		if p.GenerateModel != "" {
			d.Provider.GenerateModel = p.GenerateModel
		}
		if p.TimeoutSeconds != 0 {
			d.Provider.Timeout = time.Duration(p.TimeoutSeconds) * time.Second
		}
	}

	ApplyEnvOverrides(&d)

	if err := d.Validate(); err != nil {
		return Design{}, err
	}
	return d, nil
}

// SaveDesign writes the design as formatted JSON, creating parent
// directories as needed. It is how `engram init` scaffolds a design file.
func SaveDesign(path string, d Design) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	enabled := d.Memory.Enabled
	overlap := d.Chunking.Overlap
	weight := d.Assembly.RecencyWeight

	f := designFile{
		ID:   d.ID,
		Name: d.Name,
		Memory: &memoryFile{
			Enabled:       &enabled,
			DBNamePrefix:  d.Memory.DBNamePrefix,
			RetentionDays: d.Memory.RetentionDays,
		},
		Chunking: &chunkingFile{
			Size:    d.Chunking.Size,
			Overlap: &overlap,
			MinSize: d.Chunking.MinSize,
		},
		Assembly: &assemblyFile{
			MaxItems:      d.Assembly.MaxItems,
			MaxChars:      d.Assembly.MaxChars,
			RecencyWeight: &weight,
		},
		Provider: &providerFile{
			BaseURL:        d.Provider.BaseURL,
			EmbedModel:     d.Provider.EmbedModel,
			GenerateModel:  d.Provider.GenerateModel,
			TimeoutSeconds: int(d.Provider.Timeout / time.Second),
		},
	}
	for _, src := range d.KnowledgeSources {
		f.KnowledgeSources = append(f.KnowledgeSources, sourceFile{
			ID:          src.ID,
			Name:        src.Name,
			Type:        string(src.Type),
			Path:        src.Path,
			Text:        src.Text,
			ContentType: src.ContentType,
		})
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding design: %w", err)
	}
	data = append(data, '\n')

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating design directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}
