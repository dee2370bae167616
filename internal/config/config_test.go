package config

import (
	"testing"
	"time"
)

func TestNewDesignDefaults(t *testing.T) {
	d := NewDesign("TestDesign")

	if d.ID == "" {
		t.Error("ID not generated")
	}
	if d.Name != "TestDesign" {
		t.Errorf("Name = %q, want %q", d.Name, "TestDesign")
	}
	if !d.Memory.Enabled {
		t.Error("Memory.Enabled = false, want true")
	}
	if d.Memory.DBNamePrefix != "engram_memory" {
		t.Errorf("DBNamePrefix = %q, want %q", d.Memory.DBNamePrefix, "engram_memory")
	}
	if d.Memory.RetentionDays != 0 {
		t.Errorf("RetentionDays = %d, want 0 (disabled)", d.Memory.RetentionDays)
	}

	if err := d.Validate(); err != nil {
		t.Errorf("default design failed validation: %v", err)
	}
}

func TestDesignValidateRejectsBadRanges(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Design)
	}{
		{"empty name", func(d *Design) { d.Name = "" }},
		{"empty id", func(d *Design) { d.ID = "" }},
		{"empty prefix", func(d *Design) { d.Memory.DBNamePrefix = "" }},
		{"negative retention", func(d *Design) { d.Memory.RetentionDays = -1 }},
		{"zero chunk size", func(d *Design) { d.Chunking.Size = 0 }},
		{"min above size", func(d *Design) { d.Chunking.MinSize = d.Chunking.Size + 1 }},
		{"overlap of 1", func(d *Design) { d.Chunking.Overlap = 1.0 }},
		{"negative overlap", func(d *Design) { d.Chunking.Overlap = -0.1 }},
		{"zero max items", func(d *Design) { d.Assembly.MaxItems = 0 }},
		{"zero max chars", func(d *Design) { d.Assembly.MaxChars = 0 }},
		{"recency weight above 1", func(d *Design) { d.Assembly.RecencyWeight = 1.5 }},
		{"zero provider timeout", func(d *Design) { d.Provider.Timeout = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDesign("bad")
			tc.mutate(&d)
			if err := d.Validate(); err == nil {
				t.Errorf("Validate() = nil, want error")
			}
		})
	}
}

func TestKnowledgeSourceValidate(t *testing.T) {
	valid := KnowledgeSource{ID: "s1", Name: "Docs", Type: SourceFile, Path: "/tmp/doc.txt"}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid source rejected: %v", err)
	}

	// File source without a path.
	noPath := KnowledgeSource{ID: "s2", Name: "Docs", Type: SourceDirectory}
	if err := noPath.Validate(); err == nil {
		t.Error("directory source without path accepted")
	}

	// Unknown type.
	unknown := KnowledgeSource{ID: "s3", Name: "Docs", Type: SourceType("url")}
	if err := unknown.Validate(); err == nil {
		t.Error("unknown source type accepted")
	}

	// Inline text needs no path.
	inline := KnowledgeSource{ID: "s4", Name: "Inline", Type: SourceText, Text: "hello"}
	if err := inline.Validate(); err != nil {
		t.Errorf("inline source rejected: %v", err)
	}

	// A design carrying an invalid source fails validation.
	d := NewDesign("with-sources")
	d.KnowledgeSources = []KnowledgeSource{noPath}
	if err := d.Validate(); err == nil {
		t.Error("design with invalid source accepted")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("ENGRAM_PROVIDER_URL", "http://10.0.0.1:11434")
	t.Setenv("ENGRAM_EMBED_MODEL", "mxbai-embed-large")
	t.Setenv("ENGRAM_PROVIDER_TIMEOUT", "5s")
	t.Setenv("ENGRAM_RETENTION_DAYS", "14")

	d := NewDesign("env")
	ApplyEnvOverrides(&d)

	if d.Provider.BaseURL != "http://10.0.0.1:11434" {
		t.Errorf("BaseURL = %q", d.Provider.BaseURL)
	}
	if d.Provider.EmbedModel != "mxbai-embed-large" {
		t.Errorf("EmbedModel = %q", d.Provider.EmbedModel)
	}
	if d.Provider.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", d.Provider.Timeout)
	}
	if d.Memory.RetentionDays != 14 {
		t.Errorf("RetentionDays = %d, want 14", d.Memory.RetentionDays)
	}
}

func TestApplyEnvOverridesIgnoresGarbage(t *testing.T) {
	t.Setenv("ENGRAM_PROVIDER_TIMEOUT", "not-a-duration")
	t.Setenv("ENGRAM_RETENTION_DAYS", "-3")

	d := NewDesign("env")
	want := d.Provider.Timeout
	ApplyEnvOverrides(&d)

	if d.Provider.Timeout != want {
		t.Errorf("Timeout = %v, want unchanged %v", d.Provider.Timeout, want)
	}
	if d.Memory.RetentionDays != 0 {
		t.Errorf("RetentionDays = %d, want unchanged 0", d.Memory.RetentionDays)
	}
}

func TestRetentionHorizon(t *testing.T) {
	d := NewDesign("horizon")
	if d.RetentionHorizon() != 0 {
		t.Errorf("horizon = %v, want 0 for disabled retention", d.RetentionHorizon())
	}
	d.Memory.RetentionDays = 7
	if d.RetentionHorizon() != 7*24*time.Hour {
		t.Errorf("horizon = %v, want 168h", d.RetentionHorizon())
	}
}
