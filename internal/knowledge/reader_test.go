package knowledge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/calder-labs/engram/internal/config"
)

func TestReadSourceInlineText(t *testing.T) {
	src := config.KnowledgeSource{ID: "s1", Name: "Inline", Type: config.SourceText, Text: "hello world"}

	docs, err := ReadSource(src)
	if err != nil {
		t.Fatalf("ReadSource: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1", len(docs))
	}
	if docs[0].Text != "hello world" {
		t.Errorf("text = %q", docs[0].Text)
	}
	if docs[0].Path != "" {
		t.Errorf("path = %q, want empty for inline text", docs[0].Path)
	}
}

func TestReadSourceFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "knowledge.txt")
	if err := os.WriteFile(path, []byte("file content"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	src := config.KnowledgeSource{ID: "s1", Name: "File", Type: config.SourceFile, Path: path}
	docs, err := ReadSource(src)
	if err != nil {
		t.Fatalf("ReadSource: %v", err)
	}
	if len(docs) != 1 || docs[0].Text != "file content" {
		t.Errorf("docs = %+v", docs)
	}
}

func TestReadSourceMissingFile(t *testing.T) {
	src := config.KnowledgeSource{
		ID: "s1", Name: "Missing", Type: config.SourceFile,
		Path: filepath.Join(t.TempDir(), "does-not-exist.txt"),
	}
	if _, err := ReadSource(src); err == nil {
		t.Error("ReadSource on missing file returned nil error")
	}
}

func TestReadSourceDirectory(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"a.txt":    "alpha",
		"b.md":     "beta",
		"skip.bin": "binary",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("writing fixture %s: %v", name, err)
		}
	}
	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sub, "c.txt"), []byte("gamma"), 0o644); err != nil {
		t.Fatalf("writing nested fixture: %v", err)
	}

	src := config.KnowledgeSource{ID: "s1", Name: "Dir", Type: config.SourceDirectory, Path: dir}
	docs, err := ReadSource(src)
	if err != nil {
		t.Fatalf("ReadSource: %v", err)
	}

	if len(docs) != 3 {
		t.Fatalf("got %d documents, want 3 (binary file skipped, nested file included)", len(docs))
	}
	texts := map[string]bool{}
	for _, d := range docs {
		texts[d.Text] = true
		if d.Path == "" {
			t.Error("directory document missing path")
		}
	}
	for _, want := range []string{"alpha", "beta", "gamma"} {
		if !texts[want] {
			t.Errorf("document %q not read", want)
		}
	}
}
