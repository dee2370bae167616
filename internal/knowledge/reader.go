package knowledge

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/calder-labs/engram/internal/config"
)

// Document is one readable piece of a knowledge source: inline text is a
// single document, a file is a single document, a directory is one document
// per readable file.
type Document struct {
	Path string // originating file path; empty for inline text
	Text string
}

// ReadSource resolves a knowledge source descriptor to its raw text
// content. I/O failures return a descriptive error naming the source.
func ReadSource(src config.KnowledgeSource) ([]Document, error) {
	switch src.Type {
	case config.SourceText:
		return []Document{{Text: src.Text}}, nil

	case config.SourceFile:
		text, err := readFile(src.Path, src.ContentType)
		if err != nil {
			return nil, fmt.Errorf("reading source %q: %w", src.Name, err)
		}
		return []Document{{Path: src.Path, Text: text}}, nil

	case config.SourceDirectory:
		return readDirectory(src)

	default:
		return nil, fmt.Errorf("source %q: unsupported type %q", src.Name, src.Type)
	}
}

// readDirectory walks the tree and reads every file with a supported
// extension. An unreadable file fails the whole read; partial source
// ingestion would leave the replace-on-reingest semantics ambiguous.
func readDirectory(src config.KnowledgeSource) ([]Document, error) {
	var docs []Document
	err := filepath.WalkDir(src.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !supportedExtension(path) {
			return nil
		}
		text, err := readFile(path, "")
		if err != nil {
			return err
		}
		docs = append(docs, Document{Path: path, Text: text})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading source %q: %w", src.Name, err)
	}
	return docs, nil
}

func supportedExtension(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown", ".pdf":
		return true
	}
	return false
}

func readFile(path, contentType string) (string, error) {
	if contentType == "application/pdf" || strings.EqualFold(filepath.Ext(path), ".pdf") {
		return readPDF(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text from %s: %w", path, err)
	}
	var sb strings.Builder
	if _, err := io.Copy(&sb, reader); err != nil {
		return "", fmt.Errorf("reading pdf text from %s: %w", path, err)
	}
	return sb.String(), nil
}
