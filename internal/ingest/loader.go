// Package ingest turns raw sources (text, files, crawled pages) into indexed
// vector points.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Document is one unit of ingestable text with its origin.
type Document struct {
	Source string
	Type   string
	Text   string
}

// Document types recorded in point metadata.
const (
	TypeText = "text"
	TypeFile = "file"
	TypeURL  = "url"
)

// Binary formats need a real extraction step; reject them outright instead of
// indexing garbage.
var unsupportedTypes = map[string]string{
	"application/pdf": "pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "docx",
	"application/msword": "doc",
}

// FromText wraps already-extracted text.
func FromText(source, text string) Document {
	return Document{Source: source, Type: TypeText, Text: text}
}

// FromURL wraps the extracted text of a crawled page.
func FromURL(pageURL, text string) Document {
	return Document{Source: pageURL, Type: TypeURL, Text: text}
}

// FromFile reads an uploaded file into a Document. Plain text, markdown and
// CSV are supported; binary document formats return an error naming the type.
func FromFile(name, contentType string, r io.Reader) (Document, error) {
	base := mediaType(contentType)
	if kind, ok := unsupportedTypes[base]; ok {
		return Document{}, fmt.Errorf("unsupported file type %q: %s extraction is not available", kind, kind)
	}

	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".pdf", ".docx", ".doc":
		kind := strings.TrimPrefix(ext, ".")
		return Document{}, fmt.Errorf("unsupported file type %q: %s extraction is not available", kind, kind)
	}
	switch {
	case base == "text/csv" || ext == ".csv":
		return fromCSV(name, r)
	case strings.HasPrefix(base, "text/"), base == "application/json", base == "",
		ext == ".md", ext == ".txt", ext == ".markdown":
		data, err := io.ReadAll(r)
		if err != nil {
			return Document{}, fmt.Errorf("reading %s: %w", name, err)
		}
		return Document{Source: name, Type: TypeFile, Text: string(data)}, nil
	default:
		return Document{}, fmt.Errorf("unsupported content type %q for %s", contentType, name)
	}
}

// fromCSV flattens rows into lines of space-joined fields so the chunker sees
// prose-like text.
func fromCSV(name string, r io.Reader) (Document, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var lines []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Document{}, fmt.Errorf("parsing csv %s: %w", name, err)
		}
		lines = append(lines, strings.Join(record, " "))
	}
	return Document{Source: name, Type: TypeFile, Text: strings.Join(lines, "\n")}, nil
}

func mediaType(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
