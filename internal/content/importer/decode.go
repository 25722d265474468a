package importer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alibi-studio/refsync/internal/content/schema"
)

// Format is an import file encoding.
type Format string

const (
	// FormatJSONL is one JSON document per line.
	FormatJSONL Format = "jsonl"

	// FormatYAML is a YAML sequence of documents, or a stream of YAML
	// documents separated by "---".
	FormatYAML Format = "yaml"
)

// ErrUnknownFormat is returned for file extensions with no known format.
var ErrUnknownFormat = errors.New("unknown import format")

// DetectFormat picks a format from the file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson", ".json":
		return FormatJSONL, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// ParseFormat validates a format name given on the command line.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(name)); f {
	case FormatJSONL, FormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// Decode reads every document from r.
func Decode(r io.Reader, f Format) ([]*schema.Document, error) {
	switch f {
	case FormatJSONL:
		return decodeJSONL(r)
	case FormatYAML:
		return decodeYAML(r)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

func decodeJSONL(r io.Reader) ([]*schema.Document, error) {
	var docs []*schema.Document
	decoder := json.NewDecoder(r)

	for n := 1; ; n++ {
		var doc schema.Document
		if err := decoder.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON in record %d: %w", n, err)
		}
		docs = append(docs, &doc)
	}
	return docs, nil
}

func decodeYAML(r io.Reader) ([]*schema.Document, error) {
	var docs []*schema.Document
	decoder := yaml.NewDecoder(r)

	for n := 1; ; n++ {
		var node yaml.Node
		if err := decoder.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid YAML in document %d: %w", n, err)
		}

		var items []map[string]any
		if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			if err := node.Decode(&items); err != nil {
				return nil, fmt.Errorf("invalid YAML in document %d: %w", n, err)
			}
		} else {
			var item map[string]any
			if err := node.Decode(&item); err != nil {
				return nil, fmt.Errorf("invalid YAML in document %d: %w", n, err)
			}
			if item != nil {
				items = append(items, item)
			}
		}

		for _, item := range items {
			doc, err := fromYAML(item)
			if err != nil {
				return nil, fmt.Errorf("document %d: %w", n, err)
			}
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// fromYAML converts a decoded YAML mapping through JSON so scalar types
// (timestamps, integers) match what the store reads back.
func fromYAML(item map[string]any) (*schema.Document, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("unsupported value: %w", err)
	}
	var doc schema.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
