package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sternrassler/ckp-export/pkg/dataset"
)

// Sink stores archived pages.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Put stores the output of one page.
	Put(ctx context.Context, key PageKey, output []byte) error
}

// FileSink writes pages as indented JSON files to a directory.
type FileSink struct {
	dir string
}

// NewFileSink creates dir if needed and returns a sink writing into it.
func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Dir returns the output directory.
func (s *FileSink) Dir() string { return s.dir }

// Name implements Sink.
func (s *FileSink) Name() string { return "file" }

// Put implements Sink. Outputs that are not valid JSON are written as is.
func (s *FileSink) Put(_ context.Context, key PageKey, output []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, output, "", "  "); err != nil {
		buf.Reset()
		buf.Write(output)
	}
	return s.write(key.FileName(), buf.Bytes())
}

// WriteDataset writes objects.json, the list of records sorted by UID, and
// rules.json, the layers with their rules.
func (s *FileSink) WriteDataset(ds *dataset.Dataset) error {
	if err := s.writeJSON("objects.json", ds.Records()); err != nil {
		return err
	}
	return s.writeJSON("rules.json", ds.Layers())
}

func (s *FileSink) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return s.write(name, data)
}

func (s *FileSink) write(name string, data []byte) error {
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		WriteErrors.WithLabelValues(s.Name()).Inc()
		return fmt.Errorf("write %s: %w", path, err)
	}
	PagesWritten.WithLabelValues(s.Name()).Inc()
	BytesWritten.WithLabelValues(s.Name()).Add(float64(len(data)))
	return nil
}
