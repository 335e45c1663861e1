package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var csvHeader = []string{"Timestamp", "Website", "Latency"}

// CSVSink appends records to a CSV file with the columns
// Timestamp (Unix seconds), Website and Latency (seconds). The header is
// written only when the file is new or empty.
type CSVSink struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

// NewCSVSink opens (or creates) the CSV file at path
func NewCSVSink(path string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("csv sink: ensure dir: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("csv sink: open: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("csv sink: stat: %w", err)
	}

	s := &CSVSink{file: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := s.writeRow(csvHeader); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

// Name returns the sink name used in metrics
func (s *CSVSink) Name() string {
	return "csv"
}

// Write appends one row. Failures have an empty Latency column.
func (s *CSVSink) Write(_ context.Context, rec Record) error {
	latency := ""
	if !rec.Failed {
		latency = strconv.FormatFloat(rec.Latency.Seconds(), 'f', -1, 64)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeRow([]string{unixSeconds(rec.Timestamp), rec.Endpoint, latency})
}

func (s *CSVSink) writeRow(row []string) error {
	if s.file == nil {
		return os.ErrClosed
	}
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("csv sink: write: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("csv sink: flush: %w", err)
	}
	return nil
}

// Close flushes and closes the file
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	s.w.Flush()
	err := s.file.Close()
	s.file = nil
	return err
}

func unixSeconds(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/float64(time.Second), 'f', 6, 64)
}
