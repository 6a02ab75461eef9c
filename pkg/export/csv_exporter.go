package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
)

// Dataset defines tabular export content. Each row holds one cell per header.
type Dataset struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// CSVExporter renders datasets into CSV bytes.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render produces CSV encoded bytes for the dataset.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	buf := &bytes.Buffer{}
	w, err := NewCSVStream(buf, data.Headers)
	if err != nil {
		return nil, err
	}
	for _, row := range data.Rows {
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CSVStream writes rows incrementally, for exports too large to buffer as a Dataset.
type CSVStream struct {
	w       *csv.Writer
	columns int
}

// NewCSVStream writes the header row and returns a stream for the body.
func NewCSVStream(out io.Writer, headers []string) (*CSVStream, error) {
	if len(headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	w := csv.NewWriter(out)
	if err := w.Write(headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	return &CSVStream{w: w, columns: len(headers)}, nil
}

// Write appends one record, padding or truncating it to the header width.
func (s *CSVStream) Write(row []string) error {
	record := make([]string, s.columns)
	copy(record, row)
	if err := s.w.Write(record); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	return nil
}

// Close flushes buffered rows.
func (s *CSVStream) Close() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
