package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"
)

// Dataset is the tabular content of one placement report.
type Dataset struct {
	Title       string
	GeneratedAt time.Time
	Columns     []string
	Rows        [][]string
	// Totals is an optional cycle-wide summary row rendered last.
	Totals []string
}

// CSVExporter renders placement datasets into CSV bytes.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render produces one header record, the per-job records, and the totals
// record when present. Title and timestamp are PDF concerns and are not
// written, so the output stays machine-consumable.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Columns) == 0 {
		return nil, fmt.Errorf("csv requires at least one column")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(data.Columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range data.Rows {
		if len(row) != len(data.Columns) {
			return nil, fmt.Errorf("csv row has %d cells, want %d", len(row), len(data.Columns))
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	if len(data.Totals) > 0 {
		if err := writer.Write(data.Totals); err != nil {
			return nil, fmt.Errorf("write csv totals: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
