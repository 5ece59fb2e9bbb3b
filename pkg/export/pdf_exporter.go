package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// PDFExporter renders placement datasets into a tabular PDF.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF with the report title, the generation instant, the
// per-job table, and a bold totals row when the dataset carries one.
func (e *PDFExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Columns) == 0 {
		return nil, fmt.Errorf("pdf requires at least one column")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	if data.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, data.Title, "", 1, "C", false, 0, "")
	}
	if !data.GeneratedAt.IsZero() {
		pdf.SetFont("Arial", "I", 9)
		pdf.CellFormat(0, 6, "Generated "+data.GeneratedAt.UTC().Format("2006-01-02 15:04 UTC"), "", 1, "C", false, 0, "")
	}
	pdf.Ln(4)

	colWidth := 190.0 / float64(len(data.Columns))

	pdf.SetFont("Arial", "B", 10)
	for _, column := range data.Columns {
		pdf.CellFormat(colWidth, 8, column, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, row := range data.Rows {
		if len(row) != len(data.Columns) {
			return nil, fmt.Errorf("pdf row has %d cells, want %d", len(row), len(data.Columns))
		}
		for _, value := range row {
			pdf.CellFormat(colWidth, 7, value, "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	if len(data.Totals) > 0 {
		pdf.SetFont("Arial", "B", 9)
		for _, value := range data.Totals {
			pdf.CellFormat(colWidth, 7, value, "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
