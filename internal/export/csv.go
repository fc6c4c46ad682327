// Package export renders result tables as downloadable artifacts: CSV for
// the original spreadsheet workflow, Parquet for columnar pipelines, with
// optional archival to S3.
package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"lincsquery/internal/models"
)

// ErrEmptyExport marks an export request against a row set with no rows.
// Callers surface this instead of producing a header-only artifact.
var ErrEmptyExport = errors.New("no rows to export")

// exportHeader is the fixed column order of every artifact.
var exportHeader = []string{
	"Perturbagen",
	"CD Coefficient",
	"Fold Change",
	"Log2(Fold Change)",
	"Dose",
	"Cell Line",
	"Timepoint",
}

// ToCSVBytes renders the row set as a CSV document with the fixed header.
// Missing numeric cells serialize as empty fields.
func ToCSVBytes(rs *models.RowSet) ([]byte, error) {
	if rs.IsEmpty() {
		return nil, ErrEmptyExport
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rs.Rows {
		record := []string{
			row.Perturbagen,
			formatFloat(row.CDCoefficient),
			formatFloat(row.FoldChange),
			formatFloat(row.Log2FoldChange),
			row.Dose,
			row.CellLine,
			row.Timepoint,
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Filename reproduces the download name convention, e.g.
// "BRAF_Up-regulating_perturbations.csv".
func Filename(gene string, direction models.Direction, ext string) string {
	return fmt.Sprintf("%s_%s_perturbations.%s",
		strings.ToUpper(gene), direction.Label(), strings.TrimPrefix(ext, "."))
}

func formatFloat(n models.NullFloat) string {
	if !n.Valid {
		return ""
	}
	return strconv.FormatFloat(n.Float64, 'g', -1, 64)
}
