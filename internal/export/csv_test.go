package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"testing"

	"lincsquery/internal/models"
)

func exportRowSet() *models.RowSet {
	return &models.RowSet{
		Gene:      "BRAF",
		Direction: models.DirectionUp,
		Rows: []models.PerturbagenRecord{
			{
				Perturbagen:    "vemurafenib",
				CDCoefficient:  models.Float(0.9),
				FoldChange:     models.Float(2.5),
				Log2FoldChange: models.Float(1.32),
				Dose:           "10 uM",
				CellLine:       "A375",
				Timepoint:      "24 h",
			},
			{
				Perturbagen:   `BRD-K12345, "batch 2"`,
				CDCoefficient: models.Float(-0.25),
				CellLine:      "MCF7",
			},
			{
				Perturbagen: "unscored",
			},
		},
	}
}

func TestToCSVBytesRoundTrip(t *testing.T) {
	data, err := ToCSVBytes(exportRowSet())
	if err != nil {
		t.Fatalf("ToCSVBytes returned %v", err)
	}

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("reading generated csv: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("csv has %d records, want header plus 3 rows", len(records))
	}

	wantHeader := []string{"Perturbagen", "CD Coefficient", "Fold Change", "Log2(Fold Change)", "Dose", "Cell Line", "Timepoint"}
	for i, col := range wantHeader {
		if records[0][i] != col {
			t.Errorf("header[%d] = %q, want %q", i, records[0][i], col)
		}
	}

	first := records[1]
	if first[0] != "vemurafenib" || first[1] != "0.9" || first[2] != "2.5" || first[3] != "1.32" {
		t.Errorf("first row = %v", first)
	}
	if first[4] != "10 uM" || first[5] != "A375" || first[6] != "24 h" {
		t.Errorf("first row context = %v", first[4:])
	}

	second := records[2]
	if second[0] != `BRD-K12345, "batch 2"` {
		t.Errorf("quoted perturbagen did not survive the round trip: %q", second[0])
	}
	if second[1] != "-0.25" {
		t.Errorf("second row CD = %q", second[1])
	}
	if second[2] != "" || second[3] != "" {
		t.Errorf("missing numerics must be empty fields, got %q and %q", second[2], second[3])
	}

	third := records[3]
	for i := 1; i <= 3; i++ {
		if third[i] != "" {
			t.Errorf("unscored row column %d = %q, want empty", i, third[i])
		}
	}
}

func TestToCSVBytesEmpty(t *testing.T) {
	_, err := ToCSVBytes(&models.RowSet{Gene: "BRAF", Direction: models.DirectionUp})
	if !errors.Is(err, ErrEmptyExport) {
		t.Errorf("empty set error = %v, want ErrEmptyExport", err)
	}

	_, err = ToCSVBytes(nil)
	if !errors.Is(err, ErrEmptyExport) {
		t.Errorf("nil set error = %v, want ErrEmptyExport", err)
	}
}

func TestFilename(t *testing.T) {
	cases := []struct {
		gene      string
		direction models.Direction
		ext       string
		want      string
	}{
		{"BRAF", models.DirectionUp, "csv", "BRAF_Up-regulating_perturbations.csv"},
		{"braf", models.DirectionUp, "csv", "BRAF_Up-regulating_perturbations.csv"},
		{"TP53", models.DirectionDown, "parquet", "TP53_Down-regulating_perturbations.parquet"},
		{"MYC", models.DirectionDown, ".csv", "MYC_Down-regulating_perturbations.csv"},
	}

	for _, tc := range cases {
		if got := Filename(tc.gene, tc.direction, tc.ext); got != tc.want {
			t.Errorf("Filename(%q, %q, %q) = %q, want %q", tc.gene, tc.direction, tc.ext, got, tc.want)
		}
	}
}
