package export

import (
	"os"
	"path/filepath"
	"testing"

	"lincsquery/config"
	"lincsquery/internal/models"
)

func TestExporterWriteCSV(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(config.ExportConfig{Directory: dir})

	path, err := e.WriteCSV(exportRowSet())
	if err != nil {
		t.Fatalf("WriteCSV returned %v", err)
	}
	if filepath.Base(path) != "BRAF_Up-regulating_perturbations.csv" {
		t.Errorf("artifact name = %q", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	if len(data) == 0 {
		t.Error("artifact is empty")
	}

	stats := e.Stats()
	if stats.ArtifactsWritten != 1 || stats.RowsWritten != 3 || stats.ErrorsCount != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.BytesWritten != int64(len(data)) {
		t.Errorf("BytesWritten = %d, want %d", stats.BytesWritten, len(data))
	}
}

func TestExporterWriteCSVEmptyCountsError(t *testing.T) {
	e := NewExporter(config.ExportConfig{Directory: t.TempDir()})

	if _, err := e.WriteCSV(&models.RowSet{Gene: "BRAF"}); err == nil {
		t.Fatal("empty export did not fail")
	}
	if stats := e.Stats(); stats.ErrorsCount != 1 || stats.ArtifactsWritten != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestExporterWriteParquet(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(config.ExportConfig{
		Directory: dir,
		Parquet:   config.ParquetConfig{Enabled: true, Compression: "snappy"},
	})

	path, err := e.WriteParquet(exportRowSet())
	if err != nil {
		t.Fatalf("WriteParquet returned %v", err)
	}
	if filepath.Base(path) != "BRAF_Up-regulating_perturbations.parquet" {
		t.Errorf("artifact name = %q", filepath.Base(path))
	}

	disabled := NewExporter(config.ExportConfig{Directory: dir})
	if _, err := disabled.WriteParquet(exportRowSet()); err == nil {
		t.Error("disabled parquet export did not fail")
	}
}

func TestExporterCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "exports")
	e := NewExporter(config.ExportConfig{Directory: dir})

	if _, err := e.WriteCSV(exportRowSet()); err != nil {
		t.Fatalf("WriteCSV returned %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("export directory was not created: %v", err)
	}
}
