package export

import (
	"bytes"
	"errors"
	"testing"

	"lincsquery/config"
	"lincsquery/internal/models"
)

func TestToParquetBytesProducesParquetFile(t *testing.T) {
	cfg := config.ParquetConfig{Compression: "snappy", PageSize: 8 * 1024}

	data, err := ToParquetBytes(exportRowSet(), cfg)
	if err != nil {
		t.Fatalf("ToParquetBytes returned %v", err)
	}

	magic := []byte("PAR1")
	if len(data) < 2*len(magic) {
		t.Fatalf("parquet file is %d bytes", len(data))
	}
	if !bytes.HasPrefix(data, magic) {
		t.Errorf("file does not start with the parquet magic, got % x", data[:4])
	}
	if !bytes.HasSuffix(data, magic) {
		t.Errorf("file does not end with the parquet magic, got % x", data[len(data)-4:])
	}
}

func TestToParquetBytesUncompressedFallback(t *testing.T) {
	data, err := ToParquetBytes(exportRowSet(), config.ParquetConfig{Compression: "zstd"})
	if err != nil {
		t.Fatalf("unknown compression must fall back to uncompressed, got %v", err)
	}
	if len(data) == 0 {
		t.Error("empty parquet output")
	}
}

func TestToParquetBytesEmpty(t *testing.T) {
	_, err := ToParquetBytes(&models.RowSet{}, config.ParquetConfig{})
	if !errors.Is(err, ErrEmptyExport) {
		t.Errorf("empty set error = %v, want ErrEmptyExport", err)
	}
}

func TestOptFloat(t *testing.T) {
	if p := optFloat(models.NullFloat{}); p != nil {
		t.Errorf("missing value pointer = %v, want nil", *p)
	}
	p := optFloat(models.Float(0.42))
	if p == nil || *p != 0.42 {
		t.Errorf("present value pointer = %v", p)
	}
}
