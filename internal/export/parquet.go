package export

import (
	"bytes"
	"fmt"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"lincsquery/config"
	"lincsquery/internal/models"
)

// parquetRow mirrors the export header. Nullable numerics map to OPTIONAL
// columns so missing markers survive the round trip.
type parquetRow struct {
	Perturbagen    string   `parquet:"name=perturbagen, type=BYTE_ARRAY, convertedtype=UTF8"`
	CDCoefficient  *float64 `parquet:"name=cd_coefficient, type=DOUBLE, repetitiontype=OPTIONAL"`
	FoldChange     *float64 `parquet:"name=fold_change, type=DOUBLE, repetitiontype=OPTIONAL"`
	Log2FoldChange *float64 `parquet:"name=log2_fold_change, type=DOUBLE, repetitiontype=OPTIONAL"`
	Dose           string   `parquet:"name=dose, type=BYTE_ARRAY, convertedtype=UTF8"`
	CellLine       string   `parquet:"name=cell_line, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timepoint      string   `parquet:"name=timepoint, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// memoryFile implements the ParquetFile interface over a byte buffer so
// artifacts are produced without touching disk.
type memoryFile struct {
	buffer *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buffer: &bytes.Buffer{}}
}

func (m *memoryFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memoryFile) Open(string) (source.ParquetFile, error)   { return m, nil }

// Seek is never exercised on the write path.
func (m *memoryFile) Seek(int64, int) (int64, error) { return int64(m.buffer.Len()), nil }

func (m *memoryFile) Read(b []byte) (int, error)  { return m.buffer.Read(b) }
func (m *memoryFile) Write(b []byte) (int, error) { return m.buffer.Write(b) }
func (m *memoryFile) Close() error                { return nil }

// ToParquetBytes renders the row set as a Parquet file using the configured
// compression and page size.
func ToParquetBytes(rs *models.RowSet, cfg config.ParquetConfig) ([]byte, error) {
	if rs.IsEmpty() {
		return nil, ErrEmptyExport
	}

	mf := newMemoryFile()
	pw, err := writer.NewParquetWriter(mf, new(parquetRow), 4)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}

	switch cfg.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	case "lzo":
		pw.CompressionType = parquet.CompressionCodec_LZO
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}
	if cfg.PageSize > 0 {
		pw.PageSize = int64(cfg.PageSize)
	}

	for _, row := range rs.Rows {
		rec := parquetRow{
			Perturbagen:    row.Perturbagen,
			CDCoefficient:  optFloat(row.CDCoefficient),
			FoldChange:     optFloat(row.FoldChange),
			Log2FoldChange: optFloat(row.Log2FoldChange),
			Dose:           row.Dose,
			CellLine:       row.CellLine,
			Timepoint:      row.Timepoint,
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet file: %w", err)
	}

	return mf.buffer.Bytes(), nil
}

func optFloat(n models.NullFloat) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
