package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"lincsquery/config"
	"lincsquery/internal/metrics"
	"lincsquery/internal/models"
	"lincsquery/logger"
)

// Exporter writes artifacts into the configured export directory and keeps
// running totals for the export metrics report.
type Exporter struct {
	cfg   config.ExportConfig
	log   *logger.Log
	stats metrics.ExporterStats
}

// NewExporter constructs an exporter over the configured directory.
func NewExporter(cfg config.ExportConfig) *Exporter {
	return &Exporter{cfg: cfg, log: logger.GetLogger()}
}

// WriteCSV renders the row set and writes it under the export directory,
// returning the artifact path.
func (e *Exporter) WriteCSV(rs *models.RowSet) (string, error) {
	data, err := ToCSVBytes(rs)
	if err != nil {
		atomic.AddInt64(&e.stats.ErrorsCount, 1)
		return "", err
	}
	return e.writeArtifact(rs, data, "csv")
}

// WriteParquet renders the row set as Parquet when the format is enabled.
func (e *Exporter) WriteParquet(rs *models.RowSet) (string, error) {
	if !e.cfg.Parquet.Enabled {
		return "", fmt.Errorf("parquet export is disabled")
	}
	data, err := ToParquetBytes(rs, e.cfg.Parquet)
	if err != nil {
		atomic.AddInt64(&e.stats.ErrorsCount, 1)
		return "", err
	}
	return e.writeArtifact(rs, data, "parquet")
}

func (e *Exporter) writeArtifact(rs *models.RowSet, data []byte, format string) (string, error) {
	dir := e.cfg.Directory
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		atomic.AddInt64(&e.stats.ErrorsCount, 1)
		return "", fmt.Errorf("create export directory: %w", err)
	}

	name := Filename(rs.Gene, rs.Direction, format)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		atomic.AddInt64(&e.stats.ErrorsCount, 1)
		return "", fmt.Errorf("write %s artifact: %w", format, err)
	}

	atomic.AddInt64(&e.stats.ArtifactsWritten, 1)
	atomic.AddInt64(&e.stats.RowsWritten, int64(rs.Len()))
	atomic.AddInt64(&e.stats.BytesWritten, int64(len(data)))

	e.log.WithComponent("export").WithFields(logger.Fields{
		"path":   path,
		"format": format,
		"rows":   rs.Len(),
		"bytes":  len(data),
	}).Info("artifact written")

	metrics.IncrementExport(format)
	logger.IncrementExport(format, int64(len(data)))
	return path, nil
}

// Stats snapshots the running totals.
func (e *Exporter) Stats() metrics.ExporterStats {
	return metrics.ExporterStats{
		ArtifactsWritten: atomic.LoadInt64(&e.stats.ArtifactsWritten),
		RowsWritten:      atomic.LoadInt64(&e.stats.RowsWritten),
		BytesWritten:     atomic.LoadInt64(&e.stats.BytesWritten),
		ErrorsCount:      atomic.LoadInt64(&e.stats.ErrorsCount),
	}
}

// Report emits the export metrics series.
func (e *Exporter) Report() {
	metrics.ReportExporter(e.log, "export", e.Stats())
}
