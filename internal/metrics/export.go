package metrics

import "lincsquery/logger"

// ExporterStats holds metrics for export components.
type ExporterStats struct {
	ArtifactsWritten int64
	RowsWritten      int64
	BytesWritten     int64
	ErrorsCount      int64
}

// ReportExporter emits common export metrics using the provided logger and component name.
func ReportExporter(log *logger.Log, component string, stats ExporterStats) {
	l := log.WithComponent(component)

	errorRate := float64(0)
	if stats.ArtifactsWritten+stats.ErrorsCount > 0 {
		errorRate = float64(stats.ErrorsCount) / float64(stats.ArtifactsWritten+stats.ErrorsCount)
	}

	avgBytesPerArtifact := float64(0)
	if stats.ArtifactsWritten > 0 {
		avgBytesPerArtifact = float64(stats.BytesWritten) / float64(stats.ArtifactsWritten)
	}

	l.LogMetric(component, "artifacts_written", stats.ArtifactsWritten, "counter", logger.Fields{})
	l.LogMetric(component, "rows_written", stats.RowsWritten, "counter", logger.Fields{})
	l.LogMetric(component, "bytes_written", stats.BytesWritten, "counter", logger.Fields{})
	l.LogMetric(component, "errors_count", stats.ErrorsCount, "counter", logger.Fields{})
	l.LogMetric(component, "error_rate", errorRate, "gauge", logger.Fields{})
	l.LogMetric(component, "avg_bytes_per_artifact", avgBytesPerArtifact, "gauge", logger.Fields{})

	entry := l.WithFields(logger.Fields{
		"artifacts_written":      stats.ArtifactsWritten,
		"rows_written":           stats.RowsWritten,
		"bytes_written":          stats.BytesWritten,
		"errors_count":           stats.ErrorsCount,
		"error_rate":             errorRate,
		"avg_bytes_per_artifact": avgBytesPerArtifact,
	})

	if stats.ErrorsCount > 0 {
		entry.Warn(component + " metrics")
		return
	}

	entry.Info(component + " metrics")
}
