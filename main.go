package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"lincsquery/config"
	"lincsquery/internal/dashboard"
	"lincsquery/internal/export"
	"lincsquery/internal/lincs"
	"lincsquery/internal/metrics"
	"lincsquery/internal/models"
	"lincsquery/internal/stats"
	"lincsquery/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	gene := flag.String("gene", "", "Gene symbol for a one-shot query")
	direction := flag.String("direction", "both", "Query direction: up, down or both")
	limit := flag.Int("limit", 0, "Maximum rows per direction (0 uses the configured default)")
	format := flag.String("format", "csv", "Export format: csv or parquet")
	outDir := flag.String("out", "", "Directory for export artifacts (overrides config)")
	panelsPath := flag.String("panels", "", "Path to a gene panel file for batch mode")
	panelName := flag.String("panel", "", "Run only the named panel from the panels file")
	serve := flag.Bool("serve", false, "Run the dashboard server even when disabled in config")

	flag.Parse()

	if *format != "csv" && *format != "parquet" {
		fmt.Fprintf(os.Stderr, "unknown export format %q, expected csv or parquet\n", *format)
		os.Exit(2)
	}

	cfg := loadConfig(log, *configPath)

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Lincsquery.Name,
		"version":     cfg.Lincsquery.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting lincsquery")

	metrics.Init()
	initCloudWatch(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if *outDir != "" {
		cfg.Export.Directory = *outDir
	}
	if *serve {
		cfg.Dashboard.Enabled = true
	}

	client := lincs.NewClient(cfg)
	exporter := export.NewExporter(cfg.Export)

	archiver, err := export.NewArchiver(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("failed to initialize S3 archiver")
		os.Exit(1)
	}

	switch {
	case *gene != "":
		code := runOnce(ctx, log, client, exporter, archiver, queryJob{
			gene:      *gene,
			direction: *direction,
			limit:     orDefault(*limit, cfg.Client.DefaultLimit),
			format:    *format,
		})
		exporter.Report()
		os.Exit(code)
	case *panelsPath != "":
		code := runPanels(ctx, log, client, exporter, archiver,
			*panelsPath, *panelName, orDefault(*limit, cfg.Client.DefaultLimit), *format)
		exporter.Report()
		os.Exit(code)
	default:
		if !cfg.Dashboard.Enabled {
			fmt.Fprintln(os.Stderr, "nothing to do: pass -gene GENE, -panels FILE, or enable the dashboard")
			flag.Usage()
			os.Exit(2)
		}
		runDashboard(ctx, cancel, cfg, log, client, archiver)
	}
}

func loadConfig(log *logger.Log, path string) *config.Config {
	resolved := config.ResolveConfigPath(path)
	cfg, err := config.LoadConfig(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == config.DefaultConfigPath {
			log.WithFields(logger.Fields{"path": resolved}).Info("no config file found, using defaults")
			return config.Default()
		}
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}
	return cfg
}

// initCloudWatch enables CloudWatch metric publication when a namespace is
// configured in the environment.
func initCloudWatch(cfg *config.Config) {
	namespace := strings.TrimSpace(os.Getenv("CLOUDWATCH_NAMESPACE"))
	if namespace == "" {
		return
	}
	region := strings.TrimSpace(os.Getenv("AWS_REGION"))
	if region == "" {
		region = cfg.Storage.S3.Region
	}
	logger.InitCloudWatch(region, namespace, cfg.Logging.DashboardName)
	metrics.InitCloudWatch(region, namespace, cfg.Logging.DashboardName)
}

type queryJob struct {
	gene      string
	direction string
	limit     int
	format    string
}

func runOnce(ctx context.Context, log *logger.Log, client *lincs.Client, exporter *export.Exporter, archiver *export.Archiver, job queryJob) int {
	switch strings.ToLower(strings.TrimSpace(job.direction)) {
	case "both":
		up, down := client.FetchBoth(ctx, job.gene, job.limit)
		ok := deliver(ctx, log, exporter, archiver, up.Rows, up.Err, job.format)
		if !deliver(ctx, log, exporter, archiver, down.Rows, down.Err, job.format) {
			ok = false
		}
		if !ok {
			return 1
		}
		return 0
	default:
		direction, err := models.ParseDirection(job.direction)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		rs, qerr := client.FetchPerturbagens(ctx, job.gene, direction, job.limit)
		if !deliver(ctx, log, exporter, archiver, rs, qerr, job.format) {
			return 1
		}
		return 0
	}
}

func runPanels(ctx context.Context, log *logger.Log, client *lincs.Client, exporter *export.Exporter, archiver *export.Archiver, path, name string, limit int, format string) int {
	panels, err := config.LoadGenePanels(path)
	if err != nil {
		log.WithError(err).Error("failed to load gene panels")
		return 1
	}

	selected := panels.Panels
	if name != "" {
		panel := panels.Panel(name)
		if panel == nil {
			fmt.Fprintf(os.Stderr, "panel %q not found in %s\n", name, path)
			return 2
		}
		selected = []config.GenePanel{*panel}
	}
	if len(selected) == 0 {
		fmt.Fprintln(os.Stderr, "no panels defined")
		return 2
	}

	// Production-like environments treat a failing panel query as fatal so a
	// scheduled batch never half-completes silently.
	strict := config.IsProductionLike(config.AppEnvironment())
	failures := 0

	for _, panel := range selected {
		log.WithComponent("main").WithFields(logger.Fields{
			"panel": panel.Name,
			"genes": len(panel.Genes),
		}).Info("running gene panel")

		for _, g := range panel.Genes {
			for _, d := range panelDirections(panel) {
				rs, qerr := client.FetchPerturbagens(ctx, g, d, limit)
				if !deliver(ctx, log, exporter, archiver, rs, qerr, format) {
					failures++
					if strict {
						log.WithComponent("main").WithFields(logger.Fields{
							"panel": panel.Name,
							"gene":  g,
						}).Error("aborting batch after panel query failure")
						return 1
					}
				}
				if ctx.Err() != nil {
					return 1
				}
			}
		}
	}

	if failures > 0 {
		fmt.Fprintf(os.Stderr, "%d panel queries failed\n", failures)
		return 1
	}
	return 0
}

func panelDirections(panel config.GenePanel) []models.Direction {
	if len(panel.Directions) == 0 {
		return []models.Direction{models.DirectionUp, models.DirectionDown}
	}
	directions := make([]models.Direction, 0, len(panel.Directions))
	for _, raw := range panel.Directions {
		if d, err := models.ParseDirection(raw); err == nil {
			directions = append(directions, d)
		}
	}
	if len(directions) == 0 {
		return []models.Direction{models.DirectionUp, models.DirectionDown}
	}
	return directions
}

// deliver prints the outcome of one query and exports the rows when there are
// any. It reports whether the query succeeded.
func deliver(ctx context.Context, log *logger.Log, exporter *export.Exporter, archiver *export.Archiver, rs *models.RowSet, err error, format string) bool {
	if err != nil {
		if qe, ok := lincs.AsQueryError(err); ok {
			fmt.Fprintln(os.Stderr, qe.UserMessage())
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return false
	}

	if rs.IsEmpty() {
		fmt.Printf("%s %s: no perturbations found\n", rs.Gene, rs.Direction.Label())
		return true
	}

	summary := stats.Summarize(rs)

	var (
		path        string
		writeErr    error
		contentType = "text/csv"
	)
	switch format {
	case "parquet":
		contentType = "application/octet-stream"
		path, writeErr = exporter.WriteParquet(rs)
	default:
		path, writeErr = exporter.WriteCSV(rs)
	}
	if writeErr != nil {
		fmt.Fprintf(os.Stderr, "failed to export %s %s: %v\n", rs.Gene, rs.Direction, writeErr)
		return false
	}

	fmt.Printf("%s %s: %d rows (max CD %s, mean CD %s) -> %s\n",
		rs.Gene, rs.Direction.Label(), rs.Len(), formatCD(summary.MaxCD), formatCD(summary.MeanCD), path)

	if archiver != nil {
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			log.WithComponent("main").WithError(readErr).Warn("failed to read artifact for archiving")
			return true
		}
		key, archiveErr := archiver.Archive(ctx, rs.Gene, filepath.Base(path), data, contentType)
		if archiveErr != nil {
			log.WithComponent("main").WithError(archiveErr).Warn("failed to archive artifact to S3")
		} else {
			fmt.Printf("  archived to %s\n", key)
		}
	}
	return true
}

func runDashboard(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, log *logger.Log, client *lincs.Client, archiver *export.Archiver) {
	srv, err := dashboard.NewServer(cfg, client, archiver, log)
	if err != nil {
		log.WithError(err).Error("failed to build dashboard server")
		os.Exit(1)
	}
	client.OnRetry = srv.PublishRetry

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
		cancel()
	}()

	if err := srv.Run(ctx, cfg.Lincsquery.Name); err != nil {
		log.WithError(err).Error("dashboard server failed")
		os.Exit(1)
	}

	log.Info("lincsquery stopped")
}

func formatCD(n models.NullFloat) string {
	if !n.Valid {
		return "n/a"
	}
	return strconv.FormatFloat(n.Float64, 'f', 3, 64)
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
