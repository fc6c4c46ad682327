package dashboard

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"lincsquery/config"
	"lincsquery/internal/export"
	"lincsquery/internal/lincs"
	"lincsquery/internal/metrics"
	"lincsquery/internal/models"
	"lincsquery/internal/stats"
	"lincsquery/logger"
)

//go:embed templates/*.tmpl assets/*
var embeddedFS embed.FS

// chartPoints caps the fold-change chart series per direction.
const chartPoints = 10

// Querier runs perturbagen queries on behalf of dashboard requests.
// *lincs.Client satisfies it; tests substitute a stub.
type Querier interface {
	FetchPerturbagens(ctx context.Context, gene string, direction models.Direction, limit int) (*models.RowSet, error)
}

// Server hosts the Gin-powered query dashboard.
type Server struct {
	cfg               config.DashboardConfig
	limits            config.ClientConfig
	parquet           config.ParquetConfig
	client            Querier
	archiver          *export.Archiver
	log               *logger.Log
	metricStore       *metricStore
	logStore          *logStore
	queryStore        *queryStore
	events            *eventHub
	metricHandler     metrics.MetricHandlerID
	metricEvents      metrics.MetricHandlerID
	httpServer        *http.Server
	refreshIntervalMs int
	resourceSampler   *resourceSampler
}

// NewServer constructs the dashboard server when the dashboard feature is
// enabled. When it is disabled the returned server is nil.
func NewServer(cfg *config.Config, client Querier, archiver *export.Archiver, log *logger.Log) (*Server, error) {
	if !cfg.Dashboard.Enabled {
		return nil, nil
	}

	dash := cfg.Dashboard
	dash.Address = normalizeAddress(dash.Address)

	if dash.RefreshInterval <= 0 {
		dash.RefreshInterval = 5 * time.Second
	}
	if dash.LogHistory <= 0 {
		dash.LogHistory = 200
	}
	if dash.MetricsHistory <= 0 {
		dash.MetricsHistory = 200
	}
	if dash.QueryHistory <= 0 {
		dash.QueryHistory = 100
	}

	metricStore := newMetricStore(dash.MetricsHistory)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(dash.LogHistory)
	log.AddHook(logStore)

	hub := newEventHub(log)
	metricEventsID := metrics.RegisterMetricHandler(func(m metrics.Metric) {
		hub.publish(Event{
			Timestamp: m.Timestamp,
			Type:      EventMetric,
			Fields: map[string]interface{}{
				"component":   m.Component,
				"name":        m.Name,
				"value":       m.Value,
				"metric_type": m.Type,
			},
		})
	})

	sampler := newResourceSampler(dash.MetricsHistory, dash.RefreshInterval, "/", log)

	server := &Server{
		cfg:               dash,
		limits:            cfg.Client,
		parquet:           cfg.Export.Parquet,
		client:            client,
		archiver:          archiver,
		log:               log,
		metricStore:       metricStore,
		logStore:          logStore,
		queryStore:        newQueryStore(dash.QueryHistory),
		events:            hub,
		metricHandler:     handlerID,
		metricEvents:      metricEventsID,
		refreshIntervalMs: int(dash.RefreshInterval / time.Millisecond),
		resourceSampler:   sampler,
	}

	if server.refreshIntervalMs <= 0 {
		server.refreshIntervalMs = int((5 * time.Second) / time.Millisecond)
	}

	return server, nil
}

// Run starts the dashboard HTTP server and blocks until the provided context
// is cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	if s.resourceSampler != nil {
		s.resourceSampler.start(ctx)
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	s.log.WithComponent("dashboard").WithFields(logger.Fields{
		"address": s.cfg.Address,
	}).Info("dashboard listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	metrics.UnregisterMetricHandler(s.metricEvents)
	if s.logStore != nil {
		s.logStore.close()
	}
	if s.resourceSampler != nil {
		s.resourceSampler.stop()
	}
	if s.events != nil {
		clients, sent, dropped := s.events.stats()
		s.events.closeAll()
		s.log.WithComponent("dashboard").WithFields(logger.Fields{
			"clients":        clients,
			"events_sent":    sent,
			"events_dropped": dropped,
		}).Info("event hub closed")
	}
}

// Address reports the network address the dashboard server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

// PublishRetry streams a retry event to websocket clients. Wire it to the
// query client's OnRetry hook.
func (s *Server) PublishRetry(gene string, direction models.Direction, attempt int, wait time.Duration) {
	if s == nil {
		return
	}
	s.events.publish(Event{
		Type:      EventQueryRetry,
		Gene:      strings.ToUpper(gene),
		Direction: string(direction),
		Fields: map[string]interface{}{
			"attempt": attempt,
			"wait_ms": wait.Milliseconds(),
		},
	})
}

// queryResponse is the /api/query body.
type queryResponse struct {
	Gene       string             `json:"gene"`
	Direction  string             `json:"direction"`
	Limit      int                `json:"limit"`
	DurationMs int64              `json:"duration_ms"`
	Results    []directionPayload `json:"results"`
	Error      *queryErrorPayload `json:"error,omitempty"`
}

// directionPayload is one direction's slice of the /api/query body.
type directionPayload struct {
	Direction  string                     `json:"direction"`
	Label      string                     `json:"label"`
	Rows       []models.PerturbagenRecord `json:"rows"`
	Summary    stats.Summary              `json:"summary"`
	Chart      []stats.ChartPoint         `json:"chart"`
	ByCellLine []stats.GroupMean          `json:"by_cell_line"`
	Empty      bool                       `json:"empty"`
	Downloads  map[string]string          `json:"downloads,omitempty"`
	Error      *queryErrorPayload         `json:"error,omitempty"`
}

type queryErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	// Allow running behind load balancers and accessing the dashboard from
	// public networks by trusting all proxies by default. Users can
	// override Gin's trusted proxy list via the GIN_TRUSTED_PROXIES
	// environment variable if needed.
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	tmpl := template.Must(template.New("dashboard").ParseFS(embeddedFS, "templates/index.tmpl"))
	router.SetHTMLTemplate(tmpl)

	if assetsFS, err := fsSub("assets"); err == nil {
		router.StaticFS("/assets", http.FS(assetsFS))
	}

	router.GET("/", func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.tmpl", gin.H{
			"AppName":           appName,
			"RefreshIntervalMs": s.refreshIntervalMs,
			"DefaultLimit":      s.limits.DefaultLimit,
			"MinLimit":          s.limits.MinLimit,
			"MaxLimit":          s.limits.MaxLimit,
			"ParquetEnabled":    s.parquet.Enabled,
		})
	})

	router.GET("/api/query", s.handleQuery)
	router.GET("/api/export/csv", s.handleExport("csv"))
	router.GET("/api/export/parquet", s.handleExport("parquet"))

	router.GET("/api/queries", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"queries": s.queryStore.snapshot()})
	})

	router.GET("/api/metrics", func(c *gin.Context) {
		metricsSnapshot := s.metricStore.snapshot()
		payload := make([]gin.H, 0, len(metricsSnapshot))
		for _, m := range metricsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"name":      m.Name,
				"value":     m.Value,
				"type":      m.Type,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	router.GET("/api/logs", func(c *gin.Context) {
		logsSnapshot := s.logStore.snapshot()
		payload := make([]gin.H, 0, len(logsSnapshot))
		for _, l := range logsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": l.Timestamp.Format(time.RFC3339Nano),
				"level":     l.Level,
				"component": l.Component,
				"message":   l.Message,
				"fields":    l.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"logs": payload})
	})

	router.GET("/api/resources", func(c *gin.Context) {
		snapshots := s.resourceSampler.snapshot()
		payload := make([]gin.H, 0, len(snapshots))
		for _, snap := range snapshots {
			payload = append(payload, gin.H{
				"timestamp":      snap.Timestamp.Format(time.RFC3339Nano),
				"cpu_percent":    snap.CPUPercent,
				"memory_used":    snap.MemoryUsed,
				"memory_total":   snap.MemoryTotal,
				"memory_percent": snap.MemoryPct,
				"disk_used":      snap.DiskUsed,
				"disk_total":     snap.DiskTotal,
				"disk_percent":   snap.DiskPct,
				"goroutines":     snap.Goroutines,
			})
		}
		c.JSON(http.StatusOK, gin.H{"resources": payload})
	})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.GET("/ws/events", func(c *gin.Context) {
		s.events.serveWS(c.Writer, c.Request)
	})

	return router, nil
}

func (s *Server) handleQuery(c *gin.Context) {
	gene := strings.TrimSpace(c.Query("gene"))
	directionParam := strings.ToLower(strings.TrimSpace(c.DefaultQuery("direction", "both")))

	limit := s.limits.DefaultLimit
	if rawLimit := strings.TrimSpace(c.Query("limit")); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = parsed
	}

	var directions []models.Direction
	switch directionParam {
	case "both":
		directions = []models.Direction{models.DirectionUp, models.DirectionDown}
	case "up":
		directions = []models.Direction{models.DirectionUp}
	case "down":
		directions = []models.Direction{models.DirectionDown}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("direction %q must be up, down or both", directionParam)})
		return
	}

	display := strings.ToUpper(gene)
	s.events.publish(Event{
		Type:      EventQueryStarted,
		Gene:      display,
		Direction: directionParam,
		Fields:    map[string]interface{}{"limit": limit},
	})

	start := time.Now()
	results := make([]directionPayload, len(directions))
	errs := make([]error, len(directions))

	var wg sync.WaitGroup
	for i, direction := range directions {
		wg.Add(1)
		go func(i int, direction models.Direction) {
			defer wg.Done()
			results[i], errs[i] = s.runQuery(c.Request.Context(), gene, direction, limit)
		}(i, direction)
	}
	wg.Wait()

	response := queryResponse{
		Gene:       display,
		Direction:  directionParam,
		Limit:      limit,
		DurationMs: time.Since(start).Milliseconds(),
		Results:    results,
	}

	for _, err := range errs {
		if err == nil {
			// partial success still renders; per-direction errors ride
			// along inside the results
			c.JSON(http.StatusOK, response)
			return
		}
	}

	response.Error = results[0].Error
	c.JSON(kindStatus(errs[0]), response)
}

func (s *Server) runQuery(ctx context.Context, gene string, direction models.Direction, limit int) (directionPayload, error) {
	payload := directionPayload{
		Direction: string(direction),
		Label:     direction.Label() + " perturbations",
	}

	queryStart := time.Now()
	rs, err := s.client.FetchPerturbagens(ctx, gene, direction, limit)
	elapsed := time.Since(queryStart)

	record := queryRecord{
		Gene:       strings.ToUpper(strings.TrimSpace(gene)),
		Direction:  string(direction),
		Limit:      limit,
		DurationMs: elapsed.Milliseconds(),
	}

	if err != nil {
		kind := errorKind(err)
		msg := userMessage(err)
		payload.Error = &queryErrorPayload{Kind: kind, Message: msg}
		record.Status = kind
		record.Error = msg
		s.queryStore.add(record)
		s.events.publish(Event{
			Type:      EventQueryFailed,
			Gene:      record.Gene,
			Direction: string(direction),
			Fields:    map[string]interface{}{"kind": kind, "message": msg},
		})
		return payload, err
	}

	payload.Rows = rs.Rows
	if payload.Rows == nil {
		payload.Rows = []models.PerturbagenRecord{}
	}
	payload.Summary = stats.Summarize(rs)
	payload.Chart = stats.TopByLog2FoldChange(rs, chartPoints)
	payload.ByCellLine = stats.MeanCDBy(rs, stats.GroupCellLine)
	payload.Empty = rs.IsEmpty()
	payload.Downloads = s.downloadLinks(rs.Gene, direction, limit)

	record.Status = "ok"
	record.Rows = rs.Len()
	record.Attempts = rs.Attempts
	s.queryStore.add(record)
	s.events.publish(Event{
		Type:      EventQueryFinished,
		Gene:      rs.Gene,
		Direction: string(direction),
		Fields: map[string]interface{}{
			"rows":        rs.Len(),
			"attempts":    rs.Attempts,
			"duration_ms": elapsed.Milliseconds(),
		},
	})
	return payload, nil
}

func (s *Server) handleExport(format string) gin.HandlerFunc {
	return func(c *gin.Context) {
		gene := strings.TrimSpace(c.Query("gene"))
		direction, err := models.ParseDirection(c.Query("direction"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		limit := s.limits.DefaultLimit
		if rawLimit := strings.TrimSpace(c.Query("limit")); rawLimit != "" {
			parsed, perr := strconv.Atoi(rawLimit)
			if perr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
				return
			}
			limit = parsed
		}

		if format == "parquet" && !s.parquet.Enabled {
			c.JSON(http.StatusBadRequest, gin.H{"error": "parquet export is disabled"})
			return
		}

		rs, err := s.client.FetchPerturbagens(c.Request.Context(), gene, direction, limit)
		if err != nil {
			c.JSON(kindStatus(err), gin.H{"kind": errorKind(err), "error": userMessage(err)})
			return
		}

		var data []byte
		contentType := "text/csv"
		switch format {
		case "parquet":
			contentType = "application/octet-stream"
			data, err = export.ToParquetBytes(rs, s.parquet)
		default:
			data, err = export.ToCSVBytes(rs)
		}
		if err != nil {
			if errors.Is(err, export.ErrEmptyExport) {
				c.JSON(http.StatusNotFound, gin.H{"error": "No perturbations found for this gene, nothing to export."})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		filename := export.Filename(rs.Gene, direction, format)

		if s.archiver != nil {
			archiveCtx := context.WithoutCancel(c.Request.Context())
			go func() {
				if _, err := s.archiver.Archive(archiveCtx, rs.Gene, filename, data, contentType); err != nil {
					s.log.WithComponent("dashboard").WithError(err).Warn("failed to archive export artifact")
				}
			}()
		}

		s.events.publish(Event{
			Type:      EventExport,
			Gene:      rs.Gene,
			Direction: string(direction),
			Fields:    map[string]interface{}{"format": format, "bytes": len(data)},
		})
		metrics.IncrementExport(format)
		logger.IncrementExport(format, int64(len(data)))

		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Data(http.StatusOK, contentType, data)
	}
}

func (s *Server) downloadLinks(gene string, direction models.Direction, limit int) map[string]string {
	links := map[string]string{
		"csv": fmt.Sprintf("/api/export/csv?gene=%s&direction=%s&limit=%d", url.QueryEscape(gene), direction, limit),
	}
	if s.parquet.Enabled {
		links["parquet"] = fmt.Sprintf("/api/export/parquet?gene=%s&direction=%s&limit=%d", url.QueryEscape(gene), direction, limit)
	}
	return links
}

func errorKind(err error) string {
	if qe, ok := lincs.AsQueryError(err); ok {
		return string(qe.Kind)
	}
	return "internal"
}

func userMessage(err error) string {
	if qe, ok := lincs.AsQueryError(err); ok {
		return qe.UserMessage()
	}
	return "The query failed."
}

// kindStatus maps a query error to the HTTP status the API responds with.
func kindStatus(err error) int {
	qe, ok := lincs.AsQueryError(err)
	if !ok {
		return http.StatusBadGateway
	}
	switch qe.Kind {
	case lincs.KindInvalidArgument:
		return http.StatusBadRequest
	case lincs.KindTimeout, lincs.KindConnection:
		return http.StatusGatewayTimeout
	case lincs.KindHTTP:
		if qe.Status == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

func fsSub(path string) (fs.FS, error) {
	sub, err := fs.Sub(embeddedFS, path)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
