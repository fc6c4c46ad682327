package lincs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"lincsquery/config"
	"lincsquery/internal/metrics"
	"lincsquery/internal/models"
	"lincsquery/logger"
)

// Client queries the LINCS reverse-search table endpoint for chemical
// perturbagens that regulate a gene. One Client is safe for concurrent use;
// every call builds its own request and shares no mutable state with other
// calls.
type Client struct {
	cfg     config.ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Log

	// OnRetry, when set, observes every backoff wait. The dashboard hooks it
	// to stream retry events to connected browsers.
	OnRetry func(gene string, direction models.Direction, attempt int, wait time.Duration)

	// sleep is swapped out in tests so backoff waits run without wall-clock
	// delays.
	sleep sleepFunc
}

// NewClient builds a client from the configuration. The underlying HTTP
// client applies the per-attempt timeout; the limiter spaces requests to stay
// polite toward the upstream service.
func NewClient(cfg *config.Config) *Client {
	log := logger.GetLogger()

	transport := &http.Transport{
		MaxIdleConns:        cfg.Client.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Client.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     cfg.Client.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     cfg.Client.ConnectionPool.IdleConnTimeout,
		DisableCompression:  false,
	}

	rps := cfg.Client.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Client.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	client := &Client{
		cfg: cfg.Client,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Client.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log,
	}

	log.WithComponent("lincs_client").WithFields(logger.Fields{
		"base_url":     cfg.Client.BaseURL,
		"timeout":      cfg.Client.Timeout.String(),
		"max_attempts": cfg.Client.Retry.MaxAttempts,
	}).Info("lincs client initialized")

	return client
}

// FetchPerturbagens validates the arguments, fetches the matching compound
// records under the bounded-retry policy and returns them normalized, sorted
// by CD coefficient descending and truncated to limit. All failures surface
// as *QueryError; an upstream result of zero compounds is a success with an
// empty row set.
func (c *Client) FetchPerturbagens(ctx context.Context, gene string, direction models.Direction, limit int) (*models.RowSet, error) {
	start := time.Now()
	trimmed := strings.TrimSpace(gene)
	display := strings.ToUpper(trimmed)

	log := c.log.WithComponent("lincs_client").WithFields(logger.Fields{
		"query_id":  uuid.NewString(),
		"gene":      display,
		"direction": string(direction),
		"limit":     limit,
	})

	if err := c.validateRequest(gene, direction, limit); err != nil {
		log.WithError(err).Warn("rejected query arguments")
		metrics.IncrementQueryError(string(direction), string(KindInvalidArgument))
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/cp/%s/%s", strings.TrimRight(c.cfg.BaseURL, "/"), direction, url.PathEscape(trimmed))
	log.WithFields(logger.Fields{"url": reqURL}).Info("querying perturbagens")

	var raw []map[string]interface{}
	policy := retryPolicy{
		MaxAttempts: c.cfg.Retry.MaxAttempts,
		Base:        c.cfg.Retry.BaseDelay,
		Max:         c.cfg.Retry.MaxDelay,
		Factor:      float64(c.cfg.Retry.BackoffMultiplier),
		Sleep:       c.sleep,
		OnWait: func(attempt int, wait time.Duration, err error) {
			log.WithError(err).WithFields(logger.Fields{
				"attempt": attempt,
				"wait":    wait.String(),
			}).Warn("transient failure, retrying")
			metrics.IncrementRetry(string(direction))
			logger.IncrementRetry()
			if c.OnRetry != nil {
				c.OnRetry(trimmed, direction, attempt, wait)
			}
		},
	}

	attempts, err := policy.run(ctx, func(int) error {
		rows, attemptErr := c.attempt(ctx, reqURL)
		if attemptErr != nil {
			return attemptErr
		}
		raw = rows
		return nil
	}, func(err error) bool {
		return IsKind(err, KindTimeout) || IsKind(err, KindConnection)
	})

	if err != nil {
		qe, ok := AsQueryError(err)
		if !ok {
			qe = &QueryError{Kind: classifyTransport(err), Err: err}
		}
		qe.Attempts = attempts
		log.WithError(qe).WithFields(logger.Fields{"attempts": attempts}).Error("query failed")
		metrics.IncrementQueryError(string(direction), string(qe.Kind))
		metrics.ObserveQueryDuration(string(direction), time.Since(start).Seconds())
		return nil, qe
	}

	rowSet := &models.RowSet{
		Gene:      display,
		Direction: direction,
		FetchedAt: time.Now().UTC(),
		Attempts:  attempts,
	}

	if len(raw) == 0 {
		log.WithFields(logger.Fields{"rows": 0, "attempts": attempts}).Info("query returned no compounds")
		metrics.IncrementQuerySuccess(string(direction))
		metrics.ObserveQueryDuration(string(direction), time.Since(start).Seconds())
		logger.IncrementQuery(string(direction), 0)
		return rowSet, nil
	}

	if !hasColumn(raw, colCDCoefficient) {
		qe := &QueryError{Kind: KindSchema, Field: colCDCoefficient, Attempts: attempts}
		log.WithError(qe).Error("response schema missing required column")
		metrics.IncrementQueryError(string(direction), string(KindSchema))
		return nil, qe
	}

	rows := normalizeRows(raw)
	sortByCDCoefficient(rows)
	rows = truncateRows(rows, limit)
	rowSet.Rows = rows

	duration := time.Since(start)
	log.WithFields(logger.Fields{
		"rows":        len(rows),
		"fetched":     len(raw),
		"attempts":    attempts,
		"duration_ms": duration.Milliseconds(),
	}).Info("query completed")

	metrics.IncrementQuerySuccess(string(direction))
	metrics.AddRowsFetched(string(direction), len(rows))
	metrics.ObserveQueryDuration(string(direction), duration.Seconds())
	logger.IncrementQuery(string(direction), len(rows))
	metrics.EmitMetric(c.log, "lincs_client", "rows_returned", len(rows), "gauge", logger.Fields{
		"gene":      display,
		"direction": string(direction),
		"unit":      "count",
	})

	return rowSet, nil
}

// DirectionResult pairs one direction's row set with its error.
type DirectionResult struct {
	Rows *models.RowSet
	Err  error
}

// FetchBoth issues the up and down queries concurrently. The two calls are
// independent: either side can fail without affecting the other, and neither
// result depends on their relative timing.
func (c *Client) FetchBoth(ctx context.Context, gene string, limit int) (up, down DirectionResult) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		up.Rows, up.Err = c.FetchPerturbagens(ctx, gene, models.DirectionUp, limit)
	}()
	go func() {
		defer wg.Done()
		down.Rows, down.Err = c.FetchPerturbagens(ctx, gene, models.DirectionDown, limit)
	}()

	wg.Wait()
	return up, down
}

func (c *Client) validateRequest(gene string, direction models.Direction, limit int) error {
	if !ValidateGeneSymbol(gene) {
		return invalidArgument("gene symbol %q must be non-empty and contain only letters, digits, hyphens and underscores", strings.TrimSpace(gene))
	}
	if direction != models.DirectionUp && direction != models.DirectionDown {
		return invalidArgument("direction %q must be %q or %q", string(direction), models.DirectionUp, models.DirectionDown)
	}
	if limit < c.cfg.MinLimit || limit > c.cfg.MaxLimit {
		return invalidArgument("limit %d must be between %d and %d", limit, c.cfg.MinLimit, c.cfg.MaxLimit)
	}
	return nil
}

// attempt performs one fetch cycle: limiter wait, GET, status check, decode.
// Timeout and connection failures come back as retryable kinds; HTTP status
// and payload-shape failures are terminal.
func (c *Client) attempt(ctx context.Context, reqURL string) ([]map[string]interface{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &QueryError{Kind: classifyTransport(err), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &QueryError{Kind: KindConnection, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &QueryError{Kind: classifyTransport(err), Err: err}
	}
	defer resp.Body.Close()

	logger.LogPerformanceEntry(c.log.WithComponent("lincs_client"), "lincs_client", "api_request", time.Since(start), logger.Fields{
		"status": resp.StatusCode,
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &QueryError{Kind: KindHTTP, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &QueryError{Kind: classifyTransport(err), Err: err}
	}

	var raw []map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &QueryError{Kind: KindMalformedResponse, Err: err}
	}
	if raw == nil {
		return nil, &QueryError{Kind: KindMalformedResponse, Err: errors.New("response body is not a JSON array")}
	}

	return raw, nil
}

// classifyTransport maps a transport-level error to the timeout or connection
// kind. Context deadline expiry counts as a timeout; everything else at this
// layer is a connection failure.
func classifyTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindConnection
}
