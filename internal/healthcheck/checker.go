// Package healthcheck polls the registered systems and records whether each
// one answers over HTTP.
package healthcheck

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/tm-acme-shop/acme-ops-portal/internal/config"
	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
)

// drainLimit caps how much of a response body is read before closing it.
const drainLimit = 4 << 10

// Store is the part of the systems registry the checker needs.
type Store interface {
	ListActive(ctx context.Context) ([]*models.System, error)
	UpdateHealth(ctx context.Context, result *models.HealthResult) error
}

// Checker polls systems with a GET and classifies any 2xx or 3xx answer as
// online. Redirects are not followed.
type Checker struct {
	store       Store
	client      *http.Client
	userAgent   string
	interval    time.Duration
	concurrency int
	now         func() time.Time
	logger      *logging.LoggerV2
}

// NewChecker creates a checker from the health check configuration.
func NewChecker(store Store, cfg config.HealthCheckConfig) *Checker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Checker{
		store: store,
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent:   cfg.UserAgent,
		interval:    cfg.Interval,
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logging.NewLoggerV2("health-checker"),
	}
}

// Check polls one system. It never returns an error: a timeout, a refused
// connection or a bad URL all yield an offline result.
func (c *Checker) Check(ctx context.Context, system *models.System) *models.HealthResult {
	result := &models.HealthResult{
		SystemID:     system.ID,
		Name:         system.Name,
		HealthStatus: models.HealthOffline,
	}

	start := time.Now()
	defer func() {
		result.ResponseTimeMs = time.Since(start).Milliseconds()
		result.CheckedAt = c.now()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, system.URL, nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))

	result.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		result.HealthStatus = models.HealthOnline
	}
	return result
}

// CheckAll checks every active system concurrently and stores each result.
// One system failing to store does not stop the others; the first store
// error is returned alongside every result.
func (c *Checker) CheckAll(ctx context.Context) ([]*models.HealthResult, error) {
	systems, err := c.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active systems: %w", err)
	}

	results := make([]*models.HealthResult, len(systems))

	var eg errgroup.Group
	eg.SetLimit(c.concurrency)

	for i, system := range systems {
		i, system := i, system
		eg.Go(func() error {
			result := c.Check(ctx, system)
			results[i] = result

			if result.HealthStatus == models.HealthOffline {
				c.logger.Warn("system offline", logging.Fields{
					"system_id":        system.ID,
					"name":             system.Name,
					"status_code":      result.StatusCode,
					"response_time_ms": result.ResponseTimeMs,
					"error":            result.Error,
				})
			}

			if err := c.store.UpdateHealth(ctx, result); err != nil {
				return fmt.Errorf("store health of system %d: %w", system.ID, err)
			}
			return nil
		})
	}

	err = eg.Wait()

	online := 0
	for _, r := range results {
		if r.HealthStatus == models.HealthOnline {
			online++
		}
	}
	c.logger.Info("health check completed", logging.Fields{
		"systems": len(results),
		"online":  online,
	})

	return results, err
}

// Start runs CheckAll once right away and then every configured interval
// until ctx is cancelled or the returned stop function is called. A run that
// is still going when the next one is due causes that tick to be skipped.
func (c *Checker) Start(ctx context.Context) (stop func(), err error) {
	if c.interval <= 0 {
		return nil, fmt.Errorf("health check interval must be positive, got %s", c.interval)
	}

	log := cronLogger{c.logger}
	scheduler := cron.New(cron.WithLogger(log))

	// The initial run and the ticks share one wrapper so they never overlap.
	job := cron.NewChain(cron.Recover(log), cron.SkipIfStillRunning(log)).Then(cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := c.CheckAll(ctx); err != nil {
			c.logger.Error("health check failed", logging.Fields{"error": err.Error()})
		}
	}))

	if _, err := scheduler.AddJob("@every "+c.interval.String(), job); err != nil {
		return nil, fmt.Errorf("schedule health check: %w", err)
	}

	c.logger.Info("health checker started", logging.Fields{
		"interval": c.interval.String(),
		"timeout":  c.client.Timeout.String(),
	})

	initial := make(chan struct{})
	go func() {
		defer close(initial)
		job.Run()
	}()
	scheduler.Start()

	return func() {
		<-scheduler.Stop().Done()
		<-initial
		c.logger.Info("health checker stopped")
	}, nil
}

// cronLogger routes the scheduler's own messages to the component logger.
type cronLogger struct {
	logger *logging.LoggerV2
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, kvFields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := kvFields(keysAndValues)
	fields["error"] = err.Error()
	l.logger.Error(msg, fields)
}

func kvFields(keysAndValues []interface{}) logging.Fields {
	fields := logging.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
