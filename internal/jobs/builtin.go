package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// Builtins holds the randomness and clock the built-in handlers use.
type Builtins struct {
	mu    sync.Mutex
	rng   *rand.Rand
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// BuiltinsOptions configures Builtins. Zero values use real time and a random seed.
type BuiltinsOptions struct {
	Rand  *rand.Rand
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewBuiltins returns the handler set for the built-in kinds.
func NewBuiltins(opts BuiltinsOptions) *Builtins {
	b := &Builtins{rng: opts.Rand, now: opts.Now, sleep: opts.Sleep}
	if b.rng == nil {
		b.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // simulated workloads
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.sleep == nil {
		b.sleep = sleepContext
	}
	return b
}

// RegisterAll adds every built-in kind to c.
func (b *Builtins) RegisterAll(c *Catalog) error {
	defs := []Definition{
		{Kind: KindTestJob, Queue: QueueDefault, Handler: b.TestJob},
		{Kind: KindDataAggregation, Queue: QueueAggregation, Handler: b.DataAggregation},
		{Kind: KindFiveMinuteAggregation, Queue: QueueAggregation, Handler: b.DataAggregation},
		{Kind: KindHourlyReport, Queue: QueueScheduled, Handler: b.HourlyReport},
		{Kind: KindDailyCleanup, Queue: QueueScheduled, Handler: b.DailyCleanup},
		{Kind: KindHelloWorld, Queue: QueueScheduled, Handler: b.HelloWorld},
		{Kind: KindStockPriceTracker, Queue: QueueScheduled, Handler: b.StockPriceTracker},
	}
	for _, d := range defs {
		if err := c.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builtins) intRange(lo, hi int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return lo + b.rng.IntN(hi-lo+1)
}

func (b *Builtins) floatRange(lo, hi float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return lo + b.rng.Float64()*(hi-lo)
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// TestJobResult is the result of the "test job" kind.
type TestJobResult struct {
	Message string `json:"message"`
	Seconds int    `json:"seconds"`
}

// TestJob sleeps between one and five seconds.
func (b *Builtins) TestJob(ctx context.Context, _ json.RawMessage) (any, error) {
	seconds := b.intRange(1, 5)
	if err := b.sleep(ctx, time.Duration(seconds)*time.Second); err != nil {
		return nil, err
	}
	return TestJobResult{Message: "Job completed", Seconds: seconds}, nil
}

// AggregationInput is the input of the aggregation kinds.
type AggregationInput struct {
	TimeRange string `json:"time_range"`
}

// AggregationResult is the result of the aggregation kinds.
type AggregationResult struct {
	TimeRange        string    `json:"time_range"`
	StartTime        time.Time `json:"start_time"`
	DataPoints       int       `json:"data_points"`
	AggregatedValue  float64   `json:"aggregated_value"`
	ProcessingTimeMS int       `json:"processing_time_ms"`
}

// DataAggregation aggregates simulated data over input.time_range (default "1h").
func (b *Builtins) DataAggregation(_ context.Context, input json.RawMessage) (any, error) {
	in := AggregationInput{}
	if len(input) > 0 && string(input) != "null" {
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("decode aggregation input: %w", err)
		}
	}
	in.TimeRange = strings.TrimSpace(in.TimeRange)
	if in.TimeRange == "" {
		in.TimeRange = "1h"
	}
	return AggregationResult{
		TimeRange:        in.TimeRange,
		StartTime:        b.now().UTC(),
		DataPoints:       b.intRange(100, 1000),
		AggregatedValue:  round(b.floatRange(1000, 10000), 2),
		ProcessingTimeMS: b.intRange(10, 100),
	}, nil
}

// ReportMetrics is the metrics block of an hourly report.
type ReportMetrics struct {
	ActiveUsers           int     `json:"active_users"`
	RequestsProcessed     int     `json:"requests_processed"`
	AverageResponseTimeMS float64 `json:"average_response_time_ms"`
	ErrorRate             float64 `json:"error_rate"`
}

// HourlyReportResult is the result of the "hourly report" kind.
type HourlyReportResult struct {
	ReportType  string        `json:"report_type"`
	GeneratedAt time.Time     `json:"generated_at"`
	Hour        int           `json:"hour"`
	Day         int           `json:"day"`
	Metrics     ReportMetrics `json:"metrics"`
}

// HourlyReport generates a simulated traffic report.
func (b *Builtins) HourlyReport(_ context.Context, _ json.RawMessage) (any, error) {
	now := b.now().UTC()
	return HourlyReportResult{
		ReportType:  "hourly",
		GeneratedAt: now,
		Hour:        now.Hour(),
		Day:         now.Day(),
		Metrics: ReportMetrics{
			ActiveUsers:           b.intRange(100, 500),
			RequestsProcessed:     b.intRange(1000, 5000),
			AverageResponseTimeMS: round(b.floatRange(50, 200), 2),
			ErrorRate:             round(b.floatRange(0, 0.05), 4),
		},
	}, nil
}

// CleanupResult is the result of the "daily cleanup" kind.
type CleanupResult struct {
	Task         string    `json:"task"`
	ExecutedAt   time.Time `json:"executed_at"`
	ItemsCleaned int       `json:"items_cleaned"`
	SpaceFreedMB int       `json:"space_freed_mb"`
	Status       string    `json:"status"`
}

// DailyCleanup simulates a nightly cleanup.
func (b *Builtins) DailyCleanup(_ context.Context, _ json.RawMessage) (any, error) {
	return CleanupResult{
		Task:         "daily_cleanup",
		ExecutedAt:   b.now().UTC(),
		ItemsCleaned: b.intRange(10, 100),
		SpaceFreedMB: b.intRange(100, 1000),
		Status:       "success",
	}, nil
}

// HelloWorld returns a greeting.
func (b *Builtins) HelloWorld(_ context.Context, _ json.RawMessage) (any, error) {
	return "Hello, world!", nil
}

//nolint:gochecknoglobals // read-only base prices
var stockBasePrices = map[string]float64{
	"AAPL":  190.0,
	"GOOGL": 165.0,
	"MSFT":  430.0,
	"AMZN":  185.0,
	"TSLA":  250.0,
}

// StockPriceResult is the result of the "stock price tracker" kind.
type StockPriceResult struct {
	Timestamp    time.Time          `json:"timestamp"`
	Prices       map[string]float64 `json:"prices"`
	MarketStatus string             `json:"market_status"`
}

// StockPriceTracker simulates a price poll around fixed base prices.
func (b *Builtins) StockPriceTracker(_ context.Context, _ json.RawMessage) (any, error) {
	now := b.now()
	prices := make(map[string]float64, len(stockBasePrices))
	for symbol, base := range stockBasePrices {
		prices[symbol] = round(base+b.floatRange(-5, 5), 2)
	}
	status := "closed"
	if h := now.Hour(); h >= 9 && h < 16 {
		status = "open"
	}
	return StockPriceResult{Timestamp: now.UTC(), Prices: prices, MarketStatus: status}, nil
}
