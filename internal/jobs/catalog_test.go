package jobs

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuiltins(slept *[]time.Duration) *Builtins {
	return NewBuiltins(BuiltinsOptions{
		Rand: rand.New(rand.NewPCG(1, 2)),
		Now:  func() time.Time { return time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC) },
		Sleep: func(_ context.Context, d time.Duration) error {
			if slept != nil {
				*slept = append(*slept, d)
			}
			return nil
		},
	})
}

func TestCatalog_RegisterAndLookup(t *testing.T) {
	c := NewCatalog(CatalogOptions{})
	require.NoError(t, newTestBuiltins(nil).RegisterAll(c))

	q, ok := c.QueueFor(KindDataAggregation)
	require.True(t, ok)
	assert.Equal(t, QueueAggregation, q)

	q, ok = c.QueueFor(KindTestJob)
	require.True(t, ok)
	assert.Equal(t, QueueDefault, q)

	_, ok = c.QueueFor("mystery")
	assert.False(t, ok)

	assert.Equal(t, []string{QueueAggregation, QueueDefault, QueueScheduled}, c.Queues())
	assert.Len(t, c.Kinds(), 7)

	err := c.Register(Definition{Kind: KindTestJob, Handler: newTestBuiltins(nil).TestJob})
	require.Error(t, err)
}

func TestCatalog_AllowUnknown(t *testing.T) {
	c := NewCatalog(CatalogOptions{AllowUnknown: true})
	q, ok := c.QueueFor("anything")
	assert.True(t, ok)
	assert.Equal(t, QueueDefault, q)

	_, found := c.Lookup("anything")
	assert.False(t, found, "unknown kinds have no handler")
}

func TestCatalog_RegisterValidation(t *testing.T) {
	c := NewCatalog(CatalogOptions{})
	require.Error(t, c.Register(Definition{Handler: newTestBuiltins(nil).HelloWorld}))
	require.Error(t, c.Register(Definition{Kind: "x"}))

	require.NoError(t, c.Register(Definition{Kind: "x", Handler: newTestBuiltins(nil).HelloWorld}))
	q, _ := c.QueueFor("x")
	assert.Equal(t, QueueDefault, q)
}

func TestDefaultSchedules(t *testing.T) {
	all := DefaultSchedules()
	require.Len(t, all, 5)
	specs := map[string]string{}
	for _, s := range all {
		specs[s.Name] = s.CronSpec
		assert.True(t, s.Enabled)
	}
	assert.Equal(t, "0 * * * *", specs[KindHourlyReport])
	assert.Equal(t, "0 0 * * *", specs[KindDailyCleanup])
	assert.Equal(t, "*/5 * * * *", specs[KindFiveMinuteAggregation])
	assert.Equal(t, "* * * * *", specs[KindHelloWorld])
	assert.Equal(t, "* * * * *", specs[KindStockPriceTracker])

	filtered := FilterSchedules(all, []string{KindDailyCleanup, "unknown"})
	require.Len(t, filtered, 1)
	assert.Equal(t, KindDailyCleanup, filtered[0].Name)
	assert.Len(t, FilterSchedules(all, nil), 5)
}

func TestBuiltins_TestJob(t *testing.T) {
	var slept []time.Duration
	b := newTestBuiltins(&slept)
	out, err := b.TestJob(context.Background(), nil)
	require.NoError(t, err)

	res, ok := out.(TestJobResult)
	require.True(t, ok)
	assert.Equal(t, "Job completed", res.Message)
	assert.GreaterOrEqual(t, res.Seconds, 1)
	assert.LessOrEqual(t, res.Seconds, 5)
	assert.Equal(t, []time.Duration{time.Duration(res.Seconds) * time.Second}, slept)
}

func TestBuiltins_TestJobHonorsCancellation(t *testing.T) {
	b := NewBuiltins(BuiltinsOptions{Rand: rand.New(rand.NewPCG(1, 2))})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.TestJob(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestBuiltins_DataAggregation(t *testing.T) {
	b := newTestBuiltins(nil)

	out, err := b.DataAggregation(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "1h", out.(AggregationResult).TimeRange)

	out, err = b.DataAggregation(context.Background(), json.RawMessage(`{"time_range":"5m"}`))
	require.NoError(t, err)
	res := out.(AggregationResult)
	assert.Equal(t, "5m", res.TimeRange)
	assert.GreaterOrEqual(t, res.DataPoints, 100)
	assert.LessOrEqual(t, res.DataPoints, 1000)

	_, err = b.DataAggregation(context.Background(), json.RawMessage(`[1]`))
	require.Error(t, err)
}

func TestBuiltins_Periodic(t *testing.T) {
	b := newTestBuiltins(nil)
	ctx := context.Background()

	out, err := b.HourlyReport(ctx, nil)
	require.NoError(t, err)
	report := out.(HourlyReportResult)
	assert.Equal(t, "hourly", report.ReportType)
	assert.Equal(t, 10, report.Hour)

	out, err = b.DailyCleanup(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "success", out.(CleanupResult).Status)

	out, err = b.HelloWorld(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world!", out)

	out, err = b.StockPriceTracker(ctx, nil)
	require.NoError(t, err)
	prices := out.(StockPriceResult)
	assert.Equal(t, "open", prices.MarketStatus)
	require.Len(t, prices.Prices, 5)
	assert.InDelta(t, 190.0, prices.Prices["AAPL"], 5.01)
}
