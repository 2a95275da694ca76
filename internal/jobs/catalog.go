// Package jobs registers the job kinds this service knows how to run and the periodic schedules
// built on them.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/target/jobfacade/internal/core"
	"github.com/target/jobfacade/internal/domain/model"
)

// Queue names.
const (
	QueueDefault     = "default"
	QueueAggregation = "aggregation"
	QueueScheduled   = "scheduled"
)

// Kind names.
const (
	KindTestJob               = "test job"
	KindDataAggregation       = "data aggregation"
	KindHourlyReport          = "hourly report"
	KindDailyCleanup          = "daily cleanup"
	KindFiveMinuteAggregation = "five minute aggregation"
	KindHelloWorld            = "hello world"
	KindStockPriceTracker     = "stock price tracker"
)

// Handler runs one job. The returned value is marshaled to JSON as the job result.
type Handler func(ctx context.Context, input json.RawMessage) (any, error)

// Definition binds a kind to its queue and handler.
type Definition struct {
	Kind    string
	Queue   string
	Handler Handler
}

// Catalog maps job kinds to queues and handlers. Safe for concurrent use.
type Catalog struct {
	mu           sync.RWMutex
	defs         map[string]Definition
	allowUnknown bool
}

var _ core.KindCatalog = (*Catalog)(nil)

// CatalogOptions configures a Catalog.
type CatalogOptions struct {
	// AllowUnknown routes unregistered kinds to the default queue instead of rejecting them.
	AllowUnknown bool
}

// NewCatalog returns an empty Catalog.
func NewCatalog(opts CatalogOptions) *Catalog {
	return &Catalog{defs: make(map[string]Definition), allowUnknown: opts.AllowUnknown}
}

// Register adds a kind. Registering the same kind twice is an error.
func (c *Catalog) Register(def Definition) error {
	if def.Kind == "" {
		return fmt.Errorf("register job kind: kind is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("register job kind %q: handler is required", def.Kind)
	}
	if def.Queue == "" {
		def.Queue = QueueDefault
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.defs[def.Kind]; exists {
		return fmt.Errorf("register job kind %q: already registered", def.Kind)
	}
	c.defs[def.Kind] = def
	return nil
}

// QueueFor implements core.KindCatalog.
func (c *Catalog) QueueFor(kind string) (string, bool) {
	c.mu.RLock()
	def, ok := c.defs[kind]
	c.mu.RUnlock()
	if ok {
		return def.Queue, true
	}
	if c.allowUnknown {
		return QueueDefault, true
	}
	return "", false
}

// Lookup returns the definition for kind.
func (c *Catalog) Lookup(kind string) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[kind]
	return def, ok
}

// Kinds returns the registered kinds sorted by name.
func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.defs))
	for k := range c.defs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Queues returns the distinct queues of the registered kinds, sorted.
func (c *Catalog) Queues() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := map[string]bool{}
	for _, d := range c.defs {
		seen[d.Queue] = true
	}
	out := make([]string, 0, len(seen))
	for q := range seen {
		out = append(out, q)
	}
	sort.Strings(out)
	return out
}

// DefaultSchedules returns the built-in periodic jobs.
func DefaultSchedules() []model.ScheduledJob {
	return []model.ScheduledJob{
		{Name: KindHourlyReport, Kind: KindHourlyReport, CronSpec: "0 * * * *", Enabled: true},
		{Name: KindDailyCleanup, Kind: KindDailyCleanup, CronSpec: "0 0 * * *", Enabled: true},
		{
			Name:     KindFiveMinuteAggregation,
			Kind:     KindFiveMinuteAggregation,
			CronSpec: "*/5 * * * *",
			Input:    json.RawMessage(`{"time_range":"5m"}`),
			Enabled:  true,
		},
		{Name: KindHelloWorld, Kind: KindHelloWorld, CronSpec: "* * * * *", Enabled: true},
		{Name: KindStockPriceTracker, Kind: KindStockPriceTracker, CronSpec: "* * * * *", Enabled: true},
	}
}

// FilterSchedules keeps the schedules whose names appear in enabled. An empty list keeps all.
func FilterSchedules(all []model.ScheduledJob, enabled []string) []model.ScheduledJob {
	if len(enabled) == 0 {
		return all
	}
	want := make(map[string]bool, len(enabled))
	for _, n := range enabled {
		want[n] = true
	}
	out := make([]model.ScheduledJob, 0, len(all))
	for _, s := range all {
		if want[s.Name] {
			out = append(out, s)
		}
	}
	return out
}
