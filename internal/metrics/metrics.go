// Package metrics accumulates per-episode and per-update scalars between log
// emissions.
package metrics

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// Collector aggregates scalar series by key. Values accumulate until Reset,
// which the training loop calls once per log interval.
type Collector struct {
	mu     sync.Mutex
	series map[string][]float64
}

func NewCollector() *Collector {
	return &Collector{series: make(map[string][]float64)}
}

// Add appends values to the named series.
func (c *Collector) Add(key string, values ...float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.series[key] = append(c.series[key], values...)
}

// Count returns the number of values recorded under key.
func (c *Collector) Count(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.series[key])
}

// Mean returns the mean of the named series and whether any values exist.
func (c *Collector) Mean(key string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vals := c.series[key]
	if len(vals) == 0 {
		return 0, false
	}
	return stat.Mean(vals, nil), true
}

// Means returns the mean of every non-empty series.
func (c *Collector) Means() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.series))
	for k, vals := range c.series {
		if len(vals) > 0 {
			out[k] = stat.Mean(vals, nil)
		}
	}
	return out
}

// Reset drops all accumulated values.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.series = make(map[string][]float64)
}

// Emit logs the mean of every series as one structured event, keys sorted
// for stable output, then resets the collector.
func (c *Collector) Emit(logger zerolog.Logger, iteration int) map[string]float64 {
	means := c.Means()
	keys := make([]string, 0, len(means))
	for k := range means {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ev := logger.Info().Int("iteration", iteration)
	for _, k := range keys {
		ev = ev.Float64(k, means[k])
	}
	ev.Msg("Training metrics")

	c.Reset()
	return means
}
