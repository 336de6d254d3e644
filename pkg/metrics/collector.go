package metrics

import (
	"context"
	"time"
)

// Counts is the subset of pkg/store's Store interface the collector needs.
// Declaring it locally keeps pkg/metrics from importing pkg/store; any
// value with these two methods (a store.Store, a test fake) can be sampled.
type Counts interface {
	CountCrates(ctx context.Context) (int64, error)
	CountCrateVersions(ctx context.Context) (int64, error)
}

// Collector periodically samples registry-wide gauges that aren't
// naturally updated by the request path, such as total crate count.
type Collector struct {
	store  Counts
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(store Counts) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15 second interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if n, err := c.store.CountCrates(ctx); err == nil {
		CratesTotal.Set(float64(n))
	}
	if n, err := c.store.CountCrateVersions(ctx); err == nil {
		CrateVersionsTotal.Set(float64(n))
	}
}
