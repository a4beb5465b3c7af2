package metrics

import (
	"context"
	"time"

	"github.com/graphworks/spanners/pkg/storage"
	"github.com/graphworks/spanners/pkg/types"
)

// Collector polls the store and refreshes the queue gauges
type Collector struct {
	store    storage.Store
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		store:    store,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
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

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if jobs, err := c.store.GetAllJobEntries(ctx); err == nil {
		counts := make(map[types.JobStatus]int)
		for _, job := range jobs {
			counts[job.Status]++
		}
		for _, status := range []types.JobStatus{
			types.StatusWaiting, types.StatusRunning, types.StatusSuccess,
			types.StatusFailed, types.StatusAborted,
		} {
			JobsTotal.WithLabelValues(status.String()).Set(float64(counts[status]))
		}
	}

	if users, err := c.store.ListUsers(ctx); err == nil {
		UsersTotal.Set(float64(len(users)))
	}
}
