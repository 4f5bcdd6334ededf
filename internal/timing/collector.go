package timing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vincentbai/browsetrace-tracker/internal/logging"
	"github.com/vincentbai/browsetrace-tracker/internal/models"
)

// DefaultGrace is how long the collector waits after the load signal so
// late paint metrics can settle.
const DefaultGrace = 2500 * time.Millisecond

// Router receives the collected records.
type Router interface {
	Route(record models.EventRecord, category models.Category)
}

type Collector struct {
	router Router
	grace  time.Duration
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewCollector returns a Collector. A zero grace means DefaultGrace; a
// negative grace collects right after the load signal.
func NewCollector(router Router, grace time.Duration, logger *slog.Logger) *Collector {
	switch {
	case grace == 0:
		grace = DefaultGrace
	case grace < 0:
		grace = 0
	}
	return &Collector{
		router: router,
		grace:  grace,
		logger: logging.Component(logger, "timing"),
	}
}

// Collect routes the timing and performance records for nav right away.
func (c *Collector) Collect(nav NavigationTiming) {
	timingRecord, performanceRecord := nav.Records()
	c.router.Route(timingRecord, models.Timing)
	c.router.Route(performanceRecord, models.Performance)
	c.logger.Debug("page timing collected")
}

// Schedule collects nav once the grace period has elapsed. The returned
// channel closes after the records are routed. Scheduled collections are
// never cancelled.
func (c *Collector) Schedule(nav NavigationTiming) <-chan struct{} {
	done := make(chan struct{})
	c.wg.Add(1)
	time.AfterFunc(c.grace, func() {
		defer c.wg.Done()
		defer close(done)
		c.Collect(nav)
	})
	return done
}

// Wait blocks until scheduled collections have run or ctx is done.
func (c *Collector) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
