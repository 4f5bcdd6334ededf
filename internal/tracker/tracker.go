// Package tracker wires the producers, router, ledger, delivery channel and
// teardown flusher into one instrumentation agent.
package tracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vincentbai/browsetrace-tracker/internal/flusher"
	"github.com/vincentbai/browsetrace-tracker/internal/logging"
	"github.com/vincentbai/browsetrace-tracker/internal/models"
	"github.com/vincentbai/browsetrace-tracker/internal/router"
	"github.com/vincentbai/browsetrace-tracker/internal/timing"
)

// Ledger is the deferred store the tracker buffers into and flushes from.
type Ledger interface {
	router.Buffer
	flusher.Drainer
}

// Channel is the delivery side used for immediate sends and the flush.
type Channel interface {
	router.Sender
	flusher.Sender
	Wait(ctx context.Context) error
}

type Options struct {
	SDKVersion string
	UUID       string
	Extra      map[string]any

	LazyReport     bool
	HistoryTracker bool
	HashTracker    bool
	DOMTracker     bool
	JSError        bool
	TimeTracker    bool
	TimingGrace    time.Duration
}

type Tracker struct {
	opts    Options
	router  *router.Router
	flusher *flusher.Flusher
	timing  *timing.Collector
	channel Channel
	logger  *slog.Logger
}

func New(opts Options, ledger Ledger, channel Channel, logger *slog.Logger) *Tracker {
	identity := models.Identity{
		SDKVersion: opts.SDKVersion,
		UUID:       opts.UUID,
		SessionID:  uuid.NewString(),
		Extra:      opts.Extra,
	}
	r := router.New(opts.LazyReport, ledger, channel, identity, logger)
	return &Tracker{
		opts:    opts,
		router:  r,
		flusher: flusher.New(ledger, channel, logger),
		timing:  timing.NewCollector(r, opts.TimingGrace, logger),
		channel: channel,
		logger:  logging.Component(logger, "tracker"),
	}
}

// SessionID returns the random identifier of this tracker instance.
func (t *Tracker) SessionID() string {
	return t.router.Identity().SessionID
}

// SetUserID sets the uuid merged into immediate sends.
func (t *Tracker) SetUserID(id string) {
	t.router.UpdateIdentity(func(identity *models.Identity) { identity.UUID = id })
}

// SetExtra replaces the extra fields merged into immediate sends.
func (t *Tracker) SetExtra(extra map[string]any) {
	t.router.UpdateIdentity(func(identity *models.Identity) { identity.Extra = extra })
}

// Track routes a custom record through the send-or-defer policy.
func (t *Tracker) Track(record models.EventRecord) {
	t.router.Route(record, models.Tracker)
}

// SendTracker reports record immediately, whatever the policy.
func (t *Tracker) SendTracker(record models.EventRecord) {
	t.router.SendNow(record)
}

// Teardown drains the ledger once per teardown notification. Without lazy
// reporting nothing is buffered and it returns 0.
func (t *Tracker) Teardown() int {
	if !t.opts.LazyReport {
		return 0
	}
	return t.flusher.FlushAll()
}

// State reports the flusher state.
func (t *Tracker) State() flusher.State {
	return t.flusher.State()
}

// Wait blocks until pending timing collections and in-flight deliveries
// finish, or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	if err := t.timing.Wait(ctx); err != nil {
		return err
	}
	return t.channel.Wait(ctx)
}
