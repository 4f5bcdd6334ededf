// Package delivery sends serialized records to the collection endpoint.
//
// Sends are fire-and-forget: Send returns at once and the transmission runs
// on its own goroutine with its own timeout, so it never holds up teardown.
// Failures are logged and dropped, never retried.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vincentbai/browsetrace-tracker/internal/logging"
	"github.com/vincentbai/browsetrace-tracker/internal/models"
)

// ErrTransport reports a delivery attempt that failed or was refused.
var ErrTransport = errors.New("delivery: transport failed")

const (
	DefaultTimeout     = 5 * time.Second
	DefaultMaxInFlight = 64
)

type Options struct {
	URL       string
	Transport Transport
	// Timeout bounds each transmission. Defaults to DefaultTimeout.
	Timeout time.Duration
	// MaxInFlight caps concurrent transmissions; sends beyond it are
	// dropped. Defaults to DefaultMaxInFlight.
	MaxInFlight int
	// Now stamps immediate sends. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

type Channel struct {
	url       string
	transport Transport
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger

	inFlight chan struct{}
	wg       sync.WaitGroup
}

func New(opts Options) *Channel {
	if opts.Transport == nil {
		opts.Transport = NewHTTPTransport(nil)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = DefaultMaxInFlight
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Channel{
		url:       opts.URL,
		transport: opts.Transport,
		timeout:   opts.Timeout,
		now:       opts.Now,
		logger:    logging.Component(opts.Logger, "delivery"),
		inFlight:  make(chan struct{}, opts.MaxInFlight),
	}
}

// SendRecord merges identity into record, stamps the send time and sends the
// result. Record fields win over identity fields of the same name.
func (c *Channel) SendRecord(record models.EventRecord, identity models.Identity) {
	c.SendFields(record.Fields(), identity)
}

// SendFields is SendRecord for a flat mapping.
func (c *Channel) SendFields(fields map[string]any, identity models.Identity) {
	payload := identity.Fields()
	for key, value := range fields {
		payload[key] = value
	}
	payload["time"] = c.now().UnixMilli()

	encoded, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("failed to encode payload", slog.Any("error", err))
		return
	}
	c.Send(encoded)
}

// Send transmits payload as-is without waiting for the result.
func (c *Channel) Send(payload []byte) {
	if c.url == "" {
		c.logger.Error("dropping payload", slog.Any("error", fmt.Errorf("%w: no request url configured", ErrTransport)))
		return
	}

	select {
	case c.inFlight <- struct{}{}:
	default:
		c.logger.Warn("dropping payload",
			slog.Int("bytes", len(payload)),
			slog.Any("error", fmt.Errorf("%w: too many sends in flight", ErrTransport)))
		return
	}

	body := append([]byte(nil), payload...)
	c.wg.Add(1)
	go c.transmit(body)
}

func (c *Channel) transmit(payload []byte) {
	defer c.wg.Done()
	defer func() { <-c.inFlight }()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("delivery panicked", slog.Any("error", fmt.Errorf("%w: %v", ErrTransport, r)))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.transport.Send(ctx, c.url, payload); err != nil {
		c.logger.Warn("delivery failed",
			slog.String("url", c.url),
			slog.Int("bytes", len(payload)),
			slog.Any("error", fmt.Errorf("%w: %v", ErrTransport, err)))
		return
	}
	c.logger.Debug("payload delivered", slog.Int("bytes", len(payload)))
}

// Wait blocks until in-flight sends finish or ctx is done.
func (c *Channel) Wait(ctx context.Context) error {
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
