// Package flusher drains the ledger through the delivery channel at teardown.
package flusher

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/vincentbai/browsetrace-tracker/internal/logging"
	"github.com/vincentbai/browsetrace-tracker/internal/models"
)

type State int32

const (
	Active State = iota
	Flushing
	Done
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Flushing:
		return "flushing"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Drainer clears a bucket and returns its serialized content.
type Drainer interface {
	Drain(bucket string) ([]byte, error)
}

// Sender transmits pre-serialized payloads.
type Sender interface {
	Send(payload []byte)
}

type Flusher struct {
	drainer Drainer
	sender  Sender
	buckets []string
	logger  *slog.Logger

	mu    sync.Mutex // serializes flushes
	state atomic.Int32
}

// New returns a Flusher draining buckets in order. With no buckets given it
// drains models.FlushOrder.
func New(drainer Drainer, sender Sender, logger *slog.Logger, buckets ...string) *Flusher {
	if len(buckets) == 0 {
		for _, category := range models.FlushOrder {
			buckets = append(buckets, category.Key)
		}
	}
	return &Flusher{
		drainer: drainer,
		sender:  sender,
		buckets: buckets,
		logger:  logging.Component(logger, "flusher"),
	}
}

func (f *Flusher) State() State {
	return State(f.state.Load())
}

// FlushAll drains every bucket and hands each non-empty payload unchanged to
// the sender. It returns the number of payloads sent. Calling it again after
// Done is harmless: drained buckets are empty.
func (f *Flusher) FlushAll() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.State() == Done {
		f.logger.Debug("flush requested again after teardown")
	}
	f.state.Store(int32(Flushing))

	sent := 0
	for _, bucket := range f.buckets {
		payload, err := f.drainer.Drain(bucket)
		if err != nil {
			f.logger.Error("failed to drain bucket", slog.String("bucket", bucket), slog.Any("error", err))
			continue
		}
		if len(payload) == 0 {
			continue
		}
		f.sender.Send(payload)
		sent++
		f.logger.Debug("bucket flushed", slog.String("bucket", bucket), slog.Int("bytes", len(payload)))
	}

	f.state.Store(int32(Done))
	f.logger.Info("teardown flush complete", slog.Int("payloads", sent))
	return sent
}
