// Package router decides, for every captured record, whether to send it
// now or defer it to the ledger.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vincentbai/browsetrace-tracker/internal/ledger"
	"github.com/vincentbai/browsetrace-tracker/internal/logging"
	"github.com/vincentbai/browsetrace-tracker/internal/models"
)

// Buffer is the deferred side of the policy.
type Buffer interface {
	Append(bucket string, record any) error
	Merge(bucket string, fields map[string]any) error
}

// Sender is the immediate side of the policy.
type Sender interface {
	SendFields(fields map[string]any, identity models.Identity)
}

type Router struct {
	lazy   bool
	buffer Buffer
	sender Sender
	logger *slog.Logger

	mu       sync.RWMutex
	identity models.Identity
}

// New returns a Router. With lazy set every record is deferred to buffer;
// otherwise every record goes straight to sender.
func New(lazy bool, buffer Buffer, sender Sender, identity models.Identity, logger *slog.Logger) *Router {
	return &Router{
		lazy:     lazy,
		buffer:   buffer,
		sender:   sender,
		identity: identity,
		logger:   logging.Component(logger, "router"),
	}
}

// Lazy reports whether records are deferred.
func (r *Router) Lazy() bool { return r.lazy }

// Identity returns a copy of the identity merged into immediate sends.
func (r *Router) Identity() models.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id := r.identity
	if id.Extra != nil {
		extra := make(map[string]any, len(id.Extra))
		for k, v := range id.Extra {
			extra[k] = v
		}
		id.Extra = extra
	}
	return id
}

// UpdateIdentity applies fn to the identity under lock.
func (r *Router) UpdateIdentity(fn func(*models.Identity)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.identity)
}

// Route applies the send-or-defer policy to record.
func (r *Router) Route(record models.EventRecord, category models.Category) {
	if !r.lazy {
		r.sender.SendFields(record.Fields(), r.Identity())
		return
	}

	var err error
	switch category.Mode {
	case models.Append:
		err = r.buffer.Append(category.Key, record)
	case models.Merge:
		err = r.buffer.Merge(category.Key, record.Fields())
	default:
		err = unknownMode(category)
	}
	if err != nil {
		r.logger.Log(context.Background(), deferLevel(err), "failed to defer record",
			slog.String("bucket", category.Key),
			slog.String("event", record.Event),
			slog.Any("error", err))
	}
}

// RouteFields applies the same policy to a flat mapping, such as a partial
// timing write.
func (r *Router) RouteFields(fields map[string]any, category models.Category) {
	if !r.lazy {
		r.sender.SendFields(fields, r.Identity())
		return
	}

	var err error
	switch category.Mode {
	case models.Append:
		err = r.buffer.Append(category.Key, fields)
	case models.Merge:
		err = r.buffer.Merge(category.Key, fields)
	default:
		err = unknownMode(category)
	}
	if err != nil {
		r.logger.Log(context.Background(), deferLevel(err), "failed to defer fields",
			slog.String("bucket", category.Key), slog.Any("error", err))
	}
}

func unknownMode(category models.Category) error {
	return fmt.Errorf("%w: unknown mode %d for bucket %s", ledger.ErrBucketMode, int(category.Mode), category.Key)
}

// deferLevel keeps store outages at debug; the ledger already reported the
// first one at error level.
func deferLevel(err error) slog.Level {
	if errors.Is(err, ledger.ErrStorageUnavailable) {
		return slog.LevelDebug
	}
	return slog.LevelError
}

// SendNow sends record immediately regardless of the policy.
func (r *Router) SendNow(record models.EventRecord) {
	r.sender.SendFields(record.Fields(), r.Identity())
}
