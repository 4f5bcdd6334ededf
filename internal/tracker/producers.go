package tracker

import (
	"log/slog"
	"strings"

	"github.com/vincentbai/browsetrace-tracker/internal/models"
	"github.com/vincentbai/browsetrace-tracker/internal/timing"
)

// MouseEvents are the DOM events the click producer accepts.
var MouseEvents = []string{
	"click",
	"dblclick",
	"contextmenu",
	"mousedown",
	"mouseup",
	"mouseenter",
	"mouseout",
	"mouseover",
}

const (
	HistoryPV = "history-pv"
	HashPV    = "hash-pv"

	ScriptErrorKey      = "js-error"
	ResourceErrorKey    = "resource-error"
	PromiseRejectionKey = "promise-error"
)

// Click is a mouse event on an element tagged with a tracker key.
type Click struct {
	Event     string  `json:"event"`
	TargetKey string  `json:"targetKey"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// ScriptError is an uncaught script error.
type ScriptError struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
	Lineno   int    `json:"lineno"`
	Colno    int    `json:"colno"`
}

// ResourceError is a script, stylesheet or image that failed to load.
type ResourceError struct {
	URL string `json:"url"`
}

// PromiseRejection is an unhandled rejection, reported once it settles.
type PromiseRejection struct {
	Message string `json:"message"`
	Stack   string `json:"stack"`
	Reason  any    `json:"reason,omitempty"`
}

func isMouseEvent(event string) bool {
	for _, e := range MouseEvents {
		if e == event {
			return true
		}
	}
	return false
}

// Click records a mouse event. Elements without a tracker key are ignored.
func (t *Tracker) Click(c Click) {
	if !t.opts.DOMTracker {
		t.logger.Debug("dom tracker disabled, ignoring click")
		return
	}
	if !isMouseEvent(c.Event) {
		t.logger.Debug("ignoring non-mouse event", slog.String("event", c.Event))
		return
	}
	if c.TargetKey == "" {
		return
	}
	t.router.Route(models.EventRecord{
		Event:     c.Event,
		TargetKey: c.TargetKey,
		Data:      map[string]any{"x": c.X, "y": c.Y},
	}, models.Tracker)
}

// Navigation records a history or hash page view.
func (t *Tracker) Navigation(event string) {
	var targetKey string
	switch event {
	case "pushState", "replaceState", "popstate":
		if !t.opts.HistoryTracker {
			return
		}
		targetKey = HistoryPV
	case "hashchange":
		if !t.opts.HashTracker {
			return
		}
		targetKey = HashPV
	default:
		t.logger.Debug("ignoring unknown navigation event", slog.String("event", event))
		return
	}
	t.router.Route(models.EventRecord{Event: event, TargetKey: targetKey}, models.Tracker)
}

// ScriptError records an uncaught script error.
func (t *Tracker) ScriptError(e ScriptError) {
	if !t.opts.JSError {
		return
	}
	t.router.Route(models.EventRecord{
		Event:     ScriptErrorKey,
		TargetKey: ScriptErrorKey,
		Data: map[string]any{
			"message":  e.Message,
			"filename": e.Filename,
			"lineno":   e.Lineno,
			"colno":    e.Colno,
		},
	}, models.Tracker)
}

// ResourceError records a failed resource load.
func (t *Tracker) ResourceError(e ResourceError) {
	if !t.opts.JSError {
		return
	}
	t.router.Route(models.EventRecord{
		Event:     ResourceErrorKey,
		TargetKey: ResourceErrorKey,
		Data:      map[string]any{"url": e.URL},
	}, models.Tracker)
}

// PromiseRejection records an unhandled rejection. The first stack line
// stands in for the filename.
func (t *Tracker) PromiseRejection(e PromiseRejection) {
	if !t.opts.JSError {
		return
	}
	filename, _, _ := strings.Cut(e.Stack, "\n")
	data := map[string]any{
		"message":  e.Message,
		"filename": filename,
	}
	if e.Reason != nil {
		data["err"] = e.Reason
	}
	t.router.Route(models.EventRecord{
		Event:     PromiseRejectionKey,
		TargetKey: PromiseRejectionKey,
		Data:      data,
	}, models.Tracker)
}

// LoadComplete schedules timing collection after the grace period. Timing
// is only collected with both the time tracker and lazy reporting on; it
// reports whether a collection was scheduled.
func (t *Tracker) LoadComplete(nav timing.NavigationTiming) bool {
	if !t.opts.TimeTracker || !t.opts.LazyReport {
		return false
	}
	t.timing.Schedule(nav)
	return true
}
