package models

// EventRecord is a single captured signal. Time is stamped when the record is
// sent, never at capture, so buffered records carry no time.
type EventRecord struct {
	Event     string         `json:"event"`
	TargetKey string         `json:"targetKey"`
	Data      map[string]any `json:"data,omitempty"` // flat key/value
	Time      int64          `json:"time,omitempty"` // epoch millis
}

// Fields returns the record's top-level fields as a shallow mapping.
func (r EventRecord) Fields() map[string]any {
	fields := map[string]any{
		"event":     r.Event,
		"targetKey": r.TargetKey,
	}
	if r.Data != nil {
		fields["data"] = r.Data
	}
	if r.Time != 0 {
		fields["time"] = r.Time
	}
	return fields
}

// Batch is a group of custom records posted by a page.
type Batch struct {
	Events []EventRecord `json:"events"`
}

type Mode int

const (
	// Append buckets keep every record as a list element.
	Append Mode = iota
	// Merge buckets collapse records into one mapping, later writes win per field.
	Merge
)

func (m Mode) String() string {
	switch m {
	case Append:
		return "append"
	case Merge:
		return "merge"
	default:
		return "unknown"
	}
}

// Category names the ledger bucket a record is deferred to.
type Category struct {
	Key  string
	Mode Mode
}

const (
	TrackerKey     = "tracker"
	TimingKey      = "timing"
	PerformanceKey = "performance"
)

var (
	Tracker     = Category{Key: TrackerKey, Mode: Append}
	Timing      = Category{Key: TimingKey, Mode: Merge}
	Performance = Category{Key: PerformanceKey, Mode: Merge}
)

// FlushOrder is the order buckets are drained at teardown.
var FlushOrder = []Category{Tracker, Timing, Performance}

// Identity holds the caller fields merged into every immediate send.
type Identity struct {
	SDKVersion string         `json:"sdkVersion"`
	UUID       string         `json:"uuid,omitempty"`
	SessionID  string         `json:"sessionId,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Fields returns the identity as a shallow mapping, skipping empty values.
func (id Identity) Fields() map[string]any {
	fields := map[string]any{}
	if id.SDKVersion != "" {
		fields["sdkVersion"] = id.SDKVersion
	}
	if id.UUID != "" {
		fields["uuid"] = id.UUID
	}
	if id.SessionID != "" {
		fields["sessionId"] = id.SessionID
	}
	if len(id.Extra) > 0 {
		fields["extra"] = id.Extra
	}
	return fields
}
