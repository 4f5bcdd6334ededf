package tracker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vincentbai/browsetrace-tracker/internal/delivery"
	"github.com/vincentbai/browsetrace-tracker/internal/flusher"
	"github.com/vincentbai/browsetrace-tracker/internal/ledger"
	"github.com/vincentbai/browsetrace-tracker/internal/models"
	"github.com/vincentbai/browsetrace-tracker/internal/timing"
)

type fakeChannel struct {
	mu       sync.Mutex
	fields   []map[string]any
	payloads []string
}

func (f *fakeChannel) SendFields(fields map[string]any, identity models.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	merged := identity.Fields()
	for k, v := range fields {
		merged[k] = v
	}
	f.fields = append(f.fields, merged)
}

func (f *fakeChannel) Send(payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, string(payload))
}

func (f *fakeChannel) Wait(context.Context) error { return nil }

func allProducers(lazy bool) Options {
	return Options{
		SDKVersion:     "1.0.0",
		LazyReport:     lazy,
		HistoryTracker: true,
		HashTracker:    true,
		DOMTracker:     true,
		JSError:        true,
		TimeTracker:    true,
	}
}

func setupTracker(t *testing.T, opts Options) (*Tracker, *ledger.Ledger, *fakeChannel) {
	t.Helper()
	l := ledger.New(ledger.NewMemoryStore(), nil)
	channel := &fakeChannel{}
	return New(opts, l, channel, nil), l, channel
}

func bucketRecords(t *testing.T, l *ledger.Ledger) []models.EventRecord {
	t.Helper()
	payload, err := l.Peek(models.TrackerKey)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if payload == nil {
		return nil
	}
	var records []models.EventRecord
	if err := json.Unmarshal(payload, &records); err != nil {
		t.Fatalf("decode bucket: %v", err)
	}
	return records
}

func TestProducersBuildRecords(t *testing.T) {
	tests := []struct {
		name      string
		produce   func(tr *Tracker)
		event     string
		targetKey string
		dataKeys  []string
	}{
		{
			name:      "click",
			produce:   func(tr *Tracker) { tr.Click(Click{Event: "click", TargetKey: "btn1", X: 10, Y: 20}) },
			event:     "click",
			targetKey: "btn1",
			dataKeys:  []string{"x", "y"},
		},
		{
			name:      "history",
			produce:   func(tr *Tracker) { tr.Navigation("pushState") },
			event:     "pushState",
			targetKey: HistoryPV,
		},
		{
			name:      "hash",
			produce:   func(tr *Tracker) { tr.Navigation("hashchange") },
			event:     "hashchange",
			targetKey: HashPV,
		},
		{
			name: "script error",
			produce: func(tr *Tracker) {
				tr.ScriptError(ScriptError{Message: "boom", Filename: "app.js", Lineno: 3, Colno: 7})
			},
			event:     ScriptErrorKey,
			targetKey: ScriptErrorKey,
			dataKeys:  []string{"message", "filename", "lineno", "colno"},
		},
		{
			name:      "resource error",
			produce:   func(tr *Tracker) { tr.ResourceError(ResourceError{URL: "https://cdn.example.com/a.js"}) },
			event:     ResourceErrorKey,
			targetKey: ResourceErrorKey,
			dataKeys:  []string{"url"},
		},
		{
			name: "promise rejection",
			produce: func(tr *Tracker) {
				tr.PromiseRejection(PromiseRejection{Message: "nope", Stack: "Error: nope\n    at f (app.js:1:1)", Reason: "nope"})
			},
			event:     PromiseRejectionKey,
			targetKey: PromiseRejectionKey,
			dataKeys:  []string{"message", "filename", "err"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, l, channel := setupTracker(t, allProducers(true))
			tt.produce(tr)

			records := bucketRecords(t, l)
			if len(records) != 1 {
				t.Fatalf("Expected 1 buffered record, got %d", len(records))
			}
			got := records[0]
			if got.Event != tt.event || got.TargetKey != tt.targetKey {
				t.Errorf("record = %+v, want event %s targetKey %s", got, tt.event, tt.targetKey)
			}
			for _, key := range tt.dataKeys {
				if _, ok := got.Data[key]; !ok {
					t.Errorf("missing data key %q in %v", key, got.Data)
				}
			}
			if len(channel.fields) != 0 || len(channel.payloads) != 0 {
				t.Error("Expected no network activity in lazy mode")
			}
		})
	}
}

func TestPromiseRejectionFilenameIsFirstStackLine(t *testing.T) {
	tr, l, _ := setupTracker(t, allProducers(true))
	tr.PromiseRejection(PromiseRejection{Message: "nope", Stack: "Error: nope\n    at f (app.js:1:1)"})

	records := bucketRecords(t, l)
	if records[0].Data["filename"] != "Error: nope" {
		t.Errorf("filename = %v", records[0].Data["filename"])
	}
	if _, ok := records[0].Data["err"]; ok {
		t.Error("Expected no err without a reason")
	}
}

func TestDisabledProducersIgnoreSignals(t *testing.T) {
	tr, l, channel := setupTracker(t, Options{LazyReport: true})

	tr.Click(Click{Event: "click", TargetKey: "btn1"})
	tr.Navigation("pushState")
	tr.Navigation("hashchange")
	tr.ScriptError(ScriptError{Message: "boom"})
	tr.ResourceError(ResourceError{URL: "x"})
	tr.PromiseRejection(PromiseRejection{Message: "nope"})
	if tr.LoadComplete(timing.NavigationTiming{}) {
		t.Error("Expected timing to stay off")
	}

	if records := bucketRecords(t, l); len(records) != 0 {
		t.Errorf("Expected nothing buffered, got %v", records)
	}
	if len(channel.fields) != 0 {
		t.Error("Expected no sends")
	}
}

func TestClickFiltering(t *testing.T) {
	tr, l, _ := setupTracker(t, allProducers(true))

	tr.Click(Click{Event: "keydown", TargetKey: "btn1"})
	tr.Click(Click{Event: "click", TargetKey: ""})
	tr.Navigation("reload")

	if records := bucketRecords(t, l); len(records) != 0 {
		t.Errorf("Expected nothing buffered, got %v", records)
	}
}

func TestImmediateModeSendsWithIdentity(t *testing.T) {
	opts := allProducers(false)
	opts.UUID = "user-1"
	tr, l, channel := setupTracker(t, opts)

	tr.SetUserID("user-2")
	tr.SetExtra(map[string]any{"plan": "pro"})
	tr.Click(Click{Event: "click", TargetKey: "btn1", X: 1, Y: 2})

	if len(channel.fields) != 1 {
		t.Fatalf("Expected 1 send, got %d", len(channel.fields))
	}
	sent := channel.fields[0]
	if sent["uuid"] != "user-2" || sent["sdkVersion"] != "1.0.0" || sent["sessionId"] != tr.SessionID() {
		t.Errorf("identity not merged: %v", sent)
	}
	if records := bucketRecords(t, l); len(records) != 0 {
		t.Error("Expected nothing buffered in immediate mode")
	}
	if tr.Teardown() != 0 {
		t.Error("Expected teardown to be a no-op without lazy reporting")
	}
}

func TestTimingOnlyWhenLazy(t *testing.T) {
	opts := allProducers(false)
	tr, _, _ := setupTracker(t, opts)

	if tr.LoadComplete(timing.NavigationTiming{}) {
		t.Error("Expected timing disabled without lazy reporting")
	}
}

func TestLoadCompleteWaitsDefaultGrace(t *testing.T) {
	tr, l, _ := setupTracker(t, Options{LazyReport: true, TimeTracker: true})

	if !tr.LoadComplete(timing.NavigationTiming{FetchStart: 1000, ConnectStart: 1010, ConnectEnd: 1060}) {
		t.Fatal("Expected timing to be scheduled")
	}
	time.Sleep(100 * time.Millisecond)

	for _, key := range []string{models.TimingKey, models.PerformanceKey} {
		payload, err := l.Peek(key)
		if err != nil {
			t.Fatalf("Peek: %v", err)
		}
		if payload != nil {
			t.Errorf("%s written before the grace period: %s", key, payload)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timing.DefaultGrace+2*time.Second)
	defer cancel()
	if err := tr.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if payload, _ := l.Peek(models.TimingKey); payload == nil {
		t.Error("Expected timing bucket after the grace period")
	}
}

func TestSendTrackerBypassesLazy(t *testing.T) {
	tr, l, channel := setupTracker(t, allProducers(true))

	tr.SendTracker(models.EventRecord{Event: "purchase", TargetKey: "checkout"})

	if len(channel.fields) != 1 {
		t.Fatalf("Expected 1 send, got %d", len(channel.fields))
	}
	if records := bucketRecords(t, l); len(records) != 0 {
		t.Error("Expected nothing buffered")
	}
}

func TestSessionIDIsUnique(t *testing.T) {
	a, _, _ := setupTracker(t, allProducers(true))
	b, _, _ := setupTracker(t, allProducers(true))
	if a.SessionID() == "" || a.SessionID() == b.SessionID() {
		t.Errorf("Expected distinct session ids, got %q and %q", a.SessionID(), b.SessionID())
	}
}

func TestLazyEndToEnd(t *testing.T) {
	var mu sync.Mutex
	var received []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		received = append(received, string(body))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	store := ledger.NewMemoryStore()
	l := ledger.New(store, nil)
	channel := delivery.New(delivery.Options{URL: server.URL})
	opts := allProducers(true)
	opts.TimingGrace = 10 * time.Millisecond
	tr := New(opts, l, channel, nil)

	tr.Click(Click{Event: "click", TargetKey: "btn1", X: 10, Y: 20})
	if !tr.LoadComplete(timing.NavigationTiming{FetchStart: 1000, ConnectStart: 1010, ConnectEnd: 1060}) {
		t.Fatal("Expected timing to be scheduled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if n := tr.Teardown(); n != 3 {
		t.Fatalf("Expected 3 payloads, got %d", n)
	}
	if tr.State() != flusher.Done {
		t.Errorf("state = %s, want done", tr.State())
	}
	if err := tr.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 3 {
		t.Fatalf("Expected 3 deliveries, got %d", len(received))
	}
	want := `[{"event":"click","targetKey":"btn1","data":{"x":10,"y":20}}]`
	found := false
	for _, body := range received {
		if body == want {
			found = true
		}
	}
	if !found {
		t.Errorf("click payload %s not among %v", want, received)
	}
	if store.Len() != 0 {
		t.Errorf("Expected empty ledger after teardown, got %d keys", store.Len())
	}
}
