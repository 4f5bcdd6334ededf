// Package ledger stages deferred records in a persistent key-value store,
// one bucket per category, until teardown drains them.
//
// Append buckets hold a JSON list and keep every record in arrival order.
// Merge buckets hold a single JSON object; fields written later overwrite
// earlier ones. A bucket key keeps the mode of its first write for the
// lifetime of the Ledger.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vincentbai/browsetrace-tracker/internal/logging"
	"github.com/vincentbai/browsetrace-tracker/internal/models"
)

var (
	// ErrSerialization reports a record or stored value that cannot be
	// encoded or decoded.
	ErrSerialization = errors.New("ledger: serialization failed")
	// ErrStorageUnavailable reports a persistent store that cannot be read
	// or written.
	ErrStorageUnavailable = errors.New("ledger: storage unavailable")
	// ErrBucketMode reports a write whose mode differs from the bucket's.
	ErrBucketMode = errors.New("ledger: bucket mode mismatch")
)

type Ledger struct {
	mu     sync.Mutex
	store  Store
	modes  map[string]models.Mode
	logger *slog.Logger

	unavailableLogged bool
}

// New returns a Ledger over store. A nil store makes every read empty and
// every write a no-op.
func New(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		modes:  make(map[string]models.Mode),
		logger: logging.Component(logger, "ledger"),
	}
}

// Append adds record to the end of the list held in bucket.
func (l *Ledger) Append(bucket string, record any) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: encode record for %s: %v", ErrSerialization, bucket, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.claim(bucket, models.Append); err != nil {
		return err
	}
	raw, err := l.read(bucket)
	if err != nil {
		return err
	}

	var list []json.RawMessage
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			l.logger.Warn("unparsable bucket, starting fresh",
				slog.String("bucket", bucket),
				slog.Any("error", fmt.Errorf("%w: %v", ErrSerialization, err)))
			list = nil
		}
	}
	list = append(list, encoded)

	out, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrSerialization, bucket, err)
	}
	return l.write(bucket, string(out))
}

// Merge shallow-merges fields over the mapping held in bucket. Merging no
// fields leaves the bucket untouched.
func (l *Ledger) Merge(bucket string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	encoded := make(map[string]json.RawMessage, len(fields))
	for key, value := range fields {
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("%w: encode field %s for %s: %v", ErrSerialization, key, bucket, err)
		}
		encoded[key] = b
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.claim(bucket, models.Merge); err != nil {
		return err
	}
	raw, err := l.read(bucket)
	if err != nil {
		return err
	}

	var merged map[string]json.RawMessage
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &merged); err != nil {
			l.logger.Warn("unparsable bucket, starting fresh",
				slog.String("bucket", bucket),
				slog.Any("error", fmt.Errorf("%w: %v", ErrSerialization, err)))
			merged = nil
		}
	}
	if merged == nil {
		merged = make(map[string]json.RawMessage, len(encoded))
	}
	for key, value := range encoded {
		merged[key] = value
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrSerialization, bucket, err)
	}
	return l.write(bucket, string(out))
}

// Drain returns the serialized content of bucket and clears it. An untouched
// or already drained bucket yields nil. When the clear fails the content is
// kept and nil is returned, so it is never handed out twice.
func (l *Ledger) Drain(bucket string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := l.read(bucket)
	if err != nil || raw == "" {
		return nil, err
	}
	if l.store == nil {
		return nil, nil
	}
	if err := l.store.Delete(bucket); err != nil {
		return nil, l.unavailable("delete", bucket, err)
	}
	return []byte(raw), nil
}

// Peek returns the serialized content of bucket without clearing it.
func (l *Ledger) Peek(bucket string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := l.read(bucket)
	if err != nil || raw == "" {
		return nil, err
	}
	return []byte(raw), nil
}

func (l *Ledger) claim(bucket string, mode models.Mode) error {
	if bucket == "" {
		return fmt.Errorf("ledger: bucket key cannot be empty")
	}
	if existing, ok := l.modes[bucket]; ok && existing != mode {
		return fmt.Errorf("%w: %s is %s, got %s", ErrBucketMode, bucket, existing, mode)
	}
	l.modes[bucket] = mode
	return nil
}

func (l *Ledger) read(bucket string) (string, error) {
	if l.store == nil {
		return "", l.unavailable("get", bucket, errors.New("no store configured"))
	}
	value, ok, err := l.store.Get(bucket)
	if err != nil {
		return "", l.unavailable("get", bucket, err)
	}
	if !ok {
		return "", nil
	}
	return value, nil
}

func (l *Ledger) write(bucket, value string) error {
	if l.store == nil {
		return l.unavailable("set", bucket, errors.New("no store configured"))
	}
	if err := l.store.Set(bucket, value); err != nil {
		return l.unavailable("set", bucket, err)
	}
	return nil
}

// unavailable logs the first store failure at error level and later ones at
// debug level, then returns the wrapped error.
func (l *Ledger) unavailable(op, bucket string, cause error) error {
	err := fmt.Errorf("%w: %s %s: %v", ErrStorageUnavailable, op, bucket, cause)
	if !l.unavailableLogged {
		l.unavailableLogged = true
		l.logger.Error("persistent store unavailable", slog.String("bucket", bucket), slog.Any("error", err))
	} else {
		l.logger.Debug("persistent store unavailable", slog.String("bucket", bucket), slog.Any("error", err))
	}
	return err
}
