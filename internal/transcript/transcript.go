// Package transcript appends newline-delimited records to a log file.
//
// Each append takes an advisory lock on "<path>.lock" so that two nah
// processes sharing a history directory never interleave partial lines.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	lockTimeout  = time.Second
	pollInterval = 10 * time.Millisecond
)

// ErrLockTimeout is returned when the file lock cannot be acquired.
var ErrLockTimeout = errors.New("timeout acquiring transcript lock")

// Sink is the append side of a transcript.
type Sink interface {
	Append(line []byte) error
}

// Writer is an append-only transcript file.
type Writer struct {
	path string
	mu   sync.Mutex
	file *os.File
	lock *flock.Flock
}

// Open opens path for appending, creating it if needed.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transcript %s: %w", path, err)
	}
	return &Writer{path: path, file: f, lock: flock.New(path + ".lock")}, nil
}

// Path returns the file the writer appends to.
func (w *Writer) Path() string { return w.path }

// Append writes line followed by a newline and syncs the file.
func (w *Writer) Append(line []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return fmt.Errorf("transcript %s: closed", w.path)
	}

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	locked, err := w.lock.TryLockContext(ctx, pollInterval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrLockTimeout
		}
		return fmt.Errorf("lock transcript %s: %w", w.path, err)
	}
	if !locked {
		return ErrLockTimeout
	}
	defer func() { _ = w.lock.Unlock() }()

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := w.file.Write(buf); err != nil {
		return fmt.Errorf("write transcript %s: %w", w.path, err)
	}
	return w.file.Sync()
}

// AppendJSON marshals v and appends it as one line.
func (w *Writer) AppendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal transcript record: %w", err)
	}
	return w.Append(data)
}

// Close closes the file. The lock file stays in place because another
// Writer on the same path may still lock it. It is safe to call more than
// once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	_ = w.lock.Close()
	return err
}

// Discard is a Sink that drops every line.
var Discard Sink = discard{}

type discard struct{}

func (discard) Append([]byte) error { return nil }
