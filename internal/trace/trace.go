// File: internal/trace/trace.go

// Package trace is the append-only execution journal. Events are written one
// JSON object per line; the file is the system of record for what a run did,
// so it is never rewritten, truncated or compacted.
package trace

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/coordops/caerun/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Writer appends execution events to a JSONL file. Safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	sync   bool
	logger *zap.Logger
	now    func() time.Time
}

// NewWriter opens (or creates) the trace file in append mode. With
// syncEveryWrite set, each event is fsynced before Append returns.
func NewWriter(path string, syncEveryWrite bool, logger *zap.Logger) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	return &Writer{
		f:      f,
		sync:   syncEveryWrite,
		logger: logger.Named("trace"),
		now:    time.Now,
	}, nil
}

// Append writes one event. The timestamp is stamped here when the event does
// not carry one.
func (w *Writer) Append(ev schemas.ExecutionEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = w.now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode trace event: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write(data); err != nil {
		return fmt.Errorf("failed to append trace event: %w", err)
	}
	if w.sync {
		if err := w.f.Sync(); err != nil {
			return fmt.Errorf("failed to sync trace file: %w", err)
		}
	}
	return nil
}

// Close releases the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// ReadAll loads every complete event from a trace file. A torn final line,
// left by a crash mid-append, is skipped rather than failing the read; all
// preceding events remain usable.
func ReadAll(path string) ([]schemas.ExecutionEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer f.Close()

	var events []schemas.ExecutionEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev schemas.ExecutionEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			// Only the last line may legitimately be torn; anything else is
			// corruption worth surfacing.
			if scanner.Scan() {
				return nil, fmt.Errorf("corrupt trace line: %w", err)
			}
			break
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trace file: %w", err)
	}
	return events, nil
}
