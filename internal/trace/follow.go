// File: internal/trace/follow.go
package trace

import (
	"context"
	"fmt"

	"github.com/hpcloud/tail"

	"github.com/coordops/caerun/api/schemas"
)

// Follow streams events appended to a trace file as they arrive, starting
// from the beginning. Lines that do not parse (a torn tail mid-append) are
// skipped; tailing continues until the context is canceled.
func Follow(ctx context.Context, path string, out chan<- schemas.ExecutionEvent) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail trace file: %w", err)
	}
	defer t.Cleanup()

	for {
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				return fmt.Errorf("tail error: %w", line.Err)
			}
			var ev schemas.ExecutionEvent
			if err := json.Unmarshal([]byte(line.Text), &ev); err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
	}
}
