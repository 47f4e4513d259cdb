package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// Retry budget for RemoveServerDir. A just-stopped JVM may still hold
// files open for a moment, and on Windows that blocks deletion.
var (
	removeSettle   = 500 * time.Millisecond
	removeAttempts = 5
	removeBackoff  = time.Second
)

// RemoveServerDir deletes path recursively, retrying a fixed number of
// times. A missing path is not an error.
func RemoveServerDir(ctx context.Context, path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := sleepCtx(ctx, removeSettle); err != nil {
		return err
	}
	var last error
	for i := 0; i < removeAttempts; i++ {
		if last = os.RemoveAll(path); last == nil {
			return nil
		}
		if i < removeAttempts-1 {
			if err := sleepCtx(ctx, removeBackoff); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("could not delete %s after %d attempts (%v); close any program using it and delete it manually", path, removeAttempts, last)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
