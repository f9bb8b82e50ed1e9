package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/ifuryst/murmur/internal/errs"
)

// Poll calls check until it reports done, waiting interval between calls.
// Running out of polls is transient: the container may still finish.
func Poll(ctx context.Context, interval time.Duration, maxPolls int, check func(ctx context.Context) (bool, error)) error {
	if maxPolls <= 0 {
		maxPolls = 1
	}
	for i := 0; i < maxPolls; i++ {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if i == maxPolls-1 {
			break
		}
		select {
		case <-ctx.Done():
			return errs.Transient("poll", ctx.Err())
		case <-time.After(interval):
		}
	}
	return errs.Transient("poll", fmt.Errorf("media not ready after %d checks", maxPolls))
}
