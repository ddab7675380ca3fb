package checkpoint

import (
	"context"
	"errors"
	"time"

	"mercator-hq/indexretain/pkg/index"
)

// RunWithRetry runs a checkpoint, retrying up to attempts times while another
// checkpoint holds the lease. Other errors are returned at once.
func (m *Manager) RunWithRetry(ctx context.Context, attempts int, backoff time.Duration) (*Result, error) {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var result *Result
		result, err = m.RunCheckpoint(ctx)

		var conflict *index.CheckpointConflictError
		if !errors.As(err, &conflict) {
			return result, err
		}
		if attempt == attempts {
			break
		}

		m.logger.Info("checkpoint busy, retrying",
			"attempt", attempt,
			"max_attempts", attempts,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, err
}
