package databricks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// PollPolicy bounds a status-polling loop.
type PollPolicy struct {
	Initial time.Duration
	Max     time.Duration
	Timeout time.Duration
}

// DefaultPollPolicy suits command and statement execution.
var DefaultPollPolicy = PollPolicy{
	Initial: 250 * time.Millisecond,
	Max:     2 * time.Second,
	Timeout: 10 * time.Minute,
}

var errPending = errors.New("operation still pending")

// Poll calls check until it reports done, it fails, ctx ends or the policy
// times out. A failing check is not retried.
func Poll[T any](ctx context.Context, policy PollPolicy, check func(context.Context) (T, bool, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.Initial
	b.MaxInterval = policy.Max
	b.MaxElapsedTime = policy.Timeout

	var last T
	result, err := backoff.RetryWithData(func() (T, error) {
		v, done, err := check(ctx)
		if err != nil {
			return v, backoff.Permanent(err)
		}
		last = v
		if !done {
			return v, errPending
		}
		return v, nil
	}, backoff.WithContext(b, ctx))

	if errors.Is(err, errPending) {
		return last, fmt.Errorf("still pending after %s", policy.Timeout)
	}
	return result, err
}
