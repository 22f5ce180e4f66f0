package breaker

import (
	"context"
	"math/rand"
	"time"

	"github.com/juju/retry"

	"github.com/htlcrelay/relayer/internal/errs"
	"github.com/htlcrelay/relayer/internal/log"
	"github.com/htlcrelay/relayer/internal/types"
)

// RetryPolicy configures executeWithRecovery's backoff for one operation
// kind.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
}

// DefaultRetryPolicy is used for any kind not explicitly configured.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    30 * time.Second,
	Multiplier:  2.0,
	Jitter:      true,
}

// Core ties a Manager to a table of per-kind retry policies and exposes
// ExecuteWithRecovery, the sole entrypoint every monitor/engine/scanner
// uses to perform fallible outbound operations (spec §4.G).
type Core struct {
	Manager  *Manager
	Policies map[types.OpKind]RetryPolicy
}

// NewCore builds a Core around mgr using policies, falling back to
// DefaultRetryPolicy for any kind not present in the map.
func NewCore(mgr *Manager, policies map[types.OpKind]RetryPolicy) *Core {
	return &Core{Manager: mgr, Policies: policies}
}

func (c *Core) policyFor(kind types.OpKind) RetryPolicy {
	if p, ok := c.Policies[kind]; ok {
		return p
	}
	return DefaultRetryPolicy
}

// ExecuteWithRecovery runs op through the circuit breaker and retry
// discipline for kind, tagging log lines with id (typically a relayId) so
// operators can trace a single relay's retries end to end.
func (c *Core) ExecuteWithRecovery(ctx context.Context, kind types.OpKind, id string, op func(context.Context) error) error {
	if c.Manager.Stopped() {
		return errs.ErrSystemStopped
	}

	breakerName := kind.BreakerName()
	if !c.Manager.allow(breakerName) {
		log.Breaker.Warnf("[%s] circuit %q open, refusing %s without retry", id, breakerName, kind)
		return errs.ErrCircuitOpen
	}

	policy := c.policyFor(kind)

	var lastErr error
	attempt := 0

	callErr := retry.Call(retry.CallArgs{
		Func: func() error {
			attempt++
			start := time.Now()
			err := op(ctx)
			if err == nil {
				c.Manager.reportSuccess(breakerName)
				log.Breaker.Debugf("[%s] %s attempt %d succeeded in %s",
					id, kind, attempt, time.Since(start))
				return nil
			}

			lastErr = err
			c.Manager.reportFailure(breakerName)
			return err
		},
		IsFatalError: func(err error) bool {
			return !errs.IsRetryable(err)
		},
		Attempts: policy.MaxAttempts,
		Delay:    policy.BaseDelay,
		BackoffFunc: func(delay time.Duration, attempt int) time.Duration {
			return backoff(policy, attempt)
		},
		Stop: ctx.Done(),
	})

	if callErr != nil {
		log.Breaker.Errorf("[%s] %s exhausted after %d attempts: %v", id, kind, attempt, lastErr)
		if lastErr != nil {
			return lastErr
		}
		return callErr
	}

	return nil
}

// backoff computes min(base*mult^(attempt-1), max) plus up to ±25% jitter
// when enabled, per spec §4.G step 2.d.
func backoff(policy RetryPolicy, attempt int) time.Duration {
	delay := float64(policy.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= policy.Multiplier
	}
	if d := float64(policy.MaxDelay); delay > d {
		delay = d
	}

	if policy.Jitter {
		jitter := (rand.Float64()*2 - 1) * 0.25 * delay
		delay += jitter
		if delay < 0 {
			delay = 0
		}
	}

	return time.Duration(delay)
}
