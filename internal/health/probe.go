package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/keithlinneman/tradedesk/internal/xerrors"
)

// Probe reports nil when healthy, otherwise the reason it is not.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason ("unhealthy" if empty).
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// Ping bounds a dependency ping by timeout and prefixes failures with name,
// e.g. "redis: connection refused".
func Ping(name string, timeout time.Duration, ping func(context.Context) error) CheckFunc {
	return func(ctx context.Context) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if err := ping(ctx); err != nil {
			return xerrors.Wrapf(err, "%s", name)
		}
		return nil
	}
}

// All runs every probe concurrently and fails with all of their reasons, one
// per line, so a readiness body names each dependency that is down. Nil
// probes are skipped.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		errs := make([]error, len(ps))
		var wg sync.WaitGroup
		for i, p := range ps {
			if p == nil {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = p.Check(ctx)
			}()
		}
		wg.Wait()
		return errors.Join(errs...)
	}
}

// ShutdownGate fails readiness once shutdown starts so the load balancer
// stops routing before the listeners close. The zero value is open.
type ShutdownGate struct {
	mu     sync.RWMutex
	closed bool
	reason string
}

// Set closes the gate with reason ("draining" if empty).
func (g *ShutdownGate) Set(reason string) {
	if reason == "" {
		reason = "draining"
	}
	g.mu.Lock()
	g.closed, g.reason = true, reason
	g.mu.Unlock()
}

func (g *ShutdownGate) err() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.closed {
		return nil
	}
	return xerrors.New(g.reason)
}

// Probe fails while the gate is closed.
func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error { return g.err() }
}

// Guard checks the gate first and only consults p while it is open.
func (g *ShutdownGate) Guard(p Probe) CheckFunc {
	return func(ctx context.Context) error {
		if err := g.err(); err != nil {
			return err
		}
		if p == nil {
			return nil
		}
		return p.Check(ctx)
	}
}
