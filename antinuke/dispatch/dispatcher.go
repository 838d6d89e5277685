package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ef-ds/deque"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/sethvargo/go-retry"
)

type Options struct {
	// number of retries after the first attempt; rate-limit and transient failures share the count
	RetryLimit     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

var DefaultOptions = Options{
	RetryLimit:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     60 * time.Second,
}

// Serializes and retries outbound platform calls per route.
//
// Ordering guarantees for calls on the same route:
//
// At most one operation runs at any instant. Calls which arrive while an operation is in flight wait in a FIFO queue,
// and ownership of the route is handed directly to the oldest waiter when the running call finishes (successfully or
// after exhausting retries).
//
// Rate-limit windows are either global (every route waits) or scoped to a single route. Both are checked before every
// attempt, including the first.
type Dispatcher struct {
	logger *slog.Logger
	opts   Options
	routes *xsync.Map[string, *routeState]

	mu                 sync.Mutex
	globalLimitedUntil time.Time
}

type routeState struct {
	id    string
	class string

	mu           sync.Mutex
	inFlight     bool
	queue        deque.Deque
	limitedUntil time.Time
}

type waiter struct {
	ready     chan struct{}
	abandoned bool
}

func NewDispatcher(logger *slog.Logger, opts Options) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger: logger.With("component", "dispatcher"),
		opts:   opts,
		routes: xsync.NewMap[string, *routeState](),
	}
}

func (d *Dispatcher) Options() Options {
	return d.opts
}

// Runs `op` on `route` with the dispatcher's default options.
func (d *Dispatcher) Execute(ctx context.Context, route string, op func(ctx context.Context) error) error {
	return d.ExecuteWith(ctx, route, d.opts, op)
}

// Like Execute, with explicit retry options. The context only interrupts waiting (queue, limit windows, backoff); an
// attempt already in progress runs to completion.
func (d *Dispatcher) ExecuteWith(ctx context.Context, route string, opts Options, op func(ctx context.Context) error) error {
	start := time.Now()
	r := d.routeFor(route)
	logger := d.logger.With("route", route)

	if err := r.acquire(ctx); err != nil {
		dispatchCount.WithLabelValues(r.class, "canceled").Inc()
		return fmt.Errorf("waiting for route %s: %w", route, err)
	}
	defer r.release()

	err := d.run(ctx, r, opts, logger, op)
	dispatchDuration.WithLabelValues(r.class).Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		dispatchCount.WithLabelValues(r.class, "ok").Inc()
	case errors.Is(err, ErrExhausted):
		dispatchCount.WithLabelValues(r.class, "exhausted").Inc()
	default:
		dispatchCount.WithLabelValues(r.class, "failed").Inc()
	}
	return err
}

func (d *Dispatcher) run(ctx context.Context, r *routeState, opts Options, logger *slog.Logger, op func(ctx context.Context) error) error {
	initial := opts.InitialBackoff
	if initial <= 0 {
		initial = time.Millisecond
	}
	exp := retry.NewExponential(initial)
	if opts.MaxBackoff > 0 {
		exp = retry.WithCappedDuration(opts.MaxBackoff, exp)
	}

	// every failed attempt advances the exponential schedule; after a rate limit the limit window replaces the delay
	limited := false
	backoff := retry.WithMaxRetries(opts.RetryLimit, retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := exp.Next()
		if stop {
			return 0, true
		}
		if limited {
			return 0, false
		}
		return next, false
	}))

	attempts := 0
	var lastErr error
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := d.waitLimits(ctx, r); err != nil {
			return err
		}
		attempts++
		dispatchAttemptCount.WithLabelValues(r.class).Inc()
		err := op(ctx)
		lastErr = err
		limited = false
		if err == nil {
			return nil
		}

		var rle *RateLimitError
		if errors.As(err, &rle) {
			limited = true
			d.setLimit(r, rle)
			logger.Warn("rate limited", "attempt", attempts, "retryAfter", rle.RetryAfter, "global", rle.Global)
			return retry.RetryableError(err)
		}
		if errors.Is(err, ErrPermanent) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		logger.Warn("dispatched call failed", "attempt", attempts, "err", err)
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}
	if uint64(attempts) > opts.RetryLimit && lastErr != nil && errors.Is(err, lastErr) && !errors.Is(err, ErrPermanent) {
		return fmt.Errorf("%w: %d attempts on %s: %w", ErrExhausted, attempts, r.id, err)
	}
	return err
}

func (d *Dispatcher) routeFor(route string) *routeState {
	r, _ := d.routes.LoadOrCompute(route, func() (*routeState, bool) {
		return &routeState{
			id:    route,
			class: routeClass(route),
		}, false
	})
	return r
}

// Routes are named "<class>/<entity>" (eg, "ban/<guild>"); metrics are labeled by class only.
func routeClass(route string) string {
	class, _, _ := strings.Cut(route, "/")
	return class
}

func (d *Dispatcher) setLimit(r *routeState, rle *RateLimitError) {
	until := time.Now().Add(rle.RetryAfter)
	if rle.Global {
		dispatchRateLimitCount.WithLabelValues(r.class, "global").Inc()
		d.mu.Lock()
		if until.After(d.globalLimitedUntil) {
			d.globalLimitedUntil = until
		}
		d.mu.Unlock()
		return
	}
	dispatchRateLimitCount.WithLabelValues(r.class, "route").Inc()
	r.mu.Lock()
	if until.After(r.limitedUntil) {
		r.limitedUntil = until
	}
	r.mu.Unlock()
}

func (d *Dispatcher) limitedUntil(r *routeState) time.Time {
	d.mu.Lock()
	until := d.globalLimitedUntil
	d.mu.Unlock()
	r.mu.Lock()
	if r.limitedUntil.After(until) {
		until = r.limitedUntil
	}
	r.mu.Unlock()
	return until
}

// Blocks until neither the global nor the route's limit window is active. Windows may be extended while waiting.
func (d *Dispatcher) waitLimits(ctx context.Context, r *routeState) error {
	for {
		wait := time.Until(d.limitedUntil(r))
		if wait <= 0 {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Takes ownership of the route, waiting in FIFO order behind earlier callers.
func (r *routeState) acquire(ctx context.Context) error {
	r.mu.Lock()
	if !r.inFlight {
		r.inFlight = true
		r.mu.Unlock()
		return nil
	}
	w := &waiter{ready: make(chan struct{})}
	r.queue.PushBack(w)
	dispatchQueueDepth.WithLabelValues(r.class).Inc()
	r.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		r.mu.Lock()
		select {
		case <-w.ready:
			// ownership was handed over concurrently; pass it on
			r.mu.Unlock()
			r.release()
		default:
			w.abandoned = true
			r.mu.Unlock()
		}
		return ctx.Err()
	}
}

// Hands the route to the oldest live waiter, or marks it idle.
func (r *routeState) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.queue.Len() > 0 {
		v, _ := r.queue.PopFront()
		dispatchQueueDepth.WithLabelValues(r.class).Dec()
		w := v.(*waiter)
		if w.abandoned {
			continue
		}
		close(w.ready)
		return
	}
	r.inFlight = false
}

func (r *routeState) queued() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.Len()
}

// Runs a value-returning operation through the dispatcher.
func Call[T any](ctx context.Context, d *Dispatcher, route string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := d.Execute(ctx, route, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
