package query

import (
	"context"
	"time"
)

// Options describes one query.
type Options[T any] struct {
	Key Key
	Fn  func(context.Context) (T, error)
	// Enabled=false yields an idle result without touching the cache.
	Enabled bool
	// StaleTime overrides Config.StaleTime when positive.
	StaleTime time.Duration
}

func (o Options[T]) staleTime(c *Client) time.Duration {
	if o.StaleTime > 0 {
		return o.StaleTime
	}
	return c.cfg.StaleTime
}

func (o Options[T]) fetchFunc() fetchFunc {
	return func(ctx context.Context) (any, error) {
		return o.Fn(ctx)
	}
}

// Use returns the current snapshot and starts a fetch when the key is
// absent, invalidated or stale. It never blocks on the fetch.
func Use[T any](c *Client, opts Options[T]) Result[T] {
	if !opts.Enabled {
		return Result[T]{Status: StatusIdle}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, _ := c.acquire(opts.Key, opts.fetchFunc(), opts.staleTime(c))
	return snapshot[T](e)
}

// Fetch is Use, but when no data exists yet it waits for the fetch to finish
// or ctx to end. On ctx expiry the pending snapshot is returned and the
// fetch keeps running.
func Fetch[T any](ctx context.Context, c *Client, opts Options[T]) Result[T] {
	if !opts.Enabled {
		return Result[T]{Status: StatusIdle}
	}
	c.mu.Lock()
	e, wait := c.acquire(opts.Key, opts.fetchFunc(), opts.staleTime(c))
	c.mu.Unlock()

	for wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			wait = nil
			continue
		}
		// a fetch invalidated mid-flight restarts on a new channel
		c.mu.Lock()
		wait = nil
		if e.updatedAt.IsZero() && e.inflight != nil {
			wait = e.inflight
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return snapshot[T](e)
}

// snapshot converts e to a typed result. Caller must hold c.mu.
func snapshot[T any](e *entry) Result[T] {
	r := Result[T]{
		Status:     e.status,
		Err:        e.err,
		IsFetching: e.inflight != nil,
		IsLoading:  e.inflight != nil && e.updatedAt.IsZero(),
		UpdatedAt:  e.updatedAt,
	}
	if e.updatedAt.IsZero() || e.data == nil {
		return r
	}
	v, ok := e.data.(T)
	if !ok {
		r.Err = ErrTypeMismatch
		r.Status = StatusError
		r.UpdatedAt = time.Time{}
		return r
	}
	r.Data = v
	return r
}
