package query

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/keithlinneman/tapcommand-web/internal/log"
	"github.com/keithlinneman/tapcommand-web/internal/xerrors"
)

// ErrTypeMismatch is returned when a key is read with a different result
// type than the one that populated it.
var ErrTypeMismatch = xerrors.New("query: cached value has a different type")

// Metrics is satisfied by *metrics.ServerMetrics.
type Metrics interface {
	ObserveQueryFetch(family, result string, d time.Duration)
	IncQueryCache(family, result string)
	SetQueryEntries(n int)
}

type Config struct {
	// StaleTime is how long fetched data counts as fresh. 0 refetches in
	// the background on every use.
	StaleTime time.Duration
	// GCTime evicts entries unused for this long. Default 5m.
	GCTime time.Duration
	// Retry is the number of retries after the first failed attempt.
	// Negative disables retries. Default 3.
	Retry         int
	RetryDelay    time.Duration // first backoff interval, default 1s
	MaxRetryDelay time.Duration // default 30s
	// FetchTimeout bounds each attempt. Default 15s.
	FetchTimeout time.Duration
	// ShouldRetry filters retryable errors. nil retries everything.
	ShouldRetry func(error) bool

	Logger  log.Logger
	Metrics Metrics
}

func (c *Config) defaults() {
	if c.GCTime <= 0 {
		c.GCTime = 5 * time.Minute
	}
	if c.Retry == 0 {
		c.Retry = 3
	}
	if c.Retry < 0 {
		c.Retry = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 30 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.Nop()
	}
}

type fetchFunc func(context.Context) (any, error)

type entry struct {
	key       Key
	data      any
	err       error
	status    Status
	updatedAt time.Time
	lastUsed  time.Time
	invalid   bool
	// gen is bumped when invalidated data is dropped; a fetch that started
	// under an older gen discards its result
	gen uint64
	// inflight is non-nil while a fetch runs and is closed when it ends
	inflight chan struct{}
}

// Client owns the cache and every fetch goroutine.
type Client struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

func New(cfg Config) *Client {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:     cfg,
		entries: make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}
}

// Close cancels in-flight fetches and waits for them to return.
func (c *Client) Close() {
	c.cancel()
	c.wg.Wait()
}

// Len is the number of cached entries.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// acquire returns the entry for key, creating it and starting a fetch as
// needed. wait is the channel a blocking caller should wait on, nil when
// the entry already holds usable data. Caller must hold c.mu.
func (c *Client) acquire(key Key, fn fetchFunc, staleTime time.Duration) (e *entry, wait chan struct{}) {
	h := key.Hash()
	now := c.now()
	fam := key.Family()

	e, ok := c.entries[h]
	switch {
	case !ok:
		e = &entry{key: key, status: StatusPending}
		c.entries[h] = e
		c.metric(func(m Metrics) {
			m.IncQueryCache(fam, "miss")
			m.SetQueryEntries(len(c.entries))
		})
		c.start(e, fn)

	case e.invalid:
		// invalidated data is never served
		e.invalid = false
		e.gen++
		e.data, e.err, e.updatedAt = nil, nil, time.Time{}
		e.status = StatusPending
		c.metric(func(m Metrics) { m.IncQueryCache(fam, "miss") })
		if e.inflight == nil {
			c.start(e, fn)
		}

	case e.inflight != nil:
		c.metric(func(m Metrics) { m.IncQueryCache(fam, "hit") })

	case e.status == StatusError && e.updatedAt.IsZero():
		// failed with nothing to show: try again
		e.status = StatusPending
		e.err = nil
		c.metric(func(m Metrics) { m.IncQueryCache(fam, "miss") })
		c.start(e, fn)

	case now.Sub(e.updatedAt) >= staleTime:
		c.metric(func(m Metrics) { m.IncQueryCache(fam, "stale") })
		c.start(e, fn)

	default:
		c.metric(func(m Metrics) { m.IncQueryCache(fam, "hit") })
	}

	e.lastUsed = now
	if e.updatedAt.IsZero() {
		wait = e.inflight
	}
	return e, wait
}

func (c *Client) metric(f func(Metrics)) {
	if c.cfg.Metrics != nil {
		f(c.cfg.Metrics)
	}
}

// start launches a fetch for e. Caller must hold c.mu.
func (c *Client) start(e *entry, fn fetchFunc) {
	if c.ctx.Err() != nil {
		e.status = StatusError
		e.err = xerrors.Wrap(c.ctx.Err(), "query client closed")
		return
	}
	done := make(chan struct{})
	e.inflight = done
	c.wg.Add(1)
	go c.run(e, fn, done, e.gen)
}

func (c *Client) run(e *entry, fn fetchFunc, done chan struct{}, gen uint64) {
	defer c.wg.Done()
	fam := e.key.Family()
	start := c.now()

	v, err := c.fetchWithRetry(e.key, fn)

	result := "success"
	if err != nil {
		// fetch funcs are arbitrary; the stored error gets a stack for later error logs
		err = xerrors.EnsureTrace(err)
		result = "error"
		c.cfg.Logger.Warn(c.ctx, "query fetch failed", "query_key", e.key.String(), "err", err.Error())
	}
	c.metric(func(m Metrics) { m.ObserveQueryFetch(fam, result, c.now().Sub(start)) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != e.gen {
		// invalidated mid-flight
		e.inflight = nil
		close(done)
		c.start(e, fn)
		return
	}
	if err == nil {
		e.data = v
		e.err = nil
		e.status = StatusSuccess
		e.updatedAt = c.now()
	} else {
		// previous data, if any, stays readable
		e.err = err
		e.status = StatusError
	}
	e.inflight = nil
	close(done)
}

func (c *Client) fetchWithRetry(key Key, fn fetchFunc) (any, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryDelay
	b.Multiplier = 2
	b.MaxInterval = c.cfg.MaxRetryDelay

	op := func() (any, error) {
		actx, cancel := context.WithTimeout(c.ctx, c.cfg.FetchTimeout)
		defer cancel()
		v, err := fn(actx)
		if err == nil {
			return v, nil
		}
		if c.ctx.Err() != nil || (c.cfg.ShouldRetry != nil && !c.cfg.ShouldRetry(err)) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	return backoff.Retry(c.ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.cfg.Retry+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.cfg.Logger.Debug(c.ctx, "query fetch retry", "query_key", key.String(), "err", err.Error(), "next", next)
		}),
	)
}

// Invalidate marks every entry under prefix so its data is dropped and
// refetched on next use. It returns the number of entries marked.
func (c *Client) Invalidate(prefix Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			e.invalid = true
			n++
		}
	}
	return n
}

// Remove deletes one entry. An in-flight fetch for it completes unobserved.
func (c *Client) Remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key.Hash())
	c.metric(func(m Metrics) { m.SetQueryEntries(len(c.entries)) })
}

// gc evicts idle entries unused since now-GCTime.
func (c *Client) gc(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for h, e := range c.entries {
		if e.inflight == nil && now.Sub(e.lastUsed) > c.cfg.GCTime {
			delete(c.entries, h)
			n++
		}
	}
	if n > 0 {
		c.metric(func(m Metrics) { m.SetQueryEntries(len(c.entries)) })
	}
	return n
}

// Run evicts unused entries until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	interval := c.cfg.GCTime / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := c.gc(now); n > 0 {
				c.cfg.Logger.Debug(ctx, "query cache gc", "evicted", n)
			}
		}
	}
}
