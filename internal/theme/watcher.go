// Watcher polls a Source and swaps the Manager's theme when the document
// changes. A document that fails validation is logged once per version and
// the previous theme stays active.
package theme

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/keithlinneman/tapcommand-web/internal/log"
)

const (
	DefaultPollInterval = time.Minute
	maxPollBackoff      = 10 * time.Minute
)

type pollResult int

const (
	pollUnchanged pollResult = iota
	pollSwapped
	pollFetchError
	pollInvalid
)

func (p pollResult) String() string {
	switch p {
	case pollSwapped:
		return "swapped"
	case pollFetchError:
		return "fetch_error"
	case pollInvalid:
		return "invalid"
	}
	return "unchanged"
}

// WatcherMetrics is satisfied by *metrics.ServerMetrics.
type WatcherMetrics interface {
	IncThemePoll(result string)
	SetThemeLoaded(source string, t time.Time)
}

type WatcherOptions struct {
	Logger       log.Logger
	Source       Source
	Manager      *Manager
	PollInterval time.Duration
	Metrics      WatcherMetrics
}

type Watcher struct {
	source   Source
	manager  *Manager
	logger   log.Logger
	interval time.Duration
	metrics  WatcherMetrics
	backoff  *backoff.ExponentialBackOff

	currentVersion string
	// rejectedVersion suppresses re-logging the same invalid document
	rejectedVersion string
	consecutiveErrs int
}

func NewWatcher(opts WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.MaxInterval = maxPollBackoff

	w := &Watcher{
		source:   opts.Source,
		manager:  opts.Manager,
		logger:   opts.Logger.With("component", "theme_watcher", "source", opts.Source.Name()),
		interval: interval,
		metrics:  opts.Metrics,
		backoff:  b,
	}
	if s := opts.Manager.Get(); s != nil {
		w.currentVersion = s.Version
	}
	return w
}

// LoadInitial performs the first load and fails on any error, so a broken
// theme is caught at startup rather than on the first poll.
func (w *Watcher) LoadInitial(ctx context.Context) error {
	data, version, err := w.source.Fetch(ctx)
	if err != nil {
		return err
	}
	t, err := Parse(data)
	if err != nil {
		return err
	}
	w.swap(ctx, t, version)
	return nil
}

// Run polls until ctx is cancelled. Fetch errors back off exponentially.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "theme watcher starting", "poll_interval", w.interval.String())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "theme watcher stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			res := w.checkOnce(ctx)
			if res == pollFetchError {
				w.consecutiveErrs++
				next := w.backoff.NextBackOff()
				w.logger.Warn(ctx, "theme watcher: backing off",
					"consecutive_errors", w.consecutiveErrs,
					"next_poll_in", next.String(),
				)
				ticker.Reset(next)
			} else if w.consecutiveErrs > 0 {
				w.logger.Info(ctx, "theme watcher: recovered", "had_consecutive_errors", w.consecutiveErrs)
				w.consecutiveErrs = 0
				w.backoff.Reset()
				ticker.Reset(w.interval)
			}
		}
	}
}

func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	res := w.poll(ctx)
	if w.metrics != nil {
		w.metrics.IncThemePoll(res.String())
	}
	return res
}

func (w *Watcher) poll(ctx context.Context) pollResult {
	data, version, err := w.source.Fetch(ctx)
	if err != nil {
		w.logger.Warn(ctx, "theme fetch failed", "err", err.Error())
		return pollFetchError
	}
	if version == w.currentVersion {
		return pollUnchanged
	}
	if version == w.rejectedVersion {
		return pollInvalid
	}
	t, err := Parse(data)
	if err != nil {
		w.rejectedVersion = version
		w.logger.Error(ctx, err, "theme rejected, keeping current", "version", version)
		return pollInvalid
	}
	w.swap(ctx, t, version)
	return pollSwapped
}

func (w *Watcher) swap(ctx context.Context, t *Theme, version string) {
	s := w.manager.Set(t, w.source.Name(), version)
	w.currentVersion = version
	w.rejectedVersion = ""
	if w.metrics != nil {
		w.metrics.SetThemeLoaded(s.Source, s.LoadedAt)
	}
	w.logger.Info(ctx, "theme loaded", "name", t.Name, "version", version, "etag", s.ETag)
}
