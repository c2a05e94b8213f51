// Package feedcache polls one upstream resource under a hard request budget,
// serving the last good payload while refreshes and backoff are pending.
package feedcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/gtfsrt"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

var ErrUpstreamUnavailable = errors.New("upstream unavailable and no cached payload")

type Status string

const (
	StatusHit          Status = "HIT"
	StatusStale        Status = "STALE"
	StatusRevalidating Status = "REVALIDATING"
	StatusBackoff      Status = "BACKOFF"
	StatusMissFetched  Status = "MISS_FETCHED"
	StatusRestored     Status = "RESTORED"
	StatusUnavailable  Status = "UNAVAILABLE"
)

type FetchFunc func(ctx context.Context) ([]byte, error)

type DecodeFunc[T any] func(payload []byte) (T, error)

type Options struct {
	// MinInterval is the floor between two upstream attempts, whatever the
	// caller volume.
	MinInterval    time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetryAfter  time.Duration
	RequestTimeout time.Duration

	Clock func() time.Time

	Persister     Persister
	PersistMaxAge time.Duration

	Metrics *metrics.Collector
}

func DefaultOptions() Options {
	return Options{
		MinInterval:    30 * time.Second,
		InitialBackoff: 60 * time.Second,
		MaxBackoff:     10 * time.Minute,
		MaxRetryAfter:  time.Hour,
		RequestTimeout: 10 * time.Second,
		Clock:          time.Now,
		PersistMaxAge:  15 * time.Minute,
	}
}

type Snapshot[T any] struct {
	Payload      T
	Version      uint64
	FetchedAt    time.Time
	Age          time.Duration
	Status       Status
	BackoffUntil time.Time
	LastError    error
}

type Cache[T any] struct {
	name   string
	fetch  FetchFunc
	decode DecodeFunc[T]
	opts   Options

	group       singleflight.Group
	restoreOnce sync.Once

	mu           sync.Mutex
	payload      T
	hasPayload   bool
	restored     bool
	fetchedAt    time.Time
	lastAttempt  time.Time
	backoffUntil time.Time
	backoff      *backoff.ExponentialBackOff
	version      uint64
	lastErr      error
	inflight     bool
}

func New[T any](name string, fetch FetchFunc, decode DecodeFunc[T], opts Options) *Cache[T] {
	defaults := DefaultOptions()
	if opts.MinInterval <= 0 {
		opts.MinInterval = defaults.MinInterval
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 2 * opts.MinInterval
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaults.MaxBackoff
	}
	if opts.MaxRetryAfter <= 0 {
		opts.MaxRetryAfter = defaults.MaxRetryAfter
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaults.RequestTimeout
	}
	if opts.PersistMaxAge <= 0 {
		opts.PersistMaxAge = defaults.PersistMaxAge
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	retryBackoff := backoff.NewExponentialBackOff()
	retryBackoff.InitialInterval = opts.InitialBackoff
	retryBackoff.MaxInterval = opts.MaxBackoff
	retryBackoff.Multiplier = 2
	retryBackoff.RandomizationFactor = 0
	retryBackoff.MaxElapsedTime = 0
	retryBackoff.Reset()

	return &Cache[T]{
		name:    name,
		fetch:   fetch,
		decode:  decode,
		opts:    opts,
		backoff: retryBackoff,
	}
}

func (c *Cache[T]) Name() string {
	return c.name
}

// Fetch returns the cached payload immediately whenever one exists, starting
// a background refresh when the poll floor and backoff allow it. Without a
// payload the caller waits for the single in-flight fetch.
func (c *Cache[T]) Fetch(ctx context.Context) (Snapshot[T], error) {
	c.restoreOnce.Do(func() { c.restore(ctx) })

	c.mu.Lock()
	now := c.opts.Clock()

	if c.hasPayload {
		status := c.statusLocked(now)
		snapshot := c.snapshotLocked(now, status)
		c.mu.Unlock()

		if status == StatusRevalidating {
			c.group.DoChan(c.name, c.refresh)
		}
		c.opts.Metrics.ObserveCacheRead(c.name, string(status), snapshot.Age)

		return snapshot, nil
	}

	if !c.inflight && !c.dueLocked(now) {
		err := c.unavailableLocked()
		snapshot := c.snapshotLocked(now, StatusUnavailable)
		c.mu.Unlock()

		c.opts.Metrics.ObserveCacheRead(c.name, string(StatusUnavailable), 0)
		return snapshot, err
	}
	c.mu.Unlock()

	result := c.group.DoChan(c.name, c.refresh)
	select {
	case <-result:
	case <-ctx.Done():
		return Snapshot[T]{Status: StatusUnavailable}, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, ctx.Err())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now = c.opts.Clock()
	if !c.hasPayload {
		c.opts.Metrics.ObserveCacheRead(c.name, string(StatusUnavailable), 0)
		return c.snapshotLocked(now, StatusUnavailable), c.unavailableLocked()
	}

	snapshot := c.snapshotLocked(now, StatusMissFetched)
	c.opts.Metrics.ObserveCacheRead(c.name, string(StatusMissFetched), snapshot.Age)
	return snapshot, nil
}

// Peek reports the cache state without ever touching the upstream.
func (c *Cache[T]) Peek() Snapshot[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Clock()
	if !c.hasPayload {
		return c.snapshotLocked(now, StatusUnavailable)
	}

	status := c.statusLocked(now)
	if status == StatusRevalidating {
		status = StatusStale
	}
	return c.snapshotLocked(now, status)
}

func (c *Cache[T]) statusLocked(now time.Time) Status {
	switch {
	case c.inflight:
		return StatusStale
	case now.Before(c.backoffUntil):
		return StatusBackoff
	case c.dueLocked(now):
		return StatusRevalidating
	case c.restored:
		return StatusRestored
	default:
		return StatusHit
	}
}

func (c *Cache[T]) dueLocked(now time.Time) bool {
	if c.inflight {
		return false
	}
	if !c.lastAttempt.IsZero() && now.Before(c.lastAttempt.Add(c.opts.MinInterval)) {
		return false
	}
	return !now.Before(c.backoffUntil)
}

func (c *Cache[T]) snapshotLocked(now time.Time, status Status) Snapshot[T] {
	snapshot := Snapshot[T]{
		Payload:      c.payload,
		Version:      c.version,
		FetchedAt:    c.fetchedAt,
		Status:       status,
		BackoffUntil: c.backoffUntil,
		LastError:    c.lastErr,
	}
	if c.hasPayload {
		snapshot.Age = now.Sub(c.fetchedAt)
	}
	return snapshot
}

func (c *Cache[T]) unavailableLocked() error {
	if c.lastErr != nil {
		return fmt.Errorf("%s: %w: %w", c.name, ErrUpstreamUnavailable, c.lastErr)
	}
	return fmt.Errorf("%s: %w", c.name, ErrUpstreamUnavailable)
}

// refresh is only ever run through the singleflight group. It re-checks the
// floor under the lock so a burst of callers costs one upstream request.
func (c *Cache[T]) refresh() (any, error) {
	c.mu.Lock()
	now := c.opts.Clock()
	if !c.dueLocked(now) {
		c.mu.Unlock()
		return nil, nil
	}
	c.lastAttempt = now
	c.inflight = true
	c.mu.Unlock()

	// Detached from any request so a cancelled caller never aborts the
	// shared fetch.
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
	defer cancel()

	raw, err := c.fetch(ctx)
	var decoded T
	if err == nil {
		decoded, err = c.decode(raw)
	}

	c.mu.Lock()
	c.inflight = false

	if err != nil {
		wait := c.failLocked(now, err)
		c.mu.Unlock()

		outcome := failureOutcome(err)
		c.opts.Metrics.ObserveFetch(c.name, outcome)
		c.opts.Metrics.SetBackoff(c.name, wait)

		log.Warn().
			Err(err).
			Str("feed", c.name).
			Str("outcome", outcome).
			Dur("backoff", wait).
			Msg("Feed fetch failed")

		return nil, err
	}

	c.payload = decoded
	c.hasPayload = true
	c.restored = false
	c.fetchedAt = c.opts.Clock()
	c.version++
	c.lastErr = nil
	c.backoff.Reset()
	c.backoffUntil = time.Time{}
	version := c.version
	fetchedAt := c.fetchedAt
	c.mu.Unlock()

	c.opts.Metrics.ObserveFetch(c.name, "ok")
	c.opts.Metrics.SetBackoff(c.name, 0)

	log.Debug().
		Str("feed", c.name).
		Uint64("version", version).
		Int("bytes", len(raw)).
		Msg("Feed refreshed")

	c.persist(raw, fetchedAt)

	return nil, nil
}

type retryAfterer interface {
	RetryAfter() time.Duration
}

func (c *Cache[T]) failLocked(attempt time.Time, err error) time.Duration {
	wait := c.backoff.NextBackOff()
	if wait == backoff.Stop {
		wait = c.opts.MaxBackoff
	}

	var hinted retryAfterer
	if errors.As(err, &hinted) {
		if requested := hinted.RetryAfter(); requested > wait {
			wait = min(requested, c.opts.MaxRetryAfter)
		}
	}

	c.backoffUntil = attempt.Add(wait)
	c.lastErr = err

	return wait
}

func failureOutcome(err error) string {
	var decodeErr *gtfsrt.DecodeError
	switch {
	case errors.Is(err, gtfsrt.ErrRateLimited):
		return "rate_limited"
	case errors.As(err, &decodeErr):
		return "decode_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
