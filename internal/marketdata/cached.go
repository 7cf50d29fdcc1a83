package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ksred/spreadbook/internal/types"
)

type cacheEntry struct {
	quote     types.LegQuote
	fetchedAt time.Time
}

// CachedSource wraps a Source with a TTL cache, a request rate limit and
// bounded retries with exponential backoff.
type CachedSource struct {
	src        Source
	ttl        time.Duration
	limiter    *rate.Limiter
	maxRetries int
	newBackOff func() backoff.BackOff
	now        func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type CachedOption func(*CachedSource)

// WithRateLimit caps upstream requests per second with a burst of 1
func WithRateLimit(perSecond float64) CachedOption {
	return func(c *CachedSource) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1) }
}

func WithMaxRetries(n int) CachedOption {
	return func(c *CachedSource) { c.maxRetries = n }
}

// WithInitialBackOff sets the first retry delay
func WithInitialBackOff(d time.Duration) CachedOption {
	return func(c *CachedSource) {
		c.newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = d
			b.MaxInterval = 30 * d
			return b
		}
	}
}

func WithCacheClock(now func() time.Time) CachedOption {
	return func(c *CachedSource) { c.now = now }
}

func NewCachedSource(src Source, ttl time.Duration, opts ...CachedOption) *CachedSource {
	c := &CachedSource{
		src:        src,
		ttl:        ttl,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		maxRetries: 3,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		now:        time.Now,
		cache:      make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CachedSource) Quotes(ctx context.Context, symbols []string) (map[string]types.LegQuote, error) {
	out := make(map[string]types.LegQuote, len(symbols))
	var missing []string

	c.mu.Lock()
	now := c.now()
	for _, symbol := range symbols {
		if e, ok := c.cache[symbol]; ok && now.Sub(e.fetchedAt) < c.ttl {
			out[symbol] = e.quote
			continue
		}
		missing = append(missing, symbol)
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := c.fetch(ctx, missing)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	fetchedAt := c.now()
	for symbol, q := range fetched {
		c.cache[symbol] = cacheEntry{quote: q, fetchedAt: fetchedAt}
		out[symbol] = q
	}
	c.mu.Unlock()

	return out, nil
}

func (c *CachedSource) fetch(ctx context.Context, symbols []string) (map[string]types.LegQuote, error) {
	logger := log.With().Strs("symbols", symbols).Logger()
	backoffCfg := c.newBackOff()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		quotes, err := c.src.Quotes(ctx, symbols)
		if err == nil {
			return quotes, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		if attempt == c.maxRetries {
			break
		}
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			break
		}
		logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("retry_in", sleep).
			Msg("quote request failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}

	logger.Error().Err(lastErr).Int("max_retries", c.maxRetries).Msg("quote request failed")
	return nil, fmt.Errorf("fetch quotes after %d retries: %w", c.maxRetries, lastErr)
}

// Invalidate drops every cached quote
func (c *CachedSource) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]cacheEntry)
}
