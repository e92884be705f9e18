package instance

import (
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/couchbase/lcbgo/internal/cache"
	"github.com/couchbase/lcbgo/pkg/metrics"
)

// Option configures an Instance at Create time, following the teacher's
// functional-options pattern (internal/infrastructure/grouping.Option).
type Option func(*Instance)

// WithLogger overrides the default logger built from settings.ConsoleLogLevel.
func WithLogger(l *slog.Logger) Option {
	return func(i *Instance) { i.logger = l }
}

// WithMetrics overrides the default metrics.DefaultRegistry().
func WithMetrics(r *metrics.Registry) Option {
	return func(i *Instance) { i.metrics = r }
}

// WithGuessCache backs the vbguess routing cache with store instead of the
// default process-local LRU — typically cache.RedisStore, to share guesses
// across a fleet of instances.
func WithGuessCache(store cache.Store) Option {
	return func(i *Instance) { i.guessCache = store }
}

// WithQueryPlanCache backs the N1QL prepared-plan cache with store.
func WithQueryPlanCache(store cache.Store) Option {
	return func(i *Instance) { i.queryPlans = NewQueryPlanCache(store) }
}

// WithRateLimiter pre-engages client-side throttling instead of waiting for
// the server to report RATE_LIMITED/QUOTA_LIMITED at least once first.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(i *Instance) { i.rateLimiter = l }
}

// WithCryptoProvider registers a field-level-encryption provider at Create
// time, before any document touching its alias is processed.
func WithCryptoProvider(p CryptoProvider) Option {
	return func(i *Instance) { i.crypto.Register(p) }
}
