package instance

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"time"

	"github.com/couchbase/lcbgo/internal/cache"
)

// queryPlanTTL bounds how long a cached N1QL query plan is trusted before a
// fresh PREPARE is required; plans go stale the same way vbguess routing
// guesses do, after a topology or index change, so they share the dispatch
// layer's cache.Store abstraction (SPEC_FULL.md DOMAIN STACK) rather than
// inventing a second cache mechanism.
const queryPlanTTL = 10 * time.Minute

// QueryPlanCache stores prepared N1QL query plans keyed by statement text,
// backed by any cache.Store so a fleet of instances can share plans the
// same way they share vbguess routing guesses.
type QueryPlanCache struct {
	store cache.Store
}

// NewQueryPlanCache wraps store as a query-plan cache.
func NewQueryPlanCache(store cache.Store) *QueryPlanCache {
	return &QueryPlanCache{store: store}
}

func planKey(statement string) string {
	sum := sha1.Sum([]byte(statement))
	return "qplan:" + hex.EncodeToString(sum[:])
}

// Get returns the cached plan for statement, or ok=false on a miss.
func (q *QueryPlanCache) Get(ctx context.Context, statement string) (plan []byte, ok bool) {
	if q == nil || q.store == nil {
		return nil, false
	}
	raw, err := q.store.Get(ctx, planKey(statement))
	if err != nil {
		return nil, false
	}
	return raw, true
}

// Set caches plan for statement.
func (q *QueryPlanCache) Set(ctx context.Context, statement string, plan []byte) error {
	if q == nil || q.store == nil {
		return nil
	}
	return q.store.Set(ctx, planKey(statement), plan, queryPlanTTL)
}

// Invalidate drops a cached plan, e.g. after the server reports the plan is
// stale (index dropped, bucket rebalanced).
func (q *QueryPlanCache) Invalidate(ctx context.Context, statement string) error {
	if q == nil || q.store == nil {
		return nil
	}
	return q.store.Delete(ctx, planKey(statement))
}
