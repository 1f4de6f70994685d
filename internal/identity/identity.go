// Package identity resolves a session_id to an Identity (known customer
// metadata, chiefly lifetime value) via a read-through cache in front of an
// external key-value store. Every lookup is bounded by a deadline and fails
// open to an anonymous identity rather than blocking the session pipeline,
// through the same pluggable interface shape used for other external I/O
// in this codebase.
package identity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Identity is a resolved customer record, or the anonymous zero value when
// nothing is known about the session.
type Identity struct {
	SessionID string  `json:"session_id"`
	CustomerID string `json:"customer_id,omitempty"`
	LTVUSD    float64 `json:"ltv_usd"`
	Tier      string  `json:"tier,omitempty"`
	Known     bool    `json:"known"`
}

// Anonymous is returned whenever resolution fails open.
func Anonymous(sessionID string) Identity {
	return Identity{SessionID: sessionID, Known: false}
}

const (
	positiveTTL = 5 * time.Minute
	negativeTTL = 30 * time.Second
	cacheSize   = 50_000
	lookupDeadline = 200 * time.Millisecond
)

// Store is the external key-value view an Identity Resolver reads through.
// Implemented by *redisStore in production; a fake is used in tests.
type Store interface {
	Get(ctx context.Context, sessionID string) (Identity, bool, error)
}

// redisStore adapts a *redis.Client to Store.
type redisStore struct {
	client *redis.Client
}

// NewRedisStore builds a Store backed by Redis at addr.
func NewRedisStore(addr string) Store {
	return &redisStore{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (r *redisStore) Get(ctx context.Context, sessionID string) (Identity, bool, error) {
	raw, err := r.client.Get(ctx, "identity:"+sessionID).Bytes()
	if err == redis.Nil {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, err
	}
	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return Identity{}, false, err
	}
	return id, true, nil
}

// cacheEntry wraps a cached positive lookup result. Only known identities
// are stored with it (found is always true); unknown sessions and failed
// lookups go to the separate negative cache.
type cacheEntry struct {
	identity Identity
	found    bool
}

// Resolver is the read-through, fail-open identity lookup used by shard
// workers. It never blocks beyond lookupDeadline.
type Resolver struct {
	cache   *lru.LRU[string, cacheEntry]
	negative *lru.LRU[string, struct{}]
	store   Store
	breaker *gobreaker.CircuitBreaker[Identity]
	log     *zap.Logger
}

// NewResolver builds a Resolver backed by store.
func NewResolver(store Store, log *zap.Logger) *Resolver {
	settings := gobreaker.Settings{
		Name:    "identity-store",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Resolver{
		cache:    lru.NewLRU[string, cacheEntry](cacheSize, nil, positiveTTL),
		negative: lru.NewLRU[string, struct{}](cacheSize, nil, negativeTTL),
		store:    store,
		breaker:  gobreaker.NewCircuitBreaker[Identity](settings),
		log:      log,
	}
}

// Resolve returns the Identity for sessionID, falling open to Anonymous on
// any cache miss compounded by a store error, a breaker trip, or a deadline
// exceeded. It never returns an error: callers always get a usable value.
func (r *Resolver) Resolve(ctx context.Context, sessionID string) Identity {
	if entry, ok := r.cache.Get(sessionID); ok {
		return entry.identity
	}
	if _, ok := r.negative.Get(sessionID); ok {
		return Anonymous(sessionID)
	}

	ctx, cancel := context.WithTimeout(ctx, lookupDeadline)
	defer cancel()

	id, err := r.breaker.Execute(func() (Identity, error) {
		found, ok, err := r.store.Get(ctx, sessionID)
		if err != nil {
			return Identity{}, err
		}
		if !ok {
			return Anonymous(sessionID), nil
		}
		found.Known = true
		return found, nil
	})
	if err != nil {
		if r.log != nil {
			r.log.Warn("identity resolution failed open",
				zap.String("session_id", sessionID), zap.Error(err))
		}
		r.negative.Add(sessionID, struct{}{})
		return Anonymous(sessionID)
	}

	if id.Known {
		r.cache.Add(sessionID, cacheEntry{identity: id, found: true})
	} else {
		r.negative.Add(sessionID, struct{}{})
	}
	return id
}
