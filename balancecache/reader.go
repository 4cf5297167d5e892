package balancecache

import (
	"context"
	"fmt"
	"math"

	"github.com/abesuite/airdrop-ledger/metrics"

	"golang.org/x/time/rate"
)

// BalanceAuthority is the source of truth a cache miss falls back to.
type BalanceAuthority interface {
	ReadBalance(ctx context.Context, token string, owner string) (int64, error)
}

// Invalidator drops cached balances so the next read goes to the authority.
type Invalidator interface {
	Invalidate(ctx context.Context, key Key) error
}

// Reader is a cache-aside view of balances.
//
// Two concurrent misses on the same key may both read the authority and
// populate the cache; the last write wins.  Adjust is a read-modify-write
// without locking, so concurrent adjustments of one key can lose an update.
// Callers that need exact values invalidate instead.
type Reader struct {
	cache     Cache
	authority BalanceAuthority
	limiter   *rate.Limiter
}

// NewReader builds a Reader.  rps <= 0 leaves authority reads unthrottled.
func NewReader(cache Cache, authority BalanceAuthority, rps float64, burst int) *Reader {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Reader{
		cache:     cache,
		authority: authority,
		limiter:   rate.NewLimiter(limit, burst),
	}
}

// Balance returns the cached balance or, on a miss, reads the authority once
// and populates the cache.  A negative balance is never cached nor returned:
// the entry is dropped and ErrNegativeBalance is returned.
func (r *Reader) Balance(ctx context.Context, key Key) (int64, error) {
	value, ok, err := r.cache.Get(key)
	if err != nil {
		log.Errorf("Unable to read cached balance of %v: %v", key, err)
		return 0, err
	}
	metrics.Ledger().ObserveCacheLookup(ok)
	if ok {
		if value < 0 {
			log.Warnf("Cached balance of %v is %v, invalidating", key, value)
			return 0, r.dropNegative(key)
		}
		return value, nil
	}

	if r.authority == nil {
		return 0, fmt.Errorf("balance of %v not cached and no authority configured", key)
	}
	err = r.limiter.Wait(ctx)
	if err != nil {
		return 0, err
	}
	value, err = r.authority.ReadBalance(ctx, key.Token, key.Owner)
	metrics.Ledger().ObserveAuthorityRead(err)
	if err != nil {
		log.Errorf("Unable to read balance of %v from authority: %v", key, err)
		return 0, err
	}
	if value < 0 {
		log.Warnf("Authority reported balance %v for %v, not caching", value, key)
		return 0, r.dropNegative(key)
	}
	log.Tracef("Populating balance cache %v = %v", key, value)

	err = r.cache.Set(key, value)
	if err != nil {
		log.Errorf("Unable to populate balance cache %v: %v", key, err)
		return 0, err
	}
	return value, nil
}

// Adjust adds delta to the balance of key and returns the new value.  A
// result below zero or beyond int64 is not stored: the entry is invalidated
// and ErrNegativeBalance or ErrBalanceOverflow is returned.
func (r *Reader) Adjust(ctx context.Context, key Key, delta int64) (int64, error) {
	value, err := r.Balance(ctx, key)
	if err != nil {
		return 0, err
	}

	if delta > 0 && value > math.MaxInt64-delta {
		log.Warnf("Balance of %v overflows (%v%+d), invalidating", key, value, delta)
		err = r.cache.Delete(key)
		if err != nil {
			return 0, fmt.Errorf("%w, invalidation failed: %v", ErrBalanceOverflow, err)
		}
		return 0, ErrBalanceOverflow
	}

	next := value + delta
	if next < 0 {
		log.Warnf("Balance of %v would become %v (%v%+d), invalidating", key, next, value, delta)
		return 0, r.dropNegative(key)
	}

	err = r.cache.Set(key, next)
	if err != nil {
		log.Errorf("Unable to update balance cache %v: %v", key, err)
		return 0, err
	}
	return next, nil
}

func (r *Reader) dropNegative(key Key) error {
	err := r.cache.Delete(key)
	if err != nil {
		return fmt.Errorf("%w, invalidation failed: %v", ErrNegativeBalance, err)
	}
	return ErrNegativeBalance
}

func (r *Reader) Invalidate(ctx context.Context, key Key) error {
	log.Tracef("Invalidating balance cache %v", key)
	return r.cache.Delete(key)
}

// New builds the cache backend named by cacheType.
func New(cacheType string, size int, maxBytes int) (Cache, error) {
	switch cacheType {
	case CacheTypeLRU, "":
		return NewLRUCache(size)
	case CacheTypeFastCache:
		return NewFastCache(maxBytes), nil
	}
	return nil, fmt.Errorf("unsupported cache type %v", cacheType)
}

const (
	CacheTypeLRU       = "lru"
	CacheTypeFastCache = "fastcache"
)
