// Package guard implements the idempotency fast path for webhook deliveries.
//
// The guard is advisory only. Providers redeliver liberally after any slow or
// non-2xx response, so the common duplicate is caught here cheaply; the
// authoritative duplicate detection is the unique constraint the applier hits
// on insert. A race between check and insert is therefore harmless.
package guard

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/adekunle-oj/wallet-core/internal/model"
	"github.com/adekunle-oj/wallet-core/internal/repository"
)

const (
	cacheKeyPrefix = "wallet:applied:"
	cacheTTL       = 24 * time.Hour
)

// LedgerLookup is the slice of the repository the guard needs.
type LedgerLookup interface {
	LookupLedgerEntryByReference(ctx context.Context, reference string) (*model.LedgerEntry, error)
}

// Guard answers "has this reference already been applied" using an optional
// Redis membership cache in front of the ledger table.
type Guard struct {
	store  LedgerLookup
	cache  *redis.Client
	logger *zap.Logger
}

// New creates a Guard. cache may be nil, in which case every check goes to
// the ledger table.
func New(store LedgerLookup, cache *redis.Client, logger *zap.Logger) *Guard {
	return &Guard{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// AlreadyApplied reports whether a ledger entry with the reference exists.
// Cache errors are swallowed: the ledger table answers instead.
func (g *Guard) AlreadyApplied(ctx context.Context, reference string) (bool, error) {
	if g.cache != nil {
		n, err := g.cache.Exists(ctx, cacheKeyPrefix+reference).Result()
		if err != nil {
			g.logger.Warn("duplicate cache unavailable, falling back to ledger lookup",
				zap.String("reference", reference), zap.Error(err))
		} else if n > 0 {
			return true, nil
		}
	}

	_, err := g.store.LookupLedgerEntryByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, repository.ErrEntryNotFound) {
			return false, nil
		}
		return false, err
	}

	g.markCache(ctx, reference)
	return true, nil
}

// MarkApplied records a freshly applied reference in the cache, best-effort.
func (g *Guard) MarkApplied(ctx context.Context, reference string) {
	g.markCache(ctx, reference)
}

func (g *Guard) markCache(ctx context.Context, reference string) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Set(ctx, cacheKeyPrefix+reference, 1, cacheTTL).Err(); err != nil {
		g.logger.Warn("failed to mark reference in duplicate cache",
			zap.String("reference", reference), zap.Error(err))
	}
}
