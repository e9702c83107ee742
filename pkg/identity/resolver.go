// Package identity translates internal holder identifiers into chain
// addresses, caching results from the auth service.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/equiptrack/custody-middleware/internal/metrics"
	"github.com/equiptrack/custody-middleware/pkg/holder"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// ZeroAddress is the chain encoding of the warehouse sentinel.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// UserDirectory is the contract consumed from the auth service.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*User, error)
}

// mapping is one cached holder→address entry.
type mapping struct {
	Address    string
	ResolvedAt time.Time
}

// Resolver maps holder identifiers to chain addresses. Resolution never
// fails: chain-write correctness is best-effort relative to the database, so
// a holder that cannot be resolved degrades to the configured fallback
// address instead of blocking the transfer.
type Resolver struct {
	directory UserDirectory
	cache     *gocache.Cache
	ttl       time.Duration
	fallback  string
	logger    *zap.Logger
}

// NewResolver creates a resolver backed by directory. Entries older than ttl
// are re-fetched; they are kept around as a degraded fallback for when the
// directory is unreachable.
func NewResolver(directory UserDirectory, ttl time.Duration, fallback string, logger *zap.Logger) *Resolver {
	if fallback == "" {
		fallback = ZeroAddress
	}
	return &Resolver{
		directory: directory,
		cache:     gocache.New(gocache.NoExpiration, 0),
		ttl:       ttl,
		fallback:  fallback,
		logger:    logger,
	}
}

// ResolveAddress returns the chain address for a holder. The warehouse
// sentinel always resolves to the zero address without touching the cache or
// the directory.
func (r *Resolver) ResolveAddress(ctx context.Context, h holder.ID) string {
	if h.IsWarehouse() {
		return ZeroAddress
	}

	cached, hasCached := r.lookup(h.UserID())
	if hasCached && time.Since(cached.ResolvedAt) < r.ttl {
		metrics.IdentityLookupsTotal.WithLabelValues("cache_hit").Inc()
		return cached.Address
	}

	user, err := r.directory.GetUser(ctx, h.UserID())
	switch {
	case err == nil && user.EthAddress != "":
		r.cache.Set(h.UserID(), mapping{Address: user.EthAddress, ResolvedAt: time.Now()}, gocache.NoExpiration)
		metrics.IdentityLookupsTotal.WithLabelValues("resolved").Inc()
		return user.EthAddress

	case errors.Is(err, ErrUnavailable) && hasCached:
		// Stale entries are not point-in-time truth, but beat the
		// fallback when the directory is down.
		r.logger.Warn("Identity service unreachable, using stale cached address",
			zap.String("holder", h.String()),
			zap.Time("resolved_at", cached.ResolvedAt))
		metrics.IdentityLookupsTotal.WithLabelValues("stale").Inc()
		return cached.Address

	default:
		if err != nil {
			r.logger.Warn("Failed to resolve holder address, using fallback",
				zap.String("holder", h.String()),
				zap.String("fallback", r.fallback),
				zap.Error(err))
		} else {
			r.logger.Warn("Holder has no chain address, using fallback",
				zap.String("holder", h.String()),
				zap.String("fallback", r.fallback))
		}
		metrics.IdentityLookupsTotal.WithLabelValues("fallback").Inc()
		return r.fallback
	}
}

func (r *Resolver) lookup(userID string) (mapping, bool) {
	v, ok := r.cache.Get(userID)
	if !ok {
		return mapping{}, false
	}
	m, ok := v.(mapping)
	return m, ok
}

// CacheStats reports cache size and the age of the oldest entry, for the
// health surface.
func (r *Resolver) CacheStats() (entries int, oldest time.Duration) {
	items := r.cache.Items()
	for _, item := range items {
		if m, ok := item.Object.(mapping); ok {
			if age := time.Since(m.ResolvedAt); age > oldest {
				oldest = age
			}
		}
	}
	return len(items), oldest
}
