package identity

import (
	"context"
	"testing"
	"time"

	"github.com/equiptrack/custody-middleware/pkg/holder"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

type mockDirectory struct {
	GetUserFunc func(ctx context.Context, id string) (*User, error)
	calls       int
}

func (m *mockDirectory) GetUser(ctx context.Context, id string) (*User, error) {
	m.calls++
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, id)
	}
	return nil, ErrNotFound
}

func TestResolveWarehouseSentinel(t *testing.T) {
	dir := &mockDirectory{}
	r := NewResolver(dir, 30*time.Minute, "", zap.NewNop())

	got := r.ResolveAddress(context.Background(), holder.Warehouse())
	if got != ZeroAddress {
		t.Errorf("warehouse resolved to %s, want zero address", got)
	}
	if dir.calls != 0 {
		t.Errorf("warehouse resolution called the directory %d times", dir.calls)
	}
}

func TestResolveCachesFreshEntries(t *testing.T) {
	dir := &mockDirectory{
		GetUserFunc: func(ctx context.Context, id string) (*User, error) {
			return &User{ID: id, EthAddress: "0x1111111111111111111111111111111111111111"}, nil
		},
	}
	r := NewResolver(dir, 30*time.Minute, "", zap.NewNop())

	h := holder.FromUser("user-7")
	first := r.ResolveAddress(context.Background(), h)
	second := r.ResolveAddress(context.Background(), h)

	if first != second || first != "0x1111111111111111111111111111111111111111" {
		t.Errorf("resolutions differ: %s vs %s", first, second)
	}
	if dir.calls != 1 {
		t.Errorf("directory called %d times, want 1", dir.calls)
	}
}

func TestResolveFallbackOnMissingAddress(t *testing.T) {
	dir := &mockDirectory{
		GetUserFunc: func(ctx context.Context, id string) (*User, error) {
			return &User{ID: id}, nil // no chain address on the profile
		},
	}
	fallback := "0x2222222222222222222222222222222222222222"
	r := NewResolver(dir, 30*time.Minute, fallback, zap.NewNop())

	got := r.ResolveAddress(context.Background(), holder.FromUser("user-7"))
	if got != fallback {
		t.Errorf("resolved to %s, want fallback %s", got, fallback)
	}
}

func TestResolveFallbackOnNotFound(t *testing.T) {
	dir := &mockDirectory{}
	r := NewResolver(dir, 30*time.Minute, "", zap.NewNop())

	got := r.ResolveAddress(context.Background(), holder.FromUser("user-7"))
	if got != ZeroAddress {
		t.Errorf("resolved to %s, want zero-address fallback", got)
	}
}

func TestResolveStaleEntryWhenDirectoryUnreachable(t *testing.T) {
	dir := &mockDirectory{
		GetUserFunc: func(ctx context.Context, id string) (*User, error) {
			return nil, ErrUnavailable
		},
	}
	r := NewResolver(dir, 30*time.Minute, "", zap.NewNop())

	// Seed an entry that is past the TTL.
	r.cache.Set("user-7", mapping{
		Address:    "0x3333333333333333333333333333333333333333",
		ResolvedAt: time.Now().Add(-time.Hour),
	}, gocache.NoExpiration)

	got := r.ResolveAddress(context.Background(), holder.FromUser("user-7"))
	if got != "0x3333333333333333333333333333333333333333" {
		t.Errorf("resolved to %s, want the stale cached address", got)
	}
}

func TestCacheStats(t *testing.T) {
	dir := &mockDirectory{
		GetUserFunc: func(ctx context.Context, id string) (*User, error) {
			return &User{ID: id, EthAddress: "0x1111111111111111111111111111111111111111"}, nil
		},
	}
	r := NewResolver(dir, 30*time.Minute, "", zap.NewNop())

	r.ResolveAddress(context.Background(), holder.FromUser("user-7"))
	r.ResolveAddress(context.Background(), holder.FromUser("user-9"))

	entries, oldest := r.CacheStats()
	if entries != 2 {
		t.Errorf("entries = %d, want 2", entries)
	}
	if oldest < 0 || oldest > time.Minute {
		t.Errorf("oldest = %s, want a small positive age", oldest)
	}
}
