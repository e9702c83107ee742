package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/equiptrack/custody-middleware/pkg/chain"
	"github.com/equiptrack/custody-middleware/pkg/config"
	"github.com/equiptrack/custody-middleware/pkg/identity"
	"github.com/equiptrack/custody-middleware/pkg/intake"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) PingContext(ctx context.Context) error {
	return f.err
}

func testHealthHandler(t *testing.T, db pinger) http.HandlerFunc {
	t.Helper()

	gateway, err := chain.NewGateway(&config.EthereumConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build disabled gateway: %v", err)
	}
	resolver := identity.NewResolver(nil, time.Minute, "", zap.NewNop())
	return healthHandler(db, gateway, resolver, &intake.Broker{})
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	testHealthHandler(t, &fakePinger{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" || resp.Database != "ok" {
		t.Fatalf("unexpected health report: %+v", resp)
	}
	if resp.Chain != "disabled" || resp.Broker != "disabled" {
		t.Fatalf("unconfigured collaborators must report disabled: %+v", resp)
	}
	if resp.ResolverEntries != 0 || resp.ResolverOldest != "0s" {
		t.Fatalf("empty resolver cache must report zero entries and zero age: %+v", resp)
	}
}

func TestHealthzDatabaseDown(t *testing.T) {
	rec := httptest.NewRecorder()
	db := &fakePinger{err: errors.New("connection refused")}
	testHealthHandler(t, db).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "unavailable" || resp.Database != "unreachable" {
		t.Fatalf("unreachable database must degrade the report: %+v", resp)
	}
}
