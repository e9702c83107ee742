package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/equiptrack/custody-middleware/pkg/config"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.IdentityConfig{
		BaseURL:        srv.URL,
		Username:       "svc",
		Password:       "secret",
		RequestTimeout: 5 * time.Second,
	}
	return NewClient(cfg, zap.NewNop()), srv
}

func TestGetUserLogsInFirst(t *testing.T) {
	var logins int
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		logins++
		var creds map[string]string
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Fatalf("decode login body: %v", err)
		}
		if creds["username"] != "svc" || creds["password"] != "secret" {
			t.Errorf("unexpected credentials: %v", creds)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	})
	mux.HandleFunc("GET /users/user-7", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(User{
			ID:         "user-7",
			Name:       "Field Tech",
			EthAddress: "0x1111111111111111111111111111111111111111",
		})
	})

	client, _ := newTestClient(t, mux)

	user, err := client.GetUser(context.Background(), "user-7")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user.EthAddress != "0x1111111111111111111111111111111111111111" {
		t.Errorf("unexpected address: %s", user.EthAddress)
	}
	if logins != 1 {
		t.Errorf("logins = %d, want 1", logins)
	}

	// Second call reuses the token.
	if _, err := client.GetUser(context.Background(), "user-7"); err != nil {
		t.Fatalf("second GetUser failed: %v", err)
	}
	if logins != 1 {
		t.Errorf("logins after reuse = %d, want 1", logins)
	}
}

func TestGetUserRetriesAfterUnauthorized(t *testing.T) {
	var logins int
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		logins++
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-" + string(rune('0'+logins))})
	})
	mux.HandleFunc("GET /users/user-7", func(w http.ResponseWriter, r *http.Request) {
		// The first token is always treated as expired.
		if r.Header.Get("Authorization") == "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(User{ID: "user-7", EthAddress: "0xabc"})
	})

	client, _ := newTestClient(t, mux)

	user, err := client.GetUser(context.Background(), "user-7")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user.EthAddress != "0xabc" {
		t.Errorf("unexpected address: %s", user.EthAddress)
	}
	if logins != 2 {
		t.Errorf("logins = %d, want 2 (initial + refresh)", logins)
	}
}

func TestGetUserNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
	})
	mux.HandleFunc("GET /users/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	client, _ := newTestClient(t, mux)

	_, err := client.GetUser(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetUserUnavailable(t *testing.T) {
	client, srv := newTestClient(t, http.NotFoundHandler())
	srv.Close() // connection refused from here on

	_, err := client.GetUser(context.Background(), "user-7")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}
