package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/equiptrack/custody-middleware/pkg/config"
	"go.uber.org/zap"
)

// ErrNotFound is returned when the auth service has no user for the ID.
var ErrNotFound = errors.New("user not found")

// ErrUnavailable is returned when the auth service cannot be reached.
var ErrUnavailable = errors.New("identity service unavailable")

// User is the profile returned by the auth service.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	EthAddress string `json:"eth_address"`
}

// Client is an HTTP client for the auth service. It authenticates with a
// service account and re-logs in when its token expires.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	logger   *zap.Logger

	mu    sync.Mutex
	token string
}

// NewClient creates a new auth service client
func NewClient(cfg *config.IdentityConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL:  cfg.BaseURL,
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: cfg.RequestTimeout},
		logger:   logger,
	}
}

// GetUser fetches a user profile by ID. A 401 triggers one re-login before
// the request is retried.
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	user, status, err := c.getUser(ctx, id, token)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		c.logger.Info("Auth token rejected, logging in again")
		token, err = c.login(ctx)
		if err != nil {
			return nil, err
		}
		user, status, err = c.getUser(ctx, id, token)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case status == http.StatusNotFound:
		return nil, ErrNotFound
	case status != http.StatusOK:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, status)
	}
	return user, nil
}

func (c *Client) getUser(ctx context.Context, id, token string) (*User, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/"+id, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode user response: %w", err)
	}
	return &user, resp.StatusCode, nil
}

func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return "", fmt.Errorf("marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: login returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if loginResp.Token == "" {
		return "", fmt.Errorf("%w: login response contained no token", ErrUnavailable)
	}

	c.mu.Lock()
	c.token = loginResp.Token
	c.mu.Unlock()

	return loginResp.Token, nil
}
