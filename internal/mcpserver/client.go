package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"deepsentinel/internal/circuitbreaker"
)

// Config holds the configuration for connecting to the DeepSentinel platform.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	APIKey      string // API key, e.g. "sk_..."
	UserID      string // User the key belongs to, e.g. "analyst-7"
	AdminSecret string // Optional admin secret for the all-layers overview
}

// breakerKey is the single circuit key for the platform API. The MCP server
// talks to one upstream, so per-endpoint circuits buy nothing.
const breakerKey = "platform"

// DeepSentinelClient is a pure HTTP client for the DeepSentinel platform API.
type DeepSentinelClient struct {
	cfg        Config
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// NewDeepSentinelClient creates a new client for the DeepSentinel platform.
func NewDeepSentinelClient(cfg Config) *DeepSentinelClient {
	return &DeepSentinelClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

// apiError represents an error response from the platform.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the platform and returns the response body.
// Repeated transport or 5xx failures trip the circuit breaker; while open,
// requests fail fast without touching the network.
func (c *DeepSentinelClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	if !c.breaker.Allow(breakerKey) {
		return nil, fmt.Errorf("platform API unavailable (circuit open), try again shortly")
	}

	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.AdminSecret != "" {
		req.Header.Set("X-Admin-Secret", c.cfg.AdminSecret)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure(breakerKey)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// 4xx means the platform is healthy and rejected this particular call;
	// only transport errors and 5xx count against the circuit.
	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure(breakerKey)
	} else {
		c.breaker.RecordSuccess(breakerKey)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// ListTiers returns the full tier catalog.
func (c *DeepSentinelClient) ListTiers(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/tiers", nil, nil)
}

// GetTier returns the definition of a single tier.
func (c *DeepSentinelClient) GetTier(ctx context.Context, tierID string) (json.RawMessage, error) {
	path := "/v1/tiers/" + url.PathEscape(tierID)
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// GetEntitlement returns the configured user's current entitlement.
func (c *DeepSentinelClient) GetEntitlement(ctx context.Context) (json.RawMessage, error) {
	path := "/v1/users/" + url.PathEscape(c.cfg.UserID) + "/entitlement"
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// CheckFeature reports whether the configured user's tier grants a feature.
func (c *DeepSentinelClient) CheckFeature(ctx context.Context, feature string) (json.RawMessage, error) {
	path := "/v1/users/" + url.PathEscape(c.cfg.UserID) + "/features/" + url.PathEscape(feature)
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// CheckDailyLimit returns the configured user's remaining analysis quota for today.
func (c *DeepSentinelClient) CheckDailyLimit(ctx context.Context) (json.RawMessage, error) {
	path := "/v1/users/" + url.PathEscape(c.cfg.UserID) + "/limit"
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// ValidateAPIAccess checks the configured user's API budget for a window
// ("hourly" or "daily").
func (c *DeepSentinelClient) ValidateAPIAccess(ctx context.Context, window string) (json.RawMessage, error) {
	q := url.Values{}
	if window != "" {
		q.Set("window", window)
	}
	path := "/v1/users/" + url.PathEscape(c.cfg.UserID) + "/api-access"
	return c.doRequest(ctx, http.MethodGet, path, q, nil)
}

// ListUpgrades lists the tiers strictly above the configured user's current tier.
func (c *DeepSentinelClient) ListUpgrades(ctx context.Context) (json.RawMessage, error) {
	path := "/v1/users/" + url.PathEscape(c.cfg.UserID) + "/upgrades"
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// RecommendUpgrade asks for the cheapest tier covering the desired features.
func (c *DeepSentinelClient) RecommendUpgrade(ctx context.Context, features []string) (json.RawMessage, error) {
	body := map[string]any{
		"features": features,
	}
	path := "/v1/users/" + url.PathEscape(c.cfg.UserID) + "/upgrades/recommend"
	return c.doRequest(ctx, http.MethodPost, path, nil, body)
}

// GetOverview returns the admin all-layers overview. Requires AdminSecret
// when the platform runs with one configured.
func (c *DeepSentinelClient) GetOverview(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/admin/dashboard/overview", nil, nil)
}
