// Package serviceauth calls other backend services with a bearer token
// obtained from each service's /token endpoint.
package serviceauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

// Credentials identify this service to others
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// TokenRequest is the body of POST /token
type TokenRequest struct {
	ClientID     string `json:"client_id" binding:"required"`
	ClientSecret string `json:"client_secret" binding:"required"`
}

// TokenResponse is returned by POST /token. Expire is a unix timestamp.
type TokenResponse struct {
	Token  string `json:"token"`
	Expire int64  `json:"expire"`
}

// Response is a fully read downstream response
type Response struct {
	StatusCode int
	Body       []byte
}

// IsSuccess reports a 2xx status
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client sends authorized requests. On a 401 it drops the cached token,
// re-authenticates once and retries the request once.
type Client struct {
	httpClient *http.Client
	cache      TokenCache
	creds      Credentials
	logger     *logrus.Logger
}

// NewClient creates a new Client
func NewClient(httpClient *http.Client, cache TokenCache, creds Credentials, logger *logrus.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		cache:      cache,
		creds:      creds,
		logger:     logger,
	}
}

// Do sends body (JSON-encoded, nil for none) to rawURL
func (c *Client) Do(ctx context.Context, method, rawURL string, body interface{}) (*Response, error) {
	domain, err := domainOf(rawURL)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	token, err := c.token(ctx, domain)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, method, rawURL, payload, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	c.logger.WithFields(logrus.Fields{
		"domain": domain,
		"url":    rawURL,
	}).Info("Downstream rejected token, re-authenticating")

	if err := c.cache.Invalidate(ctx, domain); err != nil {
		c.logger.WithError(err).Warn("Failed to invalidate cached token")
	}
	token, err = c.authenticate(ctx, domain)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, method, rawURL, payload, token)
}

func (c *Client) token(ctx context.Context, domain string) (string, error) {
	token, err := c.cache.Get(ctx, domain)
	if err != nil {
		// a broken cache should not stop traffic
		c.logger.WithError(err).Warn("Token cache read failed")
	}
	if token != "" {
		return token, nil
	}
	return c.authenticate(ctx, domain)
}

func (c *Client) authenticate(ctx context.Context, domain string) (string, error) {
	payload, err := json.Marshal(TokenRequest{ClientID: c.creds.ClientID, ClientSecret: c.creds.ClientSecret})
	if err != nil {
		return "", fmt.Errorf("failed to marshal token request: %w", err)
	}

	resp, err := c.send(ctx, http.MethodPost, domain+"/token", payload, "")
	if err != nil {
		return "", fmt.Errorf("failed to request token from %s: %w", domain, err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("token request to %s returned status %d", domain, resp.StatusCode)
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(resp.Body, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.Token == "" {
		return "", fmt.Errorf("token response from %s has no token", domain)
	}

	var expiresAt time.Time
	if tokenResp.Expire > 0 {
		expiresAt = time.Unix(tokenResp.Expire, 0)
	}
	if err := c.cache.Set(ctx, domain, tokenResp.Token, expiresAt); err != nil {
		c.logger.WithError(err).Warn("Token cache write failed")
	}
	return tokenResp.Token, nil
}

func (c *Client) send(ctx context.Context, method, rawURL string, payload []byte, token string) (*Response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// domainOf returns scheme://host of rawURL, the key tokens are cached under
func domainOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid url %q: missing scheme or host", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}
