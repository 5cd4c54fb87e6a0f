// Package strava is the client for the provider's OAuth and REST endpoints.
package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"example.com/activitysync/internal/domain"
)

const (
	defaultAuthURL        = "https://www.strava.com/oauth/authorize"
	defaultTokenURL       = "https://www.strava.com/oauth/token"
	defaultDeauthorizeURL = "https://www.strava.com/oauth/deauthorize"
	defaultAPIBaseURL     = "https://www.strava.com/api/v3"

	rateLimitKey = "strava:api"
	maxErrorBody = 512
)

// Config captures provider endpoints and application credentials.
type Config struct {
	ClientID       string
	ClientSecret   string
	RedirectURL    string
	AuthURL        string
	TokenURL       string
	DeauthorizeURL string
	APIBaseURL     string
	Timeout        time.Duration
}

// Limiter throttles outbound provider calls.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Option configures optional behaviour for the Client.
type Option func(*Client)

// WithLimiter routes every provider call through the limiter.
func WithLimiter(l Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithHTTPClient overrides the HTTP client used for API and token calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client talks to the provider.
type Client struct {
	oauth          *oauth2.Config
	deauthorizeURL string
	baseURL        string
	httpClient     *http.Client
	limiter        Limiter
	logger         *slog.Logger
}

// NewClient constructs a Client, filling unset endpoints with the public defaults.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.DeauthorizeURL == "" {
		cfg.DeauthorizeURL = defaultDeauthorizeURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	c := &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		deauthorizeURL: cfg.DeauthorizeURL,
		baseURL:        strings.TrimRight(cfg.APIBaseURL, "/"),
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AuthCodeURL builds the consent URL. scope is the provider's comma-separated scope list.
func (c *Client) AuthCodeURL(state, scope string) string {
	return c.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("scope", scope),
		oauth2.SetAuthURLParam("approval_prompt", "auto"),
	)
}

// ExchangeCode trades an authorization code for the initial token grant.
func (c *Client) ExchangeCode(ctx context.Context, code string) (domain.TokenGrant, error) {
	if err := c.wait(ctx); err != nil {
		return domain.TokenGrant{}, err
	}
	tok, err := c.oauth.Exchange(c.oauthContext(ctx), code)
	if err != nil {
		return domain.TokenGrant{}, mapTokenError(err)
	}
	return grantFromToken(tok), nil
}

// RefreshToken runs the refresh_token grant. An invalid or revoked refresh token
// maps to domain.ErrReauthenticationRequired.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (domain.TokenGrant, error) {
	if refreshToken == "" {
		return domain.TokenGrant{}, fmt.Errorf("%w: missing refresh token", domain.ErrReauthenticationRequired)
	}
	if err := c.wait(ctx); err != nil {
		return domain.TokenGrant{}, err
	}

	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return domain.TokenGrant{}, mapTokenError(err)
	}
	grant := grantFromToken(tok)
	if grant.RefreshToken == "" {
		grant.RefreshToken = refreshToken
	}
	return grant, nil
}

// Deauthorize revokes the application's access for the token's athlete.
func (c *Client) Deauthorize(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.deauthorizeURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return c.do(ctx, req, nil)
}

// GetActivity fetches the full detail of one activity.
func (c *Client) GetActivity(ctx context.Context, accessToken string, activityID int64) (domain.Activity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/activities/%d", c.baseURL, activityID), nil)
	if err != nil {
		return domain.Activity{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var raw json.RawMessage
	if err := c.do(ctx, req, &raw); err != nil {
		return domain.Activity{}, err
	}
	return decodeActivity(raw)
}

// ListActivities fetches one page of the authenticated athlete's activity summaries.
func (c *Client) ListActivities(ctx context.Context, accessToken string, page, perPage int) ([]domain.Activity, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/athlete/activities?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var raws []json.RawMessage
	if err := c.do(ctx, req, &raws); err != nil {
		return nil, err
	}

	out := make([]domain.Activity, 0, len(raws))
	for _, raw := range raws {
		activity, err := decodeActivity(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, activity)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, req *http.Request, out interface{}) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body), Path: req.URL.Path}
		c.logger.Debug("provider call failed", "status", resp.StatusCode, "path", req.URL.Path)
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrProviderUnavailable, req.URL.Path, err)
	}
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx, rateLimitKey); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", domain.ErrProviderUnavailable, err)
	}
	return nil
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func grantFromToken(tok *oauth2.Token) domain.TokenGrant {
	grant := domain.TokenGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry.UTC(),
	}
	if expiresAt, ok := numeric(tok.Extra("expires_at")); ok && expiresAt > 0 {
		grant.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		grant.Scope = scope
	}
	if athlete, ok := tok.Extra("athlete").(map[string]interface{}); ok {
		if id, ok := numeric(athlete["id"]); ok {
			grant.AthleteID = id
		}
	}
	return grant
}

func numeric(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case int64:
		return t, true
	case int:
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func mapTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		switch retrieveErr.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized:
			return fmt.Errorf("%w: token endpoint returned %d: %s", domain.ErrReauthenticationRequired, retrieveErr.Response.StatusCode, truncate(string(retrieveErr.Body)))
		}
		return fmt.Errorf("%w: token endpoint returned %d", domain.ErrProviderUnavailable, retrieveErr.Response.StatusCode)
	}
	return mapTransportError(err)
}

func mapTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", domain.ErrProviderUnavailable, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
