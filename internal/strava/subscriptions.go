package strava

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Subscription is a registered push subscription.
type Subscription struct {
	ID          int64     `json:"id"`
	CallbackURL string    `json:"callback_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateSubscription registers the callback URL. The provider calls the callback's
// handshake endpoint with verifyToken before answering.
func (c *Client) CreateSubscription(ctx context.Context, callbackURL, verifyToken string) (int64, error) {
	form := c.appCredentials()
	form.Set("callback_url", callbackURL)
	form.Set("verify_token", verifyToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/push_subscriptions", strings.NewReader(form.Encode()))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out struct {
		ID int64 `json:"id"`
	}
	if err := c.do(ctx, req, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// ListSubscriptions returns the application's push subscriptions.
func (c *Client) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/push_subscriptions?"+c.appCredentials().Encode(), nil)
	if err != nil {
		return nil, err
	}

	var out []Subscription
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteSubscription removes a push subscription.
func (c *Client) DeleteSubscription(ctx context.Context, id int64) error {
	endpoint := fmt.Sprintf("%s/push_subscriptions/%d?%s", c.baseURL, id, c.appCredentials().Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(ctx, req, nil)
}

func (c *Client) appCredentials() url.Values {
	values := url.Values{}
	values.Set("client_id", c.oauth.ClientID)
	values.Set("client_secret", c.oauth.ClientSecret)
	return values
}
