package main

import (
	"context"
	"time"

	"example.com/activitysync/internal/strava"
)

type subscriptionView struct {
	ID          int64
	CallbackURL string
	CreatedAt   time.Time
}

// providerSubscriptions adapts the provider client to the command's needs.
type providerSubscriptions struct {
	client *strava.Client
}

func (p providerSubscriptions) CreateSubscription(ctx context.Context, callbackURL, verifyToken string) (int64, error) {
	return p.client.CreateSubscription(ctx, callbackURL, verifyToken)
}

func (p providerSubscriptions) ListSubscriptions(ctx context.Context) ([]subscriptionView, error) {
	subs, err := p.client.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]subscriptionView, 0, len(subs))
	for _, s := range subs {
		out = append(out, subscriptionView{ID: s.ID, CallbackURL: s.CallbackURL, CreatedAt: s.CreatedAt})
	}
	return out, nil
}

func (p providerSubscriptions) DeleteSubscription(ctx context.Context, id int64) error {
	return p.client.DeleteSubscription(ctx, id)
}
