// Command subscribe manages the provider push subscription that delivers webhook events.
//
//	subscribe create [-callback URL]
//	subscribe list
//	subscribe delete -id N
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"example.com/activitysync/internal/app"
	"example.com/activitysync/internal/config"
	"example.com/activitysync/internal/observability"
)

type subscriptions interface {
	CreateSubscription(ctx context.Context, callbackURL, verifyToken string) (int64, error)
	ListSubscriptions(ctx context.Context) ([]subscriptionView, error)
	DeleteSubscription(ctx context.Context, id int64) error
}

func main() {
	cfg := config.Load()
	logger := observability.NewLogger("activity-sync-subscribe", cfg.LogLevel)

	client, closeClient, err := app.NewProviderClient(cfg, logger)
	if err != nil {
		logger.Error("failed to build provider client", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	code := run(ctx, os.Args[1:], cfg, providerSubscriptions{client}, os.Stdout, logger)
	cancel()
	closeClient()
	os.Exit(code)
}

func run(ctx context.Context, args []string, cfg config.Config, subs subscriptions, out io.Writer, logger *slog.Logger) int {
	if len(args) == 0 {
		fmt.Fprintln(out, "usage: subscribe create|list|delete [flags]")
		return 2
	}

	switch args[0] {
	case "create":
		fs := flag.NewFlagSet("create", flag.ContinueOnError)
		fs.SetOutput(out)
		callback := fs.String("callback", cfg.Webhook.CallbackURL, "public URL of the /webhook endpoint")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if *callback == "" || cfg.Webhook.VerifyToken == "" {
			fmt.Fprintln(out, "create needs -callback (or WEBHOOK_CALLBACK_URL) and WEBHOOK_VERIFY_TOKEN")
			return 2
		}
		id, err := subs.CreateSubscription(ctx, *callback, cfg.Webhook.VerifyToken)
		if err != nil {
			logger.Error("create subscription failed", "callback_url", *callback, "error", err)
			return 1
		}
		fmt.Fprintf(out, "subscription %d created; set WEBHOOK_SUBSCRIPTION_ID=%d\n", id, id)
		return 0

	case "list":
		items, err := subs.ListSubscriptions(ctx)
		if err != nil {
			logger.Error("list subscriptions failed", "error", err)
			return 1
		}
		if len(items) == 0 {
			fmt.Fprintln(out, "no subscriptions")
		}
		for _, s := range items {
			fmt.Fprintf(out, "%d\t%s\t%s\n", s.ID, s.CallbackURL, s.CreatedAt.Format(time.RFC3339))
		}
		return 0

	case "delete":
		fs := flag.NewFlagSet("delete", flag.ContinueOnError)
		fs.SetOutput(out)
		id := fs.Int64("id", cfg.Webhook.SubscriptionID, "subscription id")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if *id <= 0 {
			fmt.Fprintln(out, "delete needs -id (or WEBHOOK_SUBSCRIPTION_ID)")
			return 2
		}
		if err := subs.DeleteSubscription(ctx, *id); err != nil {
			logger.Error("delete subscription failed", "id", *id, "error", err)
			return 1
		}
		fmt.Fprintf(out, "subscription %d deleted\n", *id)
		return 0
	}

	fmt.Fprintf(out, "unknown command %q\n", args[0])
	return 2
}
