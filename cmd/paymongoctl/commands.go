package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-paymongo-checkout/internal/app"
	"github.com/ariefcatur/go-paymongo-checkout/internal/config"
	"github.com/ariefcatur/go-paymongo-checkout/internal/logger"
	"github.com/ariefcatur/go-paymongo-checkout/internal/orders"
	"github.com/ariefcatur/go-paymongo-checkout/internal/postgres"
	"github.com/ariefcatur/go-paymongo-checkout/internal/redisx"
	"github.com/ariefcatur/go-paymongo-checkout/internal/scheduler"
	"github.com/ariefcatur/go-paymongo-checkout/internal/webhook"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func connect(ctx context.Context) (config.Config, *pgxpool.Pool, error) {
	cfg := config.Load()
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return cfg, nil, fmt.Errorf("db connect: %w", err)
	}
	return cfg, db, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			if err := postgres.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show effective gateway settings and the last webhook delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg := config.Load()
			gw, err := app.Gateway(cfg)
			if err != nil {
				return err
			}

			fmt.Fprintln(out, "Gateway")
			fmt.Fprintln(out, strings.Repeat("=", 40))
			fmt.Fprintf(out, "  Enabled:        %t\n", gw.Enabled)
			fmt.Fprintf(out, "  Mode:           %s\n", gw.Mode)
			fmt.Fprintf(out, "  Secret key:     %s\n", valueOrDefault(logger.MaskSecret(gw.SecretKey(gw.Mode)), "not configured"))
			fmt.Fprintf(out, "  Webhook secret: %t\n", gw.HasWebhookSecret())
			fmt.Fprintf(out, "  Methods:        %s\n", strings.Join(gw.PaymentMethodTypes, ", "))
			fmt.Fprintf(out, "  Autocancel:     %s\n", valueOrDefault(durationOrEmpty(gw.AutoCancelDelay), "off"))
			fmt.Fprintf(out, "  Legacy cancel:  %t\n", gw.AllowLegacyUnsignedCancel)

			_, db, err := connect(cmd.Context())
			if err != nil {
				fmt.Fprintf(out, "\nLast webhook: unavailable (%s)\n", err)
				return nil
			}
			defer db.Close()
			rec, err := (&webhook.StatusRepo{DB: db}).Load(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "\nLast webhook")
			fmt.Fprintln(out, strings.Repeat("=", 40))
			if rec.LastAt.IsZero() {
				fmt.Fprintln(out, "  none received")
				return nil
			}
			fmt.Fprintf(out, "  At:     %s\n", rec.LastAt.Format(time.RFC3339))
			fmt.Fprintf(out, "  Type:   %s\n", rec.LastType)
			fmt.Fprintf(out, "  Event:  %s\n", rec.LastEvent)
			fmt.Fprintf(out, "  Result: %s\n", rec.LastResult)
			if rec.LastError != "" {
				fmt.Fprintf(out, "  Error:  %s\n", rec.LastError)
			}
			return nil
		},
	}
}

func orderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order [id]",
		Short: "Show an order's payment state, autocancel deadline and notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			cfg, db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			repo := &orders.Repo{DB: db}
			o, err := repo.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			notes, err := repo.Notes(cmd.Context(), id)
			if err != nil {
				return err
			}

			rdb := redisx.New(cfg.RedisAddr)
			defer rdb.Close()
			deadline, armed, err := scheduler.New(rdb, zap.NewNop()).Deadline(cmd.Context(), id)
			if err != nil {
				return err
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				view := map[string]any{"order": o, "notes": notes}
				if armed {
					view["autocancel_at"] = deadline
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Order #%d (%s)\n", o.ID, o.Status)
			fmt.Fprintf(out, "  Total:       %s %s\n", o.Total.StringFixed(2), o.Currency)
			fmt.Fprintf(out, "  Session:     %s\n", valueOrDefault(o.CheckoutSessionID, "-"))
			fmt.Fprintf(out, "  Payment:     %s\n", valueOrDefault(o.PaymentID, "-"))
			fmt.Fprintf(out, "  Paid:        %t\n", o.IsPaid())
			if armed {
				fmt.Fprintf(out, "  Autocancel:  %s\n", deadline.Format(time.RFC3339))
			}
			fmt.Fprintf(out, "  Events seen: %d\n", len(o.ProcessedEvents))
			for _, n := range notes {
				fmt.Fprintf(out, "  - [%s] %s\n", n.CreatedAt.Format(time.RFC3339), n.Body)
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Print as JSON")
	return cmd
}

func cancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel [id]",
		Short: "Cancel an unpaid order and expire its PayMongo checkout session",
		Long: `Publishes a cancel command for the worker. With --direct the
cancellation runs in this process instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			direct, _ := cmd.Flags().GetBool("direct")
			by, _ := cmd.Flags().GetString("by")

			cfg := config.Load()
			cfg.ServiceName += "-ctl"
			ctx := cmd.Context()

			// producer pakai context terpisah supaya sempat flush
			prod := app.StartProducers(context.Background(), cfg, zap.NewNop())
			defer prod.Close()
			emitter := prod.Emitter(cfg.ServiceName)

			if !direct {
				emitter.RequestCancel(ctx, orders.CancelRequestedPayload{OrderID: id, RequestedBy: by})
				fmt.Fprintf(cmd.OutOrStdout(), "cancel requested for order #%d\n", id)
				return nil
			}

			gw, err := app.Gateway(cfg)
			if err != nil {
				return err
			}
			_, db, err := connect(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			co := app.Checkout(cfg, gw, &orders.Repo{DB: db}, nil, emitter, zap.NewNop())
			if err := co.CommandCancel(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "order #%d processed\n", id)
			return nil
		},
	}
	cmd.Flags().Bool("direct", false, "Cancel in-process instead of publishing a command")
	cmd.Flags().String("by", "paymongoctl", "Operator recorded on the command")
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid order id %q", s)
	}
	return id, nil
}

func valueOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func durationOrEmpty(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.String()
}
