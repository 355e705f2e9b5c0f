package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nextgenfi/targeting-cli/internal/dialer"
	"github.com/nextgenfi/targeting-cli/internal/metrics"
	"github.com/nextgenfi/targeting-cli/pkg/telephony"
)

var callbotMetricsAddr string

var callbotCmd = &cobra.Command{
	Use:   "callbot",
	Short: "Call unverified signups after a delay",
	Long:  "Listens for signup notifications, waits the configured threshold after account creation, and places a verification call to users who are still unverified.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("callbot"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pool, err := listenPool(st)
		if err != nil {
			return err
		}

		dedup, closeDedup, err := initDeduper(ctx)
		if err != nil {
			return err
		}
		defer closeDedup()

		rec := metrics.New()
		calls := telephony.NewClient(cfg.Telephony.AccountSID, cfg.Telephony.AuthToken,
			telephony.WithBaseURL(cfg.Telephony.BaseURL),
			telephony.WithRateLimit(cfg.Telephony.RateLimit),
		)
		sched := dialer.New(st, calls, dedup, dialer.Settings{
			Threshold:         time.Duration(cfg.Callbot.ThresholdSecs) * time.Second,
			From:              cfg.Telephony.FromNumber,
			IVRURL:            cfg.Telephony.IVRURL,
			StatusCallbackURL: cfg.Telephony.StatusCallbackURL,
			DedupTTL:          time.Duration(cfg.Callbot.DedupTTLHours) * time.Hour,
			BackfillLimit:     cfg.Callbot.BackfillLimit,
		}, dialer.WithMetrics(rec))
		defer sched.Stop()

		if _, err := sched.Backfill(ctx); err != nil {
			zap.L().Warn("backfill failed", zap.Error(err))
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return dialer.NewListener(pool, cfg.Callbot.Channel, sched).Run(gctx)
		})
		if callbotMetricsAddr != "" {
			srv := &http.Server{Addr: callbotMetricsAddr, Handler: rec.Handler(), ReadHeaderTimeout: 5 * time.Second}
			g.Go(func() error {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return eris.Wrap(err, "metrics listen")
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		}

		zap.L().Info("callbot started",
			zap.Int("threshold_secs", cfg.Callbot.ThresholdSecs),
			zap.String("dedup", cfg.Callbot.Dedup),
			zap.Int("pending", sched.Pending()),
		)
		return g.Wait()
	},
}

func initDeduper(ctx context.Context) (dialer.Deduper, func(), error) {
	if cfg.Callbot.Dedup != "redis" {
		return dialer.NewMemoryDeduper(), func() {}, nil
	}
	client, err := dialer.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return dialer.NewRedisDeduper(client, cfg.Redis.Prefix), func() { _ = client.Close() }, nil
}

func init() {
	callbotCmd.Flags().StringVar(&callbotMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9102")
	rootCmd.AddCommand(callbotCmd)
}
