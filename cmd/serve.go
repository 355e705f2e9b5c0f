package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nextgenfi/targeting-cli/internal/api"
	"github.com/nextgenfi/targeting-cli/internal/campaign"
	"github.com/nextgenfi/targeting-cli/internal/metrics"
	"github.com/nextgenfi/targeting-cli/internal/targeting"
	"github.com/nextgenfi/targeting-cli/pkg/anthropic"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the targeting HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec := metrics.New()
		sel, err := initSelector(st, rec)
		if err != nil {
			return err
		}

		opts := []api.Option{
			api.WithDefaults(targeting.CriteriaFromConfig(cfg.Targeting)),
			api.WithMetrics(rec),
			api.WithCORS(cfg.Server.AllowedOrigins),
			api.WithTimeout(time.Duration(cfg.Server.TimeoutSecs) * time.Second),
		}
		if cfg.Anthropic.Key != "" {
			llm := anthropic.NewClient(cfg.Anthropic.Key)
			opts = append(opts, api.WithDrafter(campaign.NewDrafter(llm, st, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)))
		} else {
			zap.L().Warn("anthropic.key not set, campaign drafting disabled")
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           api.NewServer(st, sel, opts...).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
