package main

import (
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nextgenfi/targeting-cli/internal/ingest"
	"github.com/nextgenfi/targeting-cli/internal/metrics"
	"github.com/nextgenfi/targeting-cli/pkg/usgs"
)

var ingestFlags struct {
	hours        int
	minMagnitude float64
	bbox         []float64
	metricsFile  string
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load hazard events",
}

var ingestEarthquakesCmd = &cobra.Command{
	Use:   "earthquakes",
	Short: "Fetch recent earthquakes from the USGS feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		opts := ingest.EarthquakeOptions{
			Hours:        cfg.USGS.Hours,
			MinMagnitude: cfg.USGS.MinMagnitude,
		}
		if cmd.Flags().Changed("hours") {
			opts.Hours = ingestFlags.hours
		}
		if cmd.Flags().Changed("min-magnitude") {
			opts.MinMagnitude = ingestFlags.minMagnitude
		}
		if len(ingestFlags.bbox) > 0 {
			if len(ingestFlags.bbox) != 4 {
				return eris.New("--bbox needs min-lon,min-lat,max-lon,max-lat")
			}
			opts.Region = &[4]float64{ingestFlags.bbox[0], ingestFlags.bbox[1], ingestFlags.bbox[2], ingestFlags.bbox[3]}
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		client := usgs.NewClient(
			usgs.WithBaseURL(cfg.USGS.BaseURL),
			usgs.WithRateLimit(cfg.USGS.RateLimit),
			usgs.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.USGS.TimeoutSecs) * time.Second}),
		)
		rec := metrics.New()
		in := ingest.New(client, st,
			ingest.WithConcurrency(cfg.Ingest.Concurrency),
			ingest.WithBatchSize(cfg.Ingest.BatchSize),
			ingest.WithMetrics(rec),
		)

		report, err := in.Earthquakes(ctx, opts)
		if err != nil {
			return err
		}
		zap.L().Info("earthquake ingest complete",
			zap.Int("fetched", report.Fetched),
			zap.Int64("stored", report.Stored),
		)
		return rec.WriteTextfile(ingestFlags.metricsFile)
	},
}

var ingestWeatherCmd = &cobra.Command{
	Use:   "weather <file.yaml>",
	Short: "Load weather events from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("weather"); err != nil {
			return err
		}

		events, err := ingest.LoadWeatherFile(args[0])
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec := metrics.New()
		in := ingest.New(nil, st,
			ingest.WithConcurrency(cfg.Ingest.Concurrency),
			ingest.WithBatchSize(cfg.Ingest.BatchSize),
			ingest.WithMetrics(rec),
		)
		report, err := in.Events(ctx, events)
		if err != nil {
			return err
		}
		zap.L().Info("weather ingest complete",
			zap.String("file", args[0]),
			zap.Int64("stored", report.Stored),
		)
		return rec.WriteTextfile(ingestFlags.metricsFile)
	},
}

func init() {
	f := ingestEarthquakesCmd.Flags()
	f.IntVar(&ingestFlags.hours, "hours", 24, "look-back window in hours")
	f.Float64Var(&ingestFlags.minMagnitude, "min-magnitude", 2.5, "minimum magnitude")
	f.Float64SliceVar(&ingestFlags.bbox, "bbox", nil, "min-lon,min-lat,max-lon,max-lat")

	ingestCmd.PersistentFlags().StringVar(&ingestFlags.metricsFile, "metrics-file", "", "write Prometheus metrics to this file when done")
	ingestCmd.AddCommand(ingestEarthquakesCmd, ingestWeatherCmd)
	rootCmd.AddCommand(ingestCmd)
}
