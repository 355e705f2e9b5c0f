package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextgenfi/targeting-cli/internal/targeting"
)

var targetsFlags struct {
	maxDistance      float64
	minValue         float64
	maxValue         float64
	requireUninsured bool
	requireHomeowner bool
	excludeDNC       bool
	limit            int
	jsonOut          bool
}

var targetsCmd = &cobra.Command{
	Use:   "targets <event-id>",
	Short: "Select and rank outreach targets for an event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("targets"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sel, err := initSelector(st, nil)
		if err != nil {
			return err
		}

		res, err := sel.Select(ctx, args[0], criteriaFromFlags(cmd))
		if err != nil {
			return err
		}
		if targetsFlags.jsonOut {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		return printTargets(cmd.OutOrStdout(), res)
	},
}

// criteriaFromFlags overlays explicitly set flags on the configured defaults.
func criteriaFromFlags(cmd *cobra.Command) targeting.Criteria {
	c := targeting.CriteriaFromConfig(cfg.Targeting)
	f := cmd.Flags()
	if f.Changed("max-distance") {
		c.MaxDistanceKM = targetsFlags.maxDistance
	}
	if f.Changed("min-value") {
		c.MinAssetValue = targetsFlags.minValue
	}
	if f.Changed("max-value") {
		c.MaxAssetValue = targetsFlags.maxValue
	}
	if f.Changed("require-uninsured") {
		c.RequireUninsured = targetsFlags.requireUninsured
	}
	if f.Changed("require-homeowner") {
		c.RequireHomeowner = targetsFlags.requireHomeowner
	}
	if f.Changed("exclude-dnc") {
		c.ExcludeDoNotCall = targetsFlags.excludeDNC
	}
	if f.Changed("limit") {
		c.Limit = targetsFlags.limit
	}
	return c
}

func printTargets(w io.Writer, res *targeting.Result) error {
	s := res.Summary
	fmt.Fprintf(w, "event %s: %d targets (high %d, medium %d, low %d)\n\n", res.Event.ID, s.Total, s.High, s.Medium, s.Low)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCITY\tDISTANCE_KM\tASSET_VALUE\tRISK")
	for _, t := range res.Targets {
		c := t.Candidate
		fmt.Fprintf(tw, "%s\t%s %s\t%s\t%.1f\t%.0f\t%s\n", c.ID, c.FirstName, c.LastName, c.City, t.DistanceKM, c.AssetValue, t.Tier)
	}
	return tw.Flush()
}

// addCriteriaFlags registers the selection flags read by criteriaFromFlags.
func addCriteriaFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Float64Var(&targetsFlags.maxDistance, "max-distance", 0, "maximum distance in km (default from config)")
	f.Float64Var(&targetsFlags.minValue, "min-value", 0, "minimum asset value (default from config)")
	f.Float64Var(&targetsFlags.maxValue, "max-value", 0, "maximum asset value, 0 for unbounded")
	f.BoolVar(&targetsFlags.requireUninsured, "require-uninsured", true, "only candidates without insurance")
	f.BoolVar(&targetsFlags.requireHomeowner, "require-homeowner", false, "only homeowners")
	f.BoolVar(&targetsFlags.excludeDNC, "exclude-dnc", false, "skip do-not-call candidates")
	f.IntVar(&targetsFlags.limit, "limit", 0, "maximum targets (default from config)")
}

func init() {
	addCriteriaFlags(targetsCmd)
	targetsCmd.Flags().BoolVar(&targetsFlags.jsonOut, "json", false, "print the full result as JSON")
	rootCmd.AddCommand(targetsCmd)
}
