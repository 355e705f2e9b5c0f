package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/nextgenfi/targeting-cli/internal/campaign"
	"github.com/nextgenfi/targeting-cli/internal/risk"
	"github.com/nextgenfi/targeting-cli/pkg/anthropic"
)

var campaignFlags struct {
	tier    string
	context string
}

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Manage outreach campaigns",
}

var campaignDraftCmd = &cobra.Command{
	Use:   "draft <event-id>",
	Short: "Draft an outreach email for an event's targets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("campaign"); err != nil {
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

		llm := anthropic.NewClient(cfg.Anthropic.Key)
		d := campaign.NewDrafter(llm, st, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
		c, err := d.Draft(ctx, res, campaign.Request{
			Tier:    risk.Tier(campaignFlags.tier),
			Context: campaignFlags.context,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	},
}

func init() {
	f := campaignDraftCmd.Flags()
	f.StringVar(&campaignFlags.tier, "tier", "", "restrict the audience to high, medium or low risk")
	f.StringVar(&campaignFlags.context, "context", "", "extra guidance for the copy")
	addCriteriaFlags(campaignDraftCmd)

	campaignCmd.AddCommand(campaignDraftCmd)
	rootCmd.AddCommand(campaignCmd)
}
