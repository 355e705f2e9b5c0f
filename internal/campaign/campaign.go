// Package campaign drafts outreach email for the targets of a selection and
// stores the draft for review.
package campaign

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nextgenfi/targeting-cli/internal/model"
	"github.com/nextgenfi/targeting-cli/internal/risk"
	"github.com/nextgenfi/targeting-cli/internal/targeting"
	"github.com/nextgenfi/targeting-cli/pkg/anthropic"
)

// ErrNoTargets is returned when the selection leaves nobody to write to.
var ErrNoTargets = eris.New("campaign: no targets to draft for")

// maxSubjectLen caps stored subject lines in runes.
const maxSubjectLen = 120

// Store persists drafts.
type Store interface {
	CreateCampaign(ctx context.Context, c *model.Campaign) error
}

// Request narrows a draft.
type Request struct {
	// Tier restricts the audience to one risk tier; empty uses every target.
	Tier risk.Tier `json:"tier,omitempty"`
	// Context is free-form guidance appended to the prompt.
	Context string `json:"context,omitempty"`
}

// Drafter asks the LLM for campaign copy.
type Drafter struct {
	llm       anthropic.Client
	store     Store
	model     string
	maxTokens int64

	now   func() time.Time
	newID func() string
}

// NewDrafter creates a Drafter using the given model.
func NewDrafter(llm anthropic.Client, store Store, model string, maxTokens int64) *Drafter {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Drafter{
		llm:       llm,
		store:     store,
		model:     model,
		maxTokens: maxTokens,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

type draft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Draft writes and stores one campaign for the targets in res.
func (d *Drafter) Draft(ctx context.Context, res *targeting.Result, req Request) (*model.Campaign, error) {
	if res == nil || res.Event == nil {
		return nil, eris.New("campaign: selection has no event")
	}
	if req.Tier != "" && !req.Tier.Valid() {
		return nil, eris.Wrapf(targeting.ErrInvalidArgument, "campaign: unknown tier %q", req.Tier)
	}

	targets := res.Targets
	if req.Tier != "" {
		targets = make([]targeting.Target, 0, len(res.Targets))
		for _, t := range res.Targets {
			if t.Tier == req.Tier {
				targets = append(targets, t)
			}
		}
	}
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	temp := 0.7
	resp, err := d.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     d.model,
		MaxTokens: d.maxTokens,
		System:    systemPrompt,
		Messages: []anthropic.Message{
			{Role: "user", Content: buildPrompt(res.Event, targets, string(req.Tier), req.Context)},
		},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrap(err, "campaign: generate draft")
	}
	resp.Usage.LogCost(d.model, "campaign_draft")

	var out draft
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), &out); err != nil {
		return nil, eris.Wrap(err, "campaign: parse draft")
	}
	out.Subject = strings.TrimSpace(out.Subject)
	out.Body = strings.TrimSpace(out.Body)
	if out.Subject == "" || out.Body == "" {
		return nil, eris.New("campaign: draft is missing subject or body")
	}
	if r := []rune(out.Subject); len(r) > maxSubjectLen {
		out.Subject = string(r[:maxSubjectLen])
	}

	c := &model.Campaign{
		ID:          d.newID(),
		EventID:     res.Event.ID,
		Tier:        string(req.Tier),
		Subject:     out.Subject,
		Body:        out.Body,
		TargetCount: len(targets),
		Status:      model.CampaignStatusDraft,
		CreatedAt:   d.now().UTC(),
	}
	if err := d.store.CreateCampaign(ctx, c); err != nil {
		return nil, eris.Wrap(err, "campaign: save draft")
	}

	zap.L().Info("campaign drafted",
		zap.String("campaign_id", c.ID),
		zap.String("event_id", c.EventID),
		zap.String("tier", c.Tier),
		zap.Int("targets", c.TargetCount),
	)
	return c, nil
}
