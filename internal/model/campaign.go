package model

import "time"

// CampaignStatus tracks a campaign draft through review.
type CampaignStatus string

const (
	CampaignStatusDraft    CampaignStatus = "draft"
	CampaignStatusApproved CampaignStatus = "approved"
	CampaignStatusSent     CampaignStatus = "sent"
)

// Campaign is an outreach email drafted for the targets of one event.
type Campaign struct {
	ID          string         `json:"id"`
	EventID     string         `json:"event_id"`
	Tier        string         `json:"tier,omitempty"`
	Subject     string         `json:"subject"`
	Body        string         `json:"body"`
	TargetCount int            `json:"target_count"`
	Status      CampaignStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Stats summarizes stored records.
type Stats struct {
	Earthquakes   int            `json:"earthquakes"`
	WeatherEvents int            `json:"weather_events"`
	Candidates    int            `json:"candidates"`
	Uninsured     int            `json:"uninsured"`
	Campaigns     int            `json:"campaigns"`
	CampaignTiers map[string]int `json:"campaign_tiers"`
}
