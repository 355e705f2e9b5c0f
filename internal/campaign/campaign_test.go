package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nextgenfi/targeting-cli/internal/model"
	"github.com/nextgenfi/targeting-cli/internal/risk"
	"github.com/nextgenfi/targeting-cli/internal/targeting"
	"github.com/nextgenfi/targeting-cli/pkg/anthropic"
)

type mockLLM struct{ mock.Mock }

func (m *mockLLM) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

type memStore struct {
	saved []*model.Campaign
	err   error
}

func (s *memStore) CreateCampaign(_ context.Context, c *model.Campaign) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, c)
	return nil
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: text}}}
}

func f(v float64) *float64 { return &v }

func sampleResult() *targeting.Result {
	at := time.Date(2026, 2, 27, 8, 30, 0, 0, time.UTC)
	return &targeting.Result{
		Event: &model.Event{
			ID:         "us7000abcd",
			Kind:       model.EventKindEarthquake,
			Magnitude:  f(6.1),
			Place:      "10 km NE of Ridgecrest, CA",
			OccurredAt: &at,
		},
		Targets: []targeting.Target{
			{Candidate: model.Candidate{ID: "a", City: "Ridgecrest", State: "CA", AssetValue: 950000}, DistanceKM: 4.2, Tier: risk.TierHigh},
			{Candidate: model.Candidate{ID: "b", City: "Ridgecrest", State: "CA", AssetValue: 410000, HasInsurance: true}, DistanceKM: 8.9, Tier: risk.TierMedium},
			{Candidate: model.Candidate{ID: "c", City: "Inyokern", State: "CA", AssetValue: 300000}, DistanceKM: 31.0, Tier: risk.TierLow},
		},
	}
}

func newTestDrafter(llm anthropic.Client, store Store) *Drafter {
	d := NewDrafter(llm, store, "claude-haiku-4-5-20251001", 0)
	d.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	d.newID = func() string { return "camp-1" }
	return d
}

func TestDraft(t *testing.T) {
	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		prompt := req.Messages[0].Content
		return req.Model == "claude-haiku-4-5-20251001" &&
			req.MaxTokens == 1024 &&
			req.System == systemPrompt &&
			assert.Contains(t, prompt, "Magnitude: 6.1") &&
			assert.Contains(t, prompt, "Recipients: 3") &&
			assert.Contains(t, prompt, "Home values: $300,000 to $950,000") &&
			assert.Contains(t, prompt, "Without insurance: 2 of 3") &&
			assert.Contains(t, prompt, "Main cities: Ridgecrest, CA; Inyokern, CA") &&
			assert.Contains(t, prompt, "Date: 2026-02-27") &&
			assert.Contains(t, prompt, "Mention the free inspection.")
	})).Return(textResponse("```json\n{\"subject\":\"After the Ridgecrest quake\",\"body\":\"Hi {{first_name}}, ...\"}\n```"), nil)

	store := &memStore{}
	c, err := newTestDrafter(llm, store).Draft(context.Background(), sampleResult(), Request{Context: "Mention the free inspection."})
	require.NoError(t, err)

	assert.Equal(t, &model.Campaign{
		ID:          "camp-1",
		EventID:     "us7000abcd",
		Subject:     "After the Ridgecrest quake",
		Body:        "Hi {{first_name}}, ...",
		TargetCount: 3,
		Status:      model.CampaignStatusDraft,
		CreatedAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}, c)
	require.Len(t, store.saved, 1)
	llm.AssertExpectations(t)
}

func TestDraft_TierFilter(t *testing.T) {
	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return assert.Contains(t, req.Messages[0].Content, "Recipients: 1") &&
			assert.Contains(t, req.Messages[0].Content, "Risk level: high")
	})).Return(textResponse(`{"subject":"s","body":"b"}`), nil)

	c, err := newTestDrafter(llm, &memStore{}).Draft(context.Background(), sampleResult(), Request{Tier: risk.TierHigh})
	require.NoError(t, err)
	assert.Equal(t, "high", c.Tier)
	assert.Equal(t, 1, c.TargetCount)
}

func TestDraft_Errors(t *testing.T) {
	empty := sampleResult()
	empty.Targets = nil

	tests := []struct {
		name    string
		res     *targeting.Result
		req     Request
		reply   *anthropic.MessageResponse
		llmErr  error
		saveErr error
		wantIs  error
		wantMsg string
	}{
		{name: "no event", res: &targeting.Result{}, wantMsg: "selection has no event"},
		{name: "no targets", res: empty, wantIs: ErrNoTargets},
		{name: "bad tier", res: sampleResult(), req: Request{Tier: "extreme"}, wantIs: targeting.ErrInvalidArgument},
		{name: "llm failure", res: sampleResult(), llmErr: errors.New("overloaded"), wantMsg: "campaign: generate draft"},
		{name: "not json", res: sampleResult(), reply: textResponse("Sure! Here is an email."), wantMsg: "campaign: parse draft"},
		{name: "empty body", res: sampleResult(), reply: textResponse(`{"subject":"x","body":" "}`), wantMsg: "missing subject or body"},
		{name: "save failure", res: sampleResult(), reply: textResponse(`{"subject":"x","body":"y"}`), saveErr: errors.New("db"), wantMsg: "campaign: save draft"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &mockLLM{}
			if tt.reply != nil || tt.llmErr != nil {
				var reply any
				if tt.reply != nil {
					reply = tt.reply
				}
				llm.On("CreateMessage", mock.Anything, mock.Anything).Return(reply, tt.llmErr)
			}
			_, err := newTestDrafter(llm, &memStore{err: tt.saveErr}).Draft(context.Background(), tt.res, tt.req)
			require.Error(t, err)
			if tt.wantIs != nil {
				assert.True(t, errors.Is(err, tt.wantIs), err.Error())
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestDraft_TruncatesSubject(t *testing.T) {
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}
	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"subject":"`+string(long)+`","body":"b"}`), nil)

	c, err := newTestDrafter(llm, &memStore{}).Draft(context.Background(), sampleResult(), Request{})
	require.NoError(t, err)
	assert.Len(t, c.Subject, maxSubjectLen)
}

func TestBuildPrompt_WeatherEvent(t *testing.T) {
	ev := &model.Event{ID: "w1", Kind: model.EventKindWeather, EventType: "hurricane", Severity: "extreme"}
	p := buildPrompt(ev, []targeting.Target{{DistanceKM: 12, Candidate: model.Candidate{AssetValue: 1234567}}}, "", "")
	assert.Contains(t, p, "Type: hurricane")
	assert.Contains(t, p, "Severity: extreme")
	assert.Contains(t, p, "Location: Unknown location")
	assert.Contains(t, p, "Date: Recent")
	assert.Contains(t, p, "$1,234,567 to $1,234,567")
	assert.NotContains(t, p, "Magnitude")
	assert.NotContains(t, p, "CAMPAIGN CONTEXT")
}

func TestCleanJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, cleanJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanJSON("Here you go: {\"a\":1} thanks"))
	assert.Equal(t, `{"a":1}`, cleanJSON("```\n{\"a\":1}\n```"))
}

func TestThousands(t *testing.T) {
	assert.Equal(t, "0", thousands(0))
	assert.Equal(t, "999", thousands(999))
	assert.Equal(t, "1,000", thousands(1000))
	assert.Equal(t, "12,345,678", thousands(12345678))
	assert.Equal(t, "-4,500", thousands(-4500))
}
