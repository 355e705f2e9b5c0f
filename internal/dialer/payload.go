// Package dialer schedules a delayed verification call for each new signup
// and places it through the telephony provider if the user is still
// unverified when the timer fires.
package dialer

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// maxClockSkew bounds how far in the future a reported creation time may be
// before the receive time is used instead.
const maxClockSkew = 60 * time.Second

// epochMillisCutoff separates epoch seconds from epoch milliseconds.
const epochMillisCutoff = 1e12

// Signup is a decoded signup notification.
type Signup struct {
	UserID      string
	PhoneNumber string
	CreatedAt   time.Time
}

type signupPayload struct {
	ID          json.RawMessage `json:"id"`
	PhoneNumber *string         `json:"phoneNumber"`
	CreatedAt   json.RawMessage `json:"createdAt"`
}

// ParseSignup decodes a notification payload. createdAt may be epoch
// seconds, epoch milliseconds, or an RFC 3339 string. A missing, unparsable
// or implausibly future timestamp falls back to receivedAt.
func ParseSignup(payload []byte, receivedAt time.Time) (Signup, error) {
	var p signupPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Signup{}, eris.Wrap(err, "dialer: decode signup payload")
	}
	id := rawString(p.ID)
	if id == "" {
		return Signup{}, eris.New("dialer: signup payload has no id")
	}

	s := Signup{UserID: id, CreatedAt: receivedAt}
	if p.PhoneNumber != nil {
		s.PhoneNumber = strings.TrimSpace(*p.PhoneNumber)
	}
	if t, ok := parseCreatedAt(p.CreatedAt); ok && !t.After(receivedAt.Add(maxClockSkew)) {
		s.CreatedAt = t
	}
	return s, nil
}

// rawString accepts ids encoded as JSON strings or numbers.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func parseCreatedAt(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return fromEpoch(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(f)
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999Z07:00", "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func fromEpoch(f float64) (time.Time, bool) {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	if f >= epochMillisCutoff {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

// Delay returns how long to wait so the call fires threshold after
// createdAt. It is never negative.
func Delay(createdAt, now time.Time, threshold time.Duration) time.Duration {
	return max(0, threshold-now.Sub(createdAt))
}
