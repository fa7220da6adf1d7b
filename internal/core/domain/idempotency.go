package domain

import "time"

// IdempotencyRecord is the replayable response of a completed keyed request.
// Only success responses are recorded; a failed request leaves no record so a
// legitimate retry re-executes.
type IdempotencyRecord struct {
	StatusCode  int                 `json:"status_code"`
	Body        []byte              `json:"body"`
	Header      map[string][]string `json:"header,omitempty"`
	CompletedAt time.Time           `json:"completed_at"`
	ExpiresAt   time.Time           `json:"expires_at"`
}

func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}
