// Package idempotency records client idempotency keys and processed event ids
// so a repeated request or message is recognised and answered consistently.
package idempotency

import "time"

// Record status values.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// Record is one claimed key in the idempotency table. Records expire through
// the table's TTL on expires_at.
type Record struct {
	Key            string    `dynamodbav:"idempotency_key"` // PK
	Status         string    `dynamodbav:"status"`
	Ref            string    `dynamodbav:"order_id,omitempty"`     // order the key produced
	RequestHash    string    `dynamodbav:"request_hash,omitempty"` // fingerprint of the first request
	ResponseBody   string    `dynamodbav:"response_body,omitempty"`
	ResponseStatus int       `dynamodbav:"response_status,omitempty"`
	Note           string    `dynamodbav:"note,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // epoch seconds
}

// Done reports whether the first attempt finished and stored its outcome.
func (r *Record) Done() bool { return r != nil && r.Status == StatusDone }
