package syncq

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is one durably queued submission. Domain is implied by the storage key
// and is never serialized.
type Job struct {
	ID        string          `json:"id"`
	Domain    string          `json:"-"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`

	// Delivery diagnostics, written back by Drain for jobs that were retained.
	Attempts      int        `json:"attempts,omitempty"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
}

// NewJob wraps payload in a fresh job for domain. The payload must already be
// valid JSON; the queue never looks inside it.
func NewJob(domain string, payload []byte, now time.Time) (Job, error) {
	if err := ValidateDomain(domain); err != nil {
		return Job{}, err
	}
	if !json.Valid(payload) {
		return Job{}, fmt.Errorf("payload for domain %q is not valid JSON", domain)
	}
	id, err := newJobID()
	if err != nil {
		return Job{}, err
	}
	p := make(json.RawMessage, len(payload))
	copy(p, payload)
	return Job{ID: id, Domain: domain, Payload: p, CreatedAt: now.UTC()}, nil
}

// newJobID returns a UUIDv7: a millisecond timestamp followed by random bits.
func newJobID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("error generating job id: %w", err)
	}
	return id.String(), nil
}
