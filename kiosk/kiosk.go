// Package kiosk submits open-home check-ins. Each open-home event has its own
// queue, named by the event id.
package kiosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mattbonnell/syncq"
)

// CheckIn is one visitor signing in at an open home.
type CheckIn struct {
	FirstName      string    `json:"firstName"`
	LastName       string    `json:"lastName,omitempty"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	WantsAppraisal bool      `json:"wantsAppraisal,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	CheckedInAt    time.Time `json:"checkedInAt"`
}

var ErrMissingName = errors.New("check-in needs a first name")

func (c CheckIn) Validate() error {
	if strings.TrimSpace(c.FirstName) == "" {
		return ErrMissingName
	}
	return nil
}

// URL returns the check-in endpoint for eventID under baseURL.
func URL(baseURL, eventID string) string {
	return strings.TrimRight(baseURL, "/") + "/open-homes/" + url.PathEscape(eventID) + "/check-ins"
}

// Endpoint returns the delivery endpoint for eventID's check-ins.
func Endpoint(client *http.Client, baseURL, eventID string) *syncq.HTTPEndpoint {
	return &syncq.HTTPEndpoint{Client: client, URL: URL(baseURL, eventID)}
}

type Adapter struct {
	eventID   string
	submitter *syncq.Submitter
}

// New registers eventID's queue with c and returns its adapter.
func New(c *syncq.Client, httpClient *http.Client, baseURL, eventID string) *Adapter {
	return &Adapter{
		eventID:   eventID,
		submitter: c.NewSubmitter(eventID, Endpoint(httpClient, baseURL, eventID)),
	}
}

func (a *Adapter) EventID() string {
	return a.eventID
}

// CheckIn accepts a visitor check-in, delivering it now or queueing it.
func (a *Adapter) CheckIn(ctx context.Context, c CheckIn) (syncq.Receipt, error) {
	if err := c.Validate(); err != nil {
		return syncq.Receipt{}, err
	}
	if c.CheckedInAt.IsZero() {
		c.CheckedInAt = time.Now().UTC()
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return syncq.Receipt{}, fmt.Errorf("error encoding check-in: %w", err)
	}
	return a.submitter.Submit(ctx, payload)
}

// Fallback resolves a Deliverer for any persisted domain not in exclude by
// treating it as an event id. It lets queues from events that are no longer
// open on this device still drain.
func Fallback(httpClient *http.Client, baseURL string, exclude ...string) func(domain string) (syncq.Deliverer, bool) {
	skip := make(map[string]struct{}, len(exclude))
	for _, d := range exclude {
		skip[d] = struct{}{}
	}
	return func(domain string) (syncq.Deliverer, bool) {
		if _, ok := skip[domain]; ok {
			return nil, false
		}
		return Endpoint(httpClient, baseURL, domain), true
	}
}
