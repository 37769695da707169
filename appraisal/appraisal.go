// Package appraisal submits appraisal drafts written in the field.
package appraisal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mattbonnell/syncq"
)

// Domain is the queue all appraisal drafts share.
const Domain = "appraisal-drafts"

type Draft struct {
	PropertyAddress string    `json:"propertyAddress"`
	OwnerName       string    `json:"ownerName,omitempty"`
	AgentID         string    `json:"agentId,omitempty"`
	Bedrooms        int       `json:"bedrooms,omitempty"`
	Bathrooms       int       `json:"bathrooms,omitempty"`
	LandAreaM2      float64   `json:"landAreaM2,omitempty"`
	EstimateLow     int64     `json:"estimateLow,omitempty"`
	EstimateHigh    int64     `json:"estimateHigh,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	DraftedAt       time.Time `json:"draftedAt"`
}

var (
	ErrMissingAddress = errors.New("draft needs a property address")
	ErrEstimateRange  = errors.New("low estimate is above high estimate")
)

func (d Draft) Validate() error {
	if strings.TrimSpace(d.PropertyAddress) == "" {
		return ErrMissingAddress
	}
	if d.EstimateHigh > 0 && d.EstimateLow > d.EstimateHigh {
		return ErrEstimateRange
	}
	return nil
}

func URL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/appraisals/drafts"
}

type Adapter struct {
	submitter *syncq.Submitter
}

// New registers the drafts queue with c and returns its adapter.
func New(c *syncq.Client, httpClient *http.Client, baseURL string) *Adapter {
	endpoint := &syncq.HTTPEndpoint{Client: httpClient, URL: URL(baseURL)}
	return &Adapter{submitter: c.NewSubmitter(Domain, endpoint)}
}

// SaveDraft accepts a draft, delivering it now or queueing it.
func (a *Adapter) SaveDraft(ctx context.Context, d Draft) (syncq.Receipt, error) {
	if err := d.Validate(); err != nil {
		return syncq.Receipt{}, err
	}
	if d.DraftedAt.IsZero() {
		d.DraftedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return syncq.Receipt{}, fmt.Errorf("error encoding draft: %w", err)
	}
	return a.submitter.Submit(ctx, payload)
}
