package syncq

import (
	"context"
	"fmt"
	"time"

	"github.com/mattbonnell/syncq/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Reachability reports whether the remote system is believed reachable.
type Reachability interface {
	Online() bool
}

// ReceiptStatus says how an accepted submission was handled.
type ReceiptStatus string

const (
	Delivered ReceiptStatus = "delivered"
	Queued    ReceiptStatus = "queued"
)

// Receipt acknowledges an accepted submission.
type Receipt struct {
	Status ReceiptStatus `json:"status"`
	JobID  string        `json:"jobId"`
	Domain string        `json:"domain"`
}

type SubmitterOptions struct {
	// DirectTimeout bounds the direct delivery attempt made while online.
	DirectTimeout time.Duration
	Now           func() time.Time
}

func defaultSubmitterOptions() SubmitterOptions {
	return SubmitterOptions{
		DirectTimeout: 10 * time.Second,
		Now:           time.Now,
	}
}

// Submitter binds a domain's queue to the endpoint its submissions go to. It
// delivers directly when online and queues otherwise, so the user's action is
// accepted either way.
type Submitter struct {
	domain   string
	queue    *Queue
	reach    Reachability
	endpoint Deliverer
	opts     SubmitterOptions
}

func NewSubmitter(domain string, queue *Queue, reach Reachability, endpoint Deliverer, opts *SubmitterOptions) *Submitter {
	s := Submitter{domain: domain, queue: queue, reach: reach, endpoint: endpoint, opts: defaultSubmitterOptions()}
	if opts != nil {
		if opts.DirectTimeout != 0 {
			s.opts.DirectTimeout = opts.DirectTimeout
		}
		if opts.Now != nil {
			s.opts.Now = opts.Now
		}
	}
	return &s
}

func (s *Submitter) Domain() string {
	return s.domain
}

// Submit accepts payload. It returns an error only when the payload could be
// neither delivered nor stored.
func (s *Submitter) Submit(ctx context.Context, payload []byte) (Receipt, error) {
	job, err := NewJob(s.domain, payload, s.opts.Now())
	if err != nil {
		return Receipt{}, err
	}
	if s.reach == nil || s.reach.Online() {
		err := s.direct(ctx, job)
		if err == nil {
			metrics.JobsDelivered.Add(1)
			log.Debug().Str("domain", s.domain).Str("job", job.ID).Msg("submission delivered directly")
			return Receipt{Status: Delivered, JobID: job.ID, Domain: s.domain}, nil
		}
		metrics.DeliveryFailures.Add(1)
		log.Debug().Err(err).Str("domain", s.domain).Msg("direct delivery failed, queueing")
	}
	if err := s.queue.Append(ctx, s.domain, job); err != nil {
		e := fmt.Errorf("submission not accepted: %w", err)
		log.Error().Err(e).Str("domain", s.domain).Msg("error")
		return Receipt{}, e
	}
	metrics.JobsEnqueued.Add(1)
	log.Debug().Str("domain", s.domain).Str("job", job.ID).Msg("submission queued")
	return Receipt{Status: Queued, JobID: job.ID, Domain: s.domain}, nil
}

func (s *Submitter) direct(ctx context.Context, job Job) error {
	if s.opts.DirectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.DirectTimeout)
		defer cancel()
	}
	return s.endpoint.Deliver(ctx, job)
}

// Deliver is the Deliverer handed to Drain for this domain; it makes the same
// endpoint call as a direct submission.
func (s *Submitter) Deliver(ctx context.Context, job Job) error {
	return s.endpoint.Deliver(ctx, job)
}
