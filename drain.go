package syncq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mattbonnell/syncq/internal/metrics"
	"github.com/rs/zerolog/log"
)

const defaultDeliveryTimeout = 30 * time.Second

// DrainPolicy decides what a drain does after a failed delivery.
type DrainPolicy int

const (
	// ContinueOnFailure attempts every job even after one fails. Suited to
	// domains whose jobs are independent of each other, like kiosk visitors.
	ContinueOnFailure DrainPolicy = iota
	// StopOnFailure halts at the first failed delivery so later jobs are
	// never delivered ahead of an earlier one.
	StopOnFailure
)

func (p DrainPolicy) String() string {
	switch p {
	case ContinueOnFailure:
		return "continue"
	case StopOnFailure:
		return "stop"
	default:
		return fmt.Sprintf("DrainPolicy(%d)", int(p))
	}
}

type DrainerOptions struct {
	DefaultPolicy DrainPolicy
	// Policies overrides DefaultPolicy per domain.
	Policies map[string]DrainPolicy
	// DeliveryTimeout bounds each delivery attempt. Zero means 30s; negative
	// disables the bound.
	DeliveryTimeout time.Duration
	Now             func() time.Time
}

func defaultDrainerOptions() DrainerOptions {
	return DrainerOptions{
		DefaultPolicy:   ContinueOnFailure,
		Policies:        map[string]DrainPolicy{},
		DeliveryTimeout: defaultDeliveryTimeout,
		Now:             time.Now,
	}
}

// Drainer replays queued jobs through a Deliverer. At most one drain runs per
// domain at a time.
type Drainer struct {
	queue *Queue
	opts  DrainerOptions

	mu       sync.Mutex
	inFlight map[string]bool
}

func NewDrainer(queue *Queue, opts *DrainerOptions) *Drainer {
	d := Drainer{queue: queue, opts: defaultDrainerOptions(), inFlight: make(map[string]bool)}
	if opts != nil {
		d.opts.DefaultPolicy = opts.DefaultPolicy
		for domain, p := range opts.Policies {
			d.opts.Policies[domain] = p
		}
		if opts.DeliveryTimeout != 0 {
			d.opts.DeliveryTimeout = opts.DeliveryTimeout
		}
		if opts.Now != nil {
			d.opts.Now = opts.Now
		}
	}
	return &d
}

// Policy returns the drain policy in force for domain.
func (d *Drainer) Policy(domain string) DrainPolicy {
	if p, ok := d.opts.Policies[domain]; ok {
		return p
	}
	return d.opts.DefaultPolicy
}

// Draining reports whether a drain of domain is in flight.
func (d *Drainer) Draining(domain string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight[domain]
}

func (d *Drainer) acquire(domain string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inFlight[domain] {
		return false
	}
	d.inFlight[domain] = true
	return true
}

func (d *Drainer) release(domain string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, domain)
}

// Drain attempts delivery of every job queued for domain in insertion order,
// then writes back the jobs that were not delivered in one atomic update.
// Jobs enqueued while the drain runs are kept. It returns the number of jobs
// delivered; if the write-back fails those jobs stay queued and will be
// delivered again.
//
// A drain is not cancelled with ctx: once started it runs to completion, each
// delivery bounded by DeliveryTimeout.
func (d *Drainer) Drain(ctx context.Context, domain string, deliverer Deliverer) (int, error) {
	if !d.acquire(domain) {
		metrics.DrainsSkipped.Add(1)
		log.Debug().Str("domain", domain).Msg("drain already in flight, skipping")
		return 0, ErrDrainInFlight
	}
	defer d.release(domain)
	ctx = context.WithoutCancel(ctx)
	metrics.Drains.Add(1)

	jobs, err := d.queue.Load(ctx, domain)
	if err != nil {
		e := fmt.Errorf("error draining %q: %w", domain, err)
		log.Debug().Err(e).Msg("error")
		return 0, e
	}
	if len(jobs) == 0 {
		log.Debug().Str("domain", domain).Msg("nothing to drain")
		return 0, nil
	}

	policy := d.Policy(domain)
	log.Debug().Str("domain", domain).Int("jobs", len(jobs)).Str("policy", policy.String()).Msg("draining queue")
	delivered := make(map[string]struct{}, len(jobs))
	failed := make(map[string]Job)
	for _, job := range jobs {
		if err := d.attempt(ctx, deliverer, job); err != nil {
			metrics.DeliveryFailures.Add(1)
			now := d.opts.Now().UTC()
			job.Attempts++
			job.LastAttemptAt = &now
			job.LastError = err.Error()
			failed[job.ID] = job
			log.Debug().Err(err).Str("domain", domain).Str("job", job.ID).Int("attempts", job.Attempts).Msg("delivery failed, job retained")
			if policy == StopOnFailure {
				break
			}
			continue
		}
		metrics.JobsDelivered.Add(1)
		delivered[job.ID] = struct{}{}
		log.Debug().Str("domain", domain).Str("job", job.ID).Msg("job delivered")
	}

	err = d.queue.Update(ctx, domain, func(current []Job) ([]Job, error) {
		kept := current[:0]
		for _, j := range current {
			if _, ok := delivered[j.ID]; ok {
				continue
			}
			if f, ok := failed[j.ID]; ok {
				j.Attempts = f.Attempts
				j.LastAttemptAt = f.LastAttemptAt
				j.LastError = f.LastError
			}
			kept = append(kept, j)
		}
		return kept, nil
	})
	if err != nil {
		e := fmt.Errorf("error writing back %q after delivering %d jobs: %w", domain, len(delivered), err)
		log.Debug().Err(e).Msg("error")
		return len(delivered), e
	}
	log.Debug().Str("domain", domain).Int("delivered", len(delivered)).Int("failed", len(failed)).Msg("drain finished")
	return len(delivered), nil
}

func (d *Drainer) attempt(ctx context.Context, deliverer Deliverer, job Job) (err error) {
	if d.opts.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.DeliveryTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deliverer panicked: %v", r)
		}
	}()
	return deliverer.Deliver(ctx, job)
}
