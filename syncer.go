package syncq

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// DrainReport is the result of draining one domain.
type DrainReport struct {
	Domain    string `json:"domain"`
	Delivered int    `json:"delivered"`
	Skipped   bool   `json:"skipped,omitempty"`
	Err       error  `json:"-"`
}

// Syncer runs drains for every known domain when the host application starts
// and whenever connectivity is regained.
type Syncer struct {
	queue   *Queue
	drainer *Drainer

	// runMu orders starting a reconnect drain against Wait.
	runMu  sync.Mutex
	closed bool
	wg     sync.WaitGroup

	mu         sync.RWMutex
	deliverers map[string]Deliverer
	fallback   func(domain string) (Deliverer, bool)
}

func NewSyncer(queue *Queue, drainer *Drainer) *Syncer {
	return &Syncer{queue: queue, drainer: drainer, deliverers: make(map[string]Deliverer)}
}

// Register binds domain to the Deliverer its queued jobs are replayed through.
func (s *Syncer) Register(domain string, d Deliverer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliverers[domain] = d
}

// SetFallback resolves a Deliverer for persisted domains nobody registered,
// such as kiosk queues left over from an earlier run.
func (s *Syncer) SetFallback(fn func(domain string) (Deliverer, bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = fn
}

func (s *Syncer) deliverer(domain string) (Deliverer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.deliverers[domain]; ok {
		return d, true
	}
	if s.fallback != nil {
		return s.fallback(domain)
	}
	return nil, false
}

// Domains returns registered domains and domains with a persisted queue.
func (s *Syncer) Domains(ctx context.Context) ([]string, error) {
	persisted, err := s.queue.Domains(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(persisted))
	for _, d := range persisted {
		seen[d] = struct{}{}
	}
	s.mu.RLock()
	for d := range s.deliverers {
		seen[d] = struct{}{}
	}
	s.mu.RUnlock()
	domains := make([]string, 0, len(seen))
	for d := range seen {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains, nil
}

// Drain drains a single domain through its registered Deliverer.
func (s *Syncer) Drain(ctx context.Context, domain string) (int, error) {
	d, ok := s.deliverer(domain)
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrNoDeliverer, domain)
	}
	return s.drainer.Drain(ctx, domain, d)
}

// DrainAll drains every known domain concurrently and reports per domain.
// A failing domain never holds up another.
func (s *Syncer) DrainAll(ctx context.Context) []DrainReport {
	domains, err := s.Domains(ctx)
	if err != nil {
		log.Error().Err(err).Msg("error listing domains to drain")
		return nil
	}
	reports := make([]DrainReport, len(domains))
	var wg sync.WaitGroup
	wg.Add(len(domains))
	for i, domain := range domains {
		go func(i int, domain string) {
			defer wg.Done()
			n, err := s.Drain(ctx, domain)
			r := DrainReport{Domain: domain, Delivered: n, Err: err}
			switch {
			case errors.Is(err, ErrDrainInFlight):
				r.Skipped = true
				r.Err = nil
			case err != nil:
				log.Warn().Err(err).Str("domain", domain).Msg("drain failed")
			}
			reports[i] = r
		}(i, domain)
	}
	wg.Wait()
	return reports
}

// Start subscribes DrainAll to monitor's reconnect signal and then performs
// the startup drain, returning its reports. Drains triggered by reconnects
// stop being started once ctx is done.
func (s *Syncer) Start(ctx context.Context, monitor *Monitor) []DrainReport {
	if monitor != nil {
		monitor.OnReconnect(func() {
			s.runMu.Lock()
			defer s.runMu.Unlock()
			if s.closed || ctx.Err() != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				log.Info().Msg("connectivity regained, draining queues")
				s.DrainAll(ctx)
			}()
		})
	}
	log.Info().Msg("draining queues at startup")
	return s.DrainAll(ctx)
}

// Wait stops reconnect events from starting new drains and blocks until the
// ones already started have finished.
func (s *Syncer) Wait() {
	s.runMu.Lock()
	s.closed = true
	s.runMu.Unlock()
	s.wg.Wait()
}
