package syncq

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

type MonitorOptions struct {
	// ProbeURL is fetched to decide reachability. Empty disables probing;
	// state then changes only through Set.
	ProbeURL string
	// Interval between probes while online.
	Interval time.Duration
	// InitialBackoff and MaxBackoff bound the growing wait between probes
	// while offline.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	ProbeTimeout   time.Duration
	Client         *http.Client
}

func defaultMonitorOptions() MonitorOptions {
	return MonitorOptions{
		Interval:       15 * time.Second,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
		ProbeTimeout:   5 * time.Second,
		Client:         http.DefaultClient,
	}
}

// Monitor tracks reachability of the remote system and signals every
// transition from unreachable to reachable. It does no queue work itself.
type Monitor struct {
	opts MonitorOptions

	mu          sync.Mutex
	online      bool
	onReconnect []func()
}

func NewMonitor(online bool, opts *MonitorOptions) *Monitor {
	m := Monitor{opts: defaultMonitorOptions(), online: online}
	if opts != nil {
		m.opts.ProbeURL = opts.ProbeURL
		if opts.Interval > 0 {
			m.opts.Interval = opts.Interval
		}
		if opts.InitialBackoff > 0 {
			m.opts.InitialBackoff = opts.InitialBackoff
		}
		if opts.MaxBackoff > 0 {
			m.opts.MaxBackoff = opts.MaxBackoff
		}
		if opts.ProbeTimeout > 0 {
			m.opts.ProbeTimeout = opts.ProbeTimeout
		}
		if opts.Client != nil {
			m.opts.Client = opts.Client
		}
	}
	return &m
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnReconnect registers fn to run on every offline to online transition.
// Handlers run synchronously on the goroutine that observed the transition.
func (m *Monitor) OnReconnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnect = append(m.onReconnect, fn)
}

// Set records the current reachability, e.g. from platform network events.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	regained := online && !m.online
	changed := online != m.online
	m.online = online
	handlers := append([]func(){}, m.onReconnect...)
	m.mu.Unlock()

	if changed {
		log.Info().Bool("online", online).Msg("connectivity changed")
	}
	if !regained {
		return
	}
	for _, fn := range handlers {
		fn()
	}
}

// Probe checks ProbeURL once and records the result. Any response below 500
// counts as reachable.
func (m *Monitor) Probe(ctx context.Context) bool {
	online := m.probe(ctx)
	m.Set(online)
	return online
}

func (m *Monitor) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.opts.ProbeURL, nil)
	if err != nil {
		log.Debug().Err(err).Msg("error building probe request")
		return false
	}
	res, err := m.opts.Client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("url", m.opts.ProbeURL).Msg("probe failed")
		return false
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	return res.StatusCode < http.StatusInternalServerError
}

// Run probes until ctx is done: every Interval while online, with
// exponential backoff while offline.
func (m *Monitor) Run(ctx context.Context) error {
	if m.opts.ProbeURL == "" {
		<-ctx.Done()
		return ctx.Err()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.InitialBackoff
	b.MaxInterval = m.opts.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		online := m.probe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.Set(online)
		wait := m.opts.Interval
		if online {
			b.Reset()
		} else {
			wait = b.NextBackOff()
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			log.Debug().Err(ctx.Err()).Msg("stopping connectivity monitor: context closed")
			return ctx.Err()
		case <-t.C:
		}
	}
}
