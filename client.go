package syncq

import (
	"context"

	"github.com/rs/zerolog/log"
)

type Options struct {
	Queue     *QueueOptions
	Drainer   *DrainerOptions
	Submitter *SubmitterOptions
}

// Client wires a queue, its drainer and the startup/reconnect triggers over
// one backend.
type Client struct {
	Queue   *Queue
	Drainer *Drainer
	Syncer  *Syncer
	Monitor *Monitor

	submitterOpts *SubmitterOptions
}

// NewClient builds a Client. A nil monitor means always online with no
// reconnect signal.
func NewClient(backend Backend, monitor *Monitor, opts *Options) *Client {
	log.Debug().Msg("creating new client")
	if opts == nil {
		opts = &Options{}
	}
	if monitor == nil {
		monitor = NewMonitor(true, nil)
	}
	q := NewQueue(backend, opts.Queue)
	d := NewDrainer(q, opts.Drainer)
	c := Client{
		Queue:         q,
		Drainer:       d,
		Syncer:        NewSyncer(q, d),
		Monitor:       monitor,
		submitterOpts: opts.Submitter,
	}
	log.Debug().Msg("client created")
	return &c
}

// NewSubmitter returns a Submitter for domain and registers it so queued
// jobs for domain are drained through endpoint.
func (c *Client) NewSubmitter(domain string, endpoint Deliverer) *Submitter {
	s := NewSubmitter(domain, c.Queue, c.Monitor, endpoint, c.submitterOpts)
	c.Syncer.Register(domain, s)
	return s
}

// Start performs the startup drain and drains again on every reconnect.
func (c *Client) Start(ctx context.Context) []DrainReport {
	return c.Syncer.Start(ctx, c.Monitor)
}
