package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattbonnell/syncq/internal/metrics"
	"github.com/rs/zerolog/log"
)

// KeyPrefix namespaces queue keys inside a Backend.
const KeyPrefix = "syncq:queue:"

// MaxDomainLen keeps prefixed keys inside the limits of every backend: a
// base64 filename for FileBackend and a VARCHAR(255) key for MySQL.
const MaxDomainLen = 128

// ValidateDomain reports whether domain can name a queue.
func ValidateDomain(domain string) error {
	switch {
	case domain == "":
		return fmt.Errorf("%w: empty", ErrInvalidDomain)
	case len(domain) > MaxDomainLen:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidDomain, MaxDomainLen)
	}
	return nil
}

type QueueOptions struct {
	KeyPrefix string
	Now       func() time.Time
}

func defaultQueueOptions() QueueOptions {
	return QueueOptions{
		KeyPrefix: KeyPrefix,
		Now:       time.Now,
	}
}

// Queue is the persistent queue store: one ordered job list per domain,
// serialized as a single JSON array under a key derived from the domain.
// Read-modify-write sequences on one domain are serialized; different
// domains never contend. When the backend is an Updater the serialization
// also holds against other processes and other Queues on the same store.
type Queue struct {
	backend Backend
	opts    QueueOptions

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewQueue(backend Backend, opts *QueueOptions) *Queue {
	q := Queue{backend: backend, opts: defaultQueueOptions(), locks: make(map[string]*sync.Mutex)}
	if opts != nil {
		if opts.KeyPrefix != "" {
			q.opts.KeyPrefix = opts.KeyPrefix
		}
		if opts.Now != nil {
			q.opts.Now = opts.Now
		}
	}
	return &q
}

// Key returns the backend key holding domain's queue.
func (q *Queue) Key(domain string) string {
	return q.opts.KeyPrefix + domain
}

func (q *Queue) lock(domain string) func() {
	q.mu.Lock()
	l, ok := q.locks[domain]
	if !ok {
		l = &sync.Mutex{}
		q.locks[domain] = l
	}
	q.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Load returns the jobs queued for domain in insertion order. A missing or
// unparseable value loads as an empty queue; only an unreachable backend is
// an error.
func (q *Queue) Load(ctx context.Context, domain string) ([]Job, error) {
	raw, err := q.backend.Get(ctx, q.Key(domain))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []Job{}, nil
		}
		return nil, fmt.Errorf("error loading queue %q: %w", domain, err)
	}
	return decodeJobs(domain, raw), nil
}

func decodeJobs(domain string, raw []byte) []Job {
	if raw == nil {
		return []Job{}
	}
	var jobs []Job
	if err := json.Unmarshal(raw, &jobs); err != nil {
		metrics.CorruptQueues.Add(1)
		log.Warn().Err(err).Str("domain", domain).Int("bytes", len(raw)).Msg("discarding unreadable queue")
		return []Job{}
	}
	for i := range jobs {
		jobs[i].Domain = domain
	}
	if jobs == nil {
		jobs = []Job{}
	}
	return jobs
}

// Save replaces domain's whole queue with jobs in a single backend write.
func (q *Queue) Save(ctx context.Context, domain string, jobs []Job) error {
	defer q.lock(domain)()
	return q.save(ctx, domain, jobs)
}

func (q *Queue) save(ctx context.Context, domain string, jobs []Job) error {
	if err := ValidateDomain(domain); err != nil {
		return err
	}
	var err error
	if len(jobs) == 0 {
		err = q.backend.Delete(ctx, q.Key(domain))
	} else {
		var raw []byte
		raw, err = json.Marshal(jobs)
		if err == nil {
			err = q.backend.Put(ctx, q.Key(domain), raw)
		}
	}
	if err != nil {
		return q.writeError(domain, err)
	}
	metrics.SetQueueDepth(domain, len(jobs))
	return nil
}

func (q *Queue) writeError(domain string, err error) error {
	metrics.StorageErrors.Add(1)
	e := fmt.Errorf("%w %q: %w", ErrStorageWrite, domain, err)
	log.Debug().Err(e).Msg("error")
	return e
}

// Update atomically applies fn to domain's queue and saves the result. If fn
// returns an error nothing is written. fn may run more than once when another
// process changed the queue concurrently.
func (q *Queue) Update(ctx context.Context, domain string, fn func(jobs []Job) ([]Job, error)) error {
	if err := ValidateDomain(domain); err != nil {
		return err
	}
	defer q.lock(domain)()
	if u, ok := q.backend.(Updater); ok {
		return q.updateAtomic(ctx, u, domain, fn)
	}
	jobs, err := q.Load(ctx, domain)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	next, err := fn(jobs)
	if err != nil {
		return err
	}
	return q.save(ctx, domain, next)
}

func (q *Queue) updateAtomic(ctx context.Context, u Updater, domain string, fn func(jobs []Job) ([]Job, error)) error {
	var (
		fnErr error
		depth int
	)
	err := u.Update(ctx, q.Key(domain), func(old []byte) ([]byte, error) {
		fnErr = nil
		next, err := fn(decodeJobs(domain, old))
		if err != nil {
			fnErr = err
			return nil, err
		}
		depth = len(next)
		if len(next) == 0 {
			return nil, nil
		}
		return json.Marshal(next)
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return q.writeError(domain, err)
	}
	metrics.SetQueueDepth(domain, depth)
	return nil
}

// Append adds job to the tail of domain's queue.
func (q *Queue) Append(ctx context.Context, domain string, job Job) error {
	job.Domain = domain
	return q.Update(ctx, domain, func(jobs []Job) ([]Job, error) {
		return append(jobs, job), nil
	})
}

// Enqueue persists payload as a new job at the tail of domain's queue. An
// error means the payload was not stored.
func (q *Queue) Enqueue(ctx context.Context, domain string, payload []byte) (Job, error) {
	job, err := NewJob(domain, payload, q.opts.Now())
	if err != nil {
		return Job{}, err
	}
	if err := q.Append(ctx, domain, job); err != nil {
		return Job{}, err
	}
	metrics.JobsEnqueued.Add(1)
	log.Debug().Str("domain", domain).Str("job", job.ID).Msg("job enqueued")
	return job, nil
}

// Remove drops the jobs with the given ids from domain's queue and reports
// how many were removed.
func (q *Queue) Remove(ctx context.Context, domain string, ids ...string) (int, error) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	removed := 0
	err := q.Update(ctx, domain, func(jobs []Job) ([]Job, error) {
		removed = 0
		kept := jobs[:0]
		for _, j := range jobs {
			if _, ok := drop[j.ID]; ok {
				removed++
				continue
			}
			kept = append(kept, j)
		}
		return kept, nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Purge deletes every job queued for domain.
func (q *Queue) Purge(ctx context.Context, domain string) (int, error) {
	n := 0
	err := q.Update(ctx, domain, func(jobs []Job) ([]Job, error) {
		n = len(jobs)
		return nil, nil
	})
	if err != nil {
		return 0, err
	}
	log.Info().Str("domain", domain).Int("jobs", n).Msg("queue purged")
	return n, nil
}

// Domains lists every domain with a persisted queue.
func (q *Queue) Domains(ctx context.Context) ([]string, error) {
	keys, err := q.backend.Keys(ctx, q.opts.KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("error listing queues: %w", err)
	}
	domains := make([]string, 0, len(keys))
	for _, k := range keys {
		domains = append(domains, strings.TrimPrefix(k, q.opts.KeyPrefix))
	}
	return domains, nil
}
