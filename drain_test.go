package syncq

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mattbonnell/syncq/internal/metrics"
	"github.com/stretchr/testify/require"
)

var errUnavailable = errors.New("endpoint returned 503 Service Unavailable")

// recorder is a Deliverer that records payloads in call order and fails the
// payloads listed in fail.
type recorder struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func newRecorder(fail ...string) *recorder {
	r := recorder{fail: make(map[string]bool)}
	for _, p := range fail {
		r.fail[p] = true
	}
	return &r
}

func (r *recorder) Deliver(_ context.Context, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, string(job.Payload))
	if r.fail[string(job.Payload)] {
		return errUnavailable
	}
	return nil
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// gate is a Deliverer that blocks every call until released.
type gate struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	next    Deliverer
}

func newGate(next Deliverer) *gate {
	return &gate{started: make(chan struct{}), release: make(chan struct{}), next: next}
}

func (g *gate) Deliver(ctx context.Context, job Job) error {
	g.once.Do(func() { close(g.started) })
	<-g.release
	return g.next.Deliver(ctx, job)
}

func enqueueAll(t *testing.T, q *Queue, domain string, payloads ...string) []Job {
	t.Helper()
	jobs := make([]Job, 0, len(payloads))
	for _, p := range payloads {
		j, err := q.Enqueue(context.Background(), domain, []byte(p))
		require.NoError(t, err)
		jobs = append(jobs, j)
	}
	return jobs
}

func loadPayloads(t *testing.T, q *Queue, domain string) []string {
	t.Helper()
	jobs, err := q.Load(context.Background(), domain)
	require.NoError(t, err)
	return payloadsOf(jobs)
}

func TestDrainShouldSucceed_EmptyQueue(t *testing.T) {
	q := NewQueue(NewMemoryBackend(), nil)
	d := NewDrainer(q, nil)
	r := newRecorder()

	n, err := d.Drain(context.Background(), "evt-1", r)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, r.Calls())
}

func TestDrainShouldSucceed_FIFO(t *testing.T) {
	metrics.ResetForTests()
	q := NewQueue(NewMemoryBackend(), nil)
	d := NewDrainer(q, nil)
	r := newRecorder()
	enqueueAll(t, q, "evt-1", `"A"`, `"B"`, `"C"`)

	n, err := d.Drain(context.Background(), "evt-1", r)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []string{`"A"`, `"B"`, `"C"`}, r.Calls())
	require.Empty(t, loadPayloads(t, q, "evt-1"))
	require.Equal(t, int64(3), metrics.JobsDelivered.Value())
	require.Zero(t, metrics.QueueDepth("evt-1"))
}

func TestDrainShouldRetainFailedJobs_ContinueOnFailure(t *testing.T) {
	ctx := context.Background()
	failedAt := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	q := NewQueue(NewMemoryBackend(), nil)
	d := NewDrainer(q, &DrainerOptions{Now: func() time.Time { return failedAt }})
	r := newRecorder(`"B"`)
	jobs := enqueueAll(t, q, "evt-1", `"A"`, `"B"`, `"C"`)

	n, err := d.Drain(ctx, "evt-1", r)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{`"A"`, `"B"`, `"C"`}, r.Calls())

	left, err := q.Load(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, jobs[1].ID, left[0].ID)
	require.Equal(t, 1, left[0].Attempts)
	require.Equal(t, errUnavailable.Error(), left[0].LastError)
	require.Equal(t, failedAt, *left[0].LastAttemptAt)

	// B keeps its place ahead of later jobs.
	enqueueAll(t, q, "evt-1", `"D"`)
	require.Equal(t, []string{`"B"`, `"D"`}, loadPayloads(t, q, "evt-1"))

	n, err = d.Drain(ctx, "evt-1", r)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	left, err = q.Load(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, 2, left[0].Attempts)
}

func TestDrainShouldHalt_StopOnFailure(t *testing.T) {
	q := NewQueue(NewMemoryBackend(), nil)
	d := NewDrainer(q, &DrainerOptions{Policies: map[string]DrainPolicy{"ledger": StopOnFailure}})
	r := newRecorder(`"B"`)
	enqueueAll(t, q, "ledger", `"A"`, `"B"`, `"C"`)

	require.Equal(t, StopOnFailure, d.Policy("ledger"))
	require.Equal(t, ContinueOnFailure, d.Policy("evt-1"))

	n, err := d.Drain(context.Background(), "ledger", r)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{`"A"`, `"B"`}, r.Calls())
	require.Equal(t, []string{`"B"`, `"C"`}, loadPayloads(t, q, "ledger"))
}

func TestDrainShouldSkip_InFlight(t *testing.T) {
	metrics.ResetForTests()
	q := NewQueue(NewMemoryBackend(), nil)
	d := NewDrainer(q, nil)
	r := newRecorder()
	g := newGate(r)
	enqueueAll(t, q, "evt-1", `"A"`, `"B"`)

	type result struct {
		n   int
		err error
	}
	first := make(chan result, 1)
	go func() {
		n, err := d.Drain(context.Background(), "evt-1", g)
		first <- result{n, err}
	}()
	<-g.started
	require.True(t, d.Draining("evt-1"))

	n, err := d.Drain(context.Background(), "evt-1", g)
	require.ErrorIs(t, err, ErrDrainInFlight)
	require.Zero(t, n)
	require.Equal(t, int64(1), metrics.DrainsSkipped.Value())

	// Other domains are not held up.
	other, err := d.Drain(context.Background(), "evt-2", r)
	require.NoError(t, err)
	require.Zero(t, other)

	close(g.release)
	res := <-first
	require.NoError(t, res.err)
	require.Equal(t, 2, res.n)
	require.Equal(t, []string{`"A"`, `"B"`}, r.Calls())
	require.False(t, d.Draining("evt-1"))
}

func TestDrainShouldKeepJobsEnqueuedDuringDrain(t *testing.T) {
	q := NewQueue(NewMemoryBackend(), nil)
	d := NewDrainer(q, nil)
	r := newRecorder(`"B"`)
	g := newGate(r)
	enqueueAll(t, q, "evt-1", `"A"`, `"B"`)

	done := make(chan error, 1)
	go func() {
		_, err := d.Drain(context.Background(), "evt-1", g)
		done <- err
	}()
	<-g.started
	enqueueAll(t, q, "evt-1", `"C"`)
	close(g.release)
	require.NoError(t, <-done)

	require.Equal(t, []string{`"B"`, `"C"`}, loadPayloads(t, q, "evt-1"))
	require.Equal(t, []string{`"A"`, `"B"`}, r.Calls())
}

func TestDrainShouldFail_WriteBack(t *testing.T) {
	b := newFailingBackend()
	q := NewQueue(b, nil)
	d := NewDrainer(q, nil)
	enqueueAll(t, q, "evt-1", `"A"`)

	deliverer := DeliverFunc(func(ctx context.Context, job Job) error {
		b.setFailWrites(true)
		return nil
	})
	n, err := d.Drain(context.Background(), "evt-1", deliverer)
	require.ErrorIs(t, err, ErrStorageWrite)
	require.Equal(t, 1, n)

	// The delivered job is still queued and will be delivered again.
	b.setFailWrites(false)
	require.Equal(t, []string{`"A"`}, loadPayloads(t, q, "evt-1"))
}

func TestDrainShouldFail_LoadError(t *testing.T) {
	b := newFailingBackend()
	b.failReads = true
	d := NewDrainer(NewQueue(b, nil), nil)
	r := newRecorder()

	_, err := d.Drain(context.Background(), "evt-1", r)
	require.ErrorIs(t, err, errBackendDown)
	require.Empty(t, r.Calls())
	require.False(t, d.Draining("evt-1"))
}

func TestDrainShouldRetain_DelivererPanics(t *testing.T) {
	q := NewQueue(NewMemoryBackend(), nil)
	d := NewDrainer(q, nil)
	enqueueAll(t, q, "evt-1", `"A"`, `"B"`)

	n, err := d.Drain(context.Background(), "evt-1", DeliverFunc(func(ctx context.Context, job Job) error {
		if string(job.Payload) == `"A"` {
			panic("boom")
		}
		return nil
	}))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	left, err := q.Load(context.Background(), "evt-1")
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Contains(t, left[0].LastError, "boom")
}

func TestDrainShouldBoundDelivery_Timeout(t *testing.T) {
	q := NewQueue(NewMemoryBackend(), nil)
	d := NewDrainer(q, &DrainerOptions{DeliveryTimeout: 10 * time.Millisecond})
	enqueueAll(t, q, "evt-1", `"A"`)

	n, err := d.Drain(context.Background(), "evt-1", DeliverFunc(func(ctx context.Context, job Job) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, []string{`"A"`}, loadPayloads(t, q, "evt-1"))
}

func TestDrainShouldComplete_CallerContextCancelled(t *testing.T) {
	q := NewQueue(NewMemoryBackend(), nil)
	d := NewDrainer(q, nil)
	r := newRecorder()
	enqueueAll(t, q, "evt-1", `"A"`, `"B"`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := d.Drain(ctx, "evt-1", r)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestDrainShouldSucceed_AfterRestart(t *testing.T) {
	dir := t.TempDir()
	b1, err := NewFileBackend(dir)
	require.NoError(t, err)
	enqueueAll(t, NewQueue(b1, nil), "evt-1", `"A"`, `"B"`)

	b2, err := NewFileBackend(dir)
	require.NoError(t, err)
	q := NewQueue(b2, nil)
	r := newRecorder()
	n, err := NewDrainer(q, nil).Drain(context.Background(), "evt-1", r)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{`"A"`, `"B"`}, r.Calls())
	require.Empty(t, loadPayloads(t, q, "evt-1"))
}

func TestDrainShouldSucceed_OfflineCheckInThenReconnect(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(NewMemoryBackend(), nil)
	s := NewSubmitter("evt-1", q, NewMonitor(false, nil), newRecorder(), nil)

	receipt, err := s.Submit(ctx, []byte(`{"firstName":"Ana"}`))
	require.NoError(t, err)
	require.Equal(t, Queued, receipt.Status)

	jobs, err := q.Load(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, receipt.JobID, jobs[0].ID)
	require.JSONEq(t, `{"firstName":"Ana"}`, string(jobs[0].Payload))

	n, err := NewDrainer(q, nil).Drain(ctx, "evt-1", DeliverFunc(func(context.Context, Job) error { return nil }))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Empty(t, loadPayloads(t, q, "evt-1"))
}

func TestDrainShouldRetainFirstDraft_FirstDeliveryFails(t *testing.T) {
	q := NewQueue(NewMemoryBackend(), nil)
	jobs := enqueueAll(t, q, "appraisal-drafts", `{"propertyAddress":"1 Main St"}`, `{"propertyAddress":"2 High St"}`)

	n, err := NewDrainer(q, nil).Drain(context.Background(), "appraisal-drafts", DeliverFunc(func(_ context.Context, job Job) error {
		if job.ID == jobs[0].ID {
			return errUnavailable
		}
		return nil
	}))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	left, err := q.Load(context.Background(), "appraisal-drafts")
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, jobs[0].ID, left[0].ID)
}

func TestDrainPolicyString(t *testing.T) {
	require.Equal(t, "continue", ContinueOnFailure.String())
	require.Equal(t, "stop", StopOnFailure.String())
	require.Equal(t, "DrainPolicy(7)", DrainPolicy(7).String())
}

func BenchmarkEnqueueDrain(b *testing.B) {
	ctx := context.Background()
	backend, err := OpenSQLBackend(ctx, "sqlite", filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	defer backend.Close()
	q := NewQueue(backend, nil)
	d := NewDrainer(q, nil)
	ok := DeliverFunc(func(context.Context, Job) error { return nil })
	payload := []byte(`{"firstName":"Ana","email":"ana@example.com"}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := 0; j < 10; j++ {
			if _, err := q.Enqueue(ctx, "evt-bench", payload); err != nil {
				b.Fatal(err)
			}
		}
		if _, err := d.Drain(ctx, "evt-bench", ok); err != nil {
			b.Fatal(err)
		}
	}
}
