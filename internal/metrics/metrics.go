package metrics

import "expvar"

var (
	JobsEnqueued     = expvar.NewInt("syncq_jobs_enqueued_total")
	JobsDelivered    = expvar.NewInt("syncq_jobs_delivered_total")
	DeliveryFailures = expvar.NewInt("syncq_delivery_failures_total")
	Drains           = expvar.NewInt("syncq_drains_total")
	DrainsSkipped    = expvar.NewInt("syncq_drains_skipped_total")
	StorageErrors    = expvar.NewInt("syncq_storage_errors_total")
	CorruptQueues    = expvar.NewInt("syncq_corrupt_queues_total")
	queueDepth       = expvar.NewMap("syncq_queue_depth")
)

// SetQueueDepth records the number of jobs persisted for domain.
func SetQueueDepth(domain string, n int) {
	v := new(expvar.Int)
	v.Set(int64(n))
	queueDepth.Set(domain, v)
}

// QueueDepth returns the last recorded depth for domain.
func QueueDepth(domain string) int64 {
	if v, ok := queueDepth.Get(domain).(*expvar.Int); ok {
		return v.Value()
	}
	return 0
}

// ResetForTests clears counters; intended for use in tests only.
func ResetForTests() {
	JobsEnqueued.Set(0)
	JobsDelivered.Set(0)
	DeliveryFailures.Set(0)
	Drains.Set(0)
	DrainsSkipped.Set(0)
	StorageErrors.Set(0)
	CorruptQueues.Set(0)
	queueDepth.Init()
}
