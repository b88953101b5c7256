package bucketdb

import "time"

// MetricsObserver defines the interface for observing bucket core events.
type MetricsObserver interface {
	// OnMerge is called when a merge completes (or fails).
	OnMerge(duration time.Duration, counters MergeCounters, err error)

	// OnEviction is called after an eviction scan pass over one bucket.
	OnEviction(entriesEvicted int, bytesScanned int64)

	// OnBloomMiss reports an index lookup that turned out to be a false
	// positive. The bucket core does not call it; false positives are
	// counted on the index itself (index.Index.BloomMisses).
	OnBloomMiss()

	// OnThroughput reports bytes processed.
	OnThroughput(name string, bytes int64)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (o *NoopMetricsObserver) OnMerge(duration time.Duration, counters MergeCounters, err error) {}
func (o *NoopMetricsObserver) OnEviction(entriesEvicted int, bytesScanned int64)                 {}
func (o *NoopMetricsObserver) OnBloomMiss()                                                      {}
func (o *NoopMetricsObserver) OnThroughput(name string, bytes int64)                             {}
