// Package metrics provides lock-free counters and latency histograms for the
// auth engine.
//
// Counters live in cache-line-padded uint64 slots and are incremented with
// [sync/atomic.AddUint64]. Histograms use [BucketCount] fixed buckets
// (≤5ms … +Inf). The write path does not allocate.
//
// Export to Prometheus or OTel lives under metrics/export and reads
// [Snapshot] values. This package performs no I/O and keeps no globals.
package metrics
