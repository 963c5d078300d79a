// Package vymetrics collects operational counters for a running vinyl
// environment: dump/compaction throughput, cache hit rate, and
// transaction outcomes. Grounded on the teacher's pkg/metrics
// (MetricsCollector's atomic counters plus TimingHistogram's
// bucket+recent-sample percentile tracking), generalized from
// query/insert/update/delete/connection counters to vinyl's own
// operations: dumps, compactions, cache, and transactions.
package vymetrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector accumulates counters for one environment. All counter
// fields are updated with atomic ops so callers never need to hold a
// lock on the hot path; only the timing histograms take one, and only
// on Record/GetPercentiles.
type Collector struct {
	dumpsCompleted  uint64
	dumpsFailed     uint64
	dumpBytes       uint64
	dumpTimings     *TimingHistogram

	compactionsCompleted uint64
	compactionsFailed    uint64
	compactionBytes      uint64
	compactionTimings    *TimingHistogram

	cacheHits   uint64
	cacheMisses uint64

	txStarted   uint64
	txCommitted uint64
	txConflicts uint64

	startTime time.Time
}

func NewCollector() *Collector {
	return &Collector{
		dumpTimings:       NewTimingHistogram(1000),
		compactionTimings: NewTimingHistogram(1000),
		startTime:         time.Now(),
	}
}

func (c *Collector) RecordDump(d time.Duration, bytes int64, err error) {
	if err != nil {
		atomic.AddUint64(&c.dumpsFailed, 1)
		return
	}
	atomic.AddUint64(&c.dumpsCompleted, 1)
	atomic.AddUint64(&c.dumpBytes, uint64(bytes))
	c.dumpTimings.Record(d)
}

func (c *Collector) RecordCompaction(d time.Duration, bytes int64, err error) {
	if err != nil {
		atomic.AddUint64(&c.compactionsFailed, 1)
		return
	}
	atomic.AddUint64(&c.compactionsCompleted, 1)
	atomic.AddUint64(&c.compactionBytes, uint64(bytes))
	c.compactionTimings.Record(d)
}

func (c *Collector) RecordCacheHit()  { atomic.AddUint64(&c.cacheHits, 1) }
func (c *Collector) RecordCacheMiss() { atomic.AddUint64(&c.cacheMisses, 1) }

func (c *Collector) RecordTxStart()    { atomic.AddUint64(&c.txStarted, 1) }
func (c *Collector) RecordTxCommit()   { atomic.AddUint64(&c.txCommitted, 1) }
func (c *Collector) RecordTxConflict() { atomic.AddUint64(&c.txConflicts, 1) }

// Snapshot is a point-in-time read of every counter (spec.md's ambient
// observability concern — not itself a [MODULE], but every engine this
// corpus imitates exposes one).
type Snapshot struct {
	UptimeSeconds float64

	DumpsCompleted uint64
	DumpsFailed    uint64
	DumpBytes      uint64
	DumpP50        time.Duration
	DumpP99        time.Duration

	CompactionsCompleted uint64
	CompactionsFailed    uint64
	CompactionBytes      uint64
	CompactionP50        time.Duration
	CompactionP99        time.Duration

	CacheHits    uint64
	CacheMisses  uint64
	CacheHitRate float64

	TxStarted   uint64
	TxCommitted uint64
	TxConflicts uint64
}

func (c *Collector) Snapshot() Snapshot {
	hits := atomic.LoadUint64(&c.cacheHits)
	misses := atomic.LoadUint64(&c.cacheMisses)
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	dumpP := c.dumpTimings.GetPercentiles()
	compP := c.compactionTimings.GetPercentiles()

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),

		DumpsCompleted: atomic.LoadUint64(&c.dumpsCompleted),
		DumpsFailed:    atomic.LoadUint64(&c.dumpsFailed),
		DumpBytes:      atomic.LoadUint64(&c.dumpBytes),
		DumpP50:        dumpP["p50"],
		DumpP99:        dumpP["p99"],

		CompactionsCompleted: atomic.LoadUint64(&c.compactionsCompleted),
		CompactionsFailed:    atomic.LoadUint64(&c.compactionsFailed),
		CompactionBytes:      atomic.LoadUint64(&c.compactionBytes),
		CompactionP50:        compP["p50"],
		CompactionP99:        compP["p99"],

		CacheHits:    hits,
		CacheMisses:  misses,
		CacheHitRate: hitRate,

		TxStarted:   atomic.LoadUint64(&c.txStarted),
		TxCommitted: atomic.LoadUint64(&c.txCommitted),
		TxConflicts: atomic.LoadUint64(&c.txConflicts),
	}
}

// TimingHistogram buckets durations and keeps a bounded recent-sample
// window for percentile estimates, unchanged in shape from the
// teacher's version.
type TimingHistogram struct {
	bucket0_1ms      uint64
	bucket1_10ms     uint64
	bucket10_100ms   uint64
	bucket100_1000ms uint64
	bucket1000ms     uint64

	mu               sync.Mutex
	recentTimings    []time.Duration
	maxRecentTimings int
}

func NewTimingHistogram(maxRecent int) *TimingHistogram {
	return &TimingHistogram{
		recentTimings:    make([]time.Duration, 0, maxRecent),
		maxRecentTimings: maxRecent,
	}
}

func (th *TimingHistogram) Record(d time.Duration) {
	ms := d.Milliseconds()
	switch {
	case ms < 1:
		atomic.AddUint64(&th.bucket0_1ms, 1)
	case ms < 10:
		atomic.AddUint64(&th.bucket1_10ms, 1)
	case ms < 100:
		atomic.AddUint64(&th.bucket10_100ms, 1)
	case ms < 1000:
		atomic.AddUint64(&th.bucket100_1000ms, 1)
	default:
		atomic.AddUint64(&th.bucket1000ms, 1)
	}

	th.mu.Lock()
	defer th.mu.Unlock()
	if len(th.recentTimings) >= th.maxRecentTimings {
		th.recentTimings = th.recentTimings[1:]
	}
	th.recentTimings = append(th.recentTimings, d)
}

func (th *TimingHistogram) GetBuckets() map[string]uint64 {
	return map[string]uint64{
		"0-1ms":      atomic.LoadUint64(&th.bucket0_1ms),
		"1-10ms":     atomic.LoadUint64(&th.bucket1_10ms),
		"10-100ms":   atomic.LoadUint64(&th.bucket10_100ms),
		"100-1000ms": atomic.LoadUint64(&th.bucket100_1000ms),
		">1000ms":    atomic.LoadUint64(&th.bucket1000ms),
	}
}

func (th *TimingHistogram) GetPercentiles() map[string]time.Duration {
	th.mu.Lock()
	defer th.mu.Unlock()

	if len(th.recentTimings) == 0 {
		return map[string]time.Duration{"p50": 0, "p95": 0, "p99": 0}
	}

	sorted := make([]time.Duration, len(th.recentTimings))
	copy(sorted, th.recentTimings)
	for i := 1; i < len(sorted); i++ {
		key := sorted[i]
		j := i - 1
		for j >= 0 && sorted[j] > key {
			sorted[j+1] = sorted[j]
			j--
		}
		sorted[j+1] = key
	}

	return map[string]time.Duration{
		"p50": sorted[len(sorted)*50/100],
		"p95": sorted[len(sorted)*95/100],
		"p99": sorted[len(sorted)*99/100],
	}
}
