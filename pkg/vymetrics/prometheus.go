package vymetrics

import (
	"fmt"
	"io"
)

// PrometheusExporter renders a Collector's counters in Prometheus text
// exposition format, adapted from the teacher's pkg/metrics
// PrometheusExporter (same counter/gauge/histogram helpers, "laura_db"
// namespace generalized to "vinyl").
type PrometheusExporter struct {
	collector *Collector
	namespace string
}

func NewPrometheusExporter(collector *Collector) *PrometheusExporter {
	return &PrometheusExporter{collector: collector, namespace: "vinyl"}
}

func (pe *PrometheusExporter) SetNamespace(ns string) { pe.namespace = ns }

func (pe *PrometheusExporter) WriteMetrics(w io.Writer) error {
	snap := pe.collector.Snapshot()

	if err := pe.writeGauge(w, "uptime_seconds", "Environment uptime in seconds", snap.UptimeSeconds); err != nil {
		return err
	}

	if err := pe.writeCounter(w, "dumps_total", "Total number of completed dumps", snap.DumpsCompleted); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "dumps_failed_total", "Total number of failed dumps", snap.DumpsFailed); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "dump_bytes_total", "Total bytes written by dumps", snap.DumpBytes); err != nil {
		return err
	}
	if err := pe.writeHistogram(w, "dump_duration_seconds", "Dump task duration histogram", pe.collector.dumpTimings); err != nil {
		return err
	}
	if err := pe.writeGauge(w, "dump_duration_seconds_p50", "Dump task duration p50", snap.DumpP50.Seconds()); err != nil {
		return err
	}
	if err := pe.writeGauge(w, "dump_duration_seconds_p99", "Dump task duration p99", snap.DumpP99.Seconds()); err != nil {
		return err
	}

	if err := pe.writeCounter(w, "compactions_total", "Total number of completed compactions", snap.CompactionsCompleted); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "compactions_failed_total", "Total number of failed compactions", snap.CompactionsFailed); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "compaction_bytes_total", "Total bytes written by compactions", snap.CompactionBytes); err != nil {
		return err
	}
	if err := pe.writeHistogram(w, "compaction_duration_seconds", "Compaction task duration histogram", pe.collector.compactionTimings); err != nil {
		return err
	}
	if err := pe.writeGauge(w, "compaction_duration_seconds_p50", "Compaction task duration p50", snap.CompactionP50.Seconds()); err != nil {
		return err
	}
	if err := pe.writeGauge(w, "compaction_duration_seconds_p99", "Compaction task duration p99", snap.CompactionP99.Seconds()); err != nil {
		return err
	}

	if err := pe.writeCounter(w, "cache_hits_total", "Total cache hits", snap.CacheHits); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "cache_misses_total", "Total cache misses", snap.CacheMisses); err != nil {
		return err
	}
	if err := pe.writeGauge(w, "cache_hit_rate", "Cache hit rate percentage", snap.CacheHitRate); err != nil {
		return err
	}

	if err := pe.writeCounter(w, "tx_started_total", "Total transactions started", snap.TxStarted); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "tx_committed_total", "Total transactions committed", snap.TxCommitted); err != nil {
		return err
	}
	return pe.writeCounter(w, "tx_conflicts_total", "Total transaction commit conflicts", snap.TxConflicts)
}

func (pe *PrometheusExporter) writeCounter(w io.Writer, name, help string, value uint64) error {
	metricName := pe.namespace + "_" + name
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", metricName, help, metricName, metricName, value)
	return err
}

func (pe *PrometheusExporter) writeGauge(w io.Writer, name, help string, value float64) error {
	metricName := pe.namespace + "_" + name
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n", metricName, help, metricName, metricName, value)
	return err
}

func (pe *PrometheusExporter) writeHistogram(w io.Writer, name, help string, th *TimingHistogram) error {
	metricName := pe.namespace + "_" + name
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s histogram\n", metricName, help, metricName); err != nil {
		return err
	}
	buckets := th.GetBuckets()
	var cumulative uint64
	for _, b := range []struct {
		key, le string
	}{
		{"0-1ms", "0.001"}, {"1-10ms", "0.01"}, {"10-100ms", "0.1"}, {"100-1000ms", "1.0"}, {">1000ms", "+Inf"},
	} {
		cumulative += buckets[b.key]
		if _, err := fmt.Fprintf(w, "%s_bucket{le=\"%s\"} %d\n", metricName, b.le, cumulative); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%s_count %d\n", metricName, cumulative)
	return err
}
