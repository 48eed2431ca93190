package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// WorkerStats provides the collector access to live worker pool state.
type WorkerStats interface {
	Pending() int
	Completed() int64
	Failed() int64
}

// BusStats provides the collector access to live SSE subscriber state.
type BusStats interface {
	SubscriberCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	workers WorkerStats
	bus     BusStats

	pendingJobs    *prometheus.Desc
	completedJobs  *prometheus.Desc
	failedJobs     *prometheus.Desc
	sseSubscribers *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// Either argument may be nil (metrics will report 0).
func NewCollector(workers WorkerStats, bus BusStats) *Collector {
	return &Collector{
		workers: workers,
		bus:     bus,
		pendingJobs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "worker_jobs_pending"),
			"Jobs currently waiting in the worker queue.",
			nil, nil,
		),
		completedJobs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "worker_jobs_completed_total"),
			"Jobs completed since startup.",
			nil, nil,
		),
		failedJobs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "worker_jobs_failed_total"),
			"Jobs failed since startup.",
			nil, nil,
		),
		sseSubscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sse_subscribers_active"),
			"Current number of SSE subscribers.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pendingJobs
	ch <- c.completedJobs
	ch <- c.failedJobs
	ch <- c.sseSubscribers
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.workers != nil {
		ch <- prometheus.MustNewConstMetric(c.pendingJobs, prometheus.GaugeValue, float64(c.workers.Pending()))
		ch <- prometheus.MustNewConstMetric(c.completedJobs, prometheus.CounterValue, float64(c.workers.Completed()))
		ch <- prometheus.MustNewConstMetric(c.failedJobs, prometheus.CounterValue, float64(c.workers.Failed()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.pendingJobs, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.completedJobs, prometheus.CounterValue, 0)
		ch <- prometheus.MustNewConstMetric(c.failedJobs, prometheus.CounterValue, 0)
	}

	if c.bus != nil {
		ch <- prometheus.MustNewConstMetric(c.sseSubscribers, prometheus.GaugeValue, float64(c.bus.SubscriberCount()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.sseSubscribers, prometheus.GaugeValue, 0)
	}
}
