// Package busmetrics exports bus lock activity as Prometheus metrics.
//
// The collector reads the lock's counters and status word at scrape time, so it adds
// nothing to the lock's hot paths.
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(busmetrics.NewCollector(lock, "spi2"))
package busmetrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ahrav/go-buslock/buslock"
)

const (
	namespace = "buslock"
)

// Collector is a prometheus.Collector over one buslock.Lock.
type Collector struct {
	lock *buslock.Lock

	acquires  *prometheus.Desc
	releases  *prometheus.Desc
	handoffs  *prometheus.Desc
	bgEvents  *prometheus.Desc
	passes    *prometheus.Desc
	acquirer  *prometheus.Desc
	weak      *prometheus.Desc
	devStatus *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for lock. bus is attached to every series as the
// "bus" label so several buses can share a registry.
func NewCollector(lock *buslock.Lock, bus string) *Collector {
	constLabels := prometheus.Labels{"bus": bus}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, constLabels)
	}

	return &Collector{
		lock:      lock,
		acquires:  desc("acquires_total", "Foreground acquisitions by outcome", "mode"),
		releases:  desc("releases_total", "Foreground releases"),
		handoffs:  desc("handoffs_total", "Bus hand-offs by receiver", "to"),
		bgEvents:  desc("background_events_total", "Background path events by kind", "event"),
		passes:    desc("worker_passes_total", "Background worker passes"),
		acquirer:  desc("acquirer", "Id of the device holding the bus, -1 when none"),
		weak:      desc("weak_background", "1 while the weak background request is set"),
		devStatus: desc("device_status", "Per-device status bits", "device", "bit"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquires
	ch <- c.releases
	ch <- c.handoffs
	ch <- c.bgEvents
	ch <- c.passes
	ch <- c.acquirer
	ch <- c.weak
	ch <- c.devStatus
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.lock.Stats()
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(c.acquires, s.AcquiresImmediate, "immediate")
	counter(c.acquires, s.AcquiresBlocked, "blocked")
	counter(c.releases, s.Releases)
	counter(c.handoffs, s.HandoffsTask, "task")
	counter(c.handoffs, s.HandoffsBackground, "background")
	counter(c.bgEvents, s.BgRequests, "request")
	counter(c.bgEvents, s.BgEnables, "enable")
	counter(c.bgEvents, s.BgDisables, "disable")
	counter(c.bgEvents, s.Promotions, "promote")
	counter(c.bgEvents, s.Serviced, "serviced")
	counter(c.passes, s.BgPasses)

	st := c.lock.Status()
	gauge(c.acquirer, float64(st.Acquirer))
	gauge(c.weak, boolValue(st.WeakBackground))
	for _, d := range st.Devices {
		id := strconv.Itoa(d.ID)
		gauge(c.devStatus, boolValue(d.Request), id, "req")
		gauge(c.devStatus, boolValue(d.Pending), id, "pend")
		gauge(c.devStatus, boolValue(d.Locked), id, "lock")
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
