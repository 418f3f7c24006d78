package busmetrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-buslock/buslock"
)

func TestCollectorExportsActivity(t *testing.T) {
	lock, err := buslock.New(buslock.Options{DedicatedSlots: 2})
	require.NoError(t, err)
	d0, err := lock.Register(true)
	require.NoError(t, err)
	d1, err := lock.Register(true)
	require.NoError(t, err)

	require.NoError(t, d0.AcquireStart(buslock.WaitForever))
	require.NoError(t, d0.AcquireEnd())
	require.NoError(t, d1.AcquireStart(buslock.WaitForever))
	require.NoError(t, d0.BackgroundRequest())

	c := NewCollector(lock, "spi2")
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	expected := `
# HELP buslock_acquires_total Foreground acquisitions by outcome
# TYPE buslock_acquires_total counter
buslock_acquires_total{bus="spi2",mode="blocked"} 0
buslock_acquires_total{bus="spi2",mode="immediate"} 2
# HELP buslock_acquirer Id of the device holding the bus, -1 when none
# TYPE buslock_acquirer gauge
buslock_acquirer{bus="spi2"} 1
# HELP buslock_device_status Per-device status bits
# TYPE buslock_device_status gauge
buslock_device_status{bit="lock",bus="spi2",device="0"} 0
buslock_device_status{bit="lock",bus="spi2",device="1"} 1
buslock_device_status{bit="pend",bus="spi2",device="0"} 0
buslock_device_status{bit="pend",bus="spi2",device="1"} 0
buslock_device_status{bit="req",bus="spi2",device="0"} 1
buslock_device_status{bit="req",bus="spi2",device="1"} 0
`
	err = testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"buslock_acquires_total", "buslock_acquirer", "buslock_device_status")
	assert.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(singleMetric(c, c.releases)))
	assert.Equal(t, 6, testutil.CollectAndCount(c, "buslock_device_status"))
}

func TestCollectorLint(t *testing.T) {
	lock, err := buslock.New(buslock.Options{})
	require.NoError(t, err)

	problems, err := testutil.CollectAndLint(NewCollector(lock, "spi3"))
	require.NoError(t, err)
	assert.Empty(t, problems)
}

// singleMetric wraps the one series of desc in a collector for testutil.ToFloat64.
func singleMetric(c *Collector, desc *prometheus.Desc) prometheus.Collector {
	return collectorFunc(func(ch chan<- prometheus.Metric) {
		all := make(chan prometheus.Metric, 64)
		c.Collect(all)
		close(all)
		for m := range all {
			if m.Desc() == desc {
				ch <- m
			}
		}
	})
}

type collectorFunc func(chan<- prometheus.Metric)

func (f collectorFunc) Describe(ch chan<- *prometheus.Desc) { prometheus.DescribeByCollect(f, ch) }
func (f collectorFunc) Collect(ch chan<- prometheus.Metric)  { f(ch) }
