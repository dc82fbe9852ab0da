// Package metrics exports the state of direct mmap rings as Prometheus metrics.
package metrics

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	alsa "github.com/gen2brain/alsa-mmap"
)

const (
	namespace = "alsa"
	subsystem = "ring"
)

// Source is anything that can report a ring snapshot, usually an *alsa.Ring.
type Source interface {
	Snapshot() (alsa.RingSnapshot, error)
}

// RingCollector reads a Source on every scrape.
//
// Scrapes run on the registry's goroutine while the ring belongs to its owner, so Source should
// hand out copies rather than read the ring directly unless the owner is idle. SnapshotFunc with a
// cached value is the usual way to do that.
type RingCollector struct {
	source Source
	logger *slog.Logger

	avail      *prometheus.Desc
	hwPtr      *prometheus.Desc
	applPtr    *prometheus.Desc
	bufferSize *prometheus.Desc
	boundary   *prometheus.Desc
	state      *prometheus.Desc
	timestamp  *prometheus.Desc
	errors     prometheus.Counter
}

// SnapshotFunc adapts a function to Source.
type SnapshotFunc func() (alsa.RingSnapshot, error)

// Snapshot calls f.
func (f SnapshotFunc) Snapshot() (alsa.RingSnapshot, error) {
	return f()
}

// NewRingCollector creates a collector for the ring of the named PCM ("hw:0,0").
func NewRingCollector(pcm string, source Source, logger *slog.Logger) *RingCollector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	labels := prometheus.Labels{"pcm": pcm}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, variable, labels)
	}

	return &RingCollector{
		source:     source,
		logger:     logger.With("component", "ring_collector", "pcm", pcm),
		avail:      desc("avail_frames", "Frames ready to be read (capture) or written (playback).", "direction"),
		hwPtr:      desc("hw_ptr_frames", "Hardware cursor.", "direction"),
		applPtr:    desc("appl_ptr_frames", "Application cursor.", "direction"),
		bufferSize: desc("buffer_size_frames", "Ring buffer size.", "direction"),
		boundary:   desc("boundary_frames", "Cursor wrap point.", "direction"),
		state:      desc("state", "Stream state, 1 for the current one.", "direction", "state"),
		timestamp:  desc("timestamp_seconds", "Time of the last hardware cursor update.", "direction"),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "snapshot_errors_total",
			Help:        "Scrapes that could not read the status page.",
			ConstLabels: labels,
		}),
	}
}

// Describe implements prometheus.Collector.
func (c *RingCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.avail
	ch <- c.hwPtr
	ch <- c.applPtr
	ch <- c.bufferSize
	ch <- c.boundary
	ch <- c.state
	ch <- c.timestamp
	c.errors.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *RingCollector) Collect(ch chan<- prometheus.Metric) {
	defer c.errors.Collect(ch)

	snap, err := c.source.Snapshot()
	if err != nil {
		c.errors.Inc()
		c.logger.Warn("Ring snapshot failed", "error", err)

		return
	}

	dir := snap.Direction.String()
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, append([]string{dir}, labels...)...)
	}

	gauge(c.avail, float64(snap.Avail))
	gauge(c.hwPtr, float64(snap.HwPtr))
	gauge(c.applPtr, float64(snap.ApplPtr))
	gauge(c.bufferSize, float64(snap.BufferSize))
	gauge(c.boundary, float64(snap.Boundary))

	for s := alsa.SNDRV_PCM_STATE_OPEN; s <= alsa.SNDRV_PCM_STATE_DISCONNECTED; s++ {
		v := 0.0
		if s == snap.State {
			v = 1
		}
		gauge(c.state, v, s.String())
	}

	gauge(c.timestamp, float64(snap.Timestamp.UnixNano())/1e9)
}
