package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	alsa "github.com/gen2brain/alsa-mmap"
	"github.com/gen2brain/alsa-mmap/metrics"
)

func newMonitorCmd(a *app) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run a capture ring, log its state and peak level, and export Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.monitor(cmd.Context(), interval)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Interval between status lines")
	cmd.Flags().StringVar(&a.opts.MetricsListen, "metrics-listen", "", "Serve /metrics on this address, e.g. :9110")

	return cmd
}

// snapshotCache hands the latest ring snapshot to the metrics goroutine.
type snapshotCache struct {
	mu   sync.Mutex
	snap alsa.RingSnapshot
	err  error
}

func (c *snapshotCache) store(snap alsa.RingSnapshot, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snap, c.err = snap, err
}

func (c *snapshotCache) Snapshot() (alsa.RingSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snap, c.err
}

// peakMeter tracks the largest absolute sample since the last reset.
type peakMeter struct {
	peak  float64
	scale float64
}

func (m *peakMeter) add(v float64) {
	m.peak = max(m.peak, math.Abs(v))
}

// dBFS returns the peak relative to full scale and resets it.
func (m *peakMeter) dBFS() float64 {
	p := m.peak / m.scale
	m.peak = 0
	if p == 0 {
		return math.Inf(-1)
	}

	return 20 * math.Log10(p)
}

func (a *app) monitor(ctx context.Context, interval time.Duration) error {
	format := alsa.SNDRV_PCM_FORMAT_S16_LE
	if a.opts.Format != "" {
		var err error
		if format, err = parseFormat(a.opts.Format); err != nil {
			return err
		}
	}

	rate := uint32(a.opts.Rate)
	if rate == 0 {
		rate = 48000
	}

	channels := uint32(a.opts.Channels)
	if channels == 0 {
		channels = 2
	}

	pcm, err := a.openPCM(alsa.PCM_IN, rate, channels, format)
	if err != nil {
		return err
	}
	defer pcm.Close()

	if err := pcm.Prepare(); err != nil {
		return err
	}

	cache := &snapshotCache{}

	if a.opts.MetricsListen != "" {
		stop, err := a.serveMetrics(cache)
		if err != nil {
			return err
		}
		defer stop()
	}

	switch pcm.Format() {
	case alsa.SNDRV_PCM_FORMAT_S16_LE:
		err = monitorRing[int16](ctx, a, pcm, cache, interval, math.MaxInt16)
	case alsa.SNDRV_PCM_FORMAT_S32_LE:
		err = monitorRing[int32](ctx, a, pcm, cache, interval, math.MaxInt32)
	case alsa.SNDRV_PCM_FORMAT_FLOAT_LE:
		err = monitorRing[float32](ctx, a, pcm, cache, interval, 1)
	default:
		err = fmt.Errorf("format %s is not supported by monitor", pcm.Format())
	}

	if err != nil {
		return err
	}

	return pcm.Stop()
}

func monitorRing[S alsa.Sample](ctx context.Context, a *app, pcm *alsa.PCM, cache *snapshotCache,
	interval time.Duration, fullScale float64,
) error {
	ring, err := alsa.OpenDirectRing[S](pcm, alsa.Capture, alsa.WithLogger(a.logger))
	if err != nil {
		return err
	}
	defer ring.Close()

	if err := pcm.Start(); err != nil {
		return err
	}

	meter := &peakMeter{scale: fullScale}
	next := time.Now().Add(interval)

	for ctx.Err() == nil {
		recovered, err := service(pcm, a.logger)
		if err != nil {
			return err
		}

		if recovered {
			if err := pcm.Start(); err != nil {
				return err
			}
		}

		for v := range ring.Samples() {
			meter.add(float64(v))
		}

		snap, err := ring.Snapshot()
		cache.store(snap, err)

		if now := time.Now(); now.After(next) {
			next = now.Add(interval)
			a.logger.Info("Ring status",
				"state", snap.State,
				"hw_ptr", snap.HwPtr,
				"appl_ptr", snap.ApplPtr,
				"avail", snap.Avail,
				"peak_dbfs", math.Round(meter.dBFS()*10)/10,
				"xruns", pcm.Xruns())
		}
	}

	return nil
}

// serveMetrics starts the /metrics endpoint and returns a function that shuts it down.
func (a *app) serveMetrics(cache *snapshotCache) (func(), error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(metrics.NewRingCollector(a.pcmName(), cache, a.logger)); err != nil {
		return nil, err
	}
	reg.MustRegister(collectors.NewGoCollector())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              a.opts.MetricsListen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("Serving metrics", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
