package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor collects tick-loop timings and traffic counters. Record methods
// are called from the simulation thread only; the Prometheus collectors
// behind them are safe for the scrape handler to read concurrently.
type Monitor struct {
	log *slog.Logger
	reg *prometheus.Registry

	frames     uint64
	frameTotal time.Duration
	frameMin   time.Duration
	frameMax   time.Duration

	lastIn  uint64
	lastOut uint64

	framesTotal      prometheus.Counter
	frameSeconds     prometheus.Gauge
	packetsInTotal   prometheus.Counter
	packetsOutTotal  prometheus.Counter
	playersConnected prometheus.Gauge
	persistDropped   prometheus.Gauge
}

func NewMonitor(log *slog.Logger) *Monitor {
	reg := prometheus.NewRegistry()

	m := &Monitor{
		log: log.With("component", "monitor"),
		reg: reg,
		framesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arena_frames_total",
			Help: "Simulation frames completed.",
		}),
		frameSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arena_frame_seconds",
			Help: "Duration of the most recent simulation frame.",
		}),
		packetsInTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arena_packets_in_total",
			Help: "Datagrams received.",
		}),
		packetsOutTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arena_packets_out_total",
			Help: "Datagrams sent.",
		}),
		playersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arena_players_connected",
			Help: "Live players in the world.",
		}),
		persistDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arena_persist_dropped_total",
			Help: "Persistence writes dropped because the queue was full.",
		}),
	}

	reg.MustRegister(m.framesTotal, m.frameSeconds, m.packetsInTotal,
		m.packetsOutTotal, m.playersConnected, m.persistDropped)

	return m
}

// RecordFrame accumulates one frame's duration into the report window.
func (m *Monitor) RecordFrame(d time.Duration) {
	m.frames++
	m.frameTotal += d
	if m.frameMin == 0 || d < m.frameMin {
		m.frameMin = d
	}
	if d > m.frameMax {
		m.frameMax = d
	}

	m.framesTotal.Inc()
	m.frameSeconds.Set(d.Seconds())
}

// RecordPackets takes the transport's absolute counters and feeds the
// deltas to Prometheus.
func (m *Monitor) RecordPackets(in, out uint64) {
	if in >= m.lastIn {
		m.packetsInTotal.Add(float64(in - m.lastIn))
	}
	if out >= m.lastOut {
		m.packetsOutTotal.Add(float64(out - m.lastOut))
	}
	m.lastIn, m.lastOut = in, out
}

func (m *Monitor) SetPlayers(n int) {
	m.playersConnected.Set(float64(n))
}

func (m *Monitor) SetPersistDropped(total uint64) {
	m.persistDropped.Set(float64(total))
}

// Report logs the frame statistics gathered since the previous report and
// resets the window.
func (m *Monitor) Report() {
	if m.frames == 0 {
		return
	}

	avg := m.frameTotal / time.Duration(m.frames)
	m.log.Info("performance report",
		"frames", m.frames,
		"frame_min", m.frameMin.String(),
		"frame_avg", avg.String(),
		"frame_max", m.frameMax.String(),
		"packets_in", m.lastIn,
		"packets_out", m.lastOut,
	)

	m.frames = 0
	m.frameTotal = 0
	m.frameMin = 0
	m.frameMax = 0
}

// Handler serves the Prometheus scrape endpoint.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
