// Package metrics provides real-time ingest metrics for the client.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// rateWindow is the span used for the frame rate.
const rateWindow = 60 * time.Second

// Snapshot is a point-in-time view of ingest metrics.
type Snapshot struct {
	FramesTotal      int64            `json:"frames_total"`
	UpdatesApplied   int64            `json:"updates_applied"`
	DecodeErrors     int64            `json:"decode_errors"`
	IgnoredByType    map[string]int64 `json:"ignored_by_type"`
	Connects         int64            `json:"connects"`
	Disconnects      int64            `json:"disconnects"`
	Restarts         int64            `json:"restarts"`
	LastSignalCount  int              `json:"last_signal_count"`
	FrameRate        float64          `json:"frame_rate"` // frames per second
	Uptime           time.Duration    `json:"uptime"`
	WebSocketStatus  string           `json:"websocket_status"`
	LastFrameAt      time.Time        `json:"last_frame_at"`
	ProducerStatus   string           `json:"producer_status"`
	ProducerSignals  int              `json:"producer_signals"`
	ProducerProbedAt time.Time        `json:"producer_probed_at"`
}

type collectors struct {
	frames      prometheus.Counter
	updates     prometheus.Counter
	decodeErrs  prometheus.Counter
	ignored     *prometheus.CounterVec
	connects    prometheus.Counter
	disconnects prometheus.Counter
	restarts    prometheus.Counter
	signals     prometheus.Gauge
	connected   prometheus.Gauge
}

func newCollectors() collectors {
	return collectors{
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apexwatch_frames_total", Help: "WebSocket frames received",
		}),
		updates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apexwatch_updates_applied_total", Help: "Update envelopes applied to state",
		}),
		decodeErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apexwatch_decode_errors_total", Help: "Frames dropped as malformed",
		}),
		ignored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apexwatch_envelopes_ignored_total", Help: "Well-formed envelopes of a type other than update",
		}, []string{"type"}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apexwatch_connects_total", Help: "Successful WebSocket connections",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apexwatch_disconnects_total", Help: "Connection losses and dial failures",
		}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apexwatch_restarts_total", Help: "Full client restarts",
		}),
		signals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "apexwatch_signals", Help: "Signals in the last applied update",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "apexwatch_connected", Help: "1 while the WebSocket is connected",
		}),
	}
}

func (c collectors) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.frames, c.updates, c.decodeErrs, c.ignored,
		c.connects, c.disconnects, c.restarts, c.signals, c.connected,
	}
}

// Tracker provides thread-safe ingest metrics tracking. It satisfies ingest.Recorder.
type Tracker struct {
	mu               sync.RWMutex
	framesTotal      int64
	updatesApplied   int64
	decodeErrors     int64
	ignoredByType    map[string]int64
	connects         int64
	disconnects      int64
	restarts         int64
	lastSignalCount  int
	startTime        time.Time
	frameTimestamps  []time.Time // for rate calculation
	wsStatus         string
	producerStatus   string
	producerSignals  int
	producerProbedAt time.Time
	now              func() time.Time

	prom     collectors
	registry *prometheus.Registry
}

// NewTracker creates a Tracker with its own Prometheus registry.
func NewTracker() *Tracker {
	t := &Tracker{
		ignoredByType:   make(map[string]int64),
		startTime:       time.Now(),
		frameTimestamps: make([]time.Time, 0, 1000),
		wsStatus:        "connecting",
		now:             time.Now,
		prom:            newCollectors(),
		registry:        prometheus.NewRegistry(),
	}
	t.registry.MustRegister(t.prom.all()...)
	return t
}

// Registry exposes the tracker's collectors.
func (t *Tracker) Registry() *prometheus.Registry {
	return t.registry
}

// Handler serves the tracker's registry in the Prometheus exposition format.
func (t *Tracker) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// FrameReceived counts one inbound frame.
func (t *Tracker) FrameReceived() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.framesTotal++
	now := t.now()
	t.frameTimestamps = append(t.frameTimestamps, now)
	t.pruneLocked(now)

	t.prom.frames.Inc()
}

// pruneLocked drops timestamps older than the rate window.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-rateWindow)
	validIdx := 0
	for validIdx < len(t.frameTimestamps) && !t.frameTimestamps[validIdx].After(cutoff) {
		validIdx++
	}
	if validIdx > 0 {
		t.frameTimestamps = t.frameTimestamps[validIdx:]
	}
}

// UpdateApplied counts an applied update carrying the given number of signals.
func (t *Tracker) UpdateApplied(signals int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updatesApplied++
	t.lastSignalCount = signals

	t.prom.updates.Inc()
	t.prom.signals.Set(float64(signals))
}

// EnvelopeIgnored counts a well-formed envelope of another type.
func (t *Tracker) EnvelopeIgnored(msgType string) {
	if msgType == "" {
		msgType = "none"
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ignoredByType[msgType]++

	t.prom.ignored.WithLabelValues(msgType).Inc()
}

// DecodeFailed counts a malformed frame.
func (t *Tracker) DecodeFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.decodeErrors++

	t.prom.decodeErrs.Inc()
}

// Connected records a successful connection.
func (t *Tracker) Connected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	t.wsStatus = "connected"

	t.prom.connects.Inc()
	t.prom.connected.Set(1)
}

// Disconnected records a lost connection or failed dial.
func (t *Tracker) Disconnected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnects++
	t.wsStatus = "disconnected"

	t.prom.disconnects.Inc()
	t.prom.connected.Set(0)
}

// Restarted records a full client restart.
func (t *Tracker) Restarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.restarts++
	t.wsStatus = "connecting"

	t.prom.restarts.Inc()
}

// SetProducerStatus records the outcome of a producer probe.
func (t *Tracker) SetProducerStatus(status string, signals int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.producerStatus = status
	t.producerSignals = signals
	t.producerProbedAt = t.now()
}

// Snapshot returns a point-in-time snapshot of metrics.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()

	// frames per second over the last 60s
	frameRate := 0.0
	cutoff := now.Add(-rateWindow)
	recent := 0
	var oldest time.Time
	for _, ts := range t.frameTimestamps {
		if ts.After(cutoff) {
			if recent == 0 {
				oldest = ts
			}
			recent++
		}
	}
	if recent > 0 {
		if d := now.Sub(oldest).Seconds(); d > 0 {
			frameRate = float64(recent) / d
		}
	}

	ignoredCopy := make(map[string]int64, len(t.ignoredByType))
	for k, v := range t.ignoredByType {
		ignoredCopy[k] = v
	}

	var lastFrame time.Time
	if n := len(t.frameTimestamps); n > 0 {
		lastFrame = t.frameTimestamps[n-1]
	}

	return Snapshot{
		FramesTotal:      t.framesTotal,
		UpdatesApplied:   t.updatesApplied,
		DecodeErrors:     t.decodeErrors,
		IgnoredByType:    ignoredCopy,
		Connects:         t.connects,
		Disconnects:      t.disconnects,
		Restarts:         t.restarts,
		LastSignalCount:  t.lastSignalCount,
		FrameRate:        frameRate,
		Uptime:           now.Sub(t.startTime),
		WebSocketStatus:  t.wsStatus,
		LastFrameAt:      lastFrame,
		ProducerStatus:   t.producerStatus,
		ProducerSignals:  t.producerSignals,
		ProducerProbedAt: t.producerProbedAt,
	}
}
