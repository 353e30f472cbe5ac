package daemon

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/labmgr/labmgr/internal/cloud"
	"github.com/labmgr/labmgr/internal/labmanager"
	"github.com/labmgr/labmgr/internal/lifecycle"
)

// Metrics collects Prometheus counters and histograms for labmgrd.
type Metrics struct {
	registry            *prometheus.Registry
	machineActionsTotal *prometheus.CounterVec
	bringUpSeconds      *prometheus.HistogramVec
	tearDownTotal       *prometheus.CounterVec
	launchRejectedTotal *prometheus.CounterVec
	onlineAgents        *prometheus.GaugeVec
}

var _ lifecycle.Metrics = (*Metrics)(nil)

// NewMetrics constructs a metrics registry and registers all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	machineActionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "labmgr",
			Subsystem: "machine",
			Name:      "actions_total",
			Help:      "Machine and configuration actions sent to Lab Manager.",
		},
		[]string{"cloud", "action", "result"},
	)
	bringUpSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "labmgr",
			Subsystem: "agent",
			Name:      "bring_up_duration_seconds",
			Help:      "Time from bring-up start to agent launch, including the launch delay.",
			Buckets:   []float64{1, 5, 10, 30, 60, 90, 120, 180, 300, 600, 1200},
		},
		[]string{"cloud", "result"},
	)
	tearDownTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "labmgr",
			Subsystem: "agent",
			Name:      "tear_down_total",
			Help:      "Teardown sequences by outcome.",
		},
		[]string{"cloud", "result"},
	)
	launchRejectedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "labmgr",
			Subsystem: "agent",
			Name:      "launch_rejected_total",
			Help:      "Launch requests refused before bring-up started.",
		},
		[]string{"cloud", "reason"},
	)
	onlineAgents := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "labmgr",
			Subsystem: "cloud",
			Name:      "online_agents",
			Help:      "Agents currently counted online per cloud.",
		},
		[]string{"cloud"},
	)

	registry.MustRegister(
		machineActionsTotal,
		bringUpSeconds,
		tearDownTotal,
		launchRejectedTotal,
		onlineAgents,
	)

	return &Metrics{
		registry:            registry,
		machineActionsTotal: machineActionsTotal,
		bringUpSeconds:      bringUpSeconds,
		tearDownTotal:       tearDownTotal,
		launchRejectedTotal: launchRejectedTotal,
		onlineAgents:        onlineAgents,
	}
}

// Handler returns an HTTP handler that serves the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAction(cloud, action string, err error) {
	if m == nil {
		return
	}
	m.machineActionsTotal.WithLabelValues(cloud, action, resultLabel(err)).Inc()
}

func (m *Metrics) ObserveBringUp(cloud string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	seconds := elapsed.Seconds()
	if seconds < 0 {
		return
	}
	m.bringUpSeconds.WithLabelValues(cloud, resultLabel(err)).Observe(seconds)
}

func (m *Metrics) ObserveTearDown(cloud string, err error) {
	if m == nil {
		return
	}
	m.tearDownTotal.WithLabelValues(cloud, resultLabel(err)).Inc()
}

func (m *Metrics) IncLaunchRejected(cloud, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.launchRejectedTotal.WithLabelValues(cloud, reason).Inc()
}

func (m *Metrics) SetOnlineAgents(cloud string, count int) {
	if m == nil {
		return
	}
	m.onlineAgents.WithLabelValues(cloud).Set(float64(count))
}

// resultLabel keeps the result label set small: ok, or a coarse error class.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, labmanager.ErrConnection):
		return "connection_error"
	case errors.Is(err, labmanager.ErrConfigurationNotFound), errors.Is(err, labmanager.ErrMachineNotFound):
		return "not_found"
	case errors.Is(err, lifecycle.ErrMachineState):
		return "machine_state"
	case errors.Is(err, cloud.ErrCapacity):
		return "capacity"
	default:
		return "error"
	}
}
