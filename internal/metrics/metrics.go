package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "previewd"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	registryRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "records",
			Help:      "Number of server records currently in the registry.",
		},
	)
	registryWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "writes_total",
			Help:      "Registry file commits by result.",
		}, []string{"result"},
	)
	registryStaleRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "stale_removed_total",
			Help:      "Records removed by stale cleanup.",
		},
	)
	discoveryScans = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "scans_total",
			Help:      "Discovery scans by result.",
		}, []string{"result"},
	)
	discoveryRegistered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "registered_total",
			Help:      "Servers added to the registry by discovery, by source.",
		}, []string{"source"},
	)
	validationRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "rejections_total",
			Help:      "Process validation rejections by reason.",
		}, []string{"reason"},
	)
	serverStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "starts_total",
			Help:      "Dev server start attempts by result.",
		}, []string{"result"},
	)
	serverStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "stops_total",
			Help:      "Dev servers stopped on request or by idle timeout.",
		},
	)
	serverPortChanges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "port_changes_total",
			Help:      "Ports corrected from dev server output.",
		},
	)
	serverLogLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "log_lines_total",
			Help:      "Captured dev server output lines by stream.",
		}, []string{"stream"},
	)
	serverCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "cpu_percent",
			Help:      "Last sampled CPU usage of a managed dev server.",
		}, []string{"project"},
	)
	serverMemory = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "memory_rss_bytes",
			Help:      "Last sampled resident memory of a managed dev server.",
		}, []string{"project"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		registryRecords, registryWrites, registryStaleRemoved,
		discoveryScans, discoveryRegistered, validationRejections,
		serverStarts, serverStops, serverPortChanges, serverLogLines,
		serverCPU, serverMemory,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered with this registerer: keep the existing one
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func SetRegistryRecords(n int) {
	if regOK.Load() {
		registryRecords.Set(float64(n))
	}
}

func IncRegistryWrite(ok bool) {
	if regOK.Load() {
		registryWrites.WithLabelValues(result(ok)).Inc()
	}
}

func AddStaleRemoved(n int) {
	if regOK.Load() && n > 0 {
		registryStaleRemoved.Add(float64(n))
	}
}

func IncDiscoveryScan(ok bool) {
	if regOK.Load() {
		discoveryScans.WithLabelValues(result(ok)).Inc()
	}
}

func IncDiscoveryRegistered(source string) {
	if regOK.Load() {
		discoveryRegistered.WithLabelValues(source).Inc()
	}
}

func IncValidationRejection(reason string) {
	if regOK.Load() {
		validationRejections.WithLabelValues(reason).Inc()
	}
}

func IncServerStart(ok bool) {
	if regOK.Load() {
		serverStarts.WithLabelValues(result(ok)).Inc()
	}
}

func IncServerStop() {
	if regOK.Load() {
		serverStops.Inc()
	}
}

func IncPortChange() {
	if regOK.Load() {
		serverPortChanges.Inc()
	}
}

func IncLogLine(stream string) {
	if regOK.Load() {
		serverLogLines.WithLabelValues(stream).Inc()
	}
}

// SetServerUsage publishes the last resource sample for a project.
func SetServerUsage(project string, u Usage) {
	if regOK.Load() {
		serverCPU.WithLabelValues(project).Set(u.CPUPercent)
		serverMemory.WithLabelValues(project).Set(float64(u.MemoryRSS))
	}
}

// ForgetServer drops the per-project gauges of a server that stopped.
func ForgetServer(project string) {
	if regOK.Load() {
		serverCPU.DeleteLabelValues(project)
		serverMemory.DeleteLabelValues(project)
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
