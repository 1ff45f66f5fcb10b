package core

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// HealthLogger combines structured JSON logging with a Prometheus registry
// of executor-specific counters and gauges, in the same pairing the rest of
// this codebase's ancestry uses for node health reporting.
type HealthLogger struct {
	exec *Executor
	log  *logrus.Logger

	registry *prometheus.Registry

	admittedGauge   prometheus.Gauge
	rejectedCounter *prometheus.CounterVec
	completedGauge  prometheus.Gauge
	runningGauge    prometheus.Gauge
	stdoutDropped   prometheus.Counter
	decodeErrors    prometheus.Counter
}

// NewHealthLogger builds a HealthLogger over exec, logging through log (a
// nil log falls back to logrus's standard logger).
func NewHealthLogger(exec *Executor, log *logrus.Logger) *HealthLogger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	reg := prometheus.NewRegistry()

	h := &HealthLogger{exec: exec, log: log, registry: reg}

	h.admittedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "executor_admitted_total",
		Help: "Cumulative bundles admitted for execution",
	})
	h.rejectedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "executor_rejected_total",
		Help: "Total bundles rejected at admission, by reason",
	}, []string{"reason"})
	h.completedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "executor_completed_total",
		Help: "Cumulative programs that reached a terminal exit code",
	})
	h.runningGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "executor_running_programs",
		Help: "Programs currently executing",
	})
	h.stdoutDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "executor_stdout_forward_dropped_total",
		Help: "Stdout chunks that failed to send over the reply channel",
	})
	h.decodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "executor_datagram_decode_errors_total",
		Help: "Inbound datagrams that failed to decode",
	})

	reg.MustRegister(
		h.admittedGauge,
		h.rejectedCounter,
		h.completedGauge,
		h.runningGauge,
		h.stdoutDropped,
		h.decodeErrors,
	)
	return h
}

// RecordRejection increments the rejected counter under reason's label.
func (h *HealthLogger) RecordRejection(reason AdmitError) {
	h.rejectedCounter.WithLabelValues(reason.Error()).Inc()
}

// RecordDecodeError increments the decode-error counter.
func (h *HealthLogger) RecordDecodeError() {
	h.decodeErrors.Inc()
}

// RecordStdoutDropped increments the dropped-stdout-chunk counter.
func (h *HealthLogger) RecordStdoutDropped() {
	h.stdoutDropped.Inc()
}

// Sample pulls a fresh AdmissionStats snapshot from the bound Executor and
// updates every gauge/counter that tracks it.
func (h *HealthLogger) Sample() AdmissionStats {
	stats := h.exec.Stats()
	h.runningGauge.Set(float64(stats.Running))
	h.admittedGauge.Set(float64(stats.Admitted))
	h.completedGauge.Set(float64(stats.Completed))
	return stats
}

// RunSampler periodically calls Sample until ctx is cancelled.
func (h *HealthLogger) RunSampler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			stats := h.Sample()
			h.log.WithFields(logrus.Fields{
				"admitted":  stats.Admitted,
				"rejected":  stats.Rejected,
				"running":   stats.Running,
				"completed": stats.Completed,
			}).Debug("executor stats sampled")
		case <-ctx.Done():
			return
		}
	}
}

// StartMetricsServer exposes the Prometheus registry on addr's /metrics
// endpoint, returning the http.Server so the caller controls its lifecycle.
func (h *HealthLogger) StartMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.log.WithError(err).Error("metrics server stopped")
		}
	}()
	return srv
}
