package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Event metrics
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intentgate_events_total",
			Help: "Total mechanical events processed",
		},
		[]string{"kind"},
	)

	EventDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intentgate_event_duration_seconds",
			Help:    "Event pipeline duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"kind"},
	)

	// Decision metrics
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intentgate_decisions_total",
			Help: "Total decisions produced by the engine",
		},
		[]string{"reason", "launched"},
	)

	DecisionReplaysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "intentgate_decision_replays_total",
			Help: "Decisions replayed for re-delivered events",
		},
	)

	QuotaRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "intentgate_quota_remaining",
			Help: "Live remaining shared bypass quota (-1 when unlimited)",
		},
	)

	// Invariant metrics
	InvariantViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intentgate_invariant_violations_total",
			Help: "Rejected illegal session transitions",
		},
		[]string{"op"},
	)

	StaleStateRacesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "intentgate_stale_state_races_total",
			Help: "Overlay overrides applied over stale persisted snapshots",
		},
	)

	SaveConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "intentgate_save_conflicts_total",
			Help: "Snapshot saves retried after a version conflict",
		},
	)

	// Host notification metrics
	HostNotifyFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intentgate_host_notify_failures_total",
			Help: "Failed launch deliveries to the host surface",
		},
		[]string{"notifier"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		EventsTotal,
		EventDuration,
		DecisionsTotal,
		DecisionReplaysTotal,
		QuotaRemaining,
		InvariantViolationsTotal,
		StaleStateRacesTotal,
		SaveConflictsTotal,
		HostNotifyFailuresTotal,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
