// Package metrics exposes the daemon's Prometheus instrumentation.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesProcessed counts inbound messages by type and outcome.
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fermentd_messages_processed_total",
		Help: "Inbound transport messages processed, by message type and outcome.",
	}, []string{"type", "outcome"})

	// CommandsScheduled counts set-point commands created by schedule expansion.
	CommandsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fermentd_commands_scheduled_total",
		Help: "Set-point commands persisted by schedule expansion.",
	})

	// ActionsPublished counts actuation orders sent to devices.
	ActionsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fermentd_hardware_actions_published_total",
		Help: "Hardware on/off orders published to device topics.",
	}, []string{"action"})
)

// Server exposes the /metrics endpoint.
type Server struct {
	srv *http.Server
}

// NewServer creates a metrics server listening on addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Start blocks serving until Shutdown is called.
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
