package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	logger "github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

// MetricsServer exposes a scrape handler at /metrics.
type MetricsServer struct {
	srv *http.Server
}

// NewMetricsServer creates the server; it does not listen yet.
func NewMetricsServer(addr string, h http.Handler) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	return &MetricsServer{srv: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}}
}

// Start binds the address and serves in the background. A bind failure is
// returned synchronously.
func (s *MetricsServer) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	logger.Infof("Metrics: serving /metrics on %s.", ln.Addr())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics: server stopped: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *MetricsServer) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
