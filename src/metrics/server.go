package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	logs "github.com/danmuck/smplog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes a registry at /metrics for Prometheus to scrape.
type Server struct {
	server       *http.Server
	listener     net.Listener
	address      string
	shutdownOnce sync.Once
}

func NewServer(address string, reg *prometheus.Registry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	return &Server{
		address: address,
		server: &http.Server{
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	s.listener = ln
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Warnf("metrics.Serve(%s): %v", s.address, err)
		}
	}()
	logs.Infof("metrics: serving http://%s/metrics", s.Addr())
	return nil
}

func (s *Server) Addr() string {
	if s.listener == nil {
		return s.address
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.server.Shutdown(ctx)
	})
	return err
}
