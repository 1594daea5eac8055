package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/dps_filemanager/cmd/internal/logcfg"
	"github.com/danmuck/dps_filemanager/src/api/transport"
	"github.com/danmuck/dps_filemanager/src/backend"
	"github.com/danmuck/dps_filemanager/src/metrics"
	logs "github.com/danmuck/smplog"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	logcfg.Setup()

	addr := flag.String("addr", ":9000", "TCP listen address")
	wsAddr := flag.String("ws-addr", ":9001", "WebSocket listen address, empty disables")
	metricsAddr := flag.String("metrics-addr", ":9100", "metrics listen address, empty disables")
	root := flag.String("root", "", "served directory (overrides config)")
	configPath := flag.String("config", "", "TOML config file")
	writeConfig := flag.String("write-config", "", "write the effective config to this file and exit")
	flag.Parse()

	cfg := backend.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = backend.LoadConfig(*configPath); err != nil {
			logs.Fatalf(err, "failed to load config")
		}
	}
	if *root != "" {
		cfg.Root = *root
	}
	if *writeConfig != "" {
		if err := backend.WriteConfig(*writeConfig, cfg); err != nil {
			logs.Fatalf(err, "failed to write config")
		}
		logs.Infof("config written to %s", *writeConfig)
		return
	}

	reg := prometheus.NewRegistry()
	server, err := backend.New(cfg, backend.WithMetrics(metrics.NewBackendMetrics(reg)))
	if err != nil {
		logs.Fatalf(err, "failed to open root")
	}

	exit := make(chan any)
	handlers := []transport.TransportHandler{transport.NewTCPHandler(*addr, exit)}
	if *wsAddr != "" {
		handlers = append(handlers, transport.NewWSHandler(*wsAddr, "/filemanager", exit))
	}
	for _, h := range handlers {
		if err := h.ListenAndAccept(); err != nil {
			logs.Fatalf(err, "failed to listen")
		}
		go server.Serve(h)
		logs.Infof("file server listening on %s (root: %s)", h.Addr(), cfg.Root)
	}

	var ms *metrics.Server
	if *metricsAddr != "" {
		ms = metrics.NewServer(*metricsAddr, reg)
		if err := ms.Start(); err != nil {
			logs.Fatalf(err, "failed to start metrics server")
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logs.Infof("shutting down")

	close(exit)
	for _, h := range handlers {
		h.Close()
	}
	if ms != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		ms.Shutdown(ctx)
		cancel()
	}
	if err := server.Close(); err != nil {
		logs.Warnf("close root: %v", err)
	}
}
