// Copyright (c) 2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/decred/coinview"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsNamespace prefixes the names of every exported metric.
const metricsNamespace = "coinreplay"

// newMetricsRegistry returns a registry exporting the pipeline statistics
// along with the runtime and process metrics.
func newMetricsRegistry(pipeline *coinview.Pipeline) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		coinview.NewCollector(metricsNamespace, pipeline.Cache(),
			pipeline.Committer()),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// metricsServer serves the prometheus metrics of a pipeline over HTTP.
type metricsServer struct {
	listener net.Listener
	server   *http.Server
}

// startMetricsServer listens on the provided address and serves the metrics
// of the pipeline until it is shut down.  A shutdown of the process is
// requested when serving fails.
func startMetricsServer(listen string, pipeline *coinview.Pipeline) (*metricsServer, error) {
	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(newMetricsRegistry(pipeline),
		promhttp.HandlerOpts{}))
	s := &metricsServer{
		listener: listener,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	go func() {
		err := s.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			rplyLog.Errorf("Metrics server failed: %v", err)
			requestShutdown()
		}
	}()
	rplyLog.Infof("Metrics server listening on %s", listener.Addr())
	return s, nil
}

// Addr returns the address the server listens on.
func (s *metricsServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Close stops the server.
func (s *metricsServer) Close() error {
	return s.server.Close()
}
