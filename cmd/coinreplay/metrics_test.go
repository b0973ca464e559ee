// Copyright (c) 2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/decred/coinview"
)

// TestMetricsServer ensures the pipeline metrics are served over HTTP.
func TestMetricsServer(t *testing.T) {
	t.Parallel()

	pipeline, err := coinview.NewPipeline(&coinview.PipelineConfig{
		Store: coinview.NewMemStore(),
	})
	if err != nil {
		t.Fatalf("unable to create pipeline: %v", err)
	}

	server, err := startMetricsServer("127.0.0.1:0", pipeline)
	if err != nil {
		t.Fatalf("unable to start metrics server: %v", err)
	}
	defer server.Close()

	resp, err := http.Get("http://" + server.Addr().String() + "/metrics")
	if err != nil {
		t.Fatalf("unable to fetch metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("unable to read metrics: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	for _, name := range []string{
		"coinreplay_coinview_cache_hits_total",
		"coinreplay_coinview_pending_entries",
		"coinreplay_coinview_store_height",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metric %q not served", name)
		}
	}
}
