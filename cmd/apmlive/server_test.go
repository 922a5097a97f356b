package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apmlive/apmlive-go-rewrite/internal/config"
	"github.com/apmlive/apmlive-go-rewrite/internal/export"
	"github.com/apmlive/apmlive-go-rewrite/internal/ledger"
	"github.com/apmlive/apmlive-go-rewrite/internal/session"
	"github.com/apmlive/apmlive-go-rewrite/internal/stats"
	"github.com/apmlive/apmlive-go-rewrite/internal/websocket"
)

func newTestServer(t *testing.T) (*httptest.Server, *session.Session, *export.Exporter) {
	t.Helper()
	cfg := &config.Config{
		DataDir:         t.TempDir(),
		Window:          60 * time.Second,
		PollInterval:    10 * time.Millisecond,
		ExportQueueSize: 16,
		TextFields:      config.DefaultTextFields(),
	}
	exporter, err := export.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = exporter.Close(ctx)
	})

	sess := session.New(ledger.New(cfg.Window), cfg.PollInterval)
	hub := websocket.NewHub(sess.Latest)

	srv := newHTTPServer(cfg, hub, sess, exporter, []export.Format{export.FormatJSON})
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts, sess, exporter
}

func TestStatsEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got stats.Statistics
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Zero(t, got.TotalActions)
}

func TestSessionControlEndpoints(t *testing.T) {
	ts, sess, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/session/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, session.StateRecording, sess.State())

	require.NoError(t, sess.Record(time.Now()))

	resp, err = http.Post(ts.URL+"/api/session/stop", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, session.StateIdle, sess.State())

	var final stats.Statistics
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&final))
	assert.Equal(t, uint64(1), final.TotalActions)
}

func TestResetEndpoint(t *testing.T) {
	ts, sess, _ := newTestServer(t)
	sess.Start()
	require.NoError(t, sess.Record(time.Now()))

	resp, err := http.Post(ts.URL+"/api/session/reset", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	final := sess.Stop()
	assert.Zero(t, final.TotalActions)
}

func TestExportEndpointQueuesWrite(t *testing.T) {
	ts, _, exporter := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/export", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, exporter.Close(ctx))

	assert.FileExists(t, exporter.JSONPath())
}
