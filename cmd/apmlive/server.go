package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/apmlive/apmlive-go-rewrite/internal/config"
	"github.com/apmlive/apmlive-go-rewrite/internal/export"
	"github.com/apmlive/apmlive-go-rewrite/internal/session"
	"github.com/apmlive/apmlive-go-rewrite/internal/websocket"
)

// newHTTPServer wires the local control and live-view surface: current
// statistics, session control, export trigger, the websocket feed, and the
// Prometheus endpoint.
func newHTTPServer(cfg *config.Config, hub *websocket.Hub, sess *session.Session, exporter *export.Exporter, formats []export.Format) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sess.Latest())
	})

	mux.HandleFunc("GET /api/session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"state": sess.State().String()})
	})

	mux.HandleFunc("POST /api/session/start", func(w http.ResponseWriter, r *http.Request) {
		id := sess.Start()
		writeJSON(w, http.StatusOK, map[string]string{"session": id.String()})
	})

	mux.HandleFunc("POST /api/session/stop", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sess.Stop())
	})

	mux.HandleFunc("POST /api/session/reset", func(w http.ResponseWriter, r *http.Request) {
		sess.Reset()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/export", func(w http.ResponseWriter, r *http.Request) {
		err := exporter.Submit(sess.Latest(), formats...)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusAccepted)
		case errors.Is(err, export.ErrQueueFull):
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		}
	})

	mux.HandleFunc("/ws", hub.HandleWebSocket)
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}
