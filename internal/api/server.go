package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"stockfeed-service/internal/feed"
	"stockfeed-service/internal/ingest"
	"stockfeed-service/internal/instruments"
)

// TickCache looks up the most recent cached tick per instrument. Implemented
// by storage.RedisAdapter.
type TickCache interface {
	GetLatestTick(exchange, token string) (*feed.TickRecord, error)
}

// Server is the thin HTTP adapter over the ingestion core: start/stop/status
// commands plus instrument and latest-tick lookup and a health probe.
type Server struct {
	service   *ingest.Service
	catalog   *instruments.Catalog
	ticks     TickCache
	baseCreds feed.Credentials

	httpServer *http.Server
}

// startRequest carries the per-session secrets and an optional instrument
// set; when the set is empty the catalog's default subscription is used.
type startRequest struct {
	TOTPCode    string            `json:"totp_code"`
	MPIN        string            `json:"mpin,omitempty"`
	Instruments []feed.Instrument `json:"instruments,omitempty"`
}

// NewServer wires the HTTP surface. baseCreds holds the configured provider
// identity; the TOTP code and MPIN are filled in per start request. ticks may
// be nil when no cache is configured.
func NewServer(port string, service *ingest.Service, catalog *instruments.Catalog, ticks TickCache, baseCreds feed.Credentials) *Server {
	server := &Server{
		service:   service,
		catalog:   catalog,
		ticks:     ticks,
		baseCreds: baseCreds,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/ingestion/start", server.handleStart)
	mux.HandleFunc("/api/ingestion/stop", server.handleStop)
	mux.HandleFunc("/api/ingestion/status", server.handleStatus)
	mux.HandleFunc("/api/instruments", server.handleInstruments)
	mux.HandleFunc("/api/ticks/latest", server.handleLatestTick)
	mux.HandleFunc("/health", server.handleHealth)

	server.httpServer = &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	log.Printf("🌐 HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var request startRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if request.TOTPCode == "" {
		writeError(w, http.StatusBadRequest, "totp_code is required")
		return
	}

	creds := s.baseCreds
	creds.TOTPCode = request.TOTPCode
	creds.MPIN = request.MPIN

	instrumentSet := request.Instruments
	if len(instrumentSet) == 0 {
		instrumentSet = s.catalog.DefaultSubscription()
	}

	result := s.service.StartFeed(creds, instrumentSet)

	status := http.StatusOK
	if result.Status == "error" {
		// Authentication failures are 401, subscription failures 400.
		status = http.StatusBadRequest
		if result.Auth != nil && !result.Auth.Success {
			status = http.StatusUnauthorized
		}
	}
	writeJSON(w, status, result)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	s.service.Stop()
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Ingestion stopped",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.service.Status()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleInstruments(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	results, err := s.catalog.Search(query, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instruments": results,
		"count":       len(results),
	})
}

func (s *Server) handleLatestTick(w http.ResponseWriter, r *http.Request) {
	if s.ticks == nil {
		writeError(w, http.StatusServiceUnavailable, "tick cache not configured")
		return
	}

	exchange := r.URL.Query().Get("exchange")
	token := r.URL.Query().Get("token")
	if exchange == "" || token == "" {
		writeError(w, http.StatusBadRequest, "exchange and token are required")
		return
	}

	record, err := s.ticks.GetLatestTick(exchange, token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no cached tick for %s:%s", exchange, token))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"is_running": s.service.IsRunning(),
		"timestamp":  time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("⚠️ Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": message})
}
