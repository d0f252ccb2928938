// Package api exposes the simulator control surface: REST endpoints for
// lifecycle and reporting, Prometheus metrics, and the WebSocket event
// stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medflow/claimsim/internal/config"
	"github.com/medflow/claimsim/internal/events"
	"github.com/medflow/claimsim/internal/ingest"
	"github.com/medflow/claimsim/internal/model"
	"github.com/medflow/claimsim/internal/simulator"
	"github.com/medflow/claimsim/internal/websocket"
)

// Server is the HTTP control surface. Each simulation run gets a fresh
// pipeline; the server itself lives for the whole process.
type Server struct {
	cfg      *config.Config
	opts     simulator.Options
	bus      *events.EventBus
	streamer *websocket.EventStreamer
	parser   *ingest.Parser
	gatherer prometheus.Gatherer
	logger   *log.Logger

	httpServer *http.Server

	mu   sync.Mutex
	sim  *simulator.Simulator
	used bool
}

// NewServer builds the control surface. bus and gatherer may be nil.
func NewServer(cfg *config.Config, opts simulator.Options, bus *events.EventBus,
	gatherer prometheus.Gatherer) (*Server, error) {
	sim, err := simulator.New(cfg, opts)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      cfg,
		opts:     opts,
		bus:      bus,
		parser:   ingest.NewParser(),
		gatherer: gatherer,
		logger:   log.New(log.Writer(), "[API] ", log.LstdFlags),
		sim:      sim,
	}
	if bus != nil {
		s.streamer = websocket.NewEventStreamer()
	}
	return s, nil
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// CORS middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if req.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/simulator/start", s.handleStart).Methods("POST")
	api.HandleFunc("/simulator/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/simulator/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/simulator/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/simulator/rate", s.handleRate).Methods("PUT")
	api.HandleFunc("/claims/outstanding", s.handleOutstanding).Methods("GET")
	api.HandleFunc("/claims/{correlation_id}", s.handleClaim).Methods("GET")
	api.HandleFunc("/aging/report", s.handleAgingReport).Methods("GET")
	api.HandleFunc("/aging/critical", s.handleAgingCritical).Methods("GET")
	api.HandleFunc("/billing/summary", s.handleBillingSummary).Methods("GET")
	api.HandleFunc("/system/info", s.handleSystemInfo).Methods("GET")

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.streamer != nil {
		r.HandleFunc("/ws", s.streamer.HandleWebSocket)
	}
	return r
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start(port int) error {
	if s.streamer != nil {
		s.streamer.Run()
		s.streamer.Attach(s.bus)
	}

	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	s.logger.Printf("🚀 Control API listening on %s", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server, the event streamer, and any running
// simulation.
func (s *Server) Shutdown(ctx context.Context) error {
	if sim := s.current(); sim != nil && sim.Running() {
		sim.Stop()
	}
	if s.streamer != nil {
		s.streamer.Stop()
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// current returns the pipeline instance for the active (or most recent) run.
func (s *Server) current() *simulator.Simulator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sim
}

// --- Handlers ---

type startRequest struct {
	File   string        `json:"file,omitempty"`
	Claims []model.Claim `json:"claims,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.File == "" && len(req.Claims) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("either file or claims is required"))
		return
	}

	var claims []model.Claim
	var stats ingest.ParseStats
	if req.File != "" {
		var err error
		claims, stats, err = s.parser.ParseFile(req.File)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	} else {
		for _, c := range req.Claims {
			claim := c
			if err := ingest.ValidateClaim(&claim); err != nil {
				stats.Rejected++
				s.logger.Printf("⚠️  Claim rejected: %v", err)
				continue
			}
			stats.Accepted++
			claims = append(claims, claim)
		}
		stats.Lines = len(req.Claims)
	}
	if len(claims) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("no valid claims to ingest"))
		return
	}

	s.mu.Lock()
	if s.sim.Running() {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, fmt.Errorf("simulation already running"))
		return
	}
	// A stopped pipeline cannot be restarted; build a fresh one per run.
	if s.used {
		sim, err := simulator.New(s.cfg, s.opts)
		if err != nil {
			s.mu.Unlock()
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.sim = sim
	}
	if err := s.sim.Start(ingest.NewSliceSource(claims)); err != nil {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, err)
		return
	}
	s.used = true
	s.mu.Unlock()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "started",
		"claims": len(claims),
		"parse":  stats,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	sim := s.current()
	if !sim.Running() {
		writeError(w, http.StatusConflict, fmt.Errorf("simulation not running"))
		return
	}
	sim.Stop()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "stopped",
		"billing": sim.Billing().Summary(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.current().Status())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.current().Stats())
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate float64 `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Rate <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("rate must be > 0, got %v", req.Rate))
		return
	}
	s.current().SetIngestionRate(req.Rate)
	writeJSON(w, http.StatusOK, map[string]interface{}{"rate": req.Rate})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	correlationID := mux.Vars(r)["correlation_id"]
	rec, ok := s.current().Registry().Get(correlationID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown correlation id %s", correlationID))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleOutstanding(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.current().Registry().Outstanding())
}

func (s *Server) handleAgingReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.current().Aging().GenerateReport())
}

func (s *Server) handleAgingCritical(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.current().Aging().CriticalClaims())
}

func (s *Server) handleBillingSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.current().Billing().Summary())
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"system": s.current().SystemInfo(),
	}
	if s.streamer != nil {
		info["websocket"] = s.streamer.Statistics()
	}
	if s.bus != nil {
		info["event_subscribers"] = s.bus.SubscriberCount()
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"running": s.current().Running(),
		"time":    time.Now().UTC(),
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
