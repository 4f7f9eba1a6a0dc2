// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/finetize/trading-sim/internal/data"
	"github.com/finetize/trading-sim/internal/optimize"
	"github.com/finetize/trading-sim/internal/repository"
	"github.com/finetize/trading-sim/internal/sweep"
	"github.com/finetize/trading-sim/pkg/types"
)

// Simulator runs single-symbol simulations. Implemented by
// simulator.Engine.
type Simulator interface {
	Run(ctx context.Context, cfg *types.SimulationConfig, symbol string) (*types.SimulationResult, error)
}

// Server is the HTTP/WebSocket API server.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*Client
	dataStore  *data.Store
	db         *repository.Database // nil unless a database is configured
	engine     Simulator
	runner     *sweep.Runner
	optimizer  *optimize.Optimizer
	metrics    *Metrics
	sweeps     map[string]*SweepState
}

// Client represents a WebSocket client.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// SweepState tracks a running or finished market sweep.
type SweepState struct {
	ID      string
	Config  *types.SimulationConfig
	Status  string
	Started time.Time
	Done    int
	Total   int
	Result  *types.SweepResult
}

// Message represents a WebSocket message.
type Message struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"` // request, response, event
	Method    string      `json:"method"`
	Payload   interface{} `json:"payload,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewServer creates a new API server.
func NewServer(logger *zap.Logger, config *types.ServerConfig, dataStore *data.Store, db *repository.Database, engine Simulator, runner *sweep.Runner, optimizer *optimize.Optimizer, metrics *Metrics) *Server {
	server := &Server{
		logger:    logger,
		config:    config,
		router:    mux.NewRouter(),
		clients:   make(map[string]*Client),
		dataStore: dataStore,
		db:        db,
		engine:    engine,
		runner:    runner,
		optimizer: optimizer,
		metrics:   metrics,
		sweeps:    make(map[string]*SweepState),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures HTTP routes.
func (s *Server) setupRoutes() {
	// Health check
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	// Data endpoints
	s.router.HandleFunc("/api/v1/data/symbols", s.handleGetSymbols).Methods("GET")
	s.router.HandleFunc("/api/v1/data/history/{symbol}", s.handleGetHistory).Methods("GET")

	// Simulation endpoints
	s.router.HandleFunc("/api/v1/simulate", s.handleSimulate).Methods("POST")
	s.router.HandleFunc("/api/v1/optimize", s.handleOptimize).Methods("POST")
	s.router.HandleFunc("/api/v1/sweep", s.handleRunSweep).Methods("POST")
	s.router.HandleFunc("/api/v1/sweep/{id}", s.handleGetSweep).Methods("GET")

	// WebSocket
	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Router exposes the route table for composition and tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server", zap.String("addr", addr))

	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, client := range s.clients {
		client.Conn.Close()
	}
	s.mu.Unlock()

	return s.httpServer.Shutdown(ctx)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// handleGetSymbols returns the tradable universe.
func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	var symbols []string

	if s.db != nil {
		entries, err := s.db.Universe(r.Context(), data.UniverseFilter{})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for _, e := range entries {
			symbols = append(symbols, e.Symbol)
		}
	} else {
		symbols = s.dataStore.Symbols()
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"symbols": symbols,
		"count":   len(symbols),
	})
}

// handleGetHistory returns the stored daily bars for a symbol.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol := vars["symbol"]

	days := 365
	if d := r.URL.Query().Get("days"); d != "" {
		if _, err := fmt.Sscanf(d, "%d", &days); err != nil || days < 1 {
			http.Error(w, "invalid days parameter", http.StatusBadRequest)
			return
		}
	}

	bars, err := s.barSource().DailyBars(r.Context(), symbol, days)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"symbol": symbol,
		"bars":   bars,
		"count":  len(bars),
	})
}

type barSource interface {
	DailyBars(ctx context.Context, symbol string, lookbackDays int) ([]types.Bar, error)
}

func (s *Server) barSource() barSource {
	if s.db != nil {
		return s.db
	}
	return s.dataStore
}

// simulateRequest is the body of simulate and optimize requests. The
// config overlays the standing defaults for its policy kind.
type simulateRequest struct {
	Symbol string          `json:"symbol"`
	Config json.RawMessage `json:"config"`
}

func (s *Server) decodeConfig(raw json.RawMessage) (*types.SimulationConfig, error) {
	peek := struct {
		Kind types.PolicyKind `json:"kind"`
	}{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &peek); err != nil {
			return nil, err
		}
	}
	if peek.Kind == "" {
		peek.Kind = types.PolicyMomentum
	}

	cfg := types.DefaultSimulationConfig(peek.Kind)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, cfg.Validate()
}

// handleSimulate runs one simulation synchronously.
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}

	cfg, err := s.decodeConfig(req.Config)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	result, err := s.engine.Run(r.Context(), cfg, req.Symbol)
	if err != nil {
		s.metrics.ObserveSimulation(cfg.Kind, "error", time.Since(start))
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	s.metrics.ObserveSimulation(cfg.Kind, "ok", time.Since(start))

	json.NewEncoder(w).Encode(result)
}

// handleOptimize scans lookback periods for a symbol synchronously.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}

	cfg, err := s.decodeConfig(req.Config)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.optimizer.Run(r.Context(), *cfg, req.Symbol)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	json.NewEncoder(w).Encode(result)
}

// sweepRequest is the body of a sweep request. An empty symbol list
// sweeps the whole stored universe.
type sweepRequest struct {
	Symbols []string        `json:"symbols,omitempty"`
	Config  json.RawMessage `json:"config"`
}

// handleRunSweep starts a market sweep in the background.
func (s *Server) handleRunSweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	cfg, err := s.decodeConfig(req.Config)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	symbols := req.Symbols
	if len(symbols) == 0 {
		if s.db != nil {
			entries, err := s.db.Universe(r.Context(), data.UniverseFilter{})
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			for _, e := range entries {
				symbols = append(symbols, e.Symbol)
			}
		} else {
			symbols = s.dataStore.Symbols()
		}
	}
	if len(symbols) == 0 {
		http.Error(w, "no symbols to sweep", http.StatusBadRequest)
		return
	}

	id := uuid.New().String()
	state := &SweepState{
		ID:      id,
		Config:  cfg,
		Status:  "running",
		Started: time.Now(),
		Total:   len(symbols),
	}

	s.mu.Lock()
	s.sweeps[id] = state
	s.mu.Unlock()

	go s.runSweepAsync(state, *cfg, symbols)

	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":      id,
		"status":  "running",
		"symbols": len(symbols),
		"started": state.Started.Unix(),
	})
}

func (s *Server) runSweepAsync(state *SweepState, cfg types.SimulationConfig, symbols []string) {
	progress := func(done, total int, outcome types.SymbolOutcome) {
		s.mu.Lock()
		state.Done = done
		s.mu.Unlock()

		s.metrics.ObserveSweepSymbol(outcome)
		s.broadcast(&Message{
			ID:     uuid.New().String(),
			Type:   "event",
			Method: "sweep:progress",
			Payload: map[string]interface{}{
				"id":     state.ID,
				"done":   done,
				"total":  total,
				"symbol": outcome.Symbol,
				"failed": outcome.Failed,
				"return": outcome.Return,
			},
			Timestamp: time.Now().UnixMilli(),
		})
	}

	result, err := s.runner.Run(context.Background(), cfg, symbols, progress)

	s.mu.Lock()
	if err != nil {
		state.Status = "failed"
		s.logger.Error("Sweep failed", zap.String("id", state.ID), zap.Error(err))
	} else {
		state.Status = "completed"
		state.Result = result
	}
	status := state.Status
	s.mu.Unlock()

	s.broadcast(&Message{
		ID:        uuid.New().String(),
		Type:      "event",
		Method:    "sweep:complete",
		Payload:   map[string]interface{}{"id": state.ID, "status": status},
		Timestamp: time.Now().UnixMilli(),
	})
}

// sweepSnapshot copies the mutable sweep fields under the lock so
// readers never race the running sweep goroutine.
func (s *Server) sweepSnapshot(id string) (map[string]interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.sweeps[id]
	if !ok {
		return nil, false
	}

	snapshot := map[string]interface{}{
		"id":      state.ID,
		"status":  state.Status,
		"started": state.Started.Unix(),
		"done":    state.Done,
		"total":   state.Total,
	}
	if state.Result != nil {
		snapshot["result"] = state.Result
	}
	return snapshot, true
}

// handleGetSweep returns sweep status and, once complete, the split
// result.
func (s *Server) handleGetSweep(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	response, ok := s.sweepSnapshot(id)
	if !ok {
		http.Error(w, "Sweep not found", http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(response)
}

// handleWebSocket handles WebSocket connections.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		ID:   uuid.New().String(),
		Conn: conn,
		Send: make(chan []byte, 256),
	}

	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()

	s.logger.Info("WebSocket client connected", zap.String("id", client.ID))

	go s.readPump(client)
	go s.writePump(client)
}

// readPump handles incoming WebSocket messages.
func (s *Server) readPump(client *Client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		s.mu.Unlock()
		client.Conn.Close()
		s.logger.Info("WebSocket client disconnected", zap.String("id", client.ID))
	}()

	client.Conn.SetReadLimit(512 * 1024)
	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, messageBytes, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			s.logger.Warn("Invalid WebSocket message", zap.Error(err))
			continue
		}

		s.handleMessage(client, &msg)
	}
}

// writePump handles outgoing WebSocket messages.
func (s *Server) writePump(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage handles a WebSocket message.
func (s *Server) handleMessage(client *Client, msg *Message) {
	response := &Message{
		ID:        msg.ID,
		Type:      "response",
		Method:    msg.Method,
		Timestamp: time.Now().UnixMilli(),
	}

	switch msg.Method {
	case "ping":
		response.Payload = map[string]string{"pong": "ok"}

	case "sweep:status":
		payload, _ := msg.Payload.(map[string]interface{})
		id, _ := payload["id"].(string)

		snapshot, ok := s.sweepSnapshot(id)
		if !ok {
			response.Error = "Sweep not found"
		} else {
			response.Payload = snapshot
		}

	default:
		response.Error = "Unknown method: " + msg.Method
	}

	s.send(client, response)
}

// send delivers a message to one client, dropping it if the client's
// buffer is full.
func (s *Server) send(client *Client, msg *Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	select {
	case client.Send <- payload:
	default:
	}
}

// broadcast sends a message to all connected clients.
func (s *Server) broadcast(msg *Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("Failed to marshal broadcast", zap.Error(err))
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		select {
		case client.Send <- payload:
		default:
		}
	}
}
