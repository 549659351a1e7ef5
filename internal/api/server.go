// Package api is the thin operational-visibility surface named in
// spec.md §1: queue depth, per-detector circuit-breaker/error state, the
// order book's best bid/ask, and a rolling window of confirmed signals,
// served over HTTP with an SSE stream for live consumers. Grounded on
// internal/api/server.go's mux router + CORS + signal-collector-
// goroutine shape, narrowed from a multi-market dashboard backend to a
// single-pair status endpoint — out of core scope per spec.md §1, kept
// deliberately thin.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/orderflowlabs/flowengine/internal/book"
	"github.com/orderflowlabs/flowengine/internal/coordinate"
	"github.com/orderflowlabs/flowengine/internal/detect"
)

// Config fully specifies the API server.
type Config struct {
	BindAddress string
	CORSOrigins []string
}

func (c Config) Validate() error {
	if c.BindAddress == "" {
		return fmt.Errorf("api: bind_address is required")
	}
	if len(c.CORSOrigins) == 0 {
		return fmt.Errorf("api: cors_origins must name at least one origin")
	}
	return nil
}

// Server exposes operational status over HTTP. It holds no detector or
// coordinator logic itself — only references needed to report on them.
type Server struct {
	cfg  Config
	book *book.Book

	mu         sync.RWMutex
	detectors  map[string]detect.Detector
	confirmed  []coordinate.ConfirmedSignal
	queueDepth func() int

	server *http.Server
}

// NewServer constructs a Server. cfg must already have passed Validate();
// NewServer panics otherwise.
func NewServer(cfg Config, b *book.Book) *Server {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return &Server{
		cfg:       cfg,
		book:      b,
		detectors: make(map[string]detect.Detector),
		confirmed: make([]coordinate.ConfirmedSignal, 0, 1000),
	}
}

// RegisterDetector makes a detector's Status() visible at /detectors.
func (s *Server) RegisterDetector(id string, d detect.Detector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detectors[id] = d
}

// WatchQueueDepth wires a callback the /health endpoint uses to report
// the coordinator's current queue depth.
func (s *Server) WatchQueueDepth(f func() int) {
	s.queueDepth = f
}

// OnConfirmedSignal appends a coordinator-confirmed signal to the
// rolling window served by /signals and /signals/stream. Intended to be
// wired as a coordinate.Coordinator event listener in main.go.
func (s *Server) OnConfirmedSignal(sig coordinate.ConfirmedSignal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmed = append(s.confirmed, sig)
	if len(s.confirmed) > 1000 {
		s.confirmed = s.confirmed[len(s.confirmed)-1000:]
	}
}

// Run blocks serving HTTP until ctx is canceled or the server errors.
func (s *Server) Run(ctx context.Context) error {
	router := mux.NewRouter()
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           3600,
	})

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/health", s.getHealth).Methods("GET")
	v1.HandleFunc("/book", s.getBook).Methods("GET")
	v1.HandleFunc("/detectors", s.getDetectors).Methods("GET")
	v1.HandleFunc("/signals", s.getSignals).Methods("GET")
	v1.HandleFunc("/signals/stream", s.streamSignals).Methods("GET")

	s.server = &http.Server{Addr: s.cfg.BindAddress, Handler: c.Handler(router)}

	errCh := make(chan error, 1)
	go func() { errCh <- s.server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.server.Close()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	depth := 0
	if s.queueDepth != nil {
		depth = s.queueDepth()
	}
	status := "healthy"
	if !s.book.IsHealthy() {
		status = "degraded"
	}
	writeJSON(w, struct {
		Status     string    `json:"status"`
		Timestamp  time.Time `json:"timestamp"`
		BookHealthy bool      `json:"book_healthy"`
		QueueDepth int       `json:"queue_depth"`
	}{Status: status, Timestamp: time.Now(), BookHealthy: s.book.IsHealthy(), QueueDepth: depth})
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		BestBid   string `json:"best_bid,omitempty"`
		BestAsk   string `json:"best_ask,omitempty"`
		Mid       string `json:"mid,omitempty"`
		Spread    string `json:"spread,omitempty"`
		LastUpdate time.Time `json:"last_update"`
	}{LastUpdate: s.book.LastUpdate()}

	if bid, ok := s.book.BestBid(); ok {
		resp.BestBid = bid.String()
	}
	if ask, ok := s.book.BestAsk(); ok {
		resp.BestAsk = ask.String()
	}
	if mid, ok := s.book.Mid(); ok {
		resp.Mid = mid.String()
	}
	if spread, ok := s.book.Spread(); ok {
		resp.Spread = spread.String()
	}
	writeJSON(w, resp)
}

func (s *Server) getDetectors(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type detectorStatus struct {
		ID              string    `json:"id"`
		ErrorCount      int       `json:"error_count"`
		CircuitOpen     bool      `json:"circuit_open"`
		LastSignalAt    time.Time `json:"last_signal_at,omitempty"`
		SamplesObserved uint64    `json:"samples_observed"`
	}
	out := make([]detectorStatus, 0, len(s.detectors))
	for id, d := range s.detectors {
		st := d.Status()
		out = append(out, detectorStatus{
			ID: id, ErrorCount: st.ErrorCount, CircuitOpen: st.CircuitOpen,
			LastSignalAt: st.LastSignalAt, SamplesObserved: st.SamplesObserved,
		})
	}
	writeJSON(w, struct {
		Detectors []detectorStatus `json:"detectors"`
	}{Detectors: out})
}

func (s *Server) getSignals(w http.ResponseWriter, r *http.Request) {
	signalType := r.URL.Query().Get("type")
	limitStr := r.URL.Query().Get("limit")

	s.mu.RLock()
	all := make([]coordinate.ConfirmedSignal, len(s.confirmed))
	copy(all, s.confirmed)
	s.mu.RUnlock()

	filtered := make([]coordinate.ConfirmedSignal, 0, len(all))
	for _, sig := range all {
		if signalType != "" && string(sig.Type) != signalType {
			continue
		}
		filtered = append(filtered, sig)
	}

	if limitStr != "" {
		var limit int
		if _, err := fmt.Sscanf(limitStr, "%d", &limit); err == nil && limit > 0 && limit < len(filtered) {
			filtered = filtered[len(filtered)-limit:]
		}
	}

	writeJSON(w, struct {
		Signals []coordinate.ConfirmedSignal `json:"signals"`
		Count   int                          `json:"count"`
	}{Signals: filtered, Count: len(filtered)})
}

// streamSignals serves confirmed signals as Server-Sent Events, polling
// the rolling window for growth — the same lightweight approach the
// teacher uses rather than a dedicated broadcast hub, since this
// endpoint is explicitly out of core scope.
func (s *Server) streamSignals(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, "data: {\"type\":\"connected\"}\n\n")
	flusher.Flush()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastCount := 0
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			fresh := append([]coordinate.ConfirmedSignal(nil), s.confirmed[minInt(lastCount, len(s.confirmed)):]...)
			lastCount = len(s.confirmed)
			s.mu.RUnlock()

			for _, sig := range fresh {
				data, err := json.Marshal(sig)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", data)
			}
			if len(fresh) > 0 {
				flusher.Flush()
			}
		}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
