// Package web provides the HTTP status page for the bioreactor controller.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/sweeney/bioreactor/internal/status"
	"github.com/sweeney/bioreactor/internal/store"
)

const (
	defaultRecordLimit = 60
	maxRecordLimit     = 1440
)

// RecordSource returns recently logged records, newest first.
type RecordSource interface {
	Recent(ctx context.Context, limit int) ([]store.Record, error)
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	records    RecordSource
	restart    chan<- struct{}
}

// New creates a Server that reads state from the given tracker. Run restart
// requests are sent on restart without blocking; records may be nil.
func New(addr string, tracker *status.Tracker, records RecordSource, restart chan<- struct{}) *Server {
	s := &Server{tracker: tracker, records: records, restart: restart}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	r.HandleFunc("/records.json", s.handleRecords).Methods(http.MethodGet)
	r.HandleFunc("/run/restart", s.handleRestart).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// RecordJSON is one logged record.
type RecordJSON struct {
	Tick        uint32  `json:"tick"`
	Timestamp   string  `json:"timestamp"`
	ODAverage   float64 `json:"od_avg"`
	Temperature float64 `json:"temperature"`
	PIDOutput   float64 `json:"pid_output"`
	TotalVolume float64 `json:"total_volume"`
	RunID       string  `json:"run_id"`
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		http.Error(w, "record log disabled", http.StatusNotFound)
		return
	}

	limit := defaultRecordLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxRecordLimit)
	}

	recs, err := s.records.Recent(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]RecordJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, RecordJSON{
			Tick:        rec.Tick,
			Timestamp:   time.Unix(rec.Wall, 0).UTC().Format(time.RFC3339),
			ODAverage:   rec.ODAverage,
			Temperature: rec.Temperature,
			PIDOutput:   rec.PIDOutput,
			TotalVolume: rec.TotalVolume,
			RunID:       rec.RunID,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if s.restart == nil {
		http.Error(w, "run restart disabled", http.StatusNotFound)
		return
	}
	select {
	case s.restart <- struct{}{}:
		// The status page form gets the page back; API clients get 202.
		if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	default:
		http.Error(w, "restart already pending", http.StatusConflict)
	}
}
