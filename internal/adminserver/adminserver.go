// Package adminserver exposes the process's operational HTTP surface —
// health, metrics, and a running-totals snapshot — wired with
// gorilla/mux and gorilla/handlers the way the teacher wires its own
// main router, trimmed to this process's handful of routes.
package adminserver

import (
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeffutter/kafka-postgres-transform/pkg/log"
)

// Stats is a snapshot of running totals, updated by the orchestrator and
// served at /stats.
type Stats struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Inserted  int64 `json:"inserted"`
}

// Server serves /healthz, /metrics, and /stats on its own listener,
// independent of the pipeline's data plane.
type Server struct {
	addr      string
	processed int64
	failed    int64
	inserted  int64
	httpSrv   *http.Server
}

// New builds a Server bound to addr. Call Start to begin serving.
func New(addr string) *Server {
	return &Server{addr: addr}
}

// AddProcessed, AddFailed, and AddInserted update the running totals
// reported at /stats. Safe for concurrent use from any pipeline stage.
func (s *Server) AddProcessed(n int64) { atomic.AddInt64(&s.processed, n) }
func (s *Server) AddFailed(n int64)    { atomic.AddInt64(&s.failed, n) }
func (s *Server) AddInserted(n int64)  { atomic.AddInt64(&s.inserted, n) }

func (s *Server) snapshot() Stats {
	return s.Snapshot()
}

// Snapshot returns the current running totals. Safe for concurrent use.
func (s *Server) Snapshot() Stats {
	return Stats{
		Processed: atomic.LoadInt64(&s.processed),
		Failed:    atomic.LoadInt64(&s.failed),
		Inserted:  atomic.LoadInt64(&s.inserted),
	}
}

// Start builds the router and begins serving in a background goroutine.
// It returns immediately; call Shutdown to stop.
func (s *Server) Start() {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.snapshot())
	})

	r.Use(handlers.CompressHandler)
	logged := handlers.CustomLoggingHandler(log.InfoWriter, r, func(_ io.Writer, params handlers.LogFormatterParams) {
		log.Infof("%s %s (Response: %d, Size: %d)", params.Request.Method, params.URL.RequestURI(), params.StatusCode, params.Size)
	})

	s.httpSrv = &http.Server{
		Addr:         s.addr,
		Handler:      logged,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("admin server: %v", err)
		}
	}()
}

// Shutdown gracefully stops the admin server.
func (s *Server) Shutdown() error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Close()
}
