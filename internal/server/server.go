// Package server exposes chat sessions over a JSON HTTP API. The inference
// credential stays here; browsers only ever talk to this server.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/comigor/zapup-go/internal/catalog"
	"github.com/comigor/zapup-go/internal/logger"
	"github.com/comigor/zapup-go/internal/session"
	"github.com/comigor/zapup-go/internal/voice"
)

// Transcriber converts an uploaded clip to text.
type Transcriber interface {
	Transcribe(ctx context.Context, name string, audio io.Reader) (string, error)
}

// Synthesizer converts text to encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, u voice.Utterance) (io.ReadCloser, error)
}

// Server serves the HTTP API.
type Server struct {
	sessions    *session.Manager
	catalog     *catalog.Catalog
	transcriber Transcriber
	synthesizer Synthesizer
	maxUpload   int64
}

// New creates a Server. transcriber and synthesizer may be nil, disabling the voice endpoints.
func New(sessions *session.Manager, cat *catalog.Catalog, transcriber Transcriber, synthesizer Synthesizer, maxUpload int64) *Server {
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return &Server{
		sessions:    sessions,
		catalog:     cat,
		transcriber: transcriber,
		synthesizer: synthesizer,
		maxUpload:   maxUpload,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleMessages)
	mux.HandleFunc("PUT /api/sessions/{id}/model", s.handleSelectModel)
	mux.HandleFunc("POST /api/sessions/{id}/query", s.handleQuery)
	mux.HandleFunc("POST /api/sessions/{id}/speech", s.handleSpeech)
	mux.HandleFunc("GET /api/sessions/{id}/voice", s.handleGetVoice)
	mux.HandleFunc("PUT /api/sessions/{id}/voice", s.handleSetVoice)
	mux.HandleFunc("POST /api/speak", s.handleSpeak)

	return logRequests(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L.Info("starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger.L.Info("shutting down server")
	return srv.Shutdown(shutdownCtx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.L.Info("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Error("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
