// Package httpapi serves the speech web page and its JSON/audio API.
package httpapi

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/getsentry/sentry-go"

	"github.com/book-expert/speech-service/internal/core"
)

const (
	headerContentType        = "Content-Type"
	headerContentDisposition = "Content-Disposition"
	headerAudioKey           = "X-Audio-Key"
	headerCacheControl       = "Cache-Control"
	contentTypeJSON          = "application/json"
	contentTypeHTML          = "text/html; charset=utf-8"
	sentryFlushTimeout       = 2 * time.Second
)

//go:embed templates/index.html
var templateFS embed.FS

// Synthesizer is the synthesis surface the web page needs: the job runner plus
// the choices shown in the form.
type Synthesizer interface {
	core.Synthesizer
	Voices() []string
	DefaultVoice() string
	DefaultModel() string
}

// Config holds the router settings.
type Config struct {
	MaxBodyBytes int64
}

// Router wires the handlers to their dependencies.
type Router struct {
	cfg   Config
	synth Synthesizer
	store core.ObjectStore
	log   *logger.Logger
	page  *template.Template
	mux   *http.ServeMux
}

// NewRouter builds the HTTP handler for the service.
func NewRouter(cfg Config, synth Synthesizer, store core.ObjectStore, log *logger.Logger) (http.Handler, error) {
	page, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse page template: %w", err)
	}

	r := &Router{
		cfg:   cfg,
		synth: synth,
		store: store,
		log:   log,
		page:  page,
		mux:   http.NewServeMux(),
	}

	r.routes()

	return withSentryRecovery(r.mux), nil
}

func (r *Router) routes() {
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /{$}", r.handleIndex)
	r.mux.HandleFunc("GET /api/voices", r.handleVoices)
	r.mux.HandleFunc("POST /api/speech", r.handleSpeech)
	r.mux.HandleFunc("GET /api/audio/{key}", r.handleAudio)
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(sentryFlushTimeout)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context.
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
