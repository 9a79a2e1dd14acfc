// Package httpserver exposes health, metrics and a read-only JSON view of the
// fermentation timeline.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"herbit/internal/auth"
	"herbit/internal/ecoenzim"
	"herbit/internal/fermentation"
	"herbit/internal/metrics"
	"herbit/internal/service"
)

// TimelineLoader is the part of service.TimelineService the server reads from.
// Callers are not authenticated here, so only live API answers are served.
type TimelineLoader interface {
	LoadLive(ctx context.Context, herbitUserID string) (service.View, error)
	Location() *time.Location
	Now() time.Time
}

type Assistant interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

type Config struct {
	Timeline  TimelineLoader
	Assistant Assistant
	Limiter   *RateLimiter
	Log       *zap.Logger
}

type timelineResponse struct {
	UserID    string                `json:"userId"`
	Now       time.Time             `json:"now"`
	FetchedAt time.Time             `json:"fetchedAt"`
	Timeline  fermentation.Timeline `json:"timeline"`
}

type chatRequest struct {
	Prompt string `json:"prompt"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	timeline  TimelineLoader
	assistant Assistant
	log       *zap.Logger
}

// NewRouter builds the chi router.
func NewRouter(cfg Config) http.Handler {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	h := &handler{timeline: cfg.Timeline, assistant: cfg.Assistant, log: log}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(observe(log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		if cfg.Limiter != nil {
			api.Use(cfg.Limiter.Middleware)
		}
		api.Get("/users/{userID}/timeline", h.getTimeline)
		api.Post("/chat", h.chat)
	})
	return r
}

func (h *handler) getTimeline(w http.ResponseWriter, r *http.Request) {
	acc, err := auth.Resolve(chi.URLParam(r, "userID"), time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := h.timeline.Now()
	if raw := r.URL.Query().Get("now"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "now must be RFC3339")
			return
		}
		now = parsed.In(h.timeline.Location())
	}

	ctx := r.Context()
	if token, ok := bearer(r); ok {
		ctx = ecoenzim.WithAccessToken(ctx, token)
	}

	view, err := h.timeline.LoadLive(ctx, acc.UserID)
	if err != nil {
		h.log.Warn("load timeline", zap.String("herbit_user", acc.UserID), zap.Error(err))
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, timelineResponse{
		UserID:    acc.UserID,
		Now:       now,
		FetchedAt: view.FetchedAt,
		Timeline:  fermentation.Build(view.Project, view.Uploads, now, h.timeline.Location()),
	})
}

func (h *handler) chat(w http.ResponseWriter, r *http.Request) {
	if h.assistant == nil {
		writeError(w, http.StatusServiceUnavailable, "assistant disabled")
		return
	}
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	reply, err := h.assistant.Ask(r.Context(), req.Prompt)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

func bearer(r *http.Request) (string, bool) {
	value := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(value, "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

func statusFor(err error) int {
	var apiErr *ecoenzim.APIError
	switch {
	case errors.Is(err, service.ErrEmptyPrompt):
		return http.StatusBadRequest
	case errors.Is(err, ecoenzim.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr):
		if apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden || apiErr.Status == http.StatusNotFound {
			return apiErr.Status
		}
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func observe(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			pattern := chi.RouteContext(r.Context()).RoutePattern()
			if pattern == "" {
				pattern = "unmatched"
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			metrics.RecordHTTPRequest(r.Method, pattern, strconv.Itoa(status), time.Since(start))
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
