package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wundot/internal/manager"
	"wundot/internal/sampling"
	"wundot/internal/stream"
	"wundot/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
// *manager.Manager satisfies it.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	Snapshot() manager.Snapshot
	Ready() bool

	Run(ctx context.Context, req manager.Request) (manager.Result, error)

	Policy() sampling.Policy
	SetPolicy(p sampling.Policy)
	SetProfile(name string) sampling.Policy
	Profile(name string) sampling.Policy
	LookupProfile(name string) (sampling.Policy, bool)
	Profiles() []string

	StreamOpen(modelPath string) (string, error)
	StreamFeed(id, prompt string) error
	StreamNext(id string) (string, bool, error)
	StreamClose(id string) error
}

// NewMux builds the router for svc.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}

	h := &handlers{svc: svc}

	r.Post("/generate", h.generate)

	r.Get("/policy", h.getPolicy)
	r.Put("/policy", h.putPolicy)
	r.Get("/profiles", h.listProfiles)
	r.Get("/profiles/{name}", h.getProfile)

	r.Post("/streams", h.openStream)
	r.Post("/streams/{id}/feed", h.feedStream)
	r.Post("/streams/{id}/next", h.nextStream)
	r.Delete("/streams/{id}", h.closeStream)

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, types.ModelsResponse{Models: svc.ListModels()})
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(string(svc.Snapshot().State)))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

type handlers struct {
	svc Service
}

// decodeJSON enforces the content type and body limit, then decodes into v.
// An empty body is accepted when allowEmpty is set. It writes the error
// response itself and reports whether the handler should continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" && allowEmpty && r.ContentLength <= 0 {
		return true
	}
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		// Too-large bodies are reported as 400 as well, without the limit.
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// @Summary Generate a completion
// @Description Runs one batch generation on a pooled session. The optional profile or policy applies to this call only.
// @Tags generate
// @Accept json
// @Produce json
// @Param request body types.GenerateRequest true "Generation request"
// @Success 200 {object} types.GenerateResponse
// @Failure 400 {object} types.ErrorResponse
// @Failure 429 {object} types.ErrorResponse
// @Failure 503 {object} types.ErrorResponse
// @Router /generate [post]
func (h *handlers) generate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	lvl := requestLogLevel(r)
	var req types.GenerateRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if req.MaxTokens < 0 {
		writeJSONError(w, http.StatusBadRequest, "max_tokens must be >= 0")
		return
	}
	mreq := manager.Request{
		System:    req.System,
		History:   req.History,
		Prompt:    req.Prompt,
		MaxTokens: req.MaxTokens,
	}
	switch {
	case req.Policy != nil:
		p := manager.PolicyFromAPI(*req.Policy)
		mreq.Policy = &p
	case strings.TrimSpace(req.Profile) != "":
		p := h.svc.Profile(req.Profile)
		mreq.Policy = &p
	}
	if lvl >= LevelDebug {
		zlog.Debug().Str("profile", req.Profile).Int("max_tokens", req.MaxTokens).Str("prompt", req.Prompt).Msg("generate start")
	}

	ctx, cancel := generationContext(r)
	defer cancel()

	res, err := h.svc.Run(ctx, mreq)
	if err != nil {
		// Client went away; nobody is listening for the error.
		if r.Context().Err() != nil {
			return
		}
		stopping := stoppedByServer(ctx)
		recordRejection(err, stopping)
		status := statusFor(err)
		if stopping {
			status = http.StatusServiceUnavailable
		}
		writeJSONError(w, status, err.Error())
		logEnd(r, lvl, "generate", status, start, err)
		return
	}
	recordGeneration(res)
	writeJSON(w, types.GenerateResponse{
		Text:         res.Text,
		Tokens:       res.Tokens,
		PromptTokens: res.PromptTokens,
		FinishReason: res.FinishReason,
		DurationMS:   res.Duration.Milliseconds(),
	})
	logEnd(r, lvl, "generate", http.StatusOK, start, nil)
}

// @Summary Current sampling policy
// @Tags policy
// @Produce json
// @Success 200 {object} types.PolicyResponse
// @Router /policy [get]
func (h *handlers) getPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, types.PolicyResponse{
		Profile: h.svc.Snapshot().Profile,
		Policy:  manager.PolicyToAPI(h.svc.Policy()),
	})
}

// @Summary Replace the sampling policy
// @Description Applies a named profile or an explicit policy. Sessions that are checked out finish under their previous policy.
// @Tags policy
// @Accept json
// @Produce json
// @Param request body types.PolicyRequest true "Profile name or policy"
// @Success 200 {object} types.PolicyResponse
// @Failure 400 {object} types.ErrorResponse
// @Router /policy [put]
func (h *handlers) putPolicy(w http.ResponseWriter, r *http.Request) {
	var req types.PolicyRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	switch {
	case strings.TrimSpace(req.Profile) != "":
		h.svc.SetProfile(req.Profile)
	case req.Policy != nil:
		h.svc.SetPolicy(manager.PolicyFromAPI(*req.Policy))
	default:
		writeJSONError(w, http.StatusBadRequest, "profile or policy is required")
		return
	}
	h.getPolicy(w, r)
}

// @Summary List profile names
// @Tags policy
// @Produce json
// @Success 200 {object} types.ProfilesResponse
// @Router /profiles [get]
func (h *handlers) listProfiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, types.ProfilesResponse{Profiles: h.svc.Profiles()})
}

// @Summary Resolve a profile
// @Tags policy
// @Produce json
// @Param name path string true "Profile name"
// @Success 200 {object} types.PolicyResponse
// @Failure 404 {object} types.ErrorResponse
// @Router /profiles/{name} [get]
func (h *handlers) getProfile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p, ok := h.svc.LookupProfile(name)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown profile: "+name)
		return
	}
	writeJSON(w, types.PolicyResponse{Profile: name, Policy: manager.PolicyToAPI(p)})
}

// @Summary Open a streaming session
// @Description Streams are not bounded by the session pool. An empty model shares the loaded model.
// @Tags streams
// @Accept json
// @Produce json
// @Param request body types.StreamOpenRequest false "Optional model"
// @Success 201 {object} types.StreamOpenResponse
// @Failure 503 {object} types.ErrorResponse
// @Router /streams [post]
func (h *handlers) openStream(w http.ResponseWriter, r *http.Request) {
	var req types.StreamOpenRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	id, err := h.svc.StreamOpen(req.Model)
	if err != nil {
		writeStreamError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(types.StreamOpenResponse{ID: id})
}

// @Summary Start a stream on a prompt
// @Tags streams
// @Accept json
// @Param id path string true "Stream id"
// @Param request body types.StreamFeedRequest true "Prompt"
// @Success 204
// @Failure 404 {object} types.ErrorResponse
// @Router /streams/{id}/feed [post]
func (h *handlers) feedStream(w http.ResponseWriter, r *http.Request) {
	var req types.StreamFeedRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if err := h.svc.StreamFeed(chi.URLParam(r, "id"), req.Prompt); err != nil {
		writeStreamError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary Next fragment of a stream
// @Tags streams
// @Produce json
// @Param id path string true "Stream id"
// @Success 200 {object} types.StreamNextResponse
// @Failure 404 {object} types.ErrorResponse
// @Failure 409 {object} types.ErrorResponse
// @Router /streams/{id}/next [post]
func (h *handlers) nextStream(w http.ResponseWriter, r *http.Request) {
	text, ok, err := h.svc.StreamNext(chi.URLParam(r, "id"))
	if err != nil {
		writeStreamError(w, err)
		return
	}
	if ok {
		streamFragmentsTotal.Inc()
	}
	writeJSON(w, types.StreamNextResponse{Text: text, Done: !ok})
}

// @Summary Close a stream
// @Tags streams
// @Param id path string true "Stream id"
// @Success 204
// @Failure 404 {object} types.ErrorResponse
// @Router /streams/{id} [delete]
func (h *handlers) closeStream(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.StreamClose(chi.URLParam(r, "id")); err != nil {
		writeStreamError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeStreamError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if errors.Is(err, stream.ErrNotStarted) || errors.Is(err, stream.ErrClosed) {
		status = http.StatusConflict
	}
	writeJSONError(w, status, err.Error())
}
