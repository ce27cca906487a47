package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cory-johannsen/automap/internal/frontend/hub"
	"github.com/cory-johannsen/automap/internal/game/session"
	"github.com/cory-johannsen/automap/internal/game/world"
	"github.com/cory-johannsen/automap/internal/observability"
	"github.com/cory-johannsen/automap/internal/storage"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// API serves the story endpoints.
type API struct {
	sessions *session.Manager
	hubs     *hub.Registry
	store    storage.Store
	gatherer prometheus.Gatherer
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewAPI creates the HTTP API.
//
// Precondition: every argument must be non-nil.
func NewAPI(sessions *session.Manager, hubs *hub.Registry, store storage.Store, gatherer prometheus.Gatherer, metrics *observability.Metrics, logger *zap.Logger) *API {
	return &API{
		sessions: sessions,
		hubs:     hubs,
		store:    store,
		gatherer: gatherer,
		metrics:  metrics,
		logger:   logger,
	}
}

type textRequest struct {
	Text string `json:"text"`
}

type locateRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type dragRequest struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

type moveResponse struct {
	Direction   string      `json:"direction,omitempty"`
	RoomCreated bool        `json:"room_created"`
	Path        *world.Path `json:"path,omitempty"`
	Skip        string      `json:"skip,omitempty"`
}

// Handler returns the router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(a.instrument)

	r.Get("/healthz", a.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))

	r.Route("/stories/{story}", func(r chi.Router) {
		r.Post("/input", a.input)
		r.Post("/print", a.print)
		r.Post("/locate", a.locate)
		r.Post("/undo", a.marker((*session.Session).Undo))
		r.Post("/redo", a.marker((*session.Session).Redo))
		r.Post("/restore", a.marker((*session.Session).Restore))
		r.Post("/clear", a.marker((*session.Session).Clear))
		r.Post("/restart", a.restart)
		r.Post("/rooms/{room}/drag", a.drag)
		r.Get("/map", a.encoded)
		r.Get("/snapshot", a.snapshot)
		r.Get("/scene", a.scene)
	})
	return r
}

// instrument records request counts and latency by route pattern.
func (a *API) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		a.metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		a.metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.store.Ping(ctx); err != nil {
		a.logger.Warn("health check failed", zap.Error(err))
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// open resolves the story in the URL, writing an error response on failure.
func (a *API) open(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := a.sessions.Open(r.Context(), chi.URLParam(r, "story"))
	if err != nil {
		a.fail(w, err)
		return nil, false
	}
	return s, true
}

func (a *API) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidStory):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, world.ErrInvariant):
		a.logger.Error("topology fault", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		a.logger.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (a *API) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Debug("encoding response", zap.Error(err))
	}
}

func (a *API) input(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decode(w, r, &req) {
		return
	}
	s, ok := a.open(w, r)
	if !ok {
		return
	}
	s.Input(req.Text)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) print(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decode(w, r, &req) {
		return
	}
	s, ok := a.open(w, r)
	if !ok {
		return
	}
	s.Print(req.Text)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) locate(w http.ResponseWriter, r *http.Request) {
	var req locateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	s, ok := a.open(w, r)
	if !ok {
		return
	}
	res, err := s.Locate(req.ID, req.Name)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.writeJSON(w, moveResponse{
		Direction:   string(res.Direction),
		RoomCreated: res.RoomCreated,
		Path:        res.Path,
		Skip:        string(res.Skip),
	})
}

func (a *API) marker(fn func(*session.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := a.open(w, r)
		if !ok {
			return
		}
		fn(s)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *API) restart(w http.ResponseWriter, r *http.Request) {
	s, ok := a.open(w, r)
	if !ok {
		return
	}
	if err := s.Restart(r.Context()); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) drag(w http.ResponseWriter, r *http.Request) {
	var req dragRequest
	if !decode(w, r, &req) {
		return
	}
	s, ok := a.open(w, r)
	if !ok {
		return
	}
	// Drag looks the room up under the session lock; a missing room is the
	// caller's mistake here, not a topology fault.
	if err := s.Drag(chi.URLParam(r, "room"), req.DX, req.DY); err != nil {
		if errors.Is(err, world.ErrInvariant) {
			http.Error(w, "unknown room", http.StatusNotFound)
			return
		}
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) encoded(w http.ResponseWriter, r *http.Request) {
	s, ok := a.open(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s.Encoded()))
}

func (a *API) snapshot(w http.ResponseWriter, r *http.Request) {
	s, ok := a.open(w, r)
	if !ok {
		return
	}
	a.writeJSON(w, s.Snapshot())
}

func (a *API) scene(w http.ResponseWriter, r *http.Request) {
	s, ok := a.open(w, r)
	if !ok {
		return
	}
	a.hubs.For(s.Story()).ServeWS(w, r, s)
}
