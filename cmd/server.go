package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	swrcache "github.com/dgduncan/go-swr-cache"
)

type entryView struct {
	Key     string `json:"key"`
	IsValid bool   `json:"is_valid"`
	Age     string `json:"age"`
	TTL     string `json:"ttl"`
}

type statsView struct {
	Size         int         `json:"size"`
	PendingCount int         `json:"pending_count"`
	Entries      []entryView `json:"entries"`
}

type server struct {
	coord  *swrcache.Coordinator
	logger *slog.Logger
}

// newRouter mounts the cache routes. metrics, when set, is served on /metrics.
func newRouter(coord *swrcache.Coordinator, metrics http.Handler, logger *slog.Logger) http.Handler {
	s := &server{coord: coord, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/cache", func(r chi.Router) {
		r.Get("/", s.stats)
		r.Delete("/", s.invalidate)
		r.Post("/cleanup", s.cleanup)
	})
	r.Get("/fetch/*", s.fetch)

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	return r
}

// stats reports the store contents.
func (s *server) stats(w http.ResponseWriter, _ *http.Request) {
	st := s.coord.Store().Stats()

	v := statsView{
		Size:         st.Size,
		PendingCount: st.PendingCount,
		Entries:      make([]entryView, 0, len(st.Entries)),
	}
	for _, e := range st.Entries {
		v.Entries = append(v.Entries, entryView{
			Key:     e.Key,
			IsValid: e.IsValid,
			Age:     e.Age.String(),
			TTL:     e.TTL.String(),
		})
	}

	s.writeJSON(w, http.StatusOK, v)
}

// invalidate drops entries. ?pattern= removes keys matching the regular expression,
// ?endpoint= removes one endpoint and no query clears the store.
func (s *server) invalidate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if p := q.Get("pattern"); p != "" {
		re, err := regexp.Compile(p)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n := s.coord.Store().InvalidatePattern(r.Context(), re)
		s.writeJSON(w, http.StatusOK, map[string]int{"removed": n})
		return
	}

	s.coord.Store().Invalidate(r.Context(), q.Get("endpoint"), nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) cleanup(w http.ResponseWriter, r *http.Request) {
	n := s.coord.Store().Cleanup(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// fetch resolves /fetch/<endpoint>?<params> through the coordinator. ?swr=true serves
// stale entries while revalidating.
func (s *server) fetch(w http.ResponseWriter, r *http.Request) {
	endpoint := "/" + chi.URLParam(r, "*")

	q := r.URL.Query()
	var opts swrcache.RequestOptions
	if v := q.Get("swr"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "invalid swr value", http.StatusBadRequest)
			return
		}
		opts.StaleWhileRevalidate = b
	}
	q.Del("swr")

	var params swrcache.Params
	if len(q) > 0 {
		params = make(swrcache.Params, len(q))
		for k := range q {
			params[k] = q.Get(k)
		}
	}

	data, err := s.coord.Request(r.Context(), endpoint, params, opts)
	if err != nil {
		s.logger.WarnContext(r.Context(), "fetch failed", "endpoint", endpoint, "error", err)

		status := http.StatusBadGateway
		if errors.Is(err, swrcache.ErrTimeout) {
			status = http.StatusGatewayTimeout
		}
		http.Error(w, err.Error(), status)
		return
	}

	s.writeJSON(w, http.StatusOK, data)
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}
