// Package adminhttp is the small operator-facing HTTP surface: a
// liveness probe and a status endpoint reporting the loaded
// configuration's shape. It only starts when ADMIN_ADDR is set.
package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/feedrelay/feedrelay/internal/config"
	"github.com/feedrelay/feedrelay/internal/store"
)

// ConfigSource is polled for the live config on every /status request
// rather than captured once, so the endpoint reflects reloads.
type ConfigSource func() *config.Config

// Server is the admin HTTP surface.
type Server struct {
	addr   string
	store  *store.Store
	source ConfigSource
}

// New builds a Server listening on addr.
func New(addr string, s *store.Store, source ConfigSource) *Server {
	return &Server{addr: addr, store: s, source: source}
}

// Router builds the chi router for this surface.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(30, time.Second))
		r.Get("/healthz", s.handleHealthz)
		r.Get("/status", s.handleStatus)
	})

	return r
}

// ListenAndServe blocks, serving the admin surface on s.addr.
func (s *Server) ListenAndServe() error {
	return http.ListenAndServe(s.addr, s.Router())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unreachable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type groupStatus struct {
	UrlsHashHex string   `json:"urls_hash"`
	Urls        []string `json:"urls"`
	Interval    string   `json:"interval"`
	Digest      bool     `json:"digest"`
}

type statusResponse struct {
	GroupCount int           `json:"group_count"`
	Groups     []groupStatus `json:"groups"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.source()
	resp := statusResponse{GroupCount: len(cfg.Groups)}
	for _, g := range cfg.Groups {
		resp.Groups = append(resp.Groups, groupStatus{
			UrlsHashHex: hex(g.UrlsHash[:]),
			Urls:        g.Urls,
			Interval:    g.Settings.Interval.String(),
			Digest:      g.Settings.Digest,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func hex(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0x0f]
	}
	return string(out)
}
