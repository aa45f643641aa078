package server

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clipbin/clipbin/internal/auth"
	"github.com/clipbin/clipbin/internal/database"
	"github.com/clipbin/clipbin/internal/ratelimit"
	"github.com/clipbin/clipbin/internal/video"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	DB         database.DBTX
	Pinger     Pinger
	Storage    video.ObjectStorage
	Transcoder video.Transcoder
	Inspector  video.Inspector

	JWTSecret      string
	BaseURL        string
	AllowedOrigin  string
	MaxUploadBytes int64

	// OpenEditDelete removes the identity requirement from the edit and
	// delete routes, so anyone holding a video id can modify it.
	OpenEditDelete bool
}

type Server struct {
	router         chi.Router
	pinger         Pinger
	authHandler    *auth.Handler
	videoHandler   *video.Handler
	openEditDelete bool
}

func New(cfg Config) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(slogMiddleware)
	r.Use(securityHeaders(cfg.BaseURL))
	if cfg.AllowedOrigin != "" {
		r.Use(corsMiddleware(cfg.AllowedOrigin))
	}

	s := &Server{router: r, pinger: cfg.Pinger, openEditDelete: cfg.OpenEditDelete}

	if cfg.DB != nil {
		if cfg.JWTSecret == "" {
			log.Fatal("JWT_SECRET is required; set the environment variable")
		}

		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:8080"
		}
		secureCookies := strings.HasPrefix(baseURL, "https://")

		s.authHandler = auth.NewHandler(cfg.DB, cfg.JWTSecret, secureCookies)
		s.videoHandler = video.NewHandler(cfg.DB, cfg.Storage, cfg.Transcoder, cfg.Inspector, cfg.MaxUploadBytes)
	}

	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if s.videoHandler == nil {
		return
	}

	strict := ratelimit.Strict()
	soft := ratelimit.Soft()

	s.router.Group(func(r chi.Router) {
		r.Use(strict.Middleware)
		r.With(s.authHandler.Resolve).Post("/upload", s.videoHandler.Upload)
		r.With(s.authHandler.Resolve).Post("/preview/{id}", s.videoHandler.Preview)

		if s.openEditDelete {
			r.Patch("/edit", s.videoHandler.Edit)
		} else {
			r.With(s.authHandler.Resolve).Patch("/edit", s.videoHandler.Edit)
		}
	})

	s.router.Group(func(r chi.Router) {
		r.Use(soft.Middleware)
		r.With(s.authHandler.Resolve).Get("/all", s.videoHandler.List)
		r.With(s.authHandler.Resolve).Get("/download/{extension}/{filename}", s.videoHandler.Download)
		r.Get("/file/single/{filename}", s.videoHandler.Fetch)

		if s.openEditDelete {
			r.Delete("/delete/{id}", s.videoHandler.Delete)
		} else {
			r.With(s.authHandler.Resolve).Delete("/delete/{id}", s.videoHandler.Delete)
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","error":"database unreachable"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
