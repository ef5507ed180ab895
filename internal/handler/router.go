package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"sitehost/internal/logger"
	"sitehost/internal/service"
)

type RouterConfig struct {
	Deploy         *DeployHandler
	Templates      *TemplateHandler
	Files          *FileHandler
	Metrics        *service.MetricsService
	Logger         *zap.Logger
	AllowedOrigins []string
	RequestTimeout time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware(cfg.Logger))
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	r.Use(metricsMiddleware(cfg.Metrics))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/site", func(r chi.Router) {
			r.Get("/", cfg.Deploy.SiteInfo)
			r.Post("/archive", cfg.Deploy.UploadSiteArchive)
			r.Post("/deploy-template", cfg.Deploy.DeployTemplate)
			r.Get("/deployments/latest", cfg.Deploy.LatestDeployment)
			r.Route("/files", fileRoutes(cfg.Files, SiteTarget))
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", cfg.Templates.List)
			r.Post("/", cfg.Templates.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", cfg.Templates.Get)
				r.Put("/", cfg.Templates.Update)
				r.Delete("/", cfg.Templates.Delete)
				r.Post("/archive", cfg.Deploy.UploadTemplateArchive)
				r.Route("/files", fileRoutes(cfg.Files, TemplateTarget))
			})
		})
	})

	return r
}

func fileRoutes(h *FileHandler, resolve TargetResolver) func(r chi.Router) {
	return func(r chi.Router) {
		r.Get("/", h.List(resolve))
		r.Get("/content", h.Content(resolve))
		r.Put("/", h.Put(resolve))
		r.Delete("/", h.Delete(resolve))
	}
}

// metricsMiddleware учитывает запрос под шаблоном маршрута chi, а не сырым путем
func metricsMiddleware(metrics *service.MetricsService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					path = pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			metrics.ObserveHTTPRequest(r.Method, path, status, time.Since(start))
		})
	}
}
