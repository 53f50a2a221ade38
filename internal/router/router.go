package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/leca/yodel-image/internal/api"
	"github.com/leca/yodel-image/internal/config"
	"github.com/leca/yodel-image/internal/database"
	"github.com/leca/yodel-image/internal/editor"
	"github.com/leca/yodel-image/internal/genapi"
	"github.com/leca/yodel-image/internal/generator"
	"github.com/leca/yodel-image/internal/handler"
	"github.com/leca/yodel-image/internal/metadata"
	"github.com/leca/yodel-image/internal/storage"
	"github.com/leca/yodel-image/internal/wordpress"
)

// Server holds the application dependencies and HTTP router.
type Server struct {
	DB     database.Database
	Store  storage.Storage
	Config *config.Config
	Router chi.Router
}

// New creates a new Server with a fully configured chi router. The
// generation API and WordPress clients are built from cfg.
func New(db database.Database, store storage.Storage, cfg *config.Config) *Server {
	s := &Server{DB: db, Store: store, Config: cfg}
	logger := slog.Default()

	gen := genapi.NewClient(genapi.Options{
		BaseURL: cfg.APIURL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.HTTPTimeout,
		Logger:  logger,
	})
	wp := wordpress.NewClient(wordpress.Options{
		RestURL:     cfg.RestURL,
		Nonce:       cfg.RestNonce,
		User:        cfg.WPUser,
		AppPassword: cfg.WPAppPassword,
		Timeout:     cfg.HTTPTimeout,
	})

	h := &handler.Handler{
		Generator: generator.New(gen, wp, db, store, generator.Options{
			MaxConcurrency: cfg.MaxConcurrency,
			SVGSupport:     cfg.SVGSupport,
			Logger:         logger,
		}),
		Editor: editor.New(wp, db, store, editor.Options{
			MaxPixels: cfg.MaxPixels,
			Logger:    logger,
		}),
		Metadata: metadata.New(gen, wp, metadata.Options{
			Model:           cfg.MetadataModel,
			DefaultLanguage: cfg.MetadataLang,
			PollInterval:    cfg.PollInterval,
			PollMaxRetries:  cfg.PollMaxRetries,
			Logger:          logger,
		}),
		Accounts: gen,
		Config:   cfg,
		Logger:   logger,
	}

	r := chi.NewRouter()

	// CORS must run first so preflight OPTIONS requests never hit auth.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check (no auth required).
	r.Get("/health", s.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.AuthMiddleware(cfg.AuthToken))
		r.Use(api.MaxBodyMiddleware(cfg.MaxUploadSize))

		r.Get("/account", h.GetAccount)

		r.Route("/generations", func(r chi.Router) {
			r.Post("/", h.CreateGeneration)
			r.Get("/", h.ListGenerations)
			r.Delete("/", h.ClearGenerations)
			r.Get("/{id}", h.GetGeneration)
			r.Get("/{id}/blob", h.GetGenerationBlob)
			r.Post("/{id}/iterations", h.IterateGeneration)
			r.Post("/{id}/upscale", h.UpscaleGeneration)
			r.Post("/{id}/save", h.SaveGeneration)
		})

		r.Route("/edits", func(r chi.Router) {
			r.Post("/", h.CreateEdit)
			r.Get("/{id}", h.GetEdit)
			r.Delete("/{id}", h.DeleteEdit)
			r.Post("/{id}/operations", h.ApplyEdit)
			r.Post("/{id}/revert", h.RevertEdit)
			r.Get("/{id}/image", h.GetEditImage)
			r.Post("/{id}/save", h.SaveEdit)
		})

		r.Post("/metadata", h.GenerateMetadata)
	})

	s.Router = r
	return s
}

// Health returns a simple health-check response.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
