package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/pdfchat/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/pdfchat/internal/api/middlewares"
	"github.com/markdave123-py/pdfchat/internal/config"
	"github.com/markdave123-py/pdfchat/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, users *services.UserService, docs *services.DocumentService, chat *services.ChatService) *Server {
	jwt := appMiddleware.NewJWT(cfg.JWTSecret, cfg.TokenTTL)

	authHandler := handlers.NewAuthHandler(users, jwt)
	docHandler := handlers.NewDocumentHandler(docs)
	chatHandler := handlers.NewChatHandler(chat)
	progressSocket := handlers.NewProgressSocket(docs, cfg.AllowedOrigins)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Post("/signup", authHandler.Signup)
		api.Post("/login", authHandler.Login)

		// browsers cannot set headers on a websocket upgrade
		api.With(jwt.QueryMiddleware).Get("/documents/{id}/progress/ws", progressSocket.Serve)

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(jwt.Middleware)
			protected.Post("/documents/upload", docHandler.UploadDocument)
			protected.Get("/documents", docHandler.GetDocuments)
			protected.Get("/documents/{id}/file", docHandler.ViewFile)
			protected.Get("/documents/{id}/progress", docHandler.GetProgress)

			protected.Post("/chat/{id}/ask", chatHandler.Ask)
			protected.Get("/chat/{id}/messages", chatHandler.Messages)
			protected.Delete("/chat/{id}/messages", chatHandler.DeleteMessages)
			protected.Post("/chat/messages/{messageID}/vote", chatHandler.Vote)
		})
	})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{httpServer: httpSrv}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	log.Printf("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}
