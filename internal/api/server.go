package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/codecollab-dev/syncengine/internal/assist"
	"github.com/codecollab-dev/syncengine/internal/chat"
	"github.com/codecollab-dev/syncengine/internal/config"
	"github.com/codecollab-dev/syncengine/internal/durable"
	"github.com/codecollab-dev/syncengine/internal/gateway"
)

type SyncApp struct {
	log            *log.Logger
	store          durable.Store
	gw             *gateway.Gateway
	chat           *chat.Service
	assist         *assist.Client
	mux            *http.Server
	signingKey     []byte
	allowedOrigins []string
}

// NewSyncApp wires the HTTP surface: REST endpoints for workspaces,
// members, files, chat history and the assistant, plus the websocket
// entry point. assistClient may be nil when the assistant is disabled.
func NewSyncApp(mux *http.ServeMux, logger *log.Logger, gw *gateway.Gateway, store durable.Store, chatSvc *chat.Service, assistClient *assist.Client, cfg *config.Config) *SyncApp {
	s := &SyncApp{
		log:            logger,
		store:          store,
		gw:             gw,
		chat:           chatSvc,
		assist:         assistClient,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/workspaces", s.authMiddleware(s.createWorkspace))
	mux.HandleFunc("GET /api/workspaces", s.authMiddleware(s.getWorkspace))
	mux.HandleFunc("DELETE /api/workspaces", s.authMiddleware(s.deleteWorkspace))
	mux.HandleFunc("POST /api/members", s.authMiddleware(s.addMember))
	mux.HandleFunc("DELETE /api/members", s.authMiddleware(s.removeMember))
	mux.HandleFunc("POST /api/files", s.authMiddleware(s.createFile))
	mux.HandleFunc("GET /api/files", s.authMiddleware(s.listFiles))
	mux.HandleFunc("GET /api/files/content", s.authMiddleware(s.getFileContent))
	mux.HandleFunc("DELETE /api/files", s.authMiddleware(s.deleteFile))
	mux.HandleFunc("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.HandleFunc("DELETE /api/messages", s.authMiddleware(s.clearMessages))
	mux.HandleFunc("POST /api/assist/documentation", s.authMiddleware(s.assistDocumentation))
	mux.HandleFunc("POST /api/assist/autocomplete", s.authMiddleware(s.assistAutoComplete))
	mux.HandleFunc("POST /api/assist/fix", s.authMiddleware(s.assistFix))
	mux.HandleFunc("POST /api/assist/chat", s.authMiddleware(s.assistChat))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *SyncApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *SyncApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
