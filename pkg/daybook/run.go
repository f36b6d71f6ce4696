package daybook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// Run starts the HTTP server and blocks until the context is cancelled or
// the server fails.
//
// Endpoints:
//
//	GET    /health                          - liveness
//	POST   /api/pages                       - create a page
//	GET    /api/pages/{id}                  - page with rendered content
//	DELETE /api/pages/{id}                  - delete page and blocks
//	GET    /api/pages                       - list pages in the workspace
//	PUT    /api/pages/{id}/snapshot         - submit an editor snapshot (debounced sync)
//	POST   /api/pages/{id}/save             - force an immediate flush
//	GET    /api/pages/{id}/blocks           - raw block list
//	GET    /api/daily/{date}                - daily note for YYYY-MM-DD, created on demand
//	GET    /api/backlinks/{target}          - blocks linking to [[target]]
//	POST   /api/chat                        - assistant stub over workspace content
//	GET    /api/ws/pages/{id}               - websocket: save-state events
//
// Shutdown flushes every open sync session before closing the store, so
// buffered operations get their final write attempt.
func (a *App) Run(ctx context.Context, _ *RunCommand) error {
	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/pages", a.handleCreatePage).Methods("POST")
	api.HandleFunc("/pages", a.handleListPages).Methods("GET")
	api.HandleFunc("/pages/{id}", a.handleGetPage).Methods("GET")
	api.HandleFunc("/pages/{id}", a.handleDeletePage).Methods("DELETE")
	api.HandleFunc("/pages/{id}/snapshot", a.handlePutSnapshot).Methods("PUT")
	api.HandleFunc("/pages/{id}/save", a.handleSave).Methods("POST")
	api.HandleFunc("/pages/{id}/blocks", a.handleListBlocks).Methods("GET")
	api.HandleFunc("/daily/{date}", a.handleDaily).Methods("GET")
	api.HandleFunc("/backlinks/{target}", a.handleBacklinks).Methods("GET")
	api.HandleFunc("/chat", a.handleChat).Methods("POST")
	api.HandleFunc("/ws/pages/{id}", a.hub.ServePage)

	router.HandleFunc("/health", a.handleHealth).Methods("GET")

	addr := fmt.Sprintf(":%s", a.config.ServerPort)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	a.log.Info().Str("addr", addr).Msg("daybook server starting")

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.closeSessions(shutdownCtx)
		return server.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}
