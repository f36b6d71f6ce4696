// Package daybook wires the sync engine, the store backends and the HTTP
// API into the daybook server: a single-workspace daily-notes application
// where every document is a page of typed content blocks kept in sync by
// the blocksync engine.
package daybook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/daybook-app/daybook/pkg/blocksync"
	"github.com/daybook-app/daybook/pkg/models"
	"github.com/daybook-app/daybook/pkg/store"
	"github.com/daybook-app/daybook/pkg/store/memory"
	"github.com/daybook-app/daybook/pkg/store/postgres"
	surrealstore "github.com/daybook-app/daybook/pkg/store/surrealdb"
)

// App holds the application state: the store, the bootstrapped workspace
// and user, and one sync session per open page.
type App struct {
	store  store.Store
	config *Config
	log    zerolog.Logger
	hub    *Hub

	workspace *models.Workspace
	user      *models.User

	mu       sync.Mutex
	sessions map[models.PageID]*blocksync.Orchestrator
}

// New connects the configured backend and returns the application. The
// workspace and user are not bootstrapped yet; see Bootstrap.
func New(ctx context.Context, config *Config, log zerolog.Logger) (*App, error) {
	var st store.Store
	var err error

	switch config.Backend {
	case BackendMemory:
		st = memory.New()
	case BackendSurrealDB:
		st, err = surrealstore.New(ctx,
			config.SurrealDBURL,
			config.SurrealDBNS,
			config.SurrealDBDB,
			config.SurrealDBUser,
			config.SurrealDBPass,
		)
	case BackendPostgres:
		st, err = postgres.New(config.PostgresDSN)
	default:
		err = fmt.Errorf("unknown backend %q", config.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s store: %w", config.Backend, err)
	}
	log.Info().Str("backend", string(config.Backend)).Msg("store connected")

	return &App{
		store:    st,
		config:   config,
		log:      log,
		hub:      NewHub(log),
		sessions: make(map[models.PageID]*blocksync.Orchestrator),
	}, nil
}

// Store returns the underlying store, mainly for tests.
func (a *App) Store() store.Store { return a.store }

// Bootstrap ensures the configured workspace and acting user exist. The
// memory backend starts empty on every run, so this runs on each startup.
func (a *App) Bootstrap(ctx context.Context) error {
	ws, err := a.store.GetWorkspaceByName(ctx, a.config.WorkspaceName)
	if errors.Is(err, store.ErrNotFound) {
		user := &models.User{ID: models.NewUserID(), Name: a.config.UserName}
		if err := a.store.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("bootstrap user: %w", err)
		}
		ws = &models.Workspace{
			ID:      models.NewWorkspaceID(),
			Name:    a.config.WorkspaceName,
			OwnerID: user.ID,
		}
		if err := a.store.CreateWorkspace(ctx, ws); err != nil {
			return fmt.Errorf("bootstrap workspace: %w", err)
		}
		a.workspace = ws
		a.user = user
		a.log.Info().Str("workspace", ws.Name).Msg("workspace bootstrapped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	a.workspace = ws
	user, err := a.store.GetUser(ctx, ws.OwnerID)
	if errors.Is(err, store.ErrNotFound) {
		user = &models.User{ID: ws.OwnerID, Name: a.config.UserName}
		if cerr := a.store.CreateUser(ctx, user); cerr != nil {
			return fmt.Errorf("bootstrap user: %w", cerr)
		}
		err = nil
	}
	if err != nil {
		return fmt.Errorf("bootstrap user: %w", err)
	}
	a.user = user
	return nil
}

// Migrate initializes or updates the backend schema.
func (a *App) Migrate(ctx context.Context, _ *MigrateCommand) error {
	return a.store.Migrate(ctx)
}

// session returns the sync session for a page, creating it on first use.
// Queue state transitions feed the websocket hub so clients can show a
// saving indicator.
func (a *App) session(pageID models.PageID) *blocksync.Orchestrator {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[pageID]; ok {
		return s
	}
	s := blocksync.NewOrchestrator(a.store, blocksync.OrchestratorConfig{
		ChangeDelay: a.config.ChangeDelay,
		Queue: blocksync.QueueConfig{
			FlushDelay: a.config.FlushDelay,
			OnError: func(err error) {
				a.hub.BroadcastSaveState(pageID, "error", err.Error())
			},
			Notify: func(state blocksync.State) {
				a.hub.BroadcastSaveState(pageID, state.String(), "")
			},
		},
		WorkspaceID: a.workspace.ID,
		UserID:      a.user.ID,
	}, a.log.With().Stringer("page_id", pageID).Logger())
	a.sessions[pageID] = s
	return s
}

// closeSessions flushes and tears down every open sync session.
func (a *App) closeSessions(ctx context.Context) {
	a.mu.Lock()
	sessions := make([]*blocksync.Orchestrator, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, s)
	}
	a.sessions = make(map[models.PageID]*blocksync.Orchestrator)
	a.mu.Unlock()

	for _, s := range sessions {
		if err := s.Close(ctx); err != nil {
			a.log.Warn().Err(err).Msg("session teardown flush failed")
		}
	}
}

// Close flushes open sessions and releases the store.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.closeSessions(ctx)
	return a.store.Close()
}
