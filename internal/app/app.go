package app

import (
	"context"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/sundialhq/standup/internal/authclient"
	"github.com/sundialhq/standup/internal/config"
	"github.com/sundialhq/standup/internal/guard"
	"github.com/sundialhq/standup/internal/httpclient"
	"github.com/sundialhq/standup/internal/logger"
	"github.com/sundialhq/standup/internal/profiles"
	"github.com/sundialhq/standup/internal/reports"
	"github.com/sundialhq/standup/internal/session"
	"github.com/sundialhq/standup/internal/tokenstore"
	"github.com/sundialhq/standup/internal/visibility"
)

// App wires the session core together. It is constructed once at the
// application root; UI layers consume the exposed fields rather than
// building their own auth state.
type App struct {
	Config     config.Config
	Store      *tokenstore.Store
	Auth       *authclient.Client
	Profiles   *profiles.Resolver
	Controller *session.Controller
	Dispatcher *visibility.Dispatcher
	Reconciler *visibility.Reconciler
	Guard      *guard.Guard
	Reports    *reports.Client
	Autosaver  *reports.Autosaver

	rewriter *tokenstore.ExpiryRewriter
}

// New builds the app graph. navigator and notifier are the UI seams; either
// may be nil for headless use.
func New(cfg config.Config, navigator session.Navigator, notifier session.Notifier) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Logger = logger.Setup(cfg.Debug)

	store := tokenstore.NewStore(cfg.StateDir, cfg.TokenLifetime)

	auth := authclient.New(cfg, store,
		authclient.WithTransport(logger.Transport(httpclient.NewCachingTransport(filepath.Join(cfg.StateDir, "httpcache")))),
	)

	resolver := profiles.NewResolver(auth, cfg.ProviderURL, cfg.FetchTimeout)

	controller := session.New(auth, resolver, navigator, notifier, cfg.Routes.Landing, auth.Events())

	dispatcher := visibility.NewDispatcher()
	reconciler := visibility.NewReconciler(controller, store, dispatcher, cfg.SessionCheckInterval)

	return &App{
		Config:     cfg,
		Store:      store,
		Auth:       auth,
		Profiles:   resolver,
		Controller: controller,
		Dispatcher: dispatcher,
		Reconciler: reconciler,
		Guard:      guard.New(controller, dispatcher, cfg),
		Reports:    reports.NewClient(auth, cfg.ProviderURL, cfg.FetchTimeout),
		Autosaver:  reports.NewAutosaver(store, 0),
		rewriter:   tokenstore.NewExpiryRewriter(store, cfg.ExpiryRewriteInterval),
	}, nil
}

// Start initializes the session controller and launches background work.
func (a *App) Start(ctx context.Context) {
	a.rewriter.Start(ctx)
	a.Controller.Initialize(ctx)

	log.Info().Bool("persisted", a.Store.Available()).Msg("session core started")
}

// Stop tears the app graph down in reverse order.
func (a *App) Stop() {
	a.Reconciler.Close()
	a.Controller.Close()
	a.rewriter.Stop()

	log.Info().Msg("session core stopped")
}
