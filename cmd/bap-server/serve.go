package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/browseragentprotocol/bap/internal/approval"
	"github.com/browseragentprotocol/bap/internal/audit"
	"github.com/browseragentprotocol/bap/internal/config"
	"github.com/browseragentprotocol/bap/internal/dispatcher"
	"github.com/browseragentprotocol/bap/internal/engine"
	"github.com/browseragentprotocol/bap/internal/engine/enginetest"
	"github.com/browseragentprotocol/bap/internal/engine/rodengine"
	"github.com/browseragentprotocol/bap/internal/events"
	"github.com/browseragentprotocol/bap/internal/handlers"
	"github.com/browseragentprotocol/bap/internal/policy"
	"github.com/browseragentprotocol/bap/internal/ratelimit"
	"github.com/browseragentprotocol/bap/internal/registry"
	"github.com/browseragentprotocol/bap/internal/session"
	"github.com/browseragentprotocol/bap/internal/stream"
	"github.com/browseragentprotocol/bap/internal/wsserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the BAP WebSocket server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	eng, err := newEngine(cfg.Engine, log)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close() //nolint:errcheck

	reg := registry.New()
	eventBus := events.New()

	sessLimits := session.Limits{
		MaxContexts:    cfg.Session.MaxContexts,
		MaxPagesPerCtx: cfg.Session.MaxPagesPerCtx,
		IdleTimeout:    cfg.Session.IdleTimeout,
		MaxLifetime:    cfg.Session.MaxLifetime,
	}
	sessions := session.NewManager(sessLimits, sessionTeardown(reg, eventBus, log), log)
	defer sessions.Stop()

	urlGuard := policy.NewURLGuard()
	urlGuard.AllowHosts = cfg.Security.AllowedHosts
	urlGuard.DenyHosts = cfg.Security.DeniedHosts

	deps := &handlers.Deps{
		Engine:        eng,
		Sessions:      sessions,
		Registry:      reg,
		Streams:       stream.New(),
		Approvals:     approval.New(),
		Events:        eventBus,
		URLGuard:      urlGuard,
		LaunchGuard:   policy.NewLaunchArgGuard(),
		PathGuard:     policy.NewPathGuard(append([]string{cfg.Engine.DownloadsPath}, cfg.Security.AllowedDownloadDirs...)...),
		SelGuard:      policy.NewSelectorGuard(),
		Redactor:      policy.NewRedactor(),
		Log:           log,
		DefaultScopes: policy.ResolveScopes(cfg.Security.Scopes, policy.Profile(cfg.Security.ScopeProfile)),
	}

	methods := handlers.Methods(deps)
	limiter := ratelimit.New(ratelimit.DefaultLimits())
	scopes := policy.NewScopeChecker()
	trail := audit.NewStderr(log)

	disp := dispatcher.New(methods, sessions, limiter, scopes, deps.Redactor, trail, log)

	var authToken string
	if cfg.Security.RequireAuth {
		authToken = cfg.Security.AuthToken
	}
	wsCfg := wsserver.Config{
		Addr:                cfg.Server.Address(),
		AuthToken:           authToken,
		MaxFrameSize:        cfg.Server.MaxFrameSize,
		ReadTimeout:         cfg.Server.ReadTimeout,
		AllowedOrigins:      cfg.Security.AllowedOrigins,
		MaxConnectionsPerIP: cfg.Security.MaxConnectionsPerIP,
		RequireTLS:          cfg.RequireTLS(),
	}
	srv := wsserver.New(wsCfg, disp, sessions, trail, log)
	deps.Notify = srv.Notify
	sessions.SetExpireNotify(srv.CloseExpired)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting bap-server",
		zap.String("addr", wsCfg.Addr),
		zap.String("engine", cfg.Engine.Kind),
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Error("server exited with error", zap.Error(err))
		return err
	}
	log.Info("bap-server shut down cleanly")
	return nil
}

// newEngine selects the BrowserEngine implementation from EngineConfig.Kind.
// "fake" drives the in-memory enginetest.Engine, useful for smoke-testing
// the protocol surface without a Chrome binary on the box.
func newEngine(cfg config.EngineConfig, log *zap.Logger) (engine.Engine, error) {
	switch cfg.Kind {
	case "fake":
		return enginetest.New(), nil
	case "rod":
		return rodengine.New(log), nil
	default:
		return nil, fmt.Errorf("unknown engine kind %q", cfg.Kind)
	}
}

// sessionTeardown builds the session.CloseFunc invoked whenever the
// Manager removes a session, whether from an explicit shutdown call or
// its own idle/lifetime sweep. It mirrors handlers.shutdown's cascade
// (contexts, browser, registry, events) for the sweep path, which never
// goes through the RPC handler.
func sessionTeardown(reg *registry.Registry, bus *events.Bus, log *zap.Logger) session.CloseFunc {
	return func(sess *session.Session) {
		ctx := context.Background()
		var g errgroup.Group
		for _, ctxID := range sess.ContextIDs() {
			ctxID := ctxID
			engCtx, _, ok := sess.Context(ctxID)
			if !ok {
				continue
			}
			for _, pageID := range sess.PageIDs(ctxID) {
				reg.InvalidatePage(pageID)
			}
			g.Go(func() error {
				if err := engCtx.Close(ctx); err != nil {
					log.Warn("error closing context during session teardown",
						zap.String("session_id", sess.ID), zap.String("context_id", ctxID), zap.Error(err))
				}
				return nil
			})
		}
		_ = g.Wait()
		if b := sess.Browser(); b != nil {
			if err := b.Close(ctx); err != nil {
				log.Warn("error closing browser during session teardown",
					zap.String("session_id", sess.ID), zap.Error(err))
			}
		}
		bus.UnsubscribeAll(sess.ID)
	}
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}
