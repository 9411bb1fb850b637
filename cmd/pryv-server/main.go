// Command pryv-server runs the Open-Pryv.io core API: method dispatch, the stream-scoped permission model, the
// stream-query evaluator, the versioning/deletion engine, and the attachment-access gate, wired together as one
// struct of repositories/services plugged into a single fiber.App.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pryv-io/core/internal/access"
	"github.com/pryv-io/core/internal/account"
	"github.com/pryv-io/core/internal/api"
	"github.com/pryv-io/core/internal/apierrors"
	"github.com/pryv-io/core/internal/attachment"
	"github.com/pryv-io/core/internal/config"
	"github.com/pryv-io/core/internal/disposable"
	"github.com/pryv-io/core/internal/event"
	"github.com/pryv-io/core/internal/followedslice"
	"github.com/pryv-io/core/internal/httputil"
	"github.com/pryv-io/core/internal/media"
	"github.com/pryv-io/core/internal/method"
	"github.com/pryv-io/core/internal/mfa"
	"github.com/pryv-io/core/internal/notify"
	"github.com/pryv-io/core/internal/postgres"
	"github.com/pryv-io/core/internal/profile"
	"github.com/pryv-io/core/internal/reqctx"
	"github.com/pryv-io/core/internal/session"
	"github.com/pryv-io/core/internal/stream"
	"github.com/pryv-io/core/internal/systemstream"
	"github.com/pryv-io/core/internal/user"
	"github.com/pryv-io/core/internal/valkey"
	"github.com/pryv-io/core/internal/versioning"
	"github.com/pryv-io/core/internal/webhook"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// server holds the shared dependencies route handlers close over, following a "one struct, one registerRoutes
// method" shape.
type server struct {
	cfg          *config.Config
	db           *pgxpool.Pool
	rdb          *redis.Client
	users        user.Repository
	sessions     session.Repository
	accesses     access.Repository
	streams      stream.Repository
	events       event.Repository
	sysValues    systemstream.Repository
	mfaConfig    mfa.Repository
	webhooks     webhook.Repository
	profiles     profile.Repository
	followed     followedslice.Repository
	accountSvc   *account.Service
	accessMgr    *access.Manager
	engine       *versioning.Engine
	gate         *attachment.Gate
	notifyBus    *notify.Bus
	registry     *method.Registry
	resolver     *reqctx.Resolver
}

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Str("env", cfg.ServerEnv).
		Msg("Starting Pryv core server")

	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	if err := postgres.Migrate(cfg.DatabaseURL, log.Logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	rdb, err := valkey.Connect(ctx, cfg.ValkeyURL, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("Valkey connected")

	blocklist := disposable.NewBlocklist("https://disposable.github.io/disposable-email-domains/domains.txt", true)
	blocklist.Prefetch(ctx)

	users := user.NewPGRepository(db, log.Logger)
	sessions := session.NewPGRepository(db, log.Logger)
	accesses := access.NewPGRepository(db, log.Logger)
	streams := stream.NewPGRepository(db, log.Logger)
	events := event.NewPGRepository(db, log.Logger)
	sysValues := systemstream.NewPGRepository(db, log.Logger)
	mfaConfig := mfa.NewPGRepository(db, log.Logger)
	webhooks := webhook.NewPGRepository(db, log.Logger)
	profiles := profile.NewPGRepository(db, log.Logger)
	followed := followedslice.NewPGRepository(db, log.Logger)
	history := versioning.NewPGHistoryRepository(db, log.Logger)

	storage := media.NewLocalStorage(cfg.AttachmentsBasePath, fmt.Sprintf("http://127.0.0.1:%d/attachments", cfg.ServerPort))

	accountSvc := account.NewService(users, sessions, accesses, sysValues, mfaConfig, blocklist, rdb, db, cfg, log.Logger)
	accessMgr := access.NewManager(accesses)
	engine := versioning.NewEngine(db, events, history, streams, *cfg, log.Logger)
	gate := attachment.NewGate(events, storage, cfg.FilesReadTokenSecret)
	notifyBus := notify.NewBus(rdb, cfg.TCPMessagingEnabled, log.Logger)

	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()
	go func() {
		if err := notifyBus.Run(subCtx); err != nil {
			log.Error().Err(err).Msg("notify bus subscriber stopped")
		}
	}()

	registry := method.NewRegistry()
	api.RegisterMethods(registry, streams, events, engine, accessMgr, log.Logger)

	resolver := reqctx.NewResolver(accesses, streams, cfg.SSOCookieSignSecret, account.SSOIssuer)

	srv := &server{
		cfg: cfg, db: db, rdb: rdb,
		users: users, sessions: sessions, accesses: accesses, streams: streams, events: events,
		sysValues: sysValues, mfaConfig: mfaConfig, webhooks: webhooks, profiles: profiles, followed: followed,
		accountSvc: accountSvc, accessMgr: accessMgr, engine: engine, gate: gate, notifyBus: notifyBus,
		registry: registry, resolver: resolver,
	}

	app := fiber.New(fiber.Config{
		AppName:   "Pryv core",
		BodyLimit: cfg.BodyLimitBytes(),
		ErrorHandler: func(c fiber.Ctx, err error) error {
			var apiErr *apierrors.APIError
			if ae, ok := errors.AsType[*apierrors.APIError](err); ok {
				apiErr = ae
			} else if fe, ok := errors.AsType[*fiber.Error](err); ok {
				apiErr = apierrors.NewWithStatus(mapFiberCode(fe.Code), fe.Code, fe.Message)
			} else {
				log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("unhandled error")
				apiErr = apierrors.New(apierrors.UnexpectedError, "an internal error occurred")
			}
			return httputil.Fail(c, apiErr)
		},
	})

	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log.Logger, "/system/health"))
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"X-Request-Id"},
	}))
	app.Use(limiter.New(limiter.Config{Max: 300, Expiration: time.Minute}))

	srv.registerRoutes(app)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("shutting down server")
		subCancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("server listening")
	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// mapFiberCode translates a bare fiber HTTP status (404, 405, etc., raised before any handler ran) into the closest
// apierrors.Kind so every response — including ones fiber itself generates — uses the one error envelope shape.
func mapFiberCode(status int) apierrors.Kind {
	switch status {
	case fiber.StatusNotFound:
		return apierrors.UnknownResource
	case fiber.StatusUnauthorized:
		return apierrors.InvalidCredentials
	case fiber.StatusForbidden:
		return apierrors.Forbidden
	default:
		return apierrors.UnexpectedError
	}
}
