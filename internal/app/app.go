package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fixit/internal/authz"
	"fixit/internal/caching"
	"fixit/internal/config"
	"fixit/internal/handlers"
	"fixit/internal/jobs"
	"fixit/internal/jobs/background"
	"fixit/internal/middleware"
	"fixit/internal/models"
	"fixit/internal/repositories"
	"fixit/internal/repositories/memstore"
	"fixit/internal/services"
	"fixit/internal/storage"
	"fixit/pkg/database"

	"github.com/go-co-op/gocron/v2"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Version is stamped at build time with -ldflags.
var Version = "1.0.0"

const (
	roleCacheTTL      = 5 * time.Minute
	lockTTL           = 5 * time.Minute
	inlineBackoff     = 2 * time.Second
	workerConcurrency = 10
	shutdownTimeout   = 30 * time.Second
)

type closer struct {
	name string
	fn   func() error
}

// App owns every long-lived collaborator. Close releases them in the reverse
// order of construction.
type App struct {
	Config    *config.Config
	Logger    *logrus.Logger
	Echo      *echo.Echo
	Store     repositories.Store
	Cache     caching.CacheService
	Scheduler *background.JobScheduler

	worker  *asynq.Server
	mux     *asynq.ServeMux
	closers []closer
}

// New builds the dependency graph. Nothing is started; Serve and RunOnce do that.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			if cerr := a.Close(); cerr != nil {
				logger.WithError(cerr).Warn("partial teardown failed")
			}
		}
	}()

	if cfg.JWT.Generated {
		logger.Warn("JWT_SECRET is not set, using a generated secret; sessions will not survive a restart")
	}

	if err = a.openStore(ctx); err != nil {
		return nil, err
	}
	redisClient, err := a.openCache()
	if err != nil {
		return nil, err
	}
	blobs, err := a.openBlobStore(ctx)
	if err != nil {
		return nil, err
	}

	clock := time.Now
	roles := services.NewRoleLoader(a.Store, a.Cache, roleCacheTTL, logger, clock)
	resolver := authz.NewResolver(roles, logger)

	if dir := filepath.Dir(cfg.AuditJournalPath); dir != "" {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit journal directory: %w", err)
		}
	}
	audit := services.NewAuditLogsService(a.Store, services.NewAuditJournal(cfg.AuditJournalPath), logger, clock)

	email, sms, err := buildProviders(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	deliverer := services.NewDeliverer(email, sms, audit, logger)
	queue := a.openQueue(redisClient, deliverer)
	notifications := services.NewNotificationService(a.Store, queue, resolver, audit, logger, clock)

	media := services.NewMediaService(a.Store, blobs, cfg.Server.UploadLimitBytes, cfg.Minio.UploadTimeout, logger, clock)
	deps := &services.EngineDeps{
		Store:       a.Store,
		Authz:       resolver,
		Roles:       roles,
		Audit:       audit,
		Notifier:    notifications,
		Media:       media,
		Links:       services.NewPublicLinks(cfg.PublicLink.TTL, cfg.PublicLink.MaxTTL, cfg.FrontendURL),
		Logger:      logger,
		Clock:       clock,
		Location:    cfg.Location,
		FrontendURL: cfg.FrontendURL,
	}

	var google services.IDTokenVerifier
	if cfg.GoogleEnabled() {
		verifier := services.NewGoogleVerifier(cfg.Google.ClientID, "", logger)
		a.onClose("google jwks", func() error { verifier.Close(); return nil })
		google = verifier
	}
	authSvc, err := services.NewAuthService(a.Store, a.Cache, notifications, audit, resolver, google, authConfig(cfg), logger, clock)
	if err != nil {
		return nil, err
	}

	requests := services.NewRequestService(deps)
	schedules := services.NewScheduleService(deps)
	comments := services.NewCommentService(deps)
	attachments := services.NewAttachmentService(deps)
	links := services.NewPublicLinkService(deps)
	gateway := services.NewPublicGateway(deps)
	runner := services.NewMaintenanceRunner(deps)
	reports := services.NewReportService(a.Store, resolver, audit, media, cfg.Location, cfg.AppName, logger, clock)

	h := &handlers.Handlers{
		Auth:            handlers.NewAuthHandlers(authSvc),
		Users:           handlers.NewUserHandlers(services.NewUserService(a.Store, resolver, roles, a.Cache, audit, notifications, logger, clock)),
		Properties:      handlers.NewPropertyHandlers(services.NewPropertyService(a.Store, resolver, roles, audit, logger, clock)),
		Requests:        handlers.NewRequestHandlers(requests, reports),
		RequestThreads:  handlers.NewThreadHandlers(models.ContextRequest, comments, attachments, links),
		Schedules:       handlers.NewScheduleHandlers(schedules),
		ScheduleThreads: handlers.NewThreadHandlers(models.ContextSchedule, comments, attachments, links),
		PublicRequests:  handlers.NewPublicHandlers(models.ContextRequest, gateway),
		PublicSchedules: handlers.NewPublicHandlers(models.ContextSchedule, gateway),
		Vendors:         handlers.NewVendorHandlers(services.NewVendorService(a.Store, resolver, roles, audit, logger, clock)),
		Notifications:   handlers.NewNotificationHandlers(notifications),
		Reports:         handlers.NewReportHandlers(reports),
		AuditLogs:       handlers.NewAuditLogsHandlers(audit),
		Health:          handlers.NewHealthHandlers(a.Store, a.Cache, Version),
	}
	a.Echo = a.newEcho(h, authSvc, blobs)

	var locker gocron.Locker = background.NewLocalLocker()
	if redisClient != nil {
		locker = background.NewRedisLocker(redisClient, lockTTL)
	}
	a.Scheduler, err = background.NewJobScheduler(runner, audit, locker, background.Config{
		Tick:              cfg.Scheduler.Tick,
		ReminderSweep:     cfg.Scheduler.ReminderSweep,
		ReminderThreshold: cfg.Scheduler.ReminderThreshold,
		BatchSize:         cfg.Scheduler.BatchSize,
		Location:          cfg.Location,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.onClose("scheduler", a.Scheduler.Stop)
	return a, nil
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	if !cfg.UsesDatabase() {
		a.Logger.Warn("DATABASE_URL is not set, using the in-memory store; data is lost on restart")
		a.Store = memstore.New()
		return nil
	}
	pool, err := database.NewPool(ctx, cfg.Database.URL, database.PoolOptions{ConnectTimeout: cfg.Database.Timeout}, a.Logger)
	if err != nil {
		return err
	}
	a.Store = repositories.NewStore(pool, cfg.Database.Timeout)
	a.onClose("database", func() error { a.Store.Close(); return nil })
	return nil
}

// openCache returns the raw redis client too; the locker and the delivery
// queue share it.
func (a *App) openCache() (*redis.Client, error) {
	cfg := a.Config
	if !cfg.UsesRedis() {
		a.Cache = caching.NewMemoryCacheService()
		a.onClose("cache", a.Cache.Close)
		return nil, nil
	}
	client, err := caching.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	a.Cache = caching.NewRedisCacheService(client, a.Logger)
	a.onClose("cache", a.Cache.Close)
	return client, nil
}

func (a *App) openBlobStore(ctx context.Context) (storage.BlobStore, error) {
	cfg := a.Config
	if !cfg.UsesMinio() {
		return storage.NewMemoryStore(fmt.Sprintf("http://localhost:%d/media", cfg.Server.Port)), nil
	}
	blobs, err := storage.NewMinioStore(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.Bucket, cfg.Minio.UseSSL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Minio.UploadTimeout)
	defer cancel()
	if err := blobs.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare bucket %s: %w", cfg.Minio.Bucket, err)
	}
	return blobs, nil
}

// openQueue selects asynq when redis is configured and an in-process queue
// otherwise. With asynq, Serve also runs the delivery worker.
func (a *App) openQueue(client *redis.Client, deliverer *services.Deliverer) services.DeliveryQueue {
	if client == nil {
		queue := services.NewInlineQueue(deliverer, inlineBackoff)
		a.onClose("delivery queue", queue.Close)
		return queue
	}
	opts := client.Options()
	redisOpt := asynq.RedisClientOpt{
		Addr:      opts.Addr,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}
	queue := services.NewAsynqQueue(asynq.NewClient(redisOpt), a.Config.DeliveryTimeout)
	a.onClose("delivery queue", queue.Close)

	a.worker = jobs.NewDeliveryServer(redisOpt, workerConcurrency, a.Logger)
	a.mux = asynq.NewServeMux()
	jobs.NewDeliveryWorker(deliverer, a.Logger).Register(a.mux)
	return queue
}

func buildProviders(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (email, sms services.Provider, err error) {
	switch cfg.Email.Provider {
	case "sendgrid":
		email = services.NewSendGridProvider(cfg.Email.SendGridAPIKey, cfg.Email.From, cfg.Email.FromName)
	case "smtp":
		email = services.NewSMTPProvider(cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.SMTPUsername,
			cfg.Email.SMTPPassword, cfg.Email.From, cfg.Email.FromName)
	default:
		email = services.NewLogProvider(models.ChannelEmail, logger)
	}

	switch cfg.SMS.Provider {
	case "sns":
		sms, err = services.NewSNSProvider(ctx, cfg.SMS.AWSRegion, cfg.SMS.AWSAccessKeyID, cfg.SMS.AWSSecretAccessKey, cfg.SMS.SenderID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize SNS: %w", err)
		}
	case "twilio":
		sms = services.NewTwilioProvider(cfg.SMS.TwilioAccountSID, cfg.SMS.TwilioAuthToken, cfg.SMS.TwilioFrom)
	default:
		sms = services.NewLogProvider(models.ChannelSMS, logger)
	}

	logger.WithFields(logrus.Fields{"email": email.Name(), "sms": sms.Name()}).Info("notification providers configured")
	return services.NewBreakerProvider(email, cfg.DeliveryTimeout, logger),
		services.NewBreakerProvider(sms, cfg.DeliveryTimeout, logger), nil
}

func authConfig(cfg *config.Config) services.AuthConfig {
	keys := []services.SigningKey{{ID: cfg.JWT.KeyID, Secret: []byte(cfg.JWT.Secret)}}
	if cfg.JWT.PreviousSecret != "" {
		keys = append(keys, services.SigningKey{ID: cfg.JWT.PreviousKeyID, Secret: []byte(cfg.JWT.PreviousSecret)})
	}
	return services.AuthConfig{
		Keys:        keys,
		AccessTTL:   cfg.JWT.AccessTTL,
		RefreshTTL:  cfg.JWT.RefreshTTL,
		FrontendURL: cfg.FrontendURL,
		AppName:     cfg.AppName,
	}
}

func (a *App) newEcho(h *handlers.Handlers, parser middleware.TokenParser, blobs storage.BlobStore) *echo.Echo {
	cfg := a.Config
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handlers.HTTPErrorHandler(a.Logger)

	e.Pre(echoMiddleware.RemoveTrailingSlash())
	e.Use(echoMiddleware.RequestID())
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORSWithConfig(echoMiddleware.CORSConfig{
		AllowOrigins:     []string{cfg.FrontendURL},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))
	e.Use(echoMiddleware.BodyLimit(cfg.Server.UploadLimit))
	e.Use(middleware.RequestMeta())
	e.Use(middleware.AccessLog(a.Logger))

	handlers.RegisterRoutes(e, h, handlers.RouteMiddleware{
		Authenticate: []echo.MiddlewareFunc{
			middleware.JWTMiddleware(parser),
			middleware.ActorLoader(a.Store, a.Logger),
		},
		AuthLimit:   middleware.RateLimit(a.Cache, "auth", cfg.RateLimit.Max, cfg.RateLimit.Window, a.Logger),
		PublicLimit: middleware.RateLimit(a.Cache, "public", cfg.RateLimit.Max, cfg.RateLimit.Window, a.Logger),
		Swagger:     cfg.Env != config.EnvProduction,
	})

	if mem, ok := blobs.(*storage.MemoryStore); ok {
		e.GET("/media/*", memoryBlobHandler(mem))
	}
	return e
}

// memoryBlobHandler serves objects of the in-memory blob store so that media
// links resolve in local development.
func memoryBlobHandler(mem *storage.MemoryStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := strings.TrimPrefix(c.Param("*"), "/")
		data, contentType, ok := mem.Get(key)
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "object not found")
		}
		return c.Blob(http.StatusOK, contentType, data)
	}
}

// Serve starts the scheduler, the delivery worker when there is one, and the
// HTTP server, then blocks until ctx is cancelled or the server fails.
func (a *App) Serve(ctx context.Context) error {
	a.Scheduler.Start()

	if a.worker != nil {
		if err := a.worker.Start(a.mux); err != nil {
			return fmt.Errorf("failed to start delivery worker: %w", err)
		}
		a.onClose("delivery worker", func() error { a.worker.Shutdown(); return nil })
	}

	addr := fmt.Sprintf(":%d", a.Config.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		a.Logger.WithFields(logrus.Fields{
			"addr":    addr,
			"env":     a.Config.Env,
			"version": Version,
		}).Info("server starting")
		if err := a.Echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// RunOnce runs every periodic job a single time. The tick command uses it.
func (a *App) RunOnce(ctx context.Context) error {
	return a.Scheduler.RunOnce(ctx)
}

// Close tears down in reverse order of construction and keeps going past
// individual failures.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		a.Logger.WithField("component", c.name).Debug("closed")
	}
	a.closers = nil
	return errors.Join(errs...)
}
