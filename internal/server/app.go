// Package server builds the application's dependencies and runs the HTTP
// server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-form/internal/api"
	"github.com/JakeFAU/contact-form/internal/auth"
	"github.com/JakeFAU/contact-form/internal/clock/system"
	"github.com/JakeFAU/contact-form/internal/config"
	"github.com/JakeFAU/contact-form/internal/geo"
	"github.com/JakeFAU/contact-form/internal/id/uuid"
	"github.com/JakeFAU/contact-form/internal/logging"
	"github.com/JakeFAU/contact-form/internal/notify"
	"github.com/JakeFAU/contact-form/internal/pipeline"
	"github.com/JakeFAU/contact-form/internal/policy/ratelimit"
	"github.com/JakeFAU/contact-form/internal/publisher"
	gcppublisher "github.com/JakeFAU/contact-form/internal/publisher/pubsub"
	"github.com/JakeFAU/contact-form/internal/storage"
	gcsstorage "github.com/JakeFAU/contact-form/internal/storage/gcs"
	localstorage "github.com/JakeFAU/contact-form/internal/storage/local"
	memorystorage "github.com/JakeFAU/contact-form/internal/storage/memory"
	s3storage "github.com/JakeFAU/contact-form/internal/storage/s3"
	"github.com/JakeFAU/contact-form/internal/store"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	blobs           storage.BlobStore
	store           *store.Store
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	gcsClient       *gcs.Client
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	return build(ctx, cfg, logger)
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("geo_enabled", cfg.Geo.APIKey != ""),
		zap.Bool("rate_limit", cfg.RateLimit.Enabled),
	)

	var err error
	app.blobs, err = setupStorage(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	app.store, err = store.New(app.blobs, cfg.SnapshotPath(), logger.Named("store"))
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("record store init failed: %w", err)
	}

	pub, err := setupPublisher(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	clock := system.New()
	enricher := geo.New(geo.Config{
		APIKey:  cfg.Geo.APIKey,
		BaseURL: cfg.Geo.BaseURL,
		Timeout: cfg.GeoTimeout(),
	}, nil, logger.Named("geo"))
	if !enricher.Enabled() {
		logger.Warn("no geolocation api key configured, enrichment disabled")
	}

	notifier := notify.New(notify.Config{
		Host:      cfg.Mail.Host,
		Port:      cfg.Mail.Port,
		Username:  cfg.Mail.Username,
		Password:  cfg.Mail.Password,
		From:      cfg.Mail.From,
		To:        cfg.Mail.To,
		Subject:   cfg.Mail.Subject,
		TLSPolicy: cfg.Mail.TLSPolicy,
	}, nil, logger.Named("notify"))

	pl := pipeline.New(pipeline.Deps{
		Validator: auth.NewValidator(cfg.Auth.JWTSecret, clock),
		Enricher:  enricher,
		Store:     app.store,
		Notifier:  notifier,
		Publisher: pub,
	}, pipeline.Config{
		PhoneRegion:      cfg.Contact.PhoneRegion,
		BestEffortNotify: cfg.Mail.BestEffort,
		Topic:            cfg.PubSub.TopicName,
	}, logger.Named("pipeline"))

	opts := api.Options{
		Issuer:         auth.NewIssuer(cfg.Auth.JWTSecret, cfg.TokenTTL(), clock),
		Submitter:      pl,
		IDs:            uuid.New(),
		Ready:          app.ready,
		Logger:         logger.Named("api"),
		RequestTimeout: cfg.RequestTimeout(),
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	}
	if cfg.RateLimit.Enabled {
		opts.Limiter = ratelimit.New(ratelimit.Config{
			RPS:   cfg.RateLimit.RPS,
			Burst: cfg.RateLimit.Burst,
		})
		opts.TrustForwardedFor = cfg.RateLimit.TrustForwardedFor
		logger.Info("rate limiter enabled",
			zap.Float64("rps", cfg.RateLimit.RPS),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
	}
	app.apiServer = api.NewServer(opts)

	return app, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Store exposes the record store for read-only CLI commands.
func (a *App) Store() *store.Store {
	return a.store
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// ready reports whether the snapshot backend answers. A missing snapshot is fine.
func (a *App) ready(ctx context.Context) error {
	_, _, err := a.blobs.GetObject(ctx, a.store.Path())
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases cloud clients and flushes the logger.
func (a *App) Close() {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcsClient = nil
	}
}

func setupStorage(ctx context.Context, app *App) (storage.BlobStore, error) {
	cfg := app.cfg.Storage
	switch cfg.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS storage backend", zap.String("bucket", cfg.Bucket))
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case config.BackendS3:
		app.logger.Info("using S3 storage backend",
			zap.String("bucket", cfg.Bucket),
			zap.String("endpoint", cfg.S3.Endpoint),
		)
		client, err := s3storage.NewClient(ctx, s3storage.Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 client init failed: %w", err)
		}
		blobs, err := s3storage.New(client, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("s3 blob store init failed: %w", err)
		}
		return blobs, nil
	case config.BackendLocal:
		app.logger.Info("using local storage backend", zap.String("path", cfg.Local.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		app.logger.Warn("using in-memory storage backend, submissions are lost on restart")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (publisher.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, submission events are not published")
		return nil, nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = app.pubsubClient.Publisher(app.cfg.PubSub.TopicName)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(app.pubsubPublisher), nil
}
