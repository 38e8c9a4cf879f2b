package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron"

	"startup-analyst/internal/dedupe"
	"startup-analyst/internal/events"
	"startup-analyst/internal/poller"
	"startup-analyst/internal/queue"
	"startup-analyst/internal/remote"
	"startup-analyst/internal/session"
	"startup-analyst/internal/shared/config"
	"startup-analyst/internal/shared/server"
	"startup-analyst/internal/shared/storage/db"
	"startup-analyst/internal/shared/storage/object"
	localstore "startup-analyst/internal/shared/storage/object/local"
	miniostore "startup-analyst/internal/shared/storage/object/minio"
	s3store "startup-analyst/internal/shared/storage/object/s3"
	"startup-analyst/internal/shared/telemetry"
	"startup-analyst/internal/warehouse"
)

// Service is everything the analysis service exposes. Both the HTTP client
// and the in-process memory service satisfy it.
type Service interface {
	remote.Submitter
	remote.ProgressSource
	remote.ProgressClearer
	remote.Backend
}

// App holds shared dependencies.
type App struct {
	Config    config.Config
	Router    *gin.Engine
	DB        *sql.DB
	Objects   object.Store
	Queue     queue.Client
	Service   Service
	Memory    *remote.MemoryService
	Redis     *remote.RedisBackend
	Warehouse *warehouse.Repo
	Publisher events.Publisher
	Store     *session.Store
	Poller    *poller.Poller
	Tracker   *session.Tracker
	Hub       *session.Hub
	Handler   *session.Handler

	schedulers []*gocron.Scheduler
	cancel     context.CancelFunc
}

// Options tweak Build for callers other than the API server.
type Options struct {
	// OnFinish is called when a tracked submission ends.
	OnFinish func(session.Outcome)
	// SkipSchedules leaves periodic reload and cleanup off.
	SkipSchedules bool
}

// Build prepares every dependency and the router. The returned App owns
// background goroutines; call Close when done.
func Build(parent context.Context, cfg config.Config, opts Options) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	ctx, cancel := context.WithCancel(parent)
	app := &App{Config: cfg, cancel: cancel}
	if err := app.build(ctx, opts); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg := a.Config

	svc, err := buildService(ctx, cfg)
	if err != nil {
		return err
	}
	a.Service = svc
	if mem, ok := svc.(*remote.MemoryService); ok {
		a.Memory = mem
	}

	submitter, err := a.buildSubmitter(ctx)
	if err != nil {
		return err
	}

	sources, err := a.buildSources(ctx)
	if err != nil {
		return err
	}

	a.Publisher, err = buildPublisher(cfg)
	if err != nil {
		return err
	}

	a.Store, err = session.NewStore(sources,
		session.WithPublisher(a.Publisher),
		session.WithNearPolicy(dedupe.NearPolicy{
			ScoreTolerance: cfg.NearDupScoreTolerance,
			Window:         cfg.NearDupWindow,
		}),
	)
	if err != nil {
		return err
	}
	if err := a.Store.Reload(ctx); err != nil {
		// The next scheduled or manual reload retries.
		telemetry.Warn("bootstrap.initial_reload_failed", map[string]any{"error": err})
	}

	a.Hub = session.NewHub()
	go a.Hub.Run()

	a.Poller = poller.New(svc, poller.WithInterval(cfg.PollInterval))
	a.Tracker, err = session.NewTracker(ctx, session.TrackerDeps{
		Submitter: submitter,
		Clearer:   svc,
		Poller:    a.Poller,
		Store:     a.Store,
		Publisher: a.Publisher,
		Hub:       a.Hub,
		OnFinish:  opts.OnFinish,
	})
	if err != nil {
		return err
	}

	a.Handler = session.NewHandler(a.Tracker, a.Store, a.Hub)
	if a.Warehouse != nil {
		a.Handler.Benchmarks = a.Warehouse
	}
	if a.Memory != nil {
		a.Handler.Jobs = a.Memory
	}
	a.Router = server.NewRouter(server.RouterDeps{Config: cfg, Session: a.Handler})

	if !opts.SkipSchedules {
		if err := a.startSchedules(ctx); err != nil {
			return err
		}
	}

	telemetry.Info("bootstrap.ready", map[string]any{
		"env":             cfg.Env,
		"submit_mode":     cfg.SubmitMode,
		"results_backend": cfg.ResultsBackend,
		"sources":         len(sources),
		"memory_service":  a.Memory != nil,
		"warehouse":       a.Warehouse != nil,
	})
	return nil
}

func buildService(ctx context.Context, cfg config.Config) (Service, error) {
	if cfg.UsesMemoryService() {
		if !isDevLike(cfg.Env) && cfg.AnalysisServiceURL == "" {
			return nil, fmt.Errorf("ANALYSIS_SERVICE_URL is required")
		}
		telemetry.Info("bootstrap.memory_service", map[string]any{"step_per_query": cfg.MemoryStepPerQuery})
		mem := remote.NewMemoryService()
		mem.StepPerQuery = cfg.MemoryStepPerQuery
		return mem, nil
	}
	return remote.NewClient(ctx, remote.ClientConfig{
		BaseURL:           cfg.AnalysisServiceURL,
		Token:             cfg.AnalysisServiceToken,
		OAuthClientID:     cfg.OAuthClientID,
		OAuthClientSecret: cfg.OAuthClientSecret,
		OAuthTokenURL:     cfg.OAuthTokenURL,
		OAuthScopes:       cfg.OAuthScopes,
		Timeout:           cfg.RequestTimeout,
	})
}

func (a *App) buildSubmitter(ctx context.Context) (remote.Submitter, error) {
	if a.Config.SubmitMode != "queue" {
		return a.Service, nil
	}
	objects, err := buildObjectStore(ctx, a.Config)
	if err != nil {
		return nil, err
	}
	q, err := queue.NewSQSClient(ctx, a.Config.SQSQueueURL, a.Config.AWSRegion)
	if err != nil {
		return nil, err
	}
	a.Objects = objects
	a.Queue = q
	return &remote.QueueSubmitter{Store: objects, Queue: q}, nil
}

func buildObjectStore(ctx context.Context, cfg config.Config) (object.Store, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	case "minio":
		return miniostore.New(ctx, miniostore.Options{
			Endpoint:  cfg.MinioEndpoint,
			Region:    cfg.AWSRegion,
			Bucket:    cfg.MinioBucket,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
		})
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

// buildSources puts the insert target first, then the warehouse archive
// when one is configured.
func (a *App) buildSources(ctx context.Context) ([]session.Source, error) {
	cfg := a.Config
	var primary session.Source
	switch cfg.ResultsBackend {
	case "redis":
		rb, err := remote.NewRedisBackend(ctx, remote.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.RedisKey,
		})
		if err != nil {
			return nil, err
		}
		a.Redis = rb
		primary = session.Source{Name: "redis", Backend: rb}
	default:
		name := "service"
		if a.Memory != nil {
			name = "memory"
		}
		primary = session.Source{Name: name, Backend: a.Service}
	}
	sources := []session.Source{primary}

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if sqlDB != nil {
		a.DB = sqlDB
		a.Warehouse = &warehouse.Repo{DB: sqlDB}
		sources = append(sources, session.Source{Name: "warehouse", Backend: a.Warehouse})
	}
	return sources, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		telemetry.Info("bootstrap.warehouse_disabled", nil)
		return nil, nil
	}
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
	if err == nil {
		err = db.RunMigrations(ctx, sqlDB)
		if err != nil {
			sqlDB.Close()
		}
	}
	if err != nil {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.warehouse_unavailable", map[string]any{"error": err})
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildPublisher(cfg config.Config) (events.Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return events.Noop{}, nil
	}
	pub, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.kafka_unavailable", map[string]any{"error": err})
			return events.Noop{}, nil
		}
		return nil, err
	}
	return pub, nil
}

func (a *App) startSchedules(ctx context.Context) error {
	reload, err := session.StartReloadSchedule(ctx, a.Store, a.Config.ReloadEveryMinutes)
	if err != nil {
		return err
	}
	if reload != nil {
		a.schedulers = append(a.schedulers, reload)
	}
	if a.Memory != nil {
		cleanup, err := session.StartProgressCleanup(a.Memory, remote.ProgressRetention)
		if err != nil {
			return err
		}
		a.schedulers = append(a.schedulers, cleanup)
	}
	return nil
}

// Close stops background work and releases connections.
func (a *App) Close() error {
	for _, s := range a.schedulers {
		s.Stop()
	}
	if a.Poller != nil {
		a.Poller.Stop()
	}
	if a.Hub != nil {
		a.Hub.Close()
	}
	if a.cancel != nil {
		a.cancel()
	}
	var errs []error
	if a.Publisher != nil {
		errs = append(errs, a.Publisher.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
