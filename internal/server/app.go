// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/tzxm-crawler/internal/api"
	"github.com/JakeFAU/tzxm-crawler/internal/catalog"
	"github.com/JakeFAU/tzxm-crawler/internal/clock/system"
	"github.com/JakeFAU/tzxm-crawler/internal/config"
	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	"github.com/JakeFAU/tzxm-crawler/internal/dispatcher"
	"github.com/JakeFAU/tzxm-crawler/internal/engine"
	collyfetcher "github.com/JakeFAU/tzxm-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/tzxm-crawler/internal/id/uuid"
	"github.com/JakeFAU/tzxm-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/tzxm-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/tzxm-crawler/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/tzxm-crawler/internal/queue/memory"
	"github.com/JakeFAU/tzxm-crawler/internal/retrieval"
	gcsstorage "github.com/JakeFAU/tzxm-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/tzxm-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/tzxm-crawler/internal/storage/memory"
	mongostore "github.com/JakeFAU/tzxm-crawler/internal/storage/mongo"
	pgstore "github.com/JakeFAU/tzxm-crawler/internal/storage/postgres"
	"github.com/JakeFAU/tzxm-crawler/internal/store"
	"github.com/JakeFAU/tzxm-crawler/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	clock     crawler.Clock
	repos     store.Repositories
	blobs     crawler.BlobStore
	gcs       *storage.Client
	publisher crawler.Publisher
	pubsub    *gcppublisher.Publisher
	catalog   *catalog.Client
	regions   *catalog.RegionCache
	queue     *queuememory.Queue
	dispatch  *dispatcher.Dispatcher
	registry  *retrieval.Registry
	apiServer *api.Server
	closeOnce sync.Once
}

// Build creates the application's dependencies. Resources opened before a
// failure are released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app = &App{cfg: cfg, logger: logger, clock: system.New()}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
			app = nil
		}
	}()

	logger.Info("building application dependencies",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("blob_backend", cfg.Storage.Blob),
		zap.String("portal", cfg.Portal.BaseURL),
	)
	if err = app.setupRepositories(ctx); err != nil {
		return app, err
	}
	if err = app.setupBlobStore(ctx); err != nil {
		return app, err
	}
	if err = app.setupPublisher(ctx); err != nil {
		return app, err
	}
	doer := app.setupPortal()
	if err = app.setupDispatcher(); err != nil {
		return app, err
	}

	app.registry = retrieval.NewRegistry(cfg.Retrieval.SessionTTL, app.clock)
	retrievals, err := retrieval.New(retrieval.Dependencies{
		Doer:     doer,
		Catalog:  app.catalog,
		Registry: app.registry,
		Projects: app.repos.Projects,
		Blobs:    app.blobs,
		IDs:      uuid.NewSession(),
		Clock:    app.clock,
	}, logger)
	if err != nil {
		return app, fmt.Errorf("retrieval service init failed: %w", err)
	}

	app.apiServer = api.NewServer(api.Dependencies{
		Dispatcher: app.dispatch,
		Projects:   app.repos.Projects,
		Regions:    app.regions,
		Catalog:    app.catalog,
		Retrieval:  retrievals,
		Ready:      app.repos.Ping,
	}, cfg, logger)
	return app, nil
}

func (a *App) setupRepositories(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendPostgres:
		pg, err := pgstore.New(ctx, pgstore.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.repos = pg.Repositories()
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		a.logger.Info("using postgres repositories")
	case config.BackendMongo:
		mg, err := mongostore.New(ctx, mongostore.Config{
			URI:      a.cfg.Mongo.URI,
			Database: a.cfg.Mongo.Database,
			Timeout:  a.cfg.Mongo.Timeout,
		})
		if err != nil {
			return fmt.Errorf("mongo store init failed: %w", err)
		}
		a.repos = mg.Repositories()
		a.logger.Info("using mongo repositories", zap.String("database", a.cfg.Mongo.Database))
	case config.BackendMemory, "":
		a.repos = memorystorage.NewRepositories()
		a.logger.Warn("using in-memory repositories; checkpoints are lost on restart")
	default:
		return fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
	return nil
}

func (a *App) setupBlobStore(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Blob {
	case config.BlobGCS:
		a.gcs, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.blobs, err = gcsstorage.New(a.gcs, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS blob store", zap.String("bucket", a.cfg.Storage.GCSBucket))
	case config.BlobLocal:
		a.blobs, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local blob store", zap.String("path", a.cfg.Storage.LocalDir))
	case config.BlobMemory, "":
		a.blobs = memorystorage.NewBlobStore()
		a.logger.Info("using in-memory blob store")
	default:
		return fmt.Errorf("unknown blob backend %q", a.cfg.Storage.Blob)
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.Crawler.DiscoveryTopic == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsub = pub
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.Crawler.DiscoveryTopic),
	)
	return nil
}

// setupPortal builds the throttled fetcher shared by the catalog client and
// retrieval sessions.
func (a *App) setupPortal() *collyfetcher.Fetcher {
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.Portal.RequestsPerSec,
		DefaultBurst: a.cfg.Portal.Burst,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Portal.UserAgent,
		Timeout:   a.cfg.Portal.Timeout,
	}, limiter)
	a.catalog = catalog.New(fetcher, a.cfg.Portal.BaseURL, a.logger)
	a.regions = catalog.NewRegionCache(a.cfg.Regions.CachePath, a.catalog, a.logger)
	a.logger.Info("portal client ready",
		zap.String("base_url", a.catalog.BaseURL()),
		zap.Float64("requests_per_second", a.cfg.Portal.RequestsPerSec),
		zap.Int("burst", a.cfg.Portal.Burst),
	)
	return fetcher
}

func (a *App) setupDispatcher() error {
	eng, err := engine.New(engine.Dependencies{
		Catalog:     a.catalog,
		Checkpoints: a.repos.Checkpoints,
		Projects:    a.repos.Projects,
		Runs:        a.repos.Runs,
		Publisher:   a.publisher,
		Retry:       crawler.NewFixedRetryPolicy(a.cfg.Crawler.DetailMaxAttempts, a.cfg.Crawler.RetryDelay),
		Clock:       a.clock,
		Regions:     a.regions,
	}, engine.Config{
		TargetCategories: a.cfg.Crawler.TargetCategories,
		BreakerThreshold: a.cfg.Crawler.BreakerThreshold,
		DiscoveryTopic:   a.cfg.Crawler.DiscoveryTopic,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("engine init failed: %w", err)
	}

	a.queue = queuememory.NewQueue(a.cfg.Crawler.QueueDepth)
	tasks := memorystorage.NewTaskStore()
	workers := make([]*worker.Worker, 0, a.cfg.Crawler.Concurrency)
	for i := 0; i < a.cfg.Crawler.Concurrency; i++ {
		workers = append(workers, worker.New(
			a.queue,
			tasks,
			a.repos.Runs,
			eng,
			a.clock,
			a.logger.With(zap.Int("index", i)),
		))
	}
	a.dispatch = dispatcher.New(a.queue, workers, tasks, a.repos.Runs, uuid.New(), a.clock, a.logger)
	a.logger.Info("dispatcher ready",
		zap.Int("workers", len(workers)),
		zap.Int("queue_depth", a.cfg.Crawler.QueueDepth),
	)
	return nil
}

// Handler exposes the HTTP routes.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Dispatcher exposes job submission for in-process callers such as the CLI.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatch
}

// Regions exposes the region cache.
func (a *App) Regions() *catalog.RegionCache {
	return a.regions
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// StartBackground runs the workers and the session janitor until ctx ends.
// The returned channel closes once every worker has returned.
func (a *App) StartBackground(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()
	go a.registry.Run(ctx, a.cfg.Retrieval.JanitorInterval)
	return done
}

// Run serves HTTP and background work until ctx is canceled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	workersDone := a.StartBackground(ctx)

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}
	a.Close()
	return <-serveErr
}

// Close releases the queue and every backend connection. It is safe to call
// more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.queue != nil {
			a.queue.Close()
		}
		a.closeInfrastructure()
		a.logger.Info("shutdown complete")
		if err := a.logger.Sync(); err != nil {
			a.logger.Debug("logger sync failed", zap.Error(err))
		}
	})
}

func (a *App) closeInfrastructure() {
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsub = nil
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcs = nil
	}
	if a.repos.Close != nil {
		a.repos.Close()
		a.repos.Close = nil
	}
}
