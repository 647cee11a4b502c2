// Package app constructs the pipeline services in dependency order and
// tears them down in reverse.
package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/services/chunker"
	"github.com/ternarybob/indago/internal/services/crawler"
	"github.com/ternarybob/indago/internal/services/embeddings"
	"github.com/ternarybob/indago/internal/services/indexer"
	"github.com/ternarybob/indago/internal/services/mailer"
	"github.com/ternarybob/indago/internal/services/registry"
	"github.com/ternarybob/indago/internal/services/scheduler"
	"github.com/ternarybob/indago/internal/solr"
	"github.com/ternarybob/indago/internal/storage/postgres"
)

// App holds the wired application components.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	DB        *postgres.PostgresDB
	Store     interfaces.RegistryStore
	Index     *solr.Client
	Mailer    *mailer.Service
	Embedder  interfaces.EmbeddingService
	Chunker   *chunker.Service
	Writers   *indexer.Service
	Crawler   *crawler.Service
	Registry  *registry.Service
	Scheduler *scheduler.Service
}

// New wires every service. Construction follows the dependency graph:
// storage and index clients first, then the pipeline, the scheduler last.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	db, err := postgres.NewPostgresDB(logger, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to registry database: %w", err)
	}
	app.DB = db
	app.Store = postgres.NewRegistryStore(db, logger, cfg.Crawler.BatchLimit)

	app.Index = solr.NewClient(cfg.Solr.URL,
		solr.WithLogger(logger),
		solr.WithTimeout(cfg.Solr.Timeout),
		solr.WithMaxRetries(cfg.Solr.MaxRetries),
	)

	app.Mailer = mailer.NewService(cfg.SMTP, logger)
	if !app.Mailer.IsConfigured() {
		logger.Warn().Msg("SMTP not configured, notification email disabled")
	}

	if cfg.Embeddings.Provider != "disabled" {
		embedder, err := embeddings.NewService(&cfg.Embeddings, logger)
		if err != nil {
			app.Store.Close()
			return nil, fmt.Errorf("failed to initialize embeddings provider: %w", err)
		}
		app.Embedder = embedder
	} else {
		logger.Warn().Msg("Embeddings disabled, documents will be indexed without content chunks")
	}

	app.Chunker = chunker.NewService(&cfg.Embeddings, app.Embedder, logger)
	app.Writers = indexer.NewService(app.Index, app.Store, app.Chunker, app.Mailer, logger)
	app.Crawler = crawler.NewService(cfg.Crawler, app.Index, app.Store, app.Writers, logger)
	app.Registry = registry.NewService(app.Store, app.Index, app.Mailer, logger)
	app.Scheduler = scheduler.NewService(cfg.Scheduler, cfg.Crawler.SiteParallelism, app.Registry, app.Store, app.Crawler, logger)

	return app, nil
}

// Close stops the scheduler, draining the in-flight pass until ctx
// expires, then releases the registry connections.
func (a *App) Close(ctx context.Context) error {
	if a.Scheduler != nil {
		if err := a.Scheduler.Stop(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler")
		}
	}
	if a.Store != nil {
		a.Store.Close()
	}
	return nil
}
