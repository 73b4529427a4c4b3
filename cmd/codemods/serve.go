package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/action"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/api"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/broker"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/catalog"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/eventexport"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/auth"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/httpserver"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/objectstore"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/repo/sqlstore"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/templating"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/worker"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/workflow"
)

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the API and execute dispatched jobs",
		Long: `Serve the HTTP API, run the job worker, sweep stale jobs and keep the
catalog in sync with its files, all in one process.

Several processes may share the same Postgres database; each one claims
jobs independently.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			skipMigrate, _ := cmd.Flags().GetBool("skip-migrate")
			noWorker, _ := cmd.Flags().GetBool("no-worker")
			return serve(cmd.Context(), serveOptions{migrate: !skipMigrate, worker: !noWorker})
		},
	}
	cmd.Flags().Bool("skip-migrate", false, "do not apply the database schema on startup")
	cmd.Flags().Bool("no-worker", false, "serve the API only, without executing jobs")
	return cmd
}

type serveOptions struct {
	migrate bool
	worker  bool
}

func serve(ctx context.Context, opts serveOptions) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	httpCfg, err := httpserver.ConfigFromEnv(AppName)
	if err != nil {
		return invalidConfig(err)
	}
	brokerCfg, err := broker.ConfigFromEnv()
	if err != nil {
		return invalidConfig(err)
	}
	workerCfg, err := worker.ConfigFromEnv()
	if err != nil {
		return invalidConfig(err)
	}
	workflowCfg, err := workflow.ConfigFromEnv()
	if err != nil {
		return invalidConfig(err)
	}
	catalogCfg, err := catalog.ConfigFromEnv()
	if err != nil {
		return invalidConfig(err)
	}
	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		return invalidConfig(err)
	}
	archiveCfg, err := eventexport.ConfigFromEnv()
	if err != nil {
		return invalidConfig(err)
	}

	store, db, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if opts.migrate {
		if err := sqlstore.Migrate(ctx, db, store.Dialect()); err != nil {
			return err
		}
	}

	entities, err := catalog.NewFileCatalog(catalogCfg, logger.With("component", "catalog"))
	if err != nil {
		return invalidConfig(err)
	}
	b, err := broker.New(store, entities, logger.With("component", "broker"), brokerCfg)
	if err != nil {
		return invalidConfig(err)
	}
	registry, err := newRegistry()
	if err != nil {
		return err
	}

	readiness := []httpserver.ReadinessCheck{{
		Name:  string(store.Dialect()),
		Check: httpserver.WithTimeout(750*time.Millisecond, db.PingContext),
	}}
	var exporter eventexport.Exporter = eventexport.Noop{}
	if archiveCfg.Enabled {
		exp, check, err := newArchive(ctx, archiveCfg)
		if err != nil {
			return err
		}
		exporter = exp
		readiness = append(readiness, check)
	}

	authn, err := auth.New(ctx, authCfg)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz(AppName))
	mux.HandleFunc("GET /readyz", httpserver.ReadyzWithChecks(AppName, readiness...))
	api.New(logger.With("component", "api"), b, entities, registry).Register(mux)
	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: authn,
		SkipPrefixes:  []string{"/healthz", "/readyz"},
	}.Wrap(mux)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, logger, httpCfg, httpserver.Wrap(logger, handler))
	})
	g.Go(func() error {
		return b.RunVacuum(gctx)
	})
	if catalogCfg.Watch {
		g.Go(func() error {
			return entities.Watch(gctx)
		})
	}
	if opts.worker {
		w, err := newWorker(logger, registry, b, store, exporter, workerCfg, workflowCfg)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	logger.Info("codemods started", "addr", httpCfg.Addr, "auth_mode", authCfg.Mode, "worker", opts.worker, "archive", archiveCfg.Enabled)
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("codemods stopped")
	return nil
}

func newWorker(logger *slog.Logger, registry *action.Registry, b *broker.Broker, store *sqlstore.Store, exporter eventexport.Exporter, workerCfg worker.Config, workflowCfg workflow.Config) (*worker.Worker, error) {
	renderer, err := templating.New(templating.Options{})
	if err != nil {
		return nil, err
	}
	runner, err := workflow.NewRunner(registry, renderer, workflowCfg, logger.With("component", "workflow"))
	if err != nil {
		return nil, invalidConfig(err)
	}
	return worker.New(b, runner, logger.With("component", "worker"), workerCfg, worker.WithArchive(store, exporter))
}

func newArchive(ctx context.Context, cfg eventexport.Config) (eventexport.Exporter, httpserver.ReadinessCheck, error) {
	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return nil, httpserver.ReadinessCheck{}, invalidConfig(err)
	}
	client, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		return nil, httpserver.ReadinessCheck{}, invalidConfig(err)
	}
	if err := objectstore.EnsureBucket(ctx, client, storeCfg); err != nil {
		return nil, httpserver.ReadinessCheck{}, fmt.Errorf("event archive: %w", err)
	}
	exp, err := eventexport.NewObjectStoreExporter(client, storeCfg.Bucket, cfg.Prefix)
	if err != nil {
		return nil, httpserver.ReadinessCheck{}, invalidConfig(err)
	}
	check := httpserver.ReadinessCheck{
		Name: "archive",
		Check: httpserver.WithTimeout(2*time.Second, func(ctx context.Context) error {
			return objectstore.CheckBucket(ctx, client, storeCfg.Bucket)
		}),
	}
	return exp, check, nil
}
