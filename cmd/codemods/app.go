package main

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/action"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/action/builtin"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/env"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/logging"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/postgres"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/sqlite"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/repo/sqlstore"
)

func newLogger() (*slog.Logger, error) {
	cfg, err := logging.ConfigFromEnv()
	if err != nil {
		return nil, invalidConfig(err)
	}
	return logging.New(cfg, AppName), nil
}

// openStore opens the database selected by CODEMODS_DB_DRIVER.
func openStore(ctx context.Context, logger *slog.Logger) (*sqlstore.Store, *sql.DB, error) {
	dialect, err := sqlstore.ParseDialect(strings.TrimSpace(env.String("CODEMODS_DB_DRIVER", string(sqlstore.SQLite))))
	if err != nil {
		return nil, nil, invalidConfig(err)
	}

	var db *sql.DB
	switch dialect {
	case sqlstore.Postgres:
		cfg, err := postgres.ConfigFromEnv()
		if err != nil {
			return nil, nil, invalidConfig(err)
		}
		if db, err = postgres.Open(ctx, cfg); err != nil {
			return nil, nil, err
		}
		logger.Info("database opened", "driver", dialect, "url", cfg.RedactedURL())
	default:
		cfg, err := sqlite.ConfigFromEnv()
		if err != nil {
			return nil, nil, invalidConfig(err)
		}
		if db, err = sqlite.Open(ctx, cfg); err != nil {
			return nil, nil, err
		}
		logger.Info("database opened", "driver", dialect, "path", cfg.Path)
	}
	return sqlstore.New(db, dialect), db, nil
}

func newRegistry() (*action.Registry, error) {
	cfg, err := builtin.ConfigFromEnv()
	if err != nil {
		return nil, invalidConfig(err)
	}
	registry := action.NewRegistry()
	if err := builtin.Register(registry, cfg); err != nil {
		return nil, invalidConfig(err)
	}
	return registry, nil
}
