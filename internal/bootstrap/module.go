package bootstrap

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"fraudgate/internal/bootstrap/config"
	"fraudgate/internal/bootstrap/database"
	"fraudgate/internal/bootstrap/logging"
	"fraudgate/internal/domain/decision"
	sqliterepo "fraudgate/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "fraudgate/internal/infrastructure/persistence/sqlite/uow"
	"fraudgate/internal/ports"
	"fraudgate/internal/usecase/ingest"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideApp),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewTransactionRepository,
			fx.As(new(ports.TransactionRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(provideIngestService),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

func provideApp(cfg config.Config, db *gorm.DB) *App {
	return &App{
		Config: cfg,
		DB:     db,
	}
}

func provideIngestService(cfg config.Config, repo ports.TransactionRepository, uow ports.UnitOfWork) *ingest.Service {
	return ingest.NewService(repo, uow, ingest.Policy{
		CardIDMode:       decision.CardIDMode(cfg.Ingest.CardIDMode),
		PayloadAllowKeys: cfg.Ingest.PayloadAllowKeys,
		PayloadMaxBytes:  cfg.Ingest.PayloadMaxBytes,
		WriteTimeout:     cfg.Ingest.WriteTimeout,
	})
}
