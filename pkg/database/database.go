package database

import (
	"context"

	"autobisect/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type DBParams struct {
	fx.In

	Config    *config.AppConfig
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

// NewDBConnection connects and migrates the bisect tables. Without
// DATABASE_URL it returns nil and runs are not persisted.
func NewDBConnection(p DBParams) (*gorm.DB, error) {
	if !p.Config.HasDatabase() {
		p.Logger.Debug("no database configured, run history will not be stored")
		return nil, nil
	}
	db, err := gorm.Open(postgres.Open(p.Config.DatabaseURL), &gorm.Config{})
	if err != nil {
		p.Logger.Error("failed to connect database", zap.Error(err))
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return Migrate(ctx, db)
		},
		OnStop: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	p.Logger.Debug("connected to database")
	return db, nil
}
