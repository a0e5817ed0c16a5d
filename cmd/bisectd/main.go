package main

import (
	"context"

	"autobisect/config"
	"autobisect/internal/jobs"
	"autobisect/internal/progress"
	"autobisect/internal/toolchain"
	"autobisect/pkg/database"
	"autobisect/pkg/logger"
	"autobisect/pkg/mq"
	"autobisect/pkg/telemetry"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func NewAppContext(lc fx.Lifecycle) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
	return ctx
}

func main() {
	app := fx.New(
		fx.Provide(
			NewAppContext,              // inject app context
			config.LoadServiceConfig,   // inject config
			logger.NewLogger,           // inject logger
			telemetry.NewTelemetry,     // inject telemetry
			telemetry.NewTracerFactory, // inject telemetry tracer factory
			database.NewRedisClient,    // inject redis client
			database.NewDBConnection,   // inject db connection
			mq.NewRabbitMQ,             // inject rabbitmq service
			progress.NewRecorder,       // inject run recorder
			jobs.NewBisector,           // inject job runner
			jobs.NewPublisher,          // inject result publisher
		),
		toolchain.Module,
		fx.Invoke(
			jobs.StartJobListener,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)
	app.Run()
}
