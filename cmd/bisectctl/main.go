package main

// submit jobs to bisectd and query their progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"autobisect/config"
	"autobisect/internal/progress"
	"autobisect/internal/types"
	"autobisect/pkg/database"
	"autobisect/pkg/logger"
	"autobisect/pkg/mq"

	"github.com/google/uuid"
	"github.com/jessevdk/go-flags"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type SubmitCommand struct {
	Args struct {
		File string `positional-arg-name:"JOB-FILE" required:"yes" description:"YAML or JSON job description"`
	} `positional-args:"yes"`
}

type StatusCommand struct {
	Args struct {
		JobID string `positional-arg-name:"JOB-ID" required:"yes"`
	} `positional-args:"yes"`
}

type ctlApp struct {
	rabbitMQ    mq.RabbitMQ
	redisClient *redis.Client
	config      *config.AppConfig
	logger      *zap.Logger
}

type ctlParams struct {
	fx.In
	RabbitMQ    mq.RabbitMQ   `optional:"true"`
	RedisClient *redis.Client `optional:"true"`
	Config      *config.AppConfig
	Logger      *zap.Logger
}

func newCtlApp(p ctlParams) *ctlApp {
	return &ctlApp{p.RabbitMQ, p.RedisClient, p.Config, p.Logger}
}

// loadJob reads a job file; YAML is a superset of JSON so both parse.
func loadJob(path string) (types.BisectJob, error) {
	var job types.BisectJob
	data, err := os.ReadFile(path)
	if err != nil {
		return job, err
	}
	if err := yaml.Unmarshal(data, &job); err != nil {
		return job, fmt.Errorf("parse %s: %w", path, err)
	}
	if job.Testcase == "" {
		return job, fmt.Errorf("%s: testcase is required", path)
	}
	if _, err := types.ParseLabel(job.CompilationFailedLabel); err != nil {
		return job, fmt.Errorf("%s: %w", path, err)
	}
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	return job, nil
}

func (a *ctlApp) submit(ctx context.Context, path string) error {
	job, err := loadJob(path)
	if err != nil {
		return err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if a.redisClient != nil {
		if err := progress.MarkQueued(ctx, a.redisClient, job.JobID); err != nil {
			a.logger.Warn("failed to mark job queued", zap.Error(err))
		}
	}
	if err := a.rabbitMQ.Publish(ctx, a.config.Bisect.QueueName, body); err != nil {
		return err
	}
	a.logger.Info("submitted job",
		zap.String("job_id", job.JobID),
		zap.String("queue", a.config.Bisect.QueueName))
	fmt.Println(job.JobID)
	return nil
}

func (a *ctlApp) status(ctx context.Context, jobID string) error {
	if a.redisClient == nil {
		return errors.New("no redis configured")
	}
	snapshot, err := progress.ReadStatus(ctx, a.redisClient, jobID)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	var (
		submit SubmitCommand
		status StatusCommand
	)
	parser := flags.NewParser(nil, flags.Default)
	parser.AddCommand("submit", "Queue a bisection job", "Publish a job file to the bisect queue and print its id.", &submit)
	parser.AddCommand("status", "Show a job's progress", "Print the last state bisectd published for a job.", &status)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	provides := []any{
		config.LoadConfig,
		logger.NewLogger,
		database.NewRedisClient,
	}
	if parser.Active.Name == "submit" {
		provides = append(provides, mq.NewRabbitMQ)
	}

	var ctl *ctlApp
	app := fx.New(
		fx.Provide(provides...),
		fx.Provide(newCtlApp),
		fx.Populate(&ctl),
		fx.NopLogger,
	)
	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer app.Stop(context.Background())

	var err error
	switch parser.Active.Name {
	case "submit":
		err = ctl.submit(startCtx, submit.Args.File)
	case "status":
		err = ctl.status(startCtx, status.Args.JobID)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		app.Stop(context.Background())
		os.Exit(1)
	}
}
