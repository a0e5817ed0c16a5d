// Package jobs consumes bisection jobs from RabbitMQ and publishes their results.
package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"autobisect/config"
	"autobisect/internal/bisect"
	"autobisect/internal/knownbroken"
	"autobisect/internal/progress"
	"autobisect/internal/types"
	"autobisect/pkg/mq"
	"autobisect/pkg/telemetry"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxAttempts = 3

// Publisher delivers a finished job's result.
type Publisher interface {
	Publish(ctx context.Context, result types.JobResult) error
}

type queuePublisher struct {
	rabbitMQ mq.RabbitMQ
	queue    string
}

func NewPublisher(rabbitMQ mq.RabbitMQ, cfg *config.AppConfig) Publisher {
	return &queuePublisher{rabbitMQ, cfg.Bisect.ResultQueueName}
}

func (p *queuePublisher) Publish(ctx context.Context, result types.JobResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return p.rabbitMQ.Publish(ctx, p.queue, body)
}

type JobListener struct {
	logger        *zap.Logger
	rabbitMQ      mq.RabbitMQ
	runner        JobRunner
	publisher     Publisher
	recorder      *progress.Recorder
	tracerFactory *telemetry.TracerFactory
	shutdowner    fx.Shutdowner
	queue         string

	failedCount map[string]int // attemptKey -> failed attempts
}

type JobListenerParams struct {
	fx.In

	Logger        *zap.Logger
	RabbitMQ      mq.RabbitMQ
	Bisector      *Bisector
	Publisher     Publisher
	Recorder      *progress.Recorder
	Config        *config.AppConfig
	TracerFactory *telemetry.TracerFactory
	Shutdowner    fx.Shutdowner
}

func StartJobListener(p JobListenerParams, ctx context.Context /* app context */) *JobListener {
	l := newJobListener(p.Logger, p.RabbitMQ, p.Bisector, p.Publisher, p.Recorder, p.TracerFactory, p.Shutdowner, p.Config.Bisect.QueueName)
	go l.start(ctx)
	return l
}

func newJobListener(logger *zap.Logger, rabbitMQ mq.RabbitMQ, runner JobRunner, publisher Publisher,
	recorder *progress.Recorder, tracerFactory *telemetry.TracerFactory, shutdowner fx.Shutdowner, queue string) *JobListener {
	return &JobListener{
		logger:        logger.Named("jobs"),
		rabbitMQ:      rabbitMQ,
		runner:        runner,
		publisher:     publisher,
		recorder:      recorder,
		tracerFactory: tracerFactory,
		shutdowner:    shutdowner,
		queue:         queue,
		failedCount:   make(map[string]int),
	}
}

func (l *JobListener) start(ctx context.Context) {
	const retryLimit = 3
	failCnt := 0

	for {
		errChan := make(chan error, 1)
		go func() {
			errChan <- l.listen(ctx)
		}()

		select {
		case <-ctx.Done():
			return
		case err := <-errChan:
			if err != nil {
				l.logger.Warn("job listener failed", zap.Error(err))
				failCnt++
				if failCnt >= retryLimit {
					l.logger.Warn("retry limit reached, shutting down", zap.Error(err))
					l.shutdowner.Shutdown()
					return
				}
			}
			l.logger.Warn("retrying...")
		}
	}
}

func (l *JobListener) listen(ctx context.Context) error {
	channel := l.rabbitMQ.GetChannel()
	if channel == nil {
		return fmt.Errorf("failed to get RabbitMQ channel")
	}
	defer channel.Close()

	// a job holds the checkout for hours; take one at a time
	if err := channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	q, err := mq.DeclareQueue(channel, l.queue)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	l.logger.Info("waiting for jobs", zap.String("queue", q.Name))
	msg, err := channel.Consume(
		q.Name,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-msg:
			if !ok {
				return fmt.Errorf("channel closed")
			}
			if err := l.onMessage(ctx, message); err != nil {
				return err
			}
		}
	}
}

// onMessage runs one job. The returned error means the connection is no
// longer usable; job failures are settled on the message itself.
func (l *JobListener) onMessage(ctx context.Context, message amqp.Delivery) error {
	var job types.BisectJob
	if err := json.Unmarshal(message.Body, &job); err != nil {
		l.logger.Error("dropping malformed job", zap.ByteString("body", message.Body), zap.Error(err))
		return message.Nack(false, false)
	}
	key := attemptKey(job, message)
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	logger := l.logger.With(zap.String("job_id", job.JobID))
	logger.Info("received job", zap.Strings("flags", job.Flags), zap.String("testcase", job.Testcase))

	tracer := l.tracerFactory.NewTracer(ctx, "bisect job").
		WithAttributes(telemetry.NewSpanAttributes(telemetry.Bisecting).WithJobID(job.JobID))
	tracer.Start()
	defer tracer.End()
	jobCtx := telemetry.WithTracer(ctx, tracer)
	l.recorder.SaveTraceContext(jobCtx, job.JobID, tracer.Export())

	state, err := l.runner.RunJob(jobCtx, job)
	if ctx.Err() != nil {
		// shutting down; let another worker pick the job up
		logger.Info("job interrupted, requeueing")
		return message.Nack(false, true)
	}

	if err != nil {
		tracer.SetStatus(codes.Error, err.Error())
		l.failedCount[key]++
		if retryable(err) && l.failedCount[key] < maxAttempts {
			logger.Warn("job failed, requeueing", zap.Int("attempt", l.failedCount[key]), zap.Error(err))
			return message.Nack(false, true)
		}
		logger.Error("job failed", zap.Error(err))
	}
	delete(l.failedCount, key)

	result := resultOf(job.JobID, state, err)
	tracer.WithAttributes(telemetry.EmptySpanAttributes().WithVerdict(result.Verdict))
	if err := l.publisher.Publish(ctx, result); err != nil {
		logger.Error("failed to publish result", zap.Error(err))
		if nErr := message.Nack(false, true); nErr != nil {
			return nErr
		}
		return fmt.Errorf("publish result: %w", err)
	}

	if err != nil {
		return message.Nack(false, false)
	}
	return message.Ack(false)
}

// attemptKey identifies a job across redeliveries. Jobs submitted without an
// id get a fresh one per delivery, so those are counted by message id or,
// failing that, by body.
func attemptKey(job types.BisectJob, message amqp.Delivery) string {
	switch {
	case job.JobID != "":
		return job.JobID
	case message.MessageId != "":
		return "msg:" + message.MessageId
	}
	sum := sha256.Sum256(message.Body)
	return "body:" + hex.EncodeToString(sum[:])
}

// retryable reports whether running the job again could change the outcome.
func retryable(err error) bool {
	return !errors.Is(err, ErrInvalidJob) && !errors.Is(err, knownbroken.ErrUnsupportedHost)
}

func resultOf(jobID string, state *bisect.SearchState, err error) types.JobResult {
	if state != nil {
		return state.JobResult(err)
	}
	res := types.JobResult{JobID: jobID, Verdict: "error"}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}
