// Package progress records bisection runs: each run and step in Postgres,
// and the live status of a job in Redis. Either backend may be absent.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"autobisect/internal/bisect"
	"autobisect/internal/types"
	"autobisect/pkg/database"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobStatusKey    = "bisect:job_status:%s"
	JobStateKey     = "bisect:job_state:%s"
	TraceContextKey = "bisect:trace_context:%s"

	keyTTL = 7 * 24 * time.Hour

	StatusQueued = "queued"
)

// Snapshot is the JSON stored under JobStateKey.
type Snapshot struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Good      string    `json:"good"`
	Bad       string    `json:"bad"`
	Steps     int       `json:"steps"`
	Skipped   []string  `json:"skipped,omitempty"`
	Suspects  int       `json:"suspects"`
	Culprit   string    `json:"culprit,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewSnapshot(state *bisect.SearchState, err error) Snapshot {
	s := Snapshot{
		JobID:     state.JobID,
		Status:    state.Verdict.String(),
		Good:      string(state.Good),
		Bad:       string(state.Bad),
		Steps:     len(state.Steps),
		Suspects:  len(state.Suspects),
		Culprit:   string(state.Culprit),
		Reason:    state.Reason,
		UpdatedAt: time.Now(),
	}
	for _, r := range state.Skipped {
		s.Skipped = append(s.Skipped, string(r))
	}
	if err != nil {
		s.Status = string(database.RunError)
		s.Error = err.Error()
	}
	return s
}

// Recorder implements bisect.Reporter. Backend errors are logged and never
// interrupt a search.
type Recorder struct {
	db          *gorm.DB
	redisClient *redis.Client
	logger      *zap.Logger

	mu   sync.Mutex
	runs map[string]int // job id -> bisect_runs.id
	jobs map[string]types.BisectJob
}

type RecorderParams struct {
	fx.In

	DB          *gorm.DB      `optional:"true"`
	RedisClient *redis.Client `optional:"true"`
	Logger      *zap.Logger
}

func NewRecorder(p RecorderParams) *Recorder {
	return &Recorder{
		db:          p.DB,
		redisClient: p.RedisClient,
		logger:      p.Logger.Named("progress"),
		runs:        make(map[string]int),
		jobs:        make(map[string]types.BisectJob),
	}
}

// Track attaches the job description to the run row created on Started.
func (r *Recorder) Track(job types.BisectJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.JobID] = job
}

func (r *Recorder) Started(ctx context.Context, state *bisect.SearchState) {
	r.publish(ctx, state, nil)
	if r.db == nil {
		return
	}

	r.mu.Lock()
	job := r.jobs[state.JobID]
	r.mu.Unlock()

	run := database.NewRun(state.JobID, string(state.Good), string(state.Bad), job.Flags, buildMetadata(job.Build))
	if err := database.AddRun(ctx, r.db, run); err != nil {
		r.logger.Error("failed to store run", zap.String("job_id", state.JobID), zap.Error(err))
		return
	}
	r.mu.Lock()
	r.runs[state.JobID] = run.ID
	r.mu.Unlock()
}

func (r *Recorder) Stepped(ctx context.Context, state *bisect.SearchState, step bisect.Step) {
	r.publish(ctx, state, nil)
	runID, ok := r.runID(state.JobID)
	if r.db == nil || !ok {
		return
	}
	row := &database.BisectStep{
		RunID:       runID,
		CreatedAt:   time.Now(),
		Revision:    string(step.Rev),
		Label:       string(step.Label),
		BuildFailed: step.BuildFailed,
		Reason:      step.Reason,
		Candidates:  step.Candidates,
		DurationMs:  step.Duration.Milliseconds(),
	}
	if err := database.AddStep(ctx, r.db, row, string(state.Good), string(state.Bad)); err != nil {
		r.logger.Error("failed to store step", zap.String("job_id", state.JobID), zap.Error(err))
	}
}

func (r *Recorder) Finished(ctx context.Context, state *bisect.SearchState, err error) {
	// the search context may already be cancelled; still record how it ended
	ctx = context.WithoutCancel(ctx)
	r.publish(ctx, state, err)

	runID, ok := r.runID(state.JobID)
	r.mu.Lock()
	delete(r.runs, state.JobID)
	delete(r.jobs, state.JobID)
	r.mu.Unlock()
	if r.db == nil || !ok {
		return
	}

	status := database.RunStatusEnum(state.Verdict.String())
	errMsg := ""
	if err != nil {
		status = database.RunError
		errMsg = err.Error()
	}
	if err := database.FinishRun(ctx, r.db, runID, status, string(state.Culprit), state.Reason, errMsg); err != nil {
		r.logger.Error("failed to finish run", zap.String("job_id", state.JobID), zap.Error(err))
	}
}

// SaveTraceContext stores an exported tracer so other services can link to the job span.
func (r *Recorder) SaveTraceContext(ctx context.Context, jobID, exported string) {
	if r.redisClient == nil || exported == "" {
		return
	}
	if err := r.redisClient.Set(ctx, fmt.Sprintf(TraceContextKey, jobID), exported, keyTTL).Err(); err != nil {
		r.logger.Warn("failed to save trace context", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (r *Recorder) runID(jobID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.runs[jobID]
	return id, ok
}

func (r *Recorder) publish(ctx context.Context, state *bisect.SearchState, err error) {
	if r.redisClient == nil || state.JobID == "" {
		return
	}
	snapshot := NewSnapshot(state, err)
	payload, mErr := json.Marshal(snapshot)
	if mErr != nil {
		r.logger.Error("failed to encode job state", zap.Error(mErr))
		return
	}
	_, pErr := r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, fmt.Sprintf(JobStatusKey, state.JobID), snapshot.Status, keyTTL)
		pipe.Set(ctx, fmt.Sprintf(JobStateKey, state.JobID), payload, keyTTL)
		return nil
	})
	if pErr != nil {
		r.logger.Warn("failed to publish job state", zap.String("job_id", state.JobID), zap.Error(pErr))
	}
}

// ErrUnknownJob means nothing was published for the job, or it expired.
var ErrUnknownJob = errors.New("unknown job")

// MarkQueued records a submitted job that no worker has started yet.
func MarkQueued(ctx context.Context, client *redis.Client, jobID string) error {
	return client.Set(ctx, fmt.Sprintf(JobStatusKey, jobID), StatusQueued, keyTTL).Err()
}

// ReadStatus returns the job's last published snapshot. A queued job has
// only a status.
func ReadStatus(ctx context.Context, client *redis.Client, jobID string) (Snapshot, error) {
	var (
		status *redis.StringCmd
		state  *redis.StringCmd
	)
	_, err := client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		status = pipe.Get(ctx, fmt.Sprintf(JobStatusKey, jobID))
		state = pipe.Get(ctx, fmt.Sprintf(JobStateKey, jobID))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Snapshot{}, fmt.Errorf("read job %s: %w", jobID, err)
	}

	raw, err := state.Bytes()
	if errors.Is(err, redis.Nil) {
		s, sErr := status.Result()
		if errors.Is(sErr, redis.Nil) {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
		}
		return Snapshot{JobID: jobID, Status: s}, sErr
	}
	if err != nil {
		return Snapshot{}, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return snapshot, nil
}

func buildMetadata(o types.BuildOptions) database.Metadata {
	return database.Metadata{
		"enable_debug":              o.EnableDbg,
		"enable_optimize":           o.EnableOpt,
		"disable_profiling":         o.DisableProfiling,
		"enable_more_deterministic": o.EnableMoreDeterministic,
		"enable_simulator_arm32":    o.EnableSimulatorArm32,
	}
}
