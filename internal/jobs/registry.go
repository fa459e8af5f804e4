package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/movescan/movescan-backend/internal/clients/redis"
	"github.com/movescan/movescan-backend/internal/logger"
	"github.com/movescan/movescan-backend/internal/repos"
	"github.com/movescan/movescan-backend/internal/types"
)

// Job types dispatched by the worker.
const (
	JobTypeAnalysisRag = "analysis_rag"
)

// HandlerFunc runs one claimed job. Returning an error marks the job
// failed; the handler is expected to call JobContext.Progress as it goes.
type HandlerFunc func(jc *JobContext) error

type Registry struct {
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]HandlerFunc{}}
}

func (r *Registry) Register(jobType string, fn HandlerFunc) {
	r.handlers[jobType] = fn
}

func (r *Registry) handler(jobType string) (HandlerFunc, bool) {
	fn, ok := r.handlers[jobType]
	return fn, ok
}

// JobContext carries one running job through its handler, persisting
// progress and fanning it out on the redis bus when one is configured.
type JobContext struct {
	Ctx context.Context
	Job *types.JobRun

	log  *logger.Logger
	repo repos.JobRunRepo
	bus  redis.ProgressBus
}

// Progress persists the stage/percentage and publishes a bus event.
// Best-effort on both sides; a reporting failure never fails the job.
func (jc *JobContext) Progress(progress int, stage string) {
	now := time.Now().UTC()
	if err := jc.repo.UpdateFields(jc.Ctx, nil, jc.Job.ID, map[string]any{
		"progress":     progress,
		"stage":        stage,
		"heartbeat_at": now,
	}); err != nil {
		jc.log.Warn("job progress update failed",
			"job_id", jc.Job.ID.String(),
			"error", err.Error(),
		)
	}
	if jc.bus != nil {
		_ = jc.bus.Publish(jc.Ctx, redis.ProgressEvent{
			JobID:    jc.Job.ID.String(),
			Stage:    stage,
			Progress: progress,
		})
	}
}

// SetResult stores the handler's terminal payload on the job row.
func (jc *JobContext) SetResult(result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		jc.log.Warn("job result marshal failed",
			"job_id", jc.Job.ID.String(),
			"error", err.Error(),
		)
		return
	}
	if err := jc.repo.UpdateFields(jc.Ctx, nil, jc.Job.ID, map[string]any{
		"result": raw,
	}); err != nil {
		jc.log.Warn("job result update failed",
			"job_id", jc.Job.ID.String(),
			"error", err.Error(),
		)
	}
}
