package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/movescan/movescan-backend/internal/clients/redis"
	"github.com/movescan/movescan-backend/internal/logger"
	"github.com/movescan/movescan-backend/internal/repos"
	"github.com/movescan/movescan-backend/internal/types"
	"github.com/movescan/movescan-backend/internal/utils"
)

// Worker polls for runnable JobRuns and dispatches them through the
// registry. One job at a time per worker; stale running jobs (dead
// worker) are reclaimed after staleAfter.
type Worker struct {
	log      *logger.Logger
	repo     repos.JobRunRepo
	registry *Registry
	bus      redis.ProgressBus

	interval    time.Duration
	maxAttempts int
	staleAfter  time.Duration

	stop chan struct{}
	done chan struct{}
}

func NewWorker(log *logger.Logger, repo repos.JobRunRepo, registry *Registry, bus redis.ProgressBus) *Worker {
	intervalSec := utils.GetEnvAsInt("JOB_POLL_INTERVAL_SECONDS", 5, log)
	maxAttempts := utils.GetEnvAsInt("JOB_MAX_ATTEMPTS", 3, log)
	staleMin := utils.GetEnvAsInt("JOB_STALE_AFTER_MINUTES", 30, log)

	return &Worker{
		log:         log.With("component", "JobWorker"),
		repo:        repo,
		registry:    registry,
		bus:         bus,
		interval:    time.Duration(intervalSec) * time.Second,
		maxAttempts: maxAttempts,
		staleAfter:  time.Duration(staleMin) * time.Minute,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (w *Worker) Start() {
	go w.loop()
}

func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Worker) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("job worker started", "poll_interval", w.interval.String())
	for {
		select {
		case <-w.stop:
			w.log.Info("job worker stopped")
			return
		case <-ticker.C:
			w.drain()
		}
	}
}

// drain claims and runs jobs until the queue is empty or a stop is
// requested.
func (w *Worker) drain() {
	for {
		select {
		case <-w.stop:
			return
		default:
		}

		ctx := context.Background()
		job, err := w.repo.ClaimNextRunnable(ctx, nil, w.maxAttempts, w.staleAfter)
		if err != nil {
			w.log.Error("job claim failed", "error", err.Error())
			return
		}
		if job == nil {
			return
		}
		w.run(ctx, job)
	}
}

func (w *Worker) run(ctx context.Context, job *types.JobRun) {
	jc := &JobContext{
		Ctx:  ctx,
		Job:  job,
		log:  w.log,
		repo: w.repo,
		bus:  w.bus,
	}

	handler, ok := w.registry.handler(job.JobType)
	if !ok {
		w.finish(jc, fmt.Errorf("no handler registered for job type %q", job.JobType))
		return
	}

	w.log.Info("job started",
		"job_id", job.ID.String(),
		"job_type", job.JobType,
		"attempt", job.Attempts,
	)

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("job panicked: %v", r)
				w.log.Error("job handler panicked",
					"job_id", job.ID.String(),
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
			}
		}()
		runErr = handler(jc)
	}()

	w.finish(jc, runErr)
}

func (w *Worker) finish(jc *JobContext, runErr error) {
	now := time.Now().UTC()
	updates := map[string]any{
		"finished_at": now,
	}
	if runErr != nil {
		updates["status"] = types.JobFailed
		updates["error"] = runErr.Error()
	} else {
		updates["status"] = types.JobSucceeded
		updates["progress"] = 100
	}
	if err := w.repo.UpdateFields(jc.Ctx, nil, jc.Job.ID, updates); err != nil {
		w.log.Error("job finalize failed",
			"job_id", jc.Job.ID.String(),
			"error", err.Error(),
		)
		return
	}

	if runErr != nil {
		w.log.Error("job failed",
			"job_id", jc.Job.ID.String(),
			"job_type", jc.Job.JobType,
			"error", runErr.Error(),
		)
		if w.bus != nil {
			_ = w.bus.Publish(jc.Ctx, redis.ProgressEvent{
				JobID: jc.Job.ID.String(),
				Stage: "failed",
				Error: runErr.Error(),
			})
		}
		return
	}

	w.log.Info("job succeeded",
		"job_id", jc.Job.ID.String(),
		"job_type", jc.Job.JobType,
	)
	if w.bus != nil {
		_ = w.bus.Publish(jc.Ctx, redis.ProgressEvent{
			JobID:    jc.Job.ID.String(),
			Stage:    "done",
			Progress: 100,
		})
	}
}
