// Copyright 2024 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scheduler parses cron schedules per pipeline type, enforces a
// single-writer-per-type concurrency guard backed by the Store, and
// drives the pipeline Executor — either on its cron cadence or via a
// first-class manual Trigger.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/abcxyz/pkg/logging"
	"github.com/abcxyz/repo-pulse/pkg/pipeline"
	"github.com/abcxyz/repo-pulse/pkg/store"
)

// Scheduler owns the registered Pipelines and the ticking loop that
// launches due ones. Every pipeline type it runs is strictly serial
// (enforced by the Store's is_running guard); distinct pipeline types
// may run concurrently.
type Scheduler struct {
	store    *store.Store
	executor *pipeline.Executor
	cfg      *Config

	mu        sync.Mutex
	pipelines map[string]*pipeline.Pipeline
	running   map[string]context.CancelFunc

	now func() time.Time
}

// New builds a Scheduler over s, driving runs through executor.
func New(s *store.Store, executor *pipeline.Executor, cfg *Config) *Scheduler {
	return &Scheduler{
		store:     s,
		executor:  executor,
		cfg:       cfg,
		pipelines: make(map[string]*pipeline.Pipeline),
		running:   make(map[string]context.CancelFunc),
		now:       time.Now,
	}
}

// Register associates a pipeline_type with the Pipeline the Executor
// should run for it. Must be called before Run or Trigger observes the
// type.
func (sch *Scheduler) Register(pipelineType string, p *pipeline.Pipeline) {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	sch.pipelines[pipelineType] = p
}

// Run blocks, ticking every cfg.TickInterval and launching any pipeline
// type whose schedule is active and due, until ctx is cancelled.
func (sch *Scheduler) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	ticker := time.NewTicker(sch.cfg.TickInterval)
	defer ticker.Stop()

	logger.InfoContext(ctx, "scheduler starting", "tick_interval", sch.cfg.TickInterval.String())

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "scheduler stopping")
			return nil
		case <-ticker.C:
			if err := sch.tick(ctx); err != nil {
				logger.ErrorContext(ctx, "scheduler tick failed", "error", err)
			}
		}
	}
}

// tick evaluates every active schedule and launches the due ones
// concurrently; each pipeline type's own single-writer guard is still
// enforced by the Store.
func (sch *Scheduler) tick(ctx context.Context) error {
	schedules, err := sch.store.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}

	now := sch.now().UTC()
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range schedules {
		s := s
		if !s.IsActive {
			continue
		}
		status, err := sch.store.GetPipelineStatus(ctx, s.PipelineType)
		if err != nil {
			return fmt.Errorf("get pipeline status %s: %w", s.PipelineType, err)
		}
		due, err := sch.isDue(s.CronExpr, status.NextRunAt.String, now)
		if err != nil {
			logging.FromContext(ctx).WarnContext(ctx, "invalid cron expression, skipping",
				"pipeline_type", s.PipelineType, "cron_expr", s.CronExpr, "error", err)
			continue
		}
		if !due {
			continue
		}
		g.Go(func() error {
			// Scheduler-driven launches never propagate a launch-time
			// failure to the tick loop itself: a single bad pipeline type
			// must not prevent the others in this tick from running.
			if err := sch.launch(gctx, s.PipelineType); err != nil {
				logging.FromContext(gctx).WarnContext(gctx, "scheduled launch skipped",
					"pipeline_type", s.PipelineType, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// isDue reports whether a cron-scheduled pipeline type should fire now:
// true if it has never run (no next_run_at recorded yet) or its
// recorded next_run_at has passed.
func (sch *Scheduler) isDue(cronExpr, nextRunAt string, now time.Time) (bool, error) {
	if nextRunAt == "" {
		return true, nil
	}
	next, err := time.Parse(time.RFC3339Nano, nextRunAt)
	if err != nil {
		return false, fmt.Errorf("parse next_run_at %q: %w", nextRunAt, err)
	}
	return !now.Before(next), nil
}

// Trigger launches pipelineType immediately, bypassing its cron
// schedule but still honoring the concurrency guard. Params are made
// available to stages via the run's RunContext under the "trigger_params"
// key.
func (sch *Scheduler) Trigger(ctx context.Context, pipelineType string, params map[string]string) error {
	return sch.launch(ctx, pipelineType, params)
}

// Cancel cooperatively cancels pipelineType's in-flight run, if any. The
// run finishes its current batch transaction before exiting with status
// "cancelled" — no operation is interrupted mid-transaction.
func (sch *Scheduler) Cancel(pipelineType string) error {
	sch.mu.Lock()
	cancel, ok := sch.running[pipelineType]
	sch.mu.Unlock()
	if !ok {
		return &NotRunningError{PipelineType: pipelineType}
	}
	cancel()
	return nil
}

func (sch *Scheduler) launch(ctx context.Context, pipelineType string, params ...map[string]string) error {
	sch.mu.Lock()
	p, ok := sch.pipelines[pipelineType]
	sch.mu.Unlock()
	if !ok {
		return &UnknownPipelineError{PipelineType: pipelineType}
	}

	acquired, err := sch.store.TryAcquireRunning(ctx, pipelineType)
	if err != nil {
		return fmt.Errorf("acquire running guard %s: %w", pipelineType, err)
	}
	if !acquired {
		return &AlreadyRunningError{PipelineType: pipelineType}
	}

	runCtx, cancel := context.WithCancel(ctx)
	sch.mu.Lock()
	sch.running[pipelineType] = cancel
	sch.mu.Unlock()

	defer func() {
		sch.mu.Lock()
		delete(sch.running, pipelineType)
		sch.mu.Unlock()
		cancel()
	}()

	logger := logging.FromContext(ctx)
	result, runErr := sch.executor.Run(runCtx, p, params...)

	terminal := store.PipelineStateIdle
	lastErr := ""
	if runErr != nil {
		terminal = store.PipelineStateError
		lastErr = runErr.Error()
		logger.ErrorContext(ctx, "pipeline run failed", "pipeline_type", pipelineType, "error", runErr)
	} else {
		logger.InfoContext(ctx, "pipeline run finished", "pipeline_type", pipelineType, "status", result.Status, "processed", result.Processed)
	}

	if err := sch.store.ReleaseRunning(ctx, pipelineType, terminal, lastErr); err != nil {
		return fmt.Errorf("release running guard %s: %w", pipelineType, err)
	}

	if sched, err := sch.store.GetSchedule(ctx, pipelineType); err == nil && sched.IsActive {
		next, nextErr := nextFireTime(sched.CronExpr, sch.now().UTC())
		if nextErr != nil {
			logger.WarnContext(ctx, "failed to compute next fire time", "pipeline_type", pipelineType, "error", nextErr)
		} else if err := sch.store.SetNextRun(ctx, pipelineType, next.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("set next run %s: %w", pipelineType, err)
		}
	}

	return runErr
}

// ParseCron validates a standard 5-field cron expression (optionally
// prefixed with "CRON_TZ=<zone>" for timezone support, per
// robfig/cron/v3's parser). Exported so the Control API can reject an
// invalid cron expression in a schedule upsert before it ever reaches
// the Store.
func ParseCron(cronExpr string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule, nil
}

// nextFireTime returns cronExpr's next fire time after from.
func nextFireTime(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := ParseCron(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from), nil
}
