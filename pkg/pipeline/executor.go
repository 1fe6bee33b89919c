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

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abcxyz/pkg/logging"
	"github.com/abcxyz/repo-pulse/pkg/store"
)

// defaultStageBudget is the soft per-stage time budget: a stage
// running longer than this logs a warning but is never aborted.
const defaultStageBudget = 5 * time.Minute

// RunStatus is the terminal (or in-flight) status of one pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusPartial   RunStatus = "partial"
	RunStatusError     RunStatus = "error"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunContext is the state shared across every stage of one run: a
// free-form value map plus the run identity stages use to checkpoint
// their own progress.
type RunContext struct {
	RunID        string
	PipelineType string

	mu     sync.Mutex
	values map[string]any

	store *store.Store
}

// Set stores a value under key, visible to every later stage in this run.
func (rc *RunContext) Set(key string, v any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.values[key] = v
}

// Get retrieves a value set by an earlier stage in this run.
func (rc *RunContext) Get(key string) (any, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	v, ok := rc.values[key]
	return v, ok
}

// SaveCheckpoint persists stageName's cursor for this run, so a restart
// resumes this stage instead of reprocessing its input from scratch.
func (rc *RunContext) SaveCheckpoint(ctx context.Context, stageName, cursor string) error {
	return rc.store.SaveCheckpoint(ctx, rc.RunID, stageName, cursor)
}

// Checkpoint returns stageName's last saved cursor for this run, or ""
// if the stage has never checkpointed within it.
func (rc *RunContext) Checkpoint(ctx context.Context, stageName string) (string, error) {
	return rc.store.GetCheckpoint(ctx, rc.RunID, stageName)
}

// RunResult summarizes a completed (or partially completed) run.
type RunResult struct {
	RunID     string
	Status    RunStatus
	Processed int
	Err       error
}

// Executor runs Pipelines against a Store, handling history, stage
// ordering, checkpoint resume, error policy, and cooperative
// cancellation.
type Executor struct {
	store       *store.Store
	stageBudget time.Duration
}

// NewExecutor builds an Executor over s.
func NewExecutor(s *store.Store) *Executor {
	return &Executor{store: s, stageBudget: defaultStageBudget}
}

// Run executes p to completion (or until ctx is cancelled / a fail-fast
// stage errors), recording a PipelineHistory row for the run. An
// optional trailing params map (from a manual Trigger) is made
// available to stages via RunContext.Get("trigger_params").
func (e *Executor) Run(ctx context.Context, p *Pipeline, params ...map[string]string) (*RunResult, error) {
	stages, err := p.Stages()
	if err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx)

	runID, resumed, err := e.store.LatestIncompleteRunID(ctx, p.Name)
	if err != nil {
		return nil, fmt.Errorf("look up resumable run for pipeline %s: %w", p.Name, err)
	}
	if !resumed {
		runID = uuid.NewString()
	}

	historyID, err := e.store.InsertHistoryStarted(ctx, runID, p.Name)
	if err != nil {
		return nil, fmt.Errorf("start history for pipeline %s: %w", p.Name, err)
	}

	logger.InfoContext(ctx, "pipeline run starting",
		"pipeline", p.Name, "run_id", runID, "resumed", resumed, "stage_count", len(stages))

	rc := &RunContext{
		RunID:        runID,
		PipelineType: p.Name,
		values:       make(map[string]any),
		store:        e.store,
	}
	if len(params) > 0 && params[0] != nil {
		rc.Set("trigger_params", params[0])
	}

	var totalProcessed int
	var partial bool

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			cancelErr := &CancelledError{RunID: runID, Stage: stage.Name}
			if hErr := e.store.CompleteHistory(ctx, historyID, string(RunStatusCancelled), totalProcessed, cancelErr.Error()); hErr != nil {
				logger.ErrorContext(ctx, "failed to record cancelled history", "error", hErr)
			}
			return &RunResult{RunID: runID, Status: RunStatusCancelled, Processed: totalProcessed, Err: cancelErr}, cancelErr
		}

		started := time.Now()
		result, err := stage.Run(ctx, rc)
		elapsed := time.Since(started)
		if elapsed > e.stageBudget {
			logger.WarnContext(ctx, "stage exceeded soft time budget",
				"pipeline", p.Name, "stage", stage.Name, "elapsed", elapsed.String(), "budget", e.stageBudget.String())
		}

		totalProcessed += result.Processed
		logger.InfoContext(ctx, "stage completed",
			"pipeline", p.Name, "run_id", runID, "stage", stage.Name,
			"processed", result.Processed, "failed", result.Failed)

		if err != nil {
			if hErr := e.store.CompleteHistory(ctx, historyID, string(RunStatusError), totalProcessed, err.Error()); hErr != nil {
				logger.ErrorContext(ctx, "failed to record error history", "error", hErr)
			}
			return &RunResult{RunID: runID, Status: RunStatusError, Processed: totalProcessed, Err: err}, err
		}

		if result.Failed > 0 {
			switch stage.Policy {
			case FailFast:
				stageErr := fmt.Errorf("stage %s: %d of %d items failed: %w", stage.Name, result.Failed, result.Failed+result.Processed, firstOf(result.Errors))
				if hErr := e.store.CompleteHistory(ctx, historyID, string(RunStatusError), totalProcessed, stageErr.Error()); hErr != nil {
					logger.ErrorContext(ctx, "failed to record error history", "error", hErr)
				}
				return &RunResult{RunID: runID, Status: RunStatusError, Processed: totalProcessed, Err: stageErr}, stageErr
			case ContinueOnError:
				if result.ErrorRate() > stage.Threshold {
					thresholdErr := &ThresholdExceededError{Stage: stage.Name, Failed: result.Failed, Total: result.Failed + result.Processed, Threshold: stage.Threshold}
					if hErr := e.store.CompleteHistory(ctx, historyID, string(RunStatusError), totalProcessed, thresholdErr.Error()); hErr != nil {
						logger.ErrorContext(ctx, "failed to record error history", "error", hErr)
					}
					return &RunResult{RunID: runID, Status: RunStatusError, Processed: totalProcessed, Err: thresholdErr}, thresholdErr
				}
				partial = true
			case Skip:
				partial = true
			}
		}
	}

	status := RunStatusSuccess
	if partial {
		status = RunStatusPartial
	}
	if err := e.store.CompleteHistory(ctx, historyID, string(status), totalProcessed, ""); err != nil {
		logger.ErrorContext(ctx, "failed to record completion history", "error", err)
	}
	logger.InfoContext(ctx, "pipeline run completed", "pipeline", p.Name, "run_id", runID, "status", status, "processed", totalProcessed)

	return &RunResult{RunID: runID, Status: status, Processed: totalProcessed}, nil
}

func firstOf(errs []error) error {
	if len(errs) == 0 {
		return fmt.Errorf("unspecified stage failure")
	}
	return errs[0]
}
