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
	"errors"
	"fmt"
	"testing"

	"github.com/abcxyz/repo-pulse/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), &store.Config{
		DBPath:        ":memory:",
		MaxOpenConns:  1,
		MaxIdleConns:  1,
		BusyTimeoutMS: 5000,
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExecutor_RunSucceedsAndRecordsHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := New("repo-sync")
	if err := p.AddStage(StageDef{
		Name: "fetch",
		Run: func(ctx context.Context, rc *RunContext) (Result, error) {
			rc.Set("fetched", 3)
			return Result{Processed: 3}, nil
		},
	}); err != nil {
		t.Fatalf("AddStage fetch: %v", err)
	}
	if err := p.AddStage(StageDef{
		Name:      "transform",
		DependsOn: []string{"fetch"},
		Run: func(ctx context.Context, rc *RunContext) (Result, error) {
			v, ok := rc.Get("fetched")
			if !ok || v.(int) != 3 {
				return Result{}, fmt.Errorf("expected shared context value from fetch stage")
			}
			return Result{Processed: 3}, nil
		},
	}); err != nil {
		t.Fatalf("AddStage transform: %v", err)
	}

	e := NewExecutor(s)
	result, err := e.Run(ctx, p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != RunStatusSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
	if result.Processed != 6 {
		t.Fatalf("expected 6 total processed, got %d", result.Processed)
	}

	history, err := s.ListHistory(ctx, "repo-sync", 10)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(history) != 1 || history[0].Status != "success" {
		t.Fatalf("expected 1 successful history row, got %+v", history)
	}
}

func TestExecutor_RunFailFastAbortsImmediately(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var secondStageRan bool
	p := New("fail-fast")
	if err := p.AddStage(StageDef{
		Name:   "a",
		Policy: FailFast,
		Run: func(ctx context.Context, rc *RunContext) (Result, error) {
			return Result{Processed: 1, Failed: 1, Errors: []error{errors.New("boom")}}, nil
		},
	}); err != nil {
		t.Fatalf("AddStage a: %v", err)
	}
	if err := p.AddStage(StageDef{
		Name:      "b",
		DependsOn: []string{"a"},
		Run: func(ctx context.Context, rc *RunContext) (Result, error) {
			secondStageRan = true
			return Result{Processed: 1}, nil
		},
	}); err != nil {
		t.Fatalf("AddStage b: %v", err)
	}

	e := NewExecutor(s)
	result, err := e.Run(ctx, p)
	if err == nil {
		t.Fatal("expected Run to return an error for a fail-fast stage failure")
	}
	if result.Status != RunStatusError {
		t.Fatalf("expected error status, got %s", result.Status)
	}
	if secondStageRan {
		t.Fatal("expected fail-fast to prevent the dependent stage from running")
	}
}

func TestExecutor_RunContinueOnErrorBelowThresholdIsPartial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := New("partial")
	if err := p.AddStage(StageDef{
		Name:      "noisy",
		Policy:    ContinueOnError,
		Threshold: 0.5,
		Run: func(ctx context.Context, rc *RunContext) (Result, error) {
			return Result{Processed: 9, Failed: 1, Errors: []error{errors.New("one bad item")}}, nil
		},
	}); err != nil {
		t.Fatalf("AddStage noisy: %v", err)
	}

	e := NewExecutor(s)
	result, err := e.Run(ctx, p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != RunStatusPartial {
		t.Fatalf("expected partial status for below-threshold failures, got %s", result.Status)
	}
}

func TestExecutor_RunContinueOnErrorAboveThresholdFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := New("over-threshold")
	if err := p.AddStage(StageDef{
		Name:      "very-noisy",
		Policy:    ContinueOnError,
		Threshold: 0.1,
		Run: func(ctx context.Context, rc *RunContext) (Result, error) {
			return Result{Processed: 1, Failed: 9, Errors: []error{errors.New("mostly broken")}}, nil
		},
	}); err != nil {
		t.Fatalf("AddStage very-noisy: %v", err)
	}

	e := NewExecutor(s)
	result, err := e.Run(ctx, p)
	if err == nil {
		t.Fatal("expected an error once the failure rate exceeds the stage's threshold")
	}
	var thresholdErr *ThresholdExceededError
	if !errors.As(err, &thresholdErr) {
		t.Fatalf("expected a ThresholdExceededError, got %v", err)
	}
	if result.Status != RunStatusError {
		t.Fatalf("expected error status, got %s", result.Status)
	}
}

func TestExecutor_RunSkipPolicyNeverFailsRegardlessOfRate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := New("skip-policy")
	if err := p.AddStage(StageDef{
		Name:   "lossy",
		Policy: Skip,
		Run: func(ctx context.Context, rc *RunContext) (Result, error) {
			return Result{Processed: 0, Failed: 100, Errors: []error{errors.New("everything failed")}}, nil
		},
	}); err != nil {
		t.Fatalf("AddStage lossy: %v", err)
	}

	e := NewExecutor(s)
	result, err := e.Run(ctx, p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != RunStatusPartial {
		t.Fatalf("expected partial status under the skip policy, got %s", result.Status)
	}
}

func TestExecutor_RunCancelledBetweenStagesReportsCancelled(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	p := New("cancellable")
	if err := p.AddStage(StageDef{
		Name: "first",
		Run: func(ctx context.Context, rc *RunContext) (Result, error) {
			cancel()
			return Result{Processed: 1}, nil
		},
	}); err != nil {
		t.Fatalf("AddStage first: %v", err)
	}
	if err := p.AddStage(StageDef{
		Name:      "second",
		DependsOn: []string{"first"},
		Run: func(ctx context.Context, rc *RunContext) (Result, error) {
			t.Fatal("second stage must not run after cancellation")
			return Result{}, nil
		},
	}); err != nil {
		t.Fatalf("AddStage second: %v", err)
	}

	e := NewExecutor(s)
	result, err := e.Run(ctx, p)
	if err == nil {
		t.Fatal("expected an error for a cancelled run")
	}
	var cancelErr *CancelledError
	if !errors.As(err, &cancelErr) {
		t.Fatalf("expected a CancelledError, got %v", err)
	}
	if result.Status != RunStatusCancelled {
		t.Fatalf("expected cancelled status, got %s", result.Status)
	}
}

func TestExecutor_RunResumesCheckpointFromPriorIncompleteRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Simulate a process crash mid-run: a history row is started and a
	// checkpoint saved, but CompleteHistory is never called, leaving the
	// row stuck in status "running" the way a killed process would.
	if _, err := s.InsertHistoryStarted(ctx, "dangling-run-id", "resumable"); err != nil {
		t.Fatalf("InsertHistoryStarted: %v", err)
	}
	if err := s.SaveCheckpoint(ctx, "dangling-run-id", "paginate", "page-2"); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	var resumedCursor string
	p := New("resumable")
	if err := p.AddStage(StageDef{
		Name: "paginate",
		Run: func(ctx context.Context, rc *RunContext) (Result, error) {
			cursor, err := rc.Checkpoint(ctx, "paginate")
			if err != nil {
				return Result{}, err
			}
			resumedCursor = cursor
			return Result{Processed: 1}, nil
		},
	}); err != nil {
		t.Fatalf("AddStage paginate: %v", err)
	}

	e := NewExecutor(s)
	result, err := e.Run(ctx, p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.RunID != "dangling-run-id" {
		t.Fatalf("expected resume to reuse the dangling run id, got %s", result.RunID)
	}
	if resumedCursor != "page-2" {
		t.Fatalf("expected resumed cursor page-2, got %q", resumedCursor)
	}
}
