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

// Package control implements the operator-facing Control API as a
// plain Go API, not an HTTP server — an external presentation layer is
// expected to expose it over the wire. Every mutating method writes an
// audit row before returning; Trigger also publishes a run-completion
// event through the Messager seam on success.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/abcxyz/repo-pulse/pkg/scheduler"
	"github.com/abcxyz/repo-pulse/pkg/store"
)

// Messager publishes a run-completion event to an out-of-process
// subscriber. Implemented by pkg/notify; defined here at the point of
// use so this package never imports a concrete transport.
type Messager interface {
	Publish(ctx context.Context, event RunCompletionEvent) error
}

// RunCompletionEvent is published by Trigger once the triggered run
// reaches a terminal state. Cancel publishes no event.
type RunCompletionEvent struct {
	PipelineType string `json:"pipeline_type"`
	RunID        string `json:"run_id"`
	Status       string `json:"status"`
}

// ScheduleRequest is the body of "POST schedule".
type ScheduleRequest struct {
	PipelineType string            `json:"type" validate:"required"`
	CronExpr     string            `json:"cron" validate:"required"`
	Active       bool              `json:"active"`
	Parameters   map[string]string `json:"params"`
	Description  string            `json:"description"`
}

// API is the Control API surface. It has no HTTP knowledge: every
// method is a direct, typed call an external presentation layer wires
// into its own routes.
type API struct {
	store     *store.Store
	scheduler *scheduler.Scheduler
	notifier  Messager
	validate  *validator.Validate
}

// New builds an API over s and sch. notifier may be nil — a nil
// notifier means run-completion events are simply not published
// (useful for tests and for deployments without pkg/notify wired in).
func New(s *store.Store, sch *scheduler.Scheduler, notifier Messager) *API {
	return &API{store: s, scheduler: sch, notifier: notifier, validate: validator.New()}
}

// ListSchedules implements "GET schedules".
func (a *API) ListSchedules(ctx context.Context) ([]*store.PipelineSchedule, error) {
	return a.store.ListSchedules(ctx)
}

// UpsertSchedule implements "POST schedule {type, cron, active, params}".
// It rejects an invalid cron expression and refuses to change a
// schedule for a pipeline type that is currently running.
func (a *API) UpsertSchedule(ctx context.Context, actor string, req ScheduleRequest) error {
	if err := a.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid schedule request: %w", err)
	}
	if _, err := scheduler.ParseCron(req.CronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", req.CronExpr, err)
	}

	status, err := a.store.GetPipelineStatus(ctx, req.PipelineType)
	if err != nil {
		return fmt.Errorf("get pipeline status %s: %w", req.PipelineType, err)
	}
	if status.IsRunning {
		return &scheduler.AlreadyRunningError{PipelineType: req.PipelineType}
	}

	before, err := a.previousScheduleJSON(ctx, req.PipelineType)
	if err != nil {
		return err
	}

	paramsJSON, err := json.Marshal(req.Parameters)
	if err != nil {
		return fmt.Errorf("marshal schedule parameters: %w", err)
	}
	sched := &store.PipelineSchedule{
		PipelineType: req.PipelineType,
		CronExpr:     req.CronExpr,
		IsActive:     req.Active,
		Parameters:   string(paramsJSON),
	}
	if req.Description != "" {
		sched.Description.String = req.Description
		sched.Description.Valid = true
	}
	if err := a.store.UpsertSchedule(ctx, sched); err != nil {
		return err
	}

	after, err := json.Marshal(sched)
	if err != nil {
		return fmt.Errorf("marshal upserted schedule: %w", err)
	}
	return a.store.InsertAuditLogEntry(ctx, actor, "upsert_schedule", before, string(after))
}

func (a *API) previousScheduleJSON(ctx context.Context, pipelineType string) (string, error) {
	existing, err := a.store.GetSchedule(ctx, pipelineType)
	if err != nil {
		var notFound *store.NotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", err
	}
	b, err := json.Marshal(existing)
	if err != nil {
		return "", fmt.Errorf("marshal previous schedule: %w", err)
	}
	return string(b), nil
}

// Trigger implements "POST trigger/{type}": enqueues an immediate run,
// bypassing the pipeline type's cron schedule but honoring its
// concurrency guard.
func (a *API) Trigger(ctx context.Context, actor, pipelineType string, params map[string]string) error {
	err := a.scheduler.Trigger(ctx, pipelineType, params)
	status := "triggered"
	if err != nil {
		status = "trigger_failed: " + err.Error()
	}
	if auditErr := a.store.InsertAuditLogEntry(ctx, actor, "trigger", "", fmt.Sprintf("%s:%s", pipelineType, status)); auditErr != nil {
		return auditErr
	}
	if err != nil {
		return err
	}
	if a.notifier != nil {
		ps, statusErr := a.store.GetPipelineStatus(ctx, pipelineType)
		if statusErr == nil {
			_ = a.notifier.Publish(ctx, RunCompletionEvent{PipelineType: pipelineType, Status: ps.Status})
		}
	}
	return nil
}

// Cancel implements "POST cancel/{type}": a cooperative cancel of the
// pipeline type's in-flight run, if any.
func (a *API) Cancel(ctx context.Context, actor, pipelineType string) error {
	err := a.scheduler.Cancel(pipelineType)
	status := "cancelled"
	if err != nil {
		status = "cancel_failed: " + err.Error()
	}
	if auditErr := a.store.InsertAuditLogEntry(ctx, actor, "cancel", "", fmt.Sprintf("%s:%s", pipelineType, status)); auditErr != nil {
		return auditErr
	}
	return err
}

// Status implements "GET status".
func (a *API) Status(ctx context.Context) ([]*store.PipelineStatus, error) {
	return a.store.ListPipelineStatuses(ctx)
}

// History implements "GET history?type=&limit=". An empty pipelineType
// lists across every pipeline type.
func (a *API) History(ctx context.Context, pipelineType string, limit int) ([]*store.PipelineHistory, error) {
	if pipelineType == "" {
		return a.store.ListHistoryAll(ctx, limit)
	}
	return a.store.ListHistory(ctx, pipelineType, limit)
}

// Counts implements "GET counts".
func (a *API) Counts(ctx context.Context) (*store.EntityCounts, error) {
	return a.store.CountEntities(ctx)
}

// ResetEnrichmentAttempts is an explicit, operator-triggered reset of
// an entity's enrichment attempt counter; never time-based.
func (a *API) ResetEnrichmentAttempts(ctx context.Context, actor, entityType string, upstreamID int64) error {
	var err error
	switch entityType {
	case "repository":
		err = a.store.ResetRepositoryEnrichmentAttempts(ctx, upstreamID, actor)
	case "contributor":
		err = a.store.ResetContributorEnrichmentAttempts(ctx, upstreamID, actor)
	default:
		return fmt.Errorf("reset enrichment attempts: unsupported entity type %q", entityType)
	}
	if err != nil {
		return err
	}
	return a.store.InsertAuditLogEntry(ctx, actor, "reset_enrichment_attempts", "", fmt.Sprintf("%s:%d", entityType, upstreamID))
}

// ResetPipelineStatus implements the "Reset" control command: any
// pipeline type, in any state, is forced back to idle.
func (a *API) ResetPipelineStatus(ctx context.Context, actor, pipelineType string) error {
	if err := a.store.ResetPipelineStatus(ctx, pipelineType); err != nil {
		return err
	}
	return a.store.InsertAuditLogEntry(ctx, actor, "reset_pipeline_status", "", pipelineType)
}
