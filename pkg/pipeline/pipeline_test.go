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
	"testing"
)

func TestPipeline_BuildTopologicallySortsStages(t *testing.T) {
	p := New("test")
	var calls []string
	record := func(name string) StageFunc {
		return func(ctx context.Context, rc *RunContext) (Result, error) {
			calls = append(calls, name)
			return Result{Processed: 1}, nil
		}
	}

	if err := p.AddStage(StageDef{Name: "c", DependsOn: []string{"b"}, Run: record("c")}); err != nil {
		t.Fatalf("AddStage c: %v", err)
	}
	if err := p.AddStage(StageDef{Name: "a", Run: record("a")}); err != nil {
		t.Fatalf("AddStage a: %v", err)
	}
	if err := p.AddStage(StageDef{Name: "b", DependsOn: []string{"a"}, Run: record("b")}); err != nil {
		t.Fatalf("AddStage b: %v", err)
	}

	stages, err := p.Stages()
	if err != nil {
		t.Fatalf("Stages: %v", err)
	}
	if len(stages) != 3 {
		t.Fatalf("expected 3 stages, got %d", len(stages))
	}
	got := []string{stages[0].Name, stages[1].Name, stages[2].Name}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestPipeline_BuildDetectsCycle(t *testing.T) {
	p := New("cyclic")
	noop := func(ctx context.Context, rc *RunContext) (Result, error) { return Result{}, nil }

	if err := p.AddStage(StageDef{Name: "x", DependsOn: []string{"y"}, Run: noop}); err != nil {
		t.Fatalf("AddStage x: %v", err)
	}
	if err := p.AddStage(StageDef{Name: "y", DependsOn: []string{"x"}, Run: noop}); err != nil {
		t.Fatalf("AddStage y: %v", err)
	}

	_, err := p.Stages()
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected a CycleError, got %v", err)
	}
}

func TestPipeline_BuildRejectsUnknownDependency(t *testing.T) {
	p := New("dangling")
	noop := func(ctx context.Context, rc *RunContext) (Result, error) { return Result{}, nil }

	if err := p.AddStage(StageDef{Name: "x", DependsOn: []string{"missing"}, Run: noop}); err != nil {
		t.Fatalf("AddStage x: %v", err)
	}

	_, err := p.Stages()
	var notFoundErr *NotFoundError
	if !errors.As(err, &notFoundErr) {
		t.Fatalf("expected a NotFoundError, got %v", err)
	}
}

func TestPipeline_AddStageRejectsDuplicateName(t *testing.T) {
	p := New("dup")
	noop := func(ctx context.Context, rc *RunContext) (Result, error) { return Result{}, nil }

	if err := p.AddStage(StageDef{Name: "x", Run: noop}); err != nil {
		t.Fatalf("AddStage x: %v", err)
	}
	if err := p.AddStage(StageDef{Name: "x", Run: noop}); err == nil {
		t.Fatal("expected an error registering a duplicate stage name")
	}
}

func TestResult_ErrorRate(t *testing.T) {
	cases := []struct {
		name string
		r    Result
		want float64
	}{
		{"nothing attempted", Result{}, 0},
		{"all succeeded", Result{Processed: 10}, 0},
		{"all failed", Result{Failed: 10}, 1},
		{"half failed", Result{Processed: 5, Failed: 5}, 0.5},
	}
	for _, tc := range cases {
		if got := tc.r.ErrorRate(); got != tc.want {
			t.Errorf("%s: ErrorRate() = %f, want %f", tc.name, got, tc.want)
		}
	}
}
