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

// Package pipeline sequences named stages into a topologically ordered
// run, propagating a shared context map, checkpointing progress per
// stage, and applying a per-stage error policy against a single
// embedded process rather than a distributed execution engine.
package pipeline

import (
	"context"
	"fmt"
)

// ErrorPolicy governs how a stage's per-item failures affect the run.
type ErrorPolicy int

const (
	// FailFast aborts the run on the first error the stage reports.
	FailFast ErrorPolicy = iota
	// ContinueOnError aggregates failures and only fails the stage (and
	// run) if the failure rate exceeds Threshold.
	ContinueOnError
	// Skip records failures but never fails the stage regardless of rate.
	Skip
)

// Result is what a StageFunc reports back to the Executor: how many
// items it attempted and how many of those failed. Non-fatal per-item
// errors are carried so the run's history can record a summary.
type Result struct {
	Processed int
	Failed    int
	Errors    []error
}

// ErrorRate returns Failed as a fraction of items attempted, 0 when
// nothing was attempted.
func (r Result) ErrorRate() float64 {
	total := r.Processed + r.Failed
	if total == 0 {
		return 0
	}
	return float64(r.Failed) / float64(total)
}

// StageFunc is one unit of work in a pipeline. It receives the run's
// shared context map and must honor ctx cancellation at the top of any
// internal batch loop.
type StageFunc func(ctx context.Context, rc *RunContext) (Result, error)

// StageDef declares one stage's name, its dependencies, and its error
// policy.
type StageDef struct {
	Name      string
	DependsOn []string
	Policy    ErrorPolicy
	Threshold float64 // only consulted when Policy == ContinueOnError
	Run       StageFunc
}

// Pipeline is a named, topologically-sorted list of stages. Cycles are a
// fatal configuration error caught at Build time, not at run time.
type Pipeline struct {
	Name   string
	stages map[string]*StageDef
	// registered is insertion order, used only to break ties
	// deterministically among stages with equal in-degree during Build.
	registered []string
	order      []string
}

// New creates an empty, unbuilt Pipeline.
func New(name string) *Pipeline {
	return &Pipeline{Name: name, stages: make(map[string]*StageDef)}
}

// AddStage registers a stage. It returns an error if the name is
// already registered or declares no Run function.
func (p *Pipeline) AddStage(def StageDef) error {
	if def.Name == "" {
		return fmt.Errorf("pipeline %s: stage name must not be empty", p.Name)
	}
	if def.Run == nil {
		return fmt.Errorf("pipeline %s: stage %s has no Run function", p.Name, def.Name)
	}
	if _, exists := p.stages[def.Name]; exists {
		return fmt.Errorf("pipeline %s: stage %s already registered", p.Name, def.Name)
	}
	d := def
	p.stages[d.Name] = &d
	p.registered = append(p.registered, d.Name)
	p.order = nil // invalidate any prior Build
	return nil
}

// Build topologically sorts the registered stages via Kahn's algorithm,
// returning a *CycleError if the dependency graph is not a DAG, or a
// *NotFoundError if a stage declares a dependency on an unregistered
// name. Build must
// succeed before Stages can be called; the Executor calls it
// automatically on first Run.
func (p *Pipeline) Build() error {
	inDegree := make(map[string]int, len(p.stages))
	dependents := make(map[string][]string, len(p.stages))
	for name := range p.stages {
		inDegree[name] = 0
	}
	for name, def := range p.stages {
		for _, dep := range def.DependsOn {
			if _, ok := p.stages[dep]; !ok {
				return &NotFoundError{Kind: "stage dependency", Name: dep}
			}
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	// Deterministic ordering among stages with equal in-degree: stable
	// sort of the registration order rather than map iteration order.
	queue = stableSubset(p.registered, queue)

	var order []string
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		order = append(order, next)
		for _, dependent := range dependents[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(p.stages) {
		var remaining []string
		for name, deg := range inDegree {
			if deg > 0 {
				remaining = append(remaining, name)
			}
		}
		return &CycleError{Pipeline: p.Name, Stages: remaining}
	}

	p.order = order
	return nil
}

// stableSubset returns the elements of subset in the relative order
// they appear in order.
func stableSubset(order, subset []string) []string {
	in := make(map[string]bool, len(subset))
	for _, s := range subset {
		in[s] = true
	}
	var out []string
	for _, name := range order {
		if in[name] {
			out = append(out, name)
		}
	}
	return out
}

// Stages returns the topologically sorted stage definitions. Build must
// have been called (directly or via Executor.Run) first.
func (p *Pipeline) Stages() ([]*StageDef, error) {
	if p.order == nil {
		if err := p.Build(); err != nil {
			return nil, err
		}
	}
	out := make([]*StageDef, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.stages[name])
	}
	return out, nil
}
