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

import "fmt"

// NotFoundError indicates a lookup against a pipeline or stage name found
// no registration.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}

// CycleError indicates a pipeline's declared stage dependencies do not
// form a DAG; registration fails fatally rather than at run time.
type CycleError struct {
	Pipeline string
	Stages   []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("pipeline %s has a dependency cycle among stages %v", e.Pipeline, e.Stages)
}

// CancelledError indicates a run exited early because its context was
// cancelled between stages or batches. The run's status is recorded as
// "cancelled", not "error" — this is cooperative shutdown, not failure.
type CancelledError struct {
	RunID string
	Stage string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("run %s cancelled during stage %s", e.RunID, e.Stage)
}

// ThresholdExceededError indicates a continue-on-error stage's failure
// rate crossed its configured threshold and the stage (and therefore the
// run) is being failed rather than continued.
type ThresholdExceededError struct {
	Stage     string
	Failed    int
	Total     int
	Threshold float64
}

func (e *ThresholdExceededError) Error() string {
	return fmt.Sprintf("stage %s exceeded error threshold: %d/%d failed (threshold %.2f)", e.Stage, e.Failed, e.Total, e.Threshold)
}
