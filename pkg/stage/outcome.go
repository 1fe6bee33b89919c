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

// Package stage holds the processors that transform raw upstream records
// (or previously persisted rows) into Store writes: Repository,
// Contributor, MergeRequest, Commit, Enrichment, and Ranking. Each
// processor is a pure transform over (input, Store read-view, Client);
// every side effect goes through a Store transaction.
package stage

// Outcome is the structured result every processor batch call returns.
type Outcome struct {
	Processed int
	Skipped   int
	Failed    int
	Errors    []error
}

func (o *Outcome) addError(err error) {
	o.Failed++
	o.Errors = append(o.Errors, err)
}

func (o *Outcome) merge(other *Outcome) {
	o.Processed += other.Processed
	o.Skipped += other.Skipped
	o.Failed += other.Failed
	o.Errors = append(o.Errors, other.Errors...)
}
