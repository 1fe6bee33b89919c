// Copyright 2023 The Authors (see AUTHORS file)
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

// Package bigquery validates the identifiers repo-pulse interpolates
// directly into BigQuery SQL (project, dataset, table), since those three
// cannot be bound as query parameters.
package bigquery

import (
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"
)

// Start with lowercase, middle is lowercase, number or hyphen, cannot end in
// hyphen. 6-30 characters in length (start, 4-28 middle, end).
const projectIDRegex = `^[a-z][a-z0-9\-]{4,28}[a-z0-9]$`

var projectIDMatcher = regexp.MustCompile(projectIDRegex)

// Lowercase and uppercase letters, digits and underscores. Max 1024 characters.
// regexp only allows 1000 repetitions, so had to manually repeat.
const datasetIDRegex = `^[a-zA-Z0-9_]{1,512}[a-zA-Z0-9_]{0,512}$`

var datasetIDMatcher = regexp.MustCompile(datasetIDRegex)

// Unicode characters in category L (letter), M (mark), N (number),
// Pc (connector, including underscore), Pd (dash), Zs (space). Max 1024
// bytes (verified by experimentation, not by the regex itself, since the
// UTF-8 byte length check runs separately).
// regexp only allows 1000 repetitions, so had to manually repeat.
const tableNameRegex = `^[\p{L}\p{M}\p{N}\p{Pc}\p{Pd}\p{Zs}]{1,512}[\p{L}\p{M}\p{N}\p{Pc}\p{Pd}\p{Zs}]{0,512}$`

var tableNameMatcher = regexp.MustCompile(tableNameRegex)

// ValidateGCPProjectID reports whether projectID is shaped like a GCP
// project id, per
// [https://cloud.google.com/resource-manager/docs/creating-managing-projects].
// Does not check for restricted strings such as google, null, etc.
func ValidateGCPProjectID(projectID string) error {
	if !projectIDMatcher.MatchString(projectID) {
		return fmt.Errorf("invalid GCP project id")
	}
	return nil
}

// ValidateDatasetID reports whether datasetID is shaped like a BigQuery
// dataset id, per
// [https://cloud.google.com/bigquery/docs/datasets#dataset-naming].
func ValidateDatasetID(datasetID string) error {
	if !datasetIDMatcher.MatchString(datasetID) {
		return fmt.Errorf("invalid dataset id")
	}
	return nil
}

// ValidateTableName reports whether tableName is shaped like a BigQuery
// table name, per
// [https://cloud.google.com/bigquery/docs/tables#table_naming].
func ValidateTableName(tableName string) error {
	if !utf8.Valid([]byte(tableName)) {
		return fmt.Errorf("invalid table name: not UTF-8")
	}
	if len(tableName) > 1024 {
		return fmt.Errorf("invalid table name: too many bytes")
	}
	if !tableNameMatcher.MatchString(tableName) {
		return fmt.Errorf("invalid table name")
	}
	return nil
}

// ValidateIdentifiers validates a project/dataset/table triple together,
// joining every failure into a single error so a caller's Config.Validate
// can report them all at once instead of stopping at the first.
func ValidateIdentifiers(projectID, datasetID, tableName string) error {
	var errs []error
	if err := ValidateGCPProjectID(projectID); err != nil {
		errs = append(errs, fmt.Errorf("project id %q: %w", projectID, err))
	}
	if err := ValidateDatasetID(datasetID); err != nil {
		errs = append(errs, fmt.Errorf("dataset id %q: %w", datasetID, err))
	}
	if err := ValidateTableName(tableName); err != nil {
		errs = append(errs, fmt.Errorf("table name %q: %w", tableName, err))
	}
	return errors.Join(errs...)
}
