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

package analyticsexport

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/option"
)

// Client wraps a BigQuery client and dataset identifier, streaming
// typed rows into a named table.
type Client struct {
	projectID string
	datasetID string
	client    *bigquery.Client
}

// NewClient creates a Client bound to cfg's project and dataset.
func NewClient(ctx context.Context, cfg *Config, opts ...option.ClientOption) (*Client, error) {
	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}

	return &Client{
		projectID: cfg.ProjectID,
		datasetID: cfg.DatasetID,
		client:    client,
	}, nil
}

// Close releases any resources held by the client.
func (c *Client) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close bigquery client: %w", err)
	}
	return nil
}

// WriteRankings streams ranking rows into tableID.
func (c *Client) WriteRankings(ctx context.Context, tableID string, rows []*RankingRow) error {
	return writeRows(ctx, c, tableID, rows)
}

// WriteHistory streams history rows into tableID.
func (c *Client) WriteHistory(ctx context.Context, tableID string, rows []*HistoryRow) error {
	return writeRows(ctx, c, tableID, rows)
}

// writeRows streams rows into tableID. T must satisfy the bigquery
// package's struct-tag or ValueSaver conventions.
func writeRows[T any](ctx context.Context, c *Client, tableID string, rows []*T) error {
	if len(rows) == 0 {
		return nil
	}
	if err := c.client.Dataset(c.datasetID).Table(tableID).Inserter().Put(ctx, rows); err != nil {
		return fmt.Errorf("write %d rows to %s.%s: %w", len(rows), c.datasetID, tableID, err)
	}
	return nil
}
