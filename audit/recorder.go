// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package audit records every answered question with its retrieval outcome.
//
// A record is created as soon as the best distance is known and before the
// generator runs, so that a question whose generation hangs or fails still
// leaves a trace. Finish or Fail then updates the same record in place.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
)

const (
	// DefaultListLimit is the number of records List returns by default.
	DefaultListLimit = 20
	// MaxListLimit caps the number of records List returns.
	MaxListLimit = 100
)

// ErrQueryLogRepositoryRequired is returned when a repository is not provided.
var ErrQueryLogRepositoryRequired = errors.New("query log repository required")

// Recorder drives the lifecycle of query log records.
type Recorder struct {
	logs   storage.QueryLogRepository
	logger *slog.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRecorder creates a recorder over logs.
func NewRecorder(logs storage.QueryLogRepository, opts ...Option) (*Recorder, error) {
	if logs == nil {
		return nil, ErrQueryLogRepositoryRequired
	}
	r := &Recorder{
		logs:   logs,
		logger: slog.Default().With("component", "audit"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Begin stores entry and returns it with its ID assigned.
func (r *Recorder) Begin(ctx context.Context, entry *core.QueryLog) (*core.QueryLog, error) {
	stored, err := r.logs.AddQueryLog(ctx, entry)
	if err != nil {
		return nil, core.Wrap(core.KindStoreFailure, "begin query log", err)
	}
	r.logger.Debug("query log opened", "log_id", stored.Id)
	return stored, nil
}

// Finish records a successful outcome, including refusals.
func (r *Recorder) Finish(ctx context.Context, entry *core.QueryLog, answer string, sources []core.Source, latency time.Duration) error {
	entry.Answer = answer
	entry.Sources = append([]core.Source{}, sources...)
	entry.LatencyMs = latency.Milliseconds()
	entry.Error = ""
	if _, err := r.logs.UpdateQueryLog(ctx, entry); err != nil {
		return core.Wrap(core.KindStoreFailure, "finish query log", err)
	}
	return nil
}

// Fail records cause as the outcome. The answer stays empty.
func (r *Recorder) Fail(ctx context.Context, entry *core.QueryLog, cause error, latency time.Duration) error {
	entry.Answer = ""
	entry.LatencyMs = latency.Milliseconds()
	entry.Error = "unknown error"
	if cause != nil {
		entry.Error = cause.Error()
	}
	if _, err := r.logs.UpdateQueryLog(ctx, entry); err != nil {
		return core.Wrap(core.KindStoreFailure, "fail query log", err)
	}
	r.logger.Warn("query failed", "log_id", entry.Id, "err", cause)
	return nil
}

// List returns the most recent records, newest first. limit is clamped with ClampLimit.
func (r *Recorder) List(ctx context.Context, limit int) ([]*core.QueryLog, error) {
	entries, err := r.logs.GetRecentQueryLogs(ctx, ClampLimit(limit))
	if err != nil {
		return nil, core.Wrap(core.KindStoreFailure, "list query logs", err)
	}
	return entries, nil
}

// ClampLimit maps a non-positive n to DefaultListLimit and caps the rest at
// MaxListLimit.
func ClampLimit(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	return min(n, MaxListLimit)
}
