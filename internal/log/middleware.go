// Copyright 2025 Tom Barlow
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

package log

import (
	"log/slog"
	"time"
)

// DispatchRequest describes an inbound WorkSpec submission for logging
// purposes (spec.md §4.6). It carries the fields the Dispatcher needs to
// log consistently regardless of trigger source (a caller, the CLI, the
// scheduler, a retry).
type DispatchRequest struct {
	// Kind is the WorkSpec kind ("task", "pipeline", "workflow", "step").
	Kind string

	// Name is the registered handler or workflow name.
	Name string

	// TriggerSource identifies what originated the submission.
	TriggerSource string

	// RunID is the run identifier assigned once the RunRecord is created.
	RunID string

	// IdempotencyKey is the caller-supplied dedup key, if any.
	IdempotencyKey string

	// Metadata contains additional submission metadata.
	Metadata map[string]interface{}
}

// DispatchResult describes the outcome of a dispatch for logging purposes.
type DispatchResult struct {
	// Success indicates whether the run was accepted and routed.
	Success bool

	// Error is the error message if dispatch failed.
	Error string

	// DurationMs is how long dispatch took, in milliseconds.
	DurationMs int64

	// Metadata contains additional result metadata.
	Metadata map[string]interface{}
}

// LogDispatchRequest logs an incoming WorkSpec submission.
func LogDispatchRequest(logger *slog.Logger, req *DispatchRequest) {
	attrs := []any{
		"event", "dispatch_request",
		"kind", req.Kind,
		"name", req.Name,
		"trigger_source", req.TriggerSource,
	}

	if req.RunID != "" {
		attrs = append(attrs, RunIDKey, req.RunID)
	}

	if req.IdempotencyKey != "" {
		attrs = append(attrs, "idempotency_key", req.IdempotencyKey)
	}

	for k, v := range req.Metadata {
		attrs = append(attrs, k, v)
	}

	logger.Info("dispatch request received", attrs...)
}

// LogDispatchResult logs the outcome of a dispatch.
func LogDispatchResult(logger *slog.Logger, req *DispatchRequest, res *DispatchResult) {
	attrs := []any{
		"event", "dispatch_result",
		"kind", req.Kind,
		"name", req.Name,
		"success", res.Success,
		DurationKey, res.DurationMs,
	}

	if req.RunID != "" {
		attrs = append(attrs, RunIDKey, req.RunID)
	}

	if res.Error != "" {
		attrs = append(attrs, "error", res.Error)
	}

	for k, v := range res.Metadata {
		attrs = append(attrs, k, v)
	}

	level := slog.LevelInfo
	message := "dispatch completed"

	if !res.Success {
		level = slog.LevelError
		message = "dispatch failed"
	}

	logger.Log(nil, level, message, attrs...)
}

// DispatchMiddleware wraps a dispatch handler function with logging. It
// logs the request when it arrives and the result when it completes,
// independent of which executor ultimately ran the work.
type DispatchMiddleware struct {
	logger *slog.Logger
}

// NewDispatchMiddleware creates a new dispatch logging middleware.
func NewDispatchMiddleware(logger *slog.Logger) *DispatchMiddleware {
	return &DispatchMiddleware{
		logger: logger,
	}
}

// Handler wraps a function that processes a dispatch request. It logs the
// request and result automatically.
func (m *DispatchMiddleware) Handler(req *DispatchRequest, handler func() error) error {
	start := time.Now()

	LogDispatchRequest(m.logger, req)

	err := handler()

	duration := time.Since(start).Milliseconds()

	res := &DispatchResult{
		Success:    err == nil,
		DurationMs: duration,
	}

	if err != nil {
		res.Error = err.Error()
	}

	LogDispatchResult(m.logger, req, res)

	return err
}

// HandlerWithMetadata wraps a function that processes a dispatch request
// and returns metadata. It logs the request and result with the returned
// metadata attached.
func (m *DispatchMiddleware) HandlerWithMetadata(req *DispatchRequest, handler func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	start := time.Now()

	LogDispatchRequest(m.logger, req)

	metadata, err := handler()

	duration := time.Since(start).Milliseconds()

	res := &DispatchResult{
		Success:    err == nil,
		DurationMs: duration,
		Metadata:   metadata,
	}

	if err != nil {
		res.Error = err.Error()
	}

	LogDispatchResult(m.logger, req, res)

	return metadata, err
}
