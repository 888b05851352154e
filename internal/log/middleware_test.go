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
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLogDispatchRequest(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{
		Level:  "info",
		Format: FormatJSON,
		Output: &buf,
	}

	logger := New(cfg)

	req := &DispatchRequest{
		Kind:           "task",
		Name:           "send_email",
		TriggerSource:  "api",
		RunID:          "run-456",
		IdempotencyKey: "idem-123",
		Metadata: map[string]interface{}{
			"priority": "high",
		},
	}

	LogDispatchRequest(logger, req)

	output := buf.String()

	var logEntry map[string]interface{}
	if err := json.Unmarshal([]byte(output), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}

	if logEntry["event"] != "dispatch_request" {
		t.Errorf("expected event to be 'dispatch_request', got: %v", logEntry["event"])
	}

	if logEntry["kind"] != "task" {
		t.Errorf("expected kind to be 'task', got: %v", logEntry["kind"])
	}

	if logEntry["name"] != "send_email" {
		t.Errorf("expected name to be 'send_email', got: %v", logEntry["name"])
	}

	if logEntry["trigger_source"] != "api" {
		t.Errorf("expected trigger_source to be 'api', got: %v", logEntry["trigger_source"])
	}

	if logEntry[RunIDKey] != "run-456" {
		t.Errorf("expected %s to be 'run-456', got: %v", RunIDKey, logEntry[RunIDKey])
	}

	if logEntry["idempotency_key"] != "idem-123" {
		t.Errorf("expected idempotency_key to be 'idem-123', got: %v", logEntry["idempotency_key"])
	}

	if logEntry["priority"] != "high" {
		t.Errorf("expected priority to be 'high', got: %v", logEntry["priority"])
	}
}

func TestLogDispatchRequest_MinimalFields(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{
		Level:  "info",
		Format: FormatJSON,
		Output: &buf,
	}

	logger := New(cfg)

	req := &DispatchRequest{
		Kind: "task",
		Name: "ping",
	}

	LogDispatchRequest(logger, req)

	output := buf.String()

	var logEntry map[string]interface{}
	if err := json.Unmarshal([]byte(output), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}

	if _, ok := logEntry[RunIDKey]; ok {
		t.Errorf("expected no run_id field for minimal request")
	}

	if _, ok := logEntry["idempotency_key"]; ok {
		t.Errorf("expected no idempotency_key field for minimal request")
	}
}

func TestLogDispatchResult_Success(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{
		Level:  "info",
		Format: FormatJSON,
		Output: &buf,
	}

	logger := New(cfg)

	req := &DispatchRequest{
		Kind:  "task",
		Name:  "send_email",
		RunID: "run-456",
	}

	res := &DispatchResult{
		Success:    true,
		DurationMs: 150,
		Metadata: map[string]interface{}{
			"executor": "in_memory",
		},
	}

	LogDispatchResult(logger, req, res)

	output := buf.String()

	var logEntry map[string]interface{}
	if err := json.Unmarshal([]byte(output), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}

	if logEntry["event"] != "dispatch_result" {
		t.Errorf("expected event to be 'dispatch_result', got: %v", logEntry["event"])
	}

	if logEntry["success"] != true {
		t.Errorf("expected success to be true, got: %v", logEntry["success"])
	}

	if logEntry[DurationKey] != float64(150) {
		t.Errorf("expected %s to be 150, got: %v", DurationKey, logEntry[DurationKey])
	}

	if logEntry["level"] != "INFO" {
		t.Errorf("expected level to be 'INFO', got: %v", logEntry["level"])
	}

	if logEntry["msg"] != "dispatch completed" {
		t.Errorf("expected msg to be 'dispatch completed', got: %v", logEntry["msg"])
	}

	if logEntry["executor"] != "in_memory" {
		t.Errorf("expected executor to be 'in_memory', got: %v", logEntry["executor"])
	}

	if _, ok := logEntry["error"]; ok {
		t.Errorf("expected no error field for successful result")
	}
}

func TestLogDispatchResult_Error(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{
		Level:  "info",
		Format: FormatJSON,
		Output: &buf,
	}

	logger := New(cfg)

	req := &DispatchRequest{
		Kind:  "task",
		Name:  "send_email",
		RunID: "run-456",
	}

	res := &DispatchResult{
		Success:    false,
		Error:      "handler not registered",
		DurationMs: 50,
	}

	LogDispatchResult(logger, req, res)

	output := buf.String()

	var logEntry map[string]interface{}
	if err := json.Unmarshal([]byte(output), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}

	if logEntry["success"] != false {
		t.Errorf("expected success to be false, got: %v", logEntry["success"])
	}

	if logEntry["error"] != "handler not registered" {
		t.Errorf("expected error to be 'handler not registered', got: %v", logEntry["error"])
	}

	if logEntry["level"] != "ERROR" {
		t.Errorf("expected level to be 'ERROR', got: %v", logEntry["level"])
	}

	if logEntry["msg"] != "dispatch failed" {
		t.Errorf("expected msg to be 'dispatch failed', got: %v", logEntry["msg"])
	}
}

func TestDispatchMiddleware_Handler_Success(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{
		Level:  "info",
		Format: FormatJSON,
		Output: &buf,
	}

	logger := New(cfg)
	middleware := NewDispatchMiddleware(logger)

	req := &DispatchRequest{
		Kind:          "task",
		Name:          "ping",
		TriggerSource: "cli",
	}

	handlerCalled := false
	err := middleware.Handler(req, func() error {
		handlerCalled = true
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got: %v", err)
	}

	if !handlerCalled {
		t.Errorf("expected handler to be called")
	}

	output := buf.String()

	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 2 {
		t.Errorf("expected 2 log lines, got %d: %s", len(lines), output)
	}

	var requestLog map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &requestLog); err != nil {
		t.Fatalf("expected valid JSON for request log: %v", err)
	}

	if requestLog["event"] != "dispatch_request" {
		t.Errorf("expected first log to be dispatch_request, got: %v", requestLog["event"])
	}

	var resultLog map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &resultLog); err != nil {
		t.Fatalf("expected valid JSON for result log: %v", err)
	}

	if resultLog["event"] != "dispatch_result" {
		t.Errorf("expected second log to be dispatch_result, got: %v", resultLog["event"])
	}

	if resultLog["success"] != true {
		t.Errorf("expected success to be true, got: %v", resultLog["success"])
	}

	if _, ok := resultLog[DurationKey]; !ok {
		t.Errorf("expected %s to be present", DurationKey)
	}
}

func TestDispatchMiddleware_Handler_Error(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{
		Level:  "info",
		Format: FormatJSON,
		Output: &buf,
	}

	logger := New(cfg)
	middleware := NewDispatchMiddleware(logger)

	req := &DispatchRequest{
		Kind: "task",
		Name: "send_email",
	}

	testErr := errors.New("handler error")
	err := middleware.Handler(req, func() error {
		return testErr
	})

	if err != testErr {
		t.Errorf("expected error to be returned, got: %v", err)
	}

	output := buf.String()

	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 2 {
		t.Errorf("expected 2 log lines, got %d", len(lines))
	}

	var resultLog map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &resultLog); err != nil {
		t.Fatalf("expected valid JSON for result log: %v", err)
	}

	if resultLog["success"] != false {
		t.Errorf("expected success to be false, got: %v", resultLog["success"])
	}

	if resultLog["error"] != "handler error" {
		t.Errorf("expected error to be 'handler error', got: %v", resultLog["error"])
	}

	if resultLog["level"] != "ERROR" {
		t.Errorf("expected level to be ERROR, got: %v", resultLog["level"])
	}
}

func TestDispatchMiddleware_HandlerWithMetadata_Success(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{
		Level:  "info",
		Format: FormatJSON,
		Output: &buf,
	}

	logger := New(cfg)
	middleware := NewDispatchMiddleware(logger)

	req := &DispatchRequest{
		Kind: "task",
		Name: "send_email",
	}

	expectedMetadata := map[string]interface{}{
		"message_id": "msg-1",
		"status":     "sent",
	}

	metadata, err := middleware.HandlerWithMetadata(req, func() (map[string]interface{}, error) {
		return expectedMetadata, nil
	})

	if err != nil {
		t.Errorf("expected no error, got: %v", err)
	}

	if metadata["status"] != "sent" {
		t.Errorf("expected status to be 'sent', got: %v", metadata["status"])
	}

	output := buf.String()

	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 2 {
		t.Errorf("expected 2 log lines, got %d", len(lines))
	}

	var resultLog map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &resultLog); err != nil {
		t.Fatalf("expected valid JSON for result log: %v", err)
	}

	if resultLog["message_id"] != "msg-1" {
		t.Errorf("expected message_id in log to be 'msg-1', got: %v", resultLog["message_id"])
	}

	if resultLog["status"] != "sent" {
		t.Errorf("expected status in log to be 'sent', got: %v", resultLog["status"])
	}
}

func TestDispatchMiddleware_HandlerWithMetadata_Error(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{
		Level:  "info",
		Format: FormatJSON,
		Output: &buf,
	}

	logger := New(cfg)
	middleware := NewDispatchMiddleware(logger)

	req := &DispatchRequest{
		Kind: "task",
		Name: "send_email",
	}

	partialMetadata := map[string]interface{}{
		"attempt": 1,
	}

	testErr := errors.New("handler failed")

	metadata, err := middleware.HandlerWithMetadata(req, func() (map[string]interface{}, error) {
		return partialMetadata, testErr
	})

	if err != testErr {
		t.Errorf("expected error to be returned, got: %v", err)
	}

	if metadata["attempt"] != 1 {
		t.Errorf("expected attempt to be 1, got: %v", metadata["attempt"])
	}

	output := buf.String()

	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 2 {
		t.Errorf("expected 2 log lines, got %d", len(lines))
	}

	var resultLog map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &resultLog); err != nil {
		t.Fatalf("expected valid JSON for result log: %v", err)
	}

	if resultLog["success"] != false {
		t.Errorf("expected success to be false, got: %v", resultLog["success"])
	}

	if resultLog["error"] != "handler failed" {
		t.Errorf("expected error to be 'handler failed', got: %v", resultLog["error"])
	}

	if resultLog["attempt"] != float64(1) {
		t.Errorf("expected attempt in log to be 1, got: %v", resultLog["attempt"])
	}
}

func TestNewDispatchMiddleware(t *testing.T) {
	logger := New(nil)
	middleware := NewDispatchMiddleware(logger)

	if middleware == nil {
		t.Errorf("expected non-nil middleware")
	}

	if middleware.logger != logger {
		t.Errorf("expected middleware to use provided logger")
	}
}
