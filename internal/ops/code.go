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

// Package ops is the Ops Layer facade of spec.md §4.14: a typed
// Request/Result surface over the dispatcher and ledger that external
// callers (API, CLI, MCP) consume instead of touching repositories
// directly.
package ops

import (
	"errors"

	"github.com/ryansmccoy/spine-core-sub007/internal/errs"
	"github.com/ryansmccoy/spine-core-sub007/internal/ledger"
	"github.com/ryansmccoy/spine-core-sub007/pkg/spine"
)

// Code enumerates the error codes the ops layer produces (spec.md §4.14).
type Code string

const (
	CodeNotFound        Code = "NOT_FOUND"
	CodeValidationFailed Code = "VALIDATION_FAILED"
	CodeConflict        Code = "CONFLICT"
	CodeNotCancellable  Code = "NOT_CANCELLABLE"
	CodeAlreadyComplete Code = "ALREADY_COMPLETE"
	CodeLocked          Code = "LOCKED"
	CodeQuotaExceeded   Code = "QUOTA_EXCEEDED"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeTransient       Code = "TRANSIENT"
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeInternal        Code = "INTERNAL"
)

// Error is the typed error every ops operation reports through
// Result.Error.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// classify maps an error surfaced by the dispatcher or ledger onto an ops
// Code, falling through errs.Category for anything not specifically
// recognized. Callers that can distinguish a more precise code (e.g.
// NOT_CANCELLABLE vs a generic CONFLICT) should do so before falling back
// to classify.
func classify(err error) Code {
	if err == nil {
		return ""
	}
	if errors.Is(err, ledger.ErrNotFound) {
		return CodeNotFound
	}
	var transitionErr *spine.ErrInvalidTransition
	if errors.As(err, &transitionErr) {
		return CodeConflict
	}

	switch errs.CategoryOf(err) {
	case errs.CategoryValidation, errs.CategoryConfig:
		return CodeValidationFailed
	case errs.CategoryNetwork, errs.CategoryDatabase:
		return CodeTransient
	default:
		return CodeInternal
	}
}
