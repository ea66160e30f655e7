// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errors defines the error taxonomy shared by all docrag components.
//
// Every error that crosses a component boundary carries a Kind so that the
// transport layer can map it to an HTTP status and the pipeline can decide
// whether a failure is terminal or degradable.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error.
type Kind string

const (
	// KindValidation indicates the input failed guardrail or schema checks.
	KindValidation Kind = "validation"

	// KindUnauthorized indicates the caller identity is missing.
	KindUnauthorized Kind = "unauthorized"

	// KindForbidden indicates the caller lacks the required role.
	KindForbidden Kind = "forbidden"

	// KindNotFound indicates a missing resource.
	KindNotFound Kind = "notFound"

	// KindRateLimited indicates the per-user throttle was exceeded.
	KindRateLimited Kind = "rateLimited"

	// KindAdapterUnavailable indicates an external dependency is unreachable.
	KindAdapterUnavailable Kind = "adapterUnavailable"

	// KindAdapterTimeout indicates an external call exceeded its budget.
	KindAdapterTimeout Kind = "adapterTimeout"

	// KindAdapterError indicates an external dependency returned a malformed
	// or error response.
	KindAdapterError Kind = "adapterError"

	// KindPipelineDegraded indicates a partial failure where an answer was
	// still produced, with warnings attached.
	KindPipelineDegraded Kind = "pipelineDegraded"

	// KindCancelled indicates caller cancellation.
	KindCancelled Kind = "cancelled"

	// KindInternal indicates an uncaught error or invariant violation.
	KindInternal Kind = "internal"
)

// Error is a typed error with a Kind from the taxonomy.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a kind and message.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from an error chain.
// Unclassified errors report KindInternal; context cancellation reports
// KindCancelled.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrCancelled) {
		return KindCancelled
	}
	return KindInternal
}

// ErrCancelled is a sentinel matched by KindOf for caller cancellation.
var ErrCancelled = errors.New("cancelled")

// HTTPStatus maps a Kind to an HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindAdapterUnavailable:
		return http.StatusBadGateway
	case KindAdapterTimeout:
		return http.StatusGatewayTimeout
	case KindAdapterError:
		return http.StatusBadGateway
	case KindPipelineDegraded:
		return http.StatusOK
	case KindCancelled:
		// Client closed request; nginx convention.
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
