/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errorkind classifies errors that cross the agent/server boundary
// and the pipeline's internal stage boundaries into the small set of kinds
// described in the design: ValidationError, AuthError, NotFound, Conflict,
// TransientUpstream, DataGap, SafetyAbort, ExecutionFailure.
package errorkind

import (
	"errors"
	"fmt"

	"github.com/awslabs/operatorpkg/serrors"
)

// Kind is one of the eight error kinds the system distinguishes.
type Kind string

const (
	Validation        Kind = "ValidationError"
	Auth              Kind = "AuthError"
	NotFound          Kind = "NotFound"
	Conflict          Kind = "Conflict"
	TransientUpstream Kind = "TransientUpstream"
	DataGap           Kind = "DataGap"
	SafetyAbort       Kind = "SafetyAbort"
	ExecutionFailure  Kind = "ExecutionFailure"
)

// kindError carries a Kind alongside the wrapped, structured error so callers
// can branch on it with Is/As without resorting to string matching.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// Wrap tags err with kind and attaches keysAndValues the way the rest of the
// codebase attaches structured context to errors (see serrors.Wrap).
func Wrap(kind Kind, err error, keysAndValues ...any) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: serrors.Wrap(err, keysAndValues...)}
}

// New builds a kind error from a message, formatted like fmt.Errorf.
func New(kind Kind, format string, args ...any) error {
	return &kindError{kind: kind, err: fmt.Errorf(format, args...)}
}

// Is reports whether err (or something it wraps) carries kind.
func Is(err error, kind Kind) bool {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to ExecutionFailure when err
// was not produced by this package — callers that need the kind for an
// external error should wrap it first.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return ExecutionFailure
}

// Retriable reports whether the caller should retry the operation that
// produced err. Only TransientUpstream is retriable; everything else
// (including DataGap, which the pipeline degrades around instead of
// retrying) is terminal for that call.
func Retriable(err error) bool {
	return Is(err, TransientUpstream)
}

// HTTPStatus maps a Kind to the status code the agent/server protocol (§6.1)
// returns for it. 5xx is reserved for internal faults the spec says agents
// must treat as retriable; 4xx is terminal for that call.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Validation, DataGap:
		return 400
	case Auth:
		return 401
	case NotFound:
		return 404
	case Conflict:
		return 409
	case TransientUpstream, ExecutionFailure:
		return 503
	default:
		return 500
	}
}
