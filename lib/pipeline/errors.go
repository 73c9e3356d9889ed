// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure for callers that map failures to
// responses: client-side problems (a broken or hostile upload) versus
// toolchain failures versus the service's own output checks.
type Kind string

const (
	// KindNotFound: an input the pipeline requires is absent (the
	// uploaded package, or the descriptor inside the decoded tree).
	KindNotFound Kind = "not_found"

	// KindToolError: an external toolchain invocation failed or
	// timed out.
	KindToolError Kind = "tool_error"

	// KindParseError: the descriptor exists but could not be parsed
	// or safely rewritten.
	KindParseError Kind = "parse_error"

	// KindInjectionFailed: the bootstrap hook could not be installed
	// into the unit tree.
	KindInjectionFailed Kind = "injection_failed"

	// KindNoUnitsFound: the decoded package has no unit roots at all.
	KindNoUnitsFound Kind = "no_units_found"

	// KindOutputValidationFailed: the rebuilt package is missing the
	// entries the output bundle requires.
	KindOutputValidationFailed Kind = "output_validation_failed"
)

// Error is the classified pipeline failure. Stage names the operation
// that failed ("decode", "patch", ...); Err carries the cause chain.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline %s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the failure kind of err, or "" when err carries no
// pipeline classification.
func KindOf(err error) Kind {
	var pipelineError *Error
	if errors.As(err, &pipelineError) {
		return pipelineError.Kind
	}
	return ""
}

// failure wraps err with its classification.
func failure(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}
