// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

package spatial

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed coordinate or input value. It is
// returned synchronously and never retried automatically.
type ValidationError struct {
	Field   string
	Value   float64
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got %f)", e.Field, e.Message, e.Value)
}

// InvalidArgumentError reports an argument rejected before any work is
// done, such as an empty candidate set or a non-positive threshold.
type InvalidArgumentError struct {
	Argument string
	Message  string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Argument, e.Message)
}

// IsValidationError reports whether err is a coordinate validation failure.
func IsValidationError(err error) bool {
	var ve *ValidationError

	return errors.As(err, &ve)
}

// IsInvalidArgument reports whether err is an argument rejection.
func IsInvalidArgument(err error) bool {
	var ie *InvalidArgumentError

	return errors.As(err, &ie)
}
