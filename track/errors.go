// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

package track

import (
	"errors"
	"fmt"
)

// PermissionError means location-access authorization was missing when a
// session start was attempted. It is terminal for that attempt only.
type PermissionError struct {
	Message string
}

func (e *PermissionError) Error() string {
	return e.Message
}

// ProviderError means provider registration or fix acquisition failed.
// It is terminal for the current tracking session; the owner decides
// whether to retry, the tracker never retries on its own.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("provider %s failed", e.Op)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsPermissionDenied reports whether err is a missing-authorization failure.
func IsPermissionDenied(err error) bool {
	var pe *PermissionError

	return errors.As(err, &pe)
}

// IsProviderError reports whether err is a terminal provider failure.
func IsProviderError(err error) bool {
	var pe *ProviderError

	return errors.As(err, &pe)
}
