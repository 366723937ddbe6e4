// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plan

import "errors"

// Sentinel errors for the plan package.
var (
	// ErrEmptyPlan indicates the plan text was empty or whitespace-only.
	ErrEmptyPlan = errors.New("plan text is empty")

	// ErrNoSteps indicates parsing yielded zero usable steps even after
	// the unstructured fallback.
	ErrNoSteps = errors.New("plan yielded no steps")
)

// IsParseError reports whether err came from plan parsing, as opposed to
// an upstream generation failure wrapped by a caller.
func IsParseError(err error) bool {
	return errors.Is(err, ErrEmptyPlan) || errors.Is(err, ErrNoSteps)
}
