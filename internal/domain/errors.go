package domain

import "errors"

var (
	// ErrInputShape reports grids that disagree in shape where alignment is assumed.
	ErrInputShape = errors.New("input shape mismatch")

	// ErrMissingData reports an absent file, variable or an empty spatial window.
	ErrMissingData = errors.New("missing data")

	// ErrNumericDegeneracy reports a regression or normalization that has no
	// defined solution (constant regressor, zero-sum pattern).
	ErrNumericDegeneracy = errors.New("numeric degeneracy")
)
