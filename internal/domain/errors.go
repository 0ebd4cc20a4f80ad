package domain

import "errors"

var (
	// ErrInvalidConfiguration is returned when a simulator, strategy or
	// request is constructed with a degenerate value.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInsufficientHistory means too few candles were available to
	// compute an indicator.
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrNotFound is returned by stores for unknown records.
	ErrNotFound = errors.New("not found")
)
