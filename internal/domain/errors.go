package domain

import "errors"

var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrNotFound               = errors.New("payment intent not found")
	ErrSourceUnavailable      = errors.New("data source unavailable")
	ErrAllocationExhausted    = errors.New("tail range exhausted")
	ErrInconsistentTransition = errors.New("inconsistent status transition")
)
