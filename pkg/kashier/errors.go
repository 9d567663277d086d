package kashier

import "errors"

// Errors returned when a checkout URL cannot be signed.
var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidOrderID       = errors.New("invalid merchant order id")
	ErrMissingConfiguration = errors.New("missing configuration")
)
