package httptp

import "errors"

var (
	// ErrClosed is returned by calls on a closed transport.
	ErrClosed = errors.New("httptp: closed")
	// ErrResponseTooLarge is returned when a body exceeds MaxResponseBytes.
	ErrResponseTooLarge = errors.New("httptp: response too large")
)
