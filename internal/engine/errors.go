package engine

import "errors"

var (
	// ErrUnauthorized is returned when an account acts on an order it
	// did not create.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrReentrantCall is returned when a mutating operation arrives
	// while the engine is inside an external token call.
	ErrReentrantCall = errors.New("reentrant call")

	// ErrInvalidAmount is returned for zero amounts.
	ErrInvalidAmount = errors.New("invalid amount")
)
