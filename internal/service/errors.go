package service

import (
	"errors"
	"fmt"
)

// Domain errors. Handlers map them to HTTP status codes with errors.Is.
var (
	// ErrUnauthorized means a capability or ownership check failed.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrCooldownActive means a rate limit has not elapsed yet.
	ErrCooldownActive = errors.New("cooldown active")

	// ErrInsufficientResource means energy or balance is below the threshold.
	ErrInsufficientResource = errors.New("insufficient resource")

	// ErrInsufficientFunds is the ledger flavour of ErrInsufficientResource.
	ErrInsufficientFunds = fmt.Errorf("%w: insufficient funds", ErrInsufficientResource)

	// ErrDecode means stored bytes do not match the requested typed accessor.
	ErrDecode = errors.New("decode error")

	// ErrNotFound means a snapshot, item or request is absent where required.
	ErrNotFound = errors.New("not found")

	// ErrUnknownRequest marks a fulfillment for an unrecognized request id.
	// Asynchronous callers never see it.
	ErrUnknownRequest = errors.New("unknown request")

	// ErrUnknownAttribute means the name is not in the collection schema.
	ErrUnknownAttribute = errors.New("unknown attribute")

	// ErrReentrantCall means an action re-entered an item it already holds.
	ErrReentrantCall = errors.New("reentrant call")

	// ErrInvalidArgument means the request itself is malformed.
	ErrInvalidArgument = errors.New("invalid argument")
)
