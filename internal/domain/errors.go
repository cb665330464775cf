package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrRateLimited      = errors.New("rate limited")
	ErrExpired          = errors.New("code expired")
	ErrAttemptsExceeded = errors.New("maximum verification attempts exceeded")
	ErrInvalidCode      = errors.New("invalid code")
	ErrDeliveryFailed   = errors.New("delivery failed")
	ErrNoProvider       = errors.New("no provider registered")
)

// RateLimitError reports that an active code already exists for a scope.
type RateLimitError struct {
	WaitMinutes int
}

func (e *RateLimitError) Error() string {
	if e == nil {
		return ErrRateLimited.Error()
	}
	return fmt.Sprintf("%s: an OTP was already sent, please wait %d minutes before requesting a new one", ErrRateLimited, e.WaitMinutes)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
