package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// maxBodyExcerpt bounds how much of an upstream response body ends up in
// stored error messages.
const maxBodyExcerpt = 256

// ProviderError is a failed delivery call. Transient marks failures the
// retry sweep should pick up again.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	name := e.Provider
	if name == "" {
		name = "provider"
	}
	b.WriteString(name)
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a later retry sweep may succeed.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, context.Canceled):
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// requestFailed wraps an error raised before any response arrived.
func requestFailed(provider string, err error) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Message:   "request failed",
		Transient: !errors.Is(err, context.Canceled),
		Cause:     err,
	}
}

// rejected wraps input the provider refused locally; never retried.
func rejected(provider, message string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Message: message, Cause: err}
}

func statusError(provider string, statusCode int, body string) *ProviderError {
	msg := "unexpected response"
	if excerpt := bodyExcerpt(body); excerpt != "" {
		msg = excerpt
	}
	return &ProviderError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    msg,
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isSuccessStatus(statusCode int) bool {
	return statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
}

// 408 and 429 are throttling; any 5xx is an upstream fault.
func isTransientHTTPStatus(statusCode int) bool {
	switch {
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusTooManyRequests:
		return true
	default:
		return statusCode >= http.StatusInternalServerError && statusCode < 600
	}
}

func bodyExcerpt(body string) string {
	body = strings.Join(strings.Fields(body), " ")
	if len(body) <= maxBodyExcerpt {
		return body
	}
	return body[:maxBodyExcerpt] + "..."
}
