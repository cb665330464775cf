package domain

import (
	"fmt"
	"strings"
	"time"
)

// OTPChannel is the medium an identifier belongs to.
type OTPChannel string

const (
	OTPChannelEmail OTPChannel = "EMAIL"
	OTPChannelPhone OTPChannel = "PHONE"
)

func (c OTPChannel) String() string { return string(c) }

func (c OTPChannel) IsValid() bool {
	switch c {
	case OTPChannelEmail, OTPChannelPhone:
		return true
	}
	return false
}

func ParseOTPChannelFromString(s string) (OTPChannel, error) {
	ch := OTPChannel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid otp channel %q", ErrValidation, s)
	}
	return ch, nil
}

// NotificationType maps an OTP channel to the notification type that delivers it.
func (c OTPChannel) NotificationType() NotificationType {
	if c == OTPChannelPhone {
		return NotificationTypeSMS
	}
	return NotificationTypeEmail
}

// Purpose is the business reason a code was issued.
type Purpose string

const (
	PurposeEmailVerification Purpose = "EMAIL_VERIFICATION"
	PurposePhoneVerification Purpose = "PHONE_VERIFICATION"
	PurposePasswordReset     Purpose = "PASSWORD_RESET"
	PurposeAdminInvitation   Purpose = "ADMIN_INVITATION"
)

func (p Purpose) String() string { return string(p) }

func (p Purpose) IsValid() bool {
	switch p {
	case PurposeEmailVerification, PurposePhoneVerification, PurposePasswordReset, PurposeAdminInvitation:
		return true
	}
	return false
}

func ParsePurposeFromString(s string) (Purpose, error) {
	p := Purpose(strings.ToUpper(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: invalid purpose %q", ErrValidation, s)
	}
	return p, nil
}

const DefaultMaxAttempts = 3

// CodeScope identifies the (identifier, channel, purpose) triple a code is issued for.
type CodeScope struct {
	Identifier string
	Channel    OTPChannel
	Purpose    Purpose
}

func (s CodeScope) Validate() error {
	if strings.TrimSpace(s.Identifier) == "" {
		return fmt.Errorf("%w: identifier is required", ErrValidation)
	}
	if !s.Channel.IsValid() {
		return fmt.Errorf("%w: invalid otp channel %q", ErrValidation, s.Channel)
	}
	if !s.Purpose.IsValid() {
		return fmt.Errorf("%w: invalid purpose %q", ErrValidation, s.Purpose)
	}
	return nil
}

// Normalized trims the identifier and lowercases email addresses, so the
// store lookup and the lock key agree on what one scope is.
func (s CodeScope) Normalized() CodeScope {
	s.Identifier = strings.TrimSpace(s.Identifier)
	if s.Channel == OTPChannelEmail {
		s.Identifier = strings.ToLower(s.Identifier)
	}
	return s
}

// Key is the stable lock/cache key for the scope.
func (s CodeScope) Key() string {
	n := s.Normalized()
	return fmt.Sprintf("otp:%s:%s:%s",
		strings.ToLower(n.Channel.String()),
		strings.ToLower(n.Purpose.String()),
		n.Identifier,
	)
}

// OneTimeCode is an issued numeric code and its verification state.
type OneTimeCode struct {
	ID          string
	Identifier  string
	Channel     OTPChannel
	Purpose     Purpose
	Code        string
	ExpiresAt   time.Time
	IsUsed      bool
	UsedAt      *time.Time
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (c *OneTimeCode) Scope() CodeScope {
	return CodeScope{Identifier: c.Identifier, Channel: c.Channel, Purpose: c.Purpose}
}

// IsExpiredAt reports whether the code can no longer be verified at now.
func (c *OneTimeCode) IsExpiredAt(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// IsActiveAt reports whether the code still blocks issuance of a new one.
func (c *OneTimeCode) IsActiveAt(now time.Time) bool {
	return !c.IsUsed && c.ExpiresAt.After(now)
}

func (c *OneTimeCode) AttemptsExhausted() bool {
	return c.Attempts >= c.MaxAttempts
}

// OTPStats summarizes the code store.
type OTPStats struct {
	Total   int64
	Used    int64
	Expired int64
	Active  int64
}
