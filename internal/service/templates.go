package service

import (
	"fmt"
	"time"

	"github.com/kursadbilgin/otp-dispatch/internal/domain"
)

type otpTemplate struct {
	subject string
	intro   string
}

var otpTemplates = map[domain.Purpose]otpTemplate{
	domain.PurposeEmailVerification: {
		subject: "Email Verification Code",
		intro:   "Please verify your email address.",
	},
	domain.PurposePhoneVerification: {
		subject: "Phone Verification Code",
		intro:   "Please verify your phone number.",
	},
	domain.PurposePasswordReset: {
		subject: "Password Reset Code",
		intro:   "Please use this code to reset your password.",
	},
	domain.PurposeAdminInvitation: {
		subject: "Admin Invitation Code",
		intro:   "You have been invited to join as an admin.",
	},
}

var fallbackTemplate = otpTemplate{
	subject: "Verification Code",
	intro:   "Please use the code below.",
}

// renderOTPMessage builds the subject and body for a code. The body states
// the real expiration of the issued code.
func renderOTPMessage(purpose domain.Purpose, code string, expiration time.Duration) (string, string) {
	tmpl, ok := otpTemplates[purpose]
	if !ok {
		tmpl = fallbackTemplate
	}

	body := fmt.Sprintf("%s\n\nYour verification code is: %s\n\nThis code will expire in %s.",
		tmpl.intro, code, formatExpiration(expiration))
	return tmpl.subject, body
}

func formatExpiration(d time.Duration) string {
	minutes := int(d.Round(time.Minute) / time.Minute)
	switch {
	case minutes <= 1:
		return "1 minute"
	case minutes%60 == 0 && minutes >= 120:
		return fmt.Sprintf("%d hours", minutes/60)
	case minutes == 60:
		return "1 hour"
	default:
		return fmt.Sprintf("%d minutes", minutes)
	}
}
