package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/otp-dispatch/internal/ratelimit"
)

const (
	EmailTransportSimulated = "simulated"
	EmailTransportSMTP      = "smtp"
	EmailTransportSendGrid  = "sendgrid"

	SMSTransportSimulated = "simulated"
	SMSTransportTwilio    = "twilio"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	APIPort     int    `env:"API_PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	LogFormat   string `env:"LOG_FORMAT,default=json"`

	OTPCodeLength            int    `env:"OTP_CODE_LENGTH,default=6"`
	OTPExpirationMinutes     int    `env:"OTP_EXPIRATION_MINUTES,default=15"`
	OTPMaxAttempts           int    `env:"OTP_MAX_ATTEMPTS,default=3"`
	OTPLockTTLSeconds        int    `env:"OTP_LOCK_TTL_SECONDS,default=30"`
	OTPCleanupSchedule       string `env:"OTP_CLEANUP_SCHEDULE,default=@every 5m"`
	RetryScanIntervalSeconds int    `env:"RETRY_SCAN_INTERVAL_SECONDS,default=60"`
	ProviderRateLimitPerSec  int    `env:"PROVIDER_RATE_LIMIT_PER_SEC,default=100"`
	ProviderRateLimits       string `env:"PROVIDER_RATE_LIMITS"`

	EmailTransport string `env:"EMAIL_TRANSPORT,default=simulated"`
	SMTPHost       string `env:"SMTP_HOST"`
	SMTPPort       int    `env:"SMTP_PORT,default=587"`
	SMTPUsername   string `env:"SMTP_USERNAME"`
	SMTPPassword   string `env:"SMTP_PASSWORD"`
	SMTPFrom       string `env:"SMTP_FROM"`
	SMTPFromName   string `env:"SMTP_FROM_NAME"`
	SMTPTLS        bool   `env:"SMTP_TLS,default=true"`

	SendGridAPIKey  string `env:"SENDGRID_API_KEY"`
	SendGridFrom    string `env:"SENDGRID_FROM"`
	SendGridSandbox bool   `env:"SENDGRID_SANDBOX,default=false"`

	SMSTransport     string `env:"SMS_TRANSPORT,default=simulated"`
	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFromPhone  string `env:"TWILIO_FROM_PHONE"`

	PushWebhookURL string `env:"PUSH_WEBHOOK_URL"`

	SimulatedEmailFailureRate float64 `env:"SIMULATED_EMAIL_FAILURE_RATE,default=0.1"`
	SimulatedPushFailureRate  float64 `env:"SIMULATED_PUSH_FAILURE_RATE,default=0.15"`
	SimulatedSMSFailureRate   float64 `env:"SIMULATED_SMS_FAILURE_RATE,default=0.05"`

	InboxMaxItems     int `env:"INBOX_MAX_ITEMS,default=100"`
	WorkerConcurrency int `env:"WORKER_CONCURRENCY,default=4"`
	WorkerMetricsPort int `env:"WORKER_METRICS_PORT,default=9091"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.EmailTransport = strings.ToLower(strings.TrimSpace(cfg.EmailTransport))
	cfg.SMSTransport = strings.ToLower(strings.TrimSpace(cfg.SMSTransport))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints the env tags cannot express.
func (c *Config) Validate() error {
	if c.OTPCodeLength < 4 || c.OTPCodeLength > 18 {
		return fmt.Errorf("OTP_CODE_LENGTH must be between 4 and 18, got %d", c.OTPCodeLength)
	}
	if c.OTPExpirationMinutes <= 0 {
		return fmt.Errorf("OTP_EXPIRATION_MINUTES must be positive")
	}
	if c.OTPMaxAttempts <= 0 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive")
	}
	if c.RetryScanIntervalSeconds < 0 {
		return fmt.Errorf("RETRY_SCAN_INTERVAL_SECONDS must not be negative")
	}

	if _, err := c.RateLimits(); err != nil {
		return fmt.Errorf("PROVIDER_RATE_LIMITS: %w", err)
	}

	switch c.EmailTransport {
	case EmailTransportSimulated:
	case EmailTransportSMTP:
		if c.SMTPHost == "" || c.SMTPFrom == "" {
			return fmt.Errorf("SMTP_HOST and SMTP_FROM are required when EMAIL_TRANSPORT=smtp")
		}
	case EmailTransportSendGrid:
		if c.SendGridAPIKey == "" || c.SendGridFrom == "" {
			return fmt.Errorf("SENDGRID_API_KEY and SENDGRID_FROM are required when EMAIL_TRANSPORT=sendgrid")
		}
	default:
		return fmt.Errorf("unsupported EMAIL_TRANSPORT %q", c.EmailTransport)
	}

	switch c.SMSTransport {
	case SMSTransportSimulated:
	case SMSTransportTwilio:
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFromPhone == "" {
			return fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_PHONE are required when SMS_TRANSPORT=twilio")
		}
	default:
		return fmt.Errorf("unsupported SMS_TRANSPORT %q", c.SMSTransport)
	}

	for name, rate := range map[string]float64{
		"SIMULATED_EMAIL_FAILURE_RATE": c.SimulatedEmailFailureRate,
		"SIMULATED_PUSH_FAILURE_RATE":  c.SimulatedPushFailureRate,
		"SIMULATED_SMS_FAILURE_RATE":   c.SimulatedSMSFailureRate,
	} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, rate)
		}
	}

	return nil
}

func (c *Config) OTPExpiration() time.Duration {
	return time.Duration(c.OTPExpirationMinutes) * time.Minute
}

func (c *Config) OTPLockTTL() time.Duration {
	return time.Duration(c.OTPLockTTLSeconds) * time.Second
}

func (c *Config) RetryScanInterval() time.Duration {
	return time.Duration(c.RetryScanIntervalSeconds) * time.Second
}

// RateLimits combines the default provider budget with per-type overrides.
func (c *Config) RateLimits() (ratelimit.Limits, error) {
	return ratelimit.ParseLimits(c.ProviderRateLimitPerSec, c.ProviderRateLimits)
}

func (c *Config) AsyncEnabled() bool {
	return strings.TrimSpace(c.RabbitMQURL) != ""
}
