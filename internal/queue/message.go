package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/otp-dispatch/internal/domain"
)

// SendRequestMessage is the broker payload for an asynchronous Dispatcher.Send.
type SendRequestMessage struct {
	RequestID     string                  `json:"requestId"`
	CorrelationID string                  `json:"correlationId,omitempty"`
	Type          domain.NotificationType `json:"type"`
	Recipient     string                  `json:"recipient"`
	Subject       string                  `json:"subject"`
	Message       string                  `json:"message"`
	Metadata      domain.Metadata         `json:"metadata,omitempty"`
	UserID        *string                 `json:"userId,omitempty"`
}

func NewSendRequestMessage(requestID, correlationID string, req domain.SendRequest) SendRequestMessage {
	return SendRequestMessage{
		RequestID:     requestID,
		CorrelationID: correlationID,
		Type:          req.Type,
		Recipient:     req.Recipient,
		Subject:       req.Subject,
		Message:       req.Message,
		Metadata:      req.Metadata,
		UserID:        req.UserID,
	}
}

func (m SendRequestMessage) Validate() error {
	if strings.TrimSpace(m.RequestID) == "" {
		return fmt.Errorf("requestId is required")
	}
	if !m.Type.IsValid() {
		return fmt.Errorf("invalid notification type %q", m.Type)
	}
	if strings.TrimSpace(m.Recipient) == "" {
		return fmt.Errorf("recipient is required")
	}
	return nil
}

func (m SendRequestMessage) ToSendRequest() domain.SendRequest {
	return domain.SendRequest{
		Type:      m.Type,
		Recipient: m.Recipient,
		Subject:   m.Subject,
		Message:   m.Message,
		Metadata:  m.Metadata,
		UserID:    m.UserID,
	}
}
