package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/otp-dispatch/internal/domain"
	"github.com/kursadbilgin/otp-dispatch/internal/observability"
	"github.com/kursadbilgin/otp-dispatch/internal/queue"
)

const (
	defaultListLimit  = 50
	maxListLimit      = 100
	defaultInboxLimit = 20
)

type DispatchService interface {
	Send(ctx context.Context, req domain.SendRequest) (*domain.Notification, error)
	SendBatch(ctx context.Context, requests []domain.SendRequest) ([]domain.Notification, error)
	GetNotification(ctx context.Context, id string) (*domain.Notification, []domain.NotificationAttempt, error)
	GetUserNotifications(ctx context.Context, userID string, limit, offset int) ([]domain.Notification, error)
	GetStats(ctx context.Context, userID *string) (domain.NotificationStats, error)
	RetryFailed(ctx context.Context) (int, error)
	Inbox(ctx context.Context, recipient string, limit int) ([]domain.InboxMessage, error)
}

type NotificationHandler struct {
	service   DispatchService
	publisher queue.Publisher
}

func NewNotificationHandler(service DispatchService, publisher queue.Publisher) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	return &NotificationHandler{service: service, publisher: publisher}, nil
}

// RegisterNotificationRoutes mounts the notification API. publisher may be
// nil, in which case async dispatch answers 503.
func RegisterNotificationRoutes(router fiber.Router, service DispatchService, publisher queue.Publisher) error {
	h, err := NewNotificationHandler(service, publisher)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.SendNotification)
	v1.Post("/notifications/batch", h.SendBatch)
	v1.Post("/notifications/async", h.EnqueueNotification)
	v1.Post("/notifications/retry-failed", h.RetryFailed)
	v1.Get("/notifications/stats", h.GetStats)
	v1.Get("/notifications", h.ListUserNotifications)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Get("/inbox/:recipient", h.GetInbox)

	return nil
}

type sendNotificationRequest struct {
	Type      string          `json:"type" validate:"required"`
	Recipient string          `json:"recipient" validate:"required,max=320"`
	Subject   string          `json:"subject" validate:"required,max=255"`
	Message   string          `json:"message" validate:"required,max=10000"`
	Metadata  domain.Metadata `json:"metadata"`
	UserID    *string         `json:"userId" validate:"omitempty,max=64"`
}

type sendBatchRequest struct {
	Notifications []sendNotificationRequest `json:"notifications" validate:"required,min=1,max=100,dive"`
}

type notificationResponse struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	Recipient    string          `json:"recipient"`
	Subject      string          `json:"subject"`
	Message      string          `json:"message"`
	Metadata     domain.Metadata `json:"metadata,omitempty"`
	ErrorMessage *string         `json:"errorMessage,omitempty"`
	SentAt       *time.Time      `json:"sentAt,omitempty"`
	UserID       *string         `json:"userId,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

type attemptResponse struct {
	AttemptNumber int       `json:"attemptNumber"`
	Succeeded     bool      `json:"succeeded"`
	Error         *string   `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type notificationDetailResponse struct {
	notificationResponse
	Attempts []attemptResponse `json:"attempts"`
}

type statsResponse struct {
	Total   int64 `json:"total"`
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Pending int64 `json:"pending"`
}

func (h *NotificationHandler) SendNotification(c *fiber.Ctx) error {
	var req sendNotificationRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	sendReq, err := req.toDomain()
	if err != nil {
		return err
	}

	notification, err := h.service.Send(c.UserContext(), sendReq)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) SendBatch(c *fiber.Ctx) error {
	var req sendBatchRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	requests := make([]domain.SendRequest, 0, len(req.Notifications))
	for _, item := range req.Notifications {
		sendReq, err := item.toDomain()
		if err != nil {
			return err
		}
		requests = append(requests, sendReq)
	}

	created, err := h.service.SendBatch(c.UserContext(), requests)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"requested":     len(requests),
		"created":       len(created),
		"notifications": toNotificationResponses(created),
	})
}

func (h *NotificationHandler) EnqueueNotification(c *fiber.Ctx) error {
	if h.publisher == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "async dispatch is not configured")
	}

	var req sendNotificationRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	sendReq, err := req.toDomain()
	if err != nil {
		return err
	}

	draft := domain.Notification{
		Type:      sendReq.Type,
		Recipient: sendReq.Recipient,
		Subject:   sendReq.Subject,
		Message:   sendReq.Message,
	}
	if err := draft.Validate(); err != nil {
		return err
	}

	correlationID, _ := observability.CorrelationIDFromContext(c.UserContext())
	msg := queue.NewSendRequestMessage(uuid.NewString(), correlationID, sendReq)
	if err := h.publisher.Publish(c.UserContext(), msg); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"requestId": msg.RequestID,
		"status":    "QUEUED",
	})
}

func (h *NotificationHandler) RetryFailed(c *fiber.Ctx) error {
	retried, err := h.service.RetryFailed(c.UserContext())
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"retryCount": retried,
	})
}

func (h *NotificationHandler) GetStats(c *fiber.Ctx) error {
	var userID *string
	if raw := strings.TrimSpace(c.Query("userId")); raw != "" {
		userID = &raw
	}

	stats, err := h.service.GetStats(c.UserContext(), userID)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(statsResponse{
		Total:   stats.Total,
		Sent:    stats.Sent,
		Failed:  stats.Failed,
		Pending: stats.Pending,
	})
}

func (h *NotificationHandler) ListUserNotifications(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		return fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}

	limit := c.QueryInt("limit", defaultListLimit)
	offset := c.QueryInt("offset", 0)
	if limit < 1 || limit > maxListLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, maxListLimit)
	}
	if offset < 0 {
		return fmt.Errorf("%w: offset must be >= 0", domain.ErrValidation)
	}

	notifications, err := h.service.GetUserNotifications(c.UserContext(), userID, limit, offset)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": toNotificationResponses(notifications),
		"meta": fiber.Map{"limit": limit, "offset": offset},
	})
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return fmt.Errorf("%w: id is required", domain.ErrValidation)
	}

	notification, history, err := h.service.GetNotification(c.UserContext(), id)
	if err != nil {
		return err
	}

	attempts := make([]attemptResponse, len(history))
	for i, a := range history {
		attempts[i] = attemptResponse{
			AttemptNumber: a.AttemptNumber,
			Succeeded:     a.Succeeded,
			Error:         a.Error,
			CreatedAt:     a.CreatedAt,
		}
	}

	return c.Status(fiber.StatusOK).JSON(notificationDetailResponse{
		notificationResponse: toNotificationResponse(notification),
		Attempts:             attempts,
	})
}

func (h *NotificationHandler) GetInbox(c *fiber.Ctx) error {
	recipient := strings.TrimSpace(c.Params("recipient"))
	limit := c.QueryInt("limit", defaultInboxLimit)
	if limit < 1 || limit > maxListLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, maxListLimit)
	}

	messages, err := h.service.Inbox(c.UserContext(), recipient, limit)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"recipient": recipient,
		"data":      messages,
	})
}

func (r sendNotificationRequest) toDomain() (domain.SendRequest, error) {
	notificationType, err := domain.ParseNotificationTypeFromString(r.Type)
	if err != nil {
		return domain.SendRequest{}, err
	}

	req := domain.SendRequest{
		Type:      notificationType,
		Recipient: strings.TrimSpace(r.Recipient),
		Subject:   strings.TrimSpace(r.Subject),
		Message:   r.Message,
		Metadata:  r.Metadata,
	}
	if r.UserID != nil {
		if id := strings.TrimSpace(*r.UserID); id != "" {
			req.UserID = &id
		}
	}
	return req, nil
}

func toNotificationResponses(notifications []domain.Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for i := range notifications {
		responses = append(responses, toNotificationResponse(&notifications[i]))
	}
	return responses
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:           n.ID,
		Type:         n.Type.String(),
		Status:       n.Status.String(),
		Recipient:    n.Recipient,
		Subject:      n.Subject,
		Message:      n.Message,
		Metadata:     n.Metadata,
		ErrorMessage: n.ErrorMessage,
		SentAt:       n.SentAt,
		UserID:       n.UserID,
		CreatedAt:    n.CreatedAt,
		UpdatedAt:    n.UpdatedAt,
	}
}
