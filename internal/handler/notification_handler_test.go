package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/otp-dispatch/internal/domain"
	"github.com/kursadbilgin/otp-dispatch/internal/queue"
	"github.com/kursadbilgin/otp-dispatch/internal/transport"
	"go.uber.org/zap"
)

type stubDispatchService struct {
	sendFn                 func(ctx context.Context, req domain.SendRequest) (*domain.Notification, error)
	sendBatchFn            func(ctx context.Context, requests []domain.SendRequest) ([]domain.Notification, error)
	getNotificationFn      func(ctx context.Context, id string) (*domain.Notification, []domain.NotificationAttempt, error)
	getUserNotificationsFn func(ctx context.Context, userID string, limit, offset int) ([]domain.Notification, error)
	getStatsFn             func(ctx context.Context, userID *string) (domain.NotificationStats, error)
	retryFailedFn          func(ctx context.Context) (int, error)
	inboxFn                func(ctx context.Context, recipient string, limit int) ([]domain.InboxMessage, error)
}

func (s *stubDispatchService) GetNotification(ctx context.Context, id string) (*domain.Notification, []domain.NotificationAttempt, error) {
	return s.getNotificationFn(ctx, id)
}

func (s *stubDispatchService) Send(ctx context.Context, req domain.SendRequest) (*domain.Notification, error) {
	return s.sendFn(ctx, req)
}

func (s *stubDispatchService) SendBatch(ctx context.Context, requests []domain.SendRequest) ([]domain.Notification, error) {
	return s.sendBatchFn(ctx, requests)
}

func (s *stubDispatchService) GetUserNotifications(ctx context.Context, userID string, limit, offset int) ([]domain.Notification, error) {
	return s.getUserNotificationsFn(ctx, userID, limit, offset)
}

func (s *stubDispatchService) GetStats(ctx context.Context, userID *string) (domain.NotificationStats, error) {
	return s.getStatsFn(ctx, userID)
}

func (s *stubDispatchService) RetryFailed(ctx context.Context) (int, error) {
	return s.retryFailedFn(ctx)
}

func (s *stubDispatchService) Inbox(ctx context.Context, recipient string, limit int) ([]domain.InboxMessage, error) {
	return s.inboxFn(ctx, recipient, limit)
}

type stubPublisher struct {
	publishFn func(ctx context.Context, msg queue.SendRequestMessage) error
}

func (p *stubPublisher) Publish(ctx context.Context, msg queue.SendRequestMessage) error {
	return p.publishFn(ctx, msg)
}

func (p *stubPublisher) Close() error { return nil }

func newNotificationTestApp(t *testing.T, svc DispatchService, publisher queue.Publisher) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	app.Use(CorrelationID())

	if err := RegisterNotificationRoutes(app, svc, publisher); err != nil {
		t.Fatalf("RegisterNotificationRoutes() error = %v", err)
	}
	return app
}

func TestNotificationIntegration_Send(t *testing.T) {
	t.Parallel()

	svc := &stubDispatchService{
		sendFn: func(ctx context.Context, req domain.SendRequest) (*domain.Notification, error) {
			if req.Type != domain.NotificationTypePush {
				t.Fatalf("type = %s, want PUSH", req.Type)
			}
			if req.UserID == nil || *req.UserID != "user-7" {
				t.Fatalf("userID = %v", req.UserID)
			}
			if req.Metadata["orderId"] != "o-1" {
				t.Fatalf("metadata = %v", req.Metadata)
			}
			now := time.Now().UTC()
			return &domain.Notification{
				ID:        "n-created",
				Type:      req.Type,
				Status:    domain.StatusSent,
				Recipient: req.Recipient,
				Subject:   req.Subject,
				Message:   req.Message,
				UserID:    req.UserID,
				SentAt:    &now,
			}, nil
		},
	}
	app := newNotificationTestApp(t, svc, nil)

	body := `{"type":"push","recipient":"device-1","subject":"Shipped","message":"On the way","metadata":{"orderId":"o-1"},"userId":"user-7"}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/notifications", body)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, string(respBody))
	}

	var created notificationResponse
	if err := json.Unmarshal(respBody, &created); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if created.ID != "n-created" || created.Status != "SENT" || created.SentAt == nil {
		t.Fatalf("response = %+v", created)
	}
}

func TestNotificationIntegration_SendErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		sendErr    error
		wantStatus int
	}{
		{name: "missing subject", body: `{"type":"EMAIL","recipient":"a@b.c","message":"m"}`, wantStatus: fiber.StatusBadRequest},
		{name: "unknown type", body: `{"type":"FAX","recipient":"a@b.c","subject":"s","message":"m"}`, wantStatus: fiber.StatusBadRequest},
		{
			name:       "message too long",
			body:       fmt.Sprintf(`{"type":"EMAIL","recipient":"a@b.c","subject":"s","message":"%s"}`, strings.Repeat("x", domain.MaxMessageLength+1)),
			wantStatus: fiber.StatusBadRequest,
		},
		{name: "no provider", body: `{"type":"IN_APP","recipient":"u1","subject":"s","message":"m"}`, sendErr: domain.ErrNoProvider, wantStatus: fiber.StatusUnprocessableEntity},
		{name: "delivery failed", body: `{"type":"EMAIL","recipient":"a@b.c","subject":"s","message":"m"}`, sendErr: fmt.Errorf("%w: relay down", domain.ErrDeliveryFailed), wantStatus: fiber.StatusBadGateway},
		{name: "store failure", body: `{"type":"EMAIL","recipient":"a@b.c","subject":"s","message":"m"}`, sendErr: errors.New("db down"), wantStatus: fiber.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc := &stubDispatchService{
				sendFn: func(ctx context.Context, req domain.SendRequest) (*domain.Notification, error) {
					if tc.sendErr != nil {
						return nil, tc.sendErr
					}
					return &domain.Notification{ID: "n1"}, nil
				},
			}
			app := newNotificationTestApp(t, svc, nil)

			resp, body := performRequest(t, app, http.MethodPost, "/v1/notifications", tc.body)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tc.wantStatus, string(body))
			}
		})
	}
}

func TestNotificationIntegration_SendBatch(t *testing.T) {
	t.Parallel()

	svc := &stubDispatchService{
		sendBatchFn: func(ctx context.Context, requests []domain.SendRequest) ([]domain.Notification, error) {
			if len(requests) != 2 {
				t.Fatalf("batch size = %d, want 2", len(requests))
			}
			return []domain.Notification{{ID: "n1", Type: requests[0].Type, Status: domain.StatusSent}}, nil
		},
	}
	app := newNotificationTestApp(t, svc, nil)

	body := `{"notifications":[
		{"type":"EMAIL","recipient":"a@b.c","subject":"s","message":"m"},
		{"type":"SMS","recipient":"+905551112233","subject":"s","message":"m"}
	]}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/notifications/batch", body)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, string(respBody))
	}

	var payload struct {
		Requested int `json:"requested"`
		Created   int `json:"created"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if payload.Requested != 2 || payload.Created != 1 {
		t.Fatalf("payload = %+v", payload)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/notifications/batch", `{"notifications":[]}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("empty batch status = %d, want 400", resp.StatusCode)
	}
}

func TestNotificationIntegration_Async(t *testing.T) {
	t.Parallel()

	t.Run("publishes typed request", func(t *testing.T) {
		t.Parallel()

		var gotMsg queue.SendRequestMessage
		publisher := &stubPublisher{
			publishFn: func(ctx context.Context, msg queue.SendRequestMessage) error {
				gotMsg = msg
				return nil
			},
		}
		app := newNotificationTestApp(t, &stubDispatchService{}, publisher)

		req := `{"type":"SMS","recipient":"+905551112233","subject":"s","message":"m"}`
		httpReq := httptest.NewRequest(http.MethodPost, "/v1/notifications/async", strings.NewReader(req))
		httpReq.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		httpReq.Header.Set(fiber.HeaderXRequestID, "corr-9")
		resp, err := app.Test(httpReq)
		if err != nil {
			t.Fatalf("app.Test() error = %v", err)
		}
		if resp.StatusCode != fiber.StatusAccepted {
			t.Fatalf("status = %d, want 202", resp.StatusCode)
		}
		if gotMsg.Type != domain.NotificationTypeSMS {
			t.Fatalf("message type = %q, want SMS", gotMsg.Type)
		}
		if gotMsg.RequestID == "" || gotMsg.CorrelationID != "corr-9" {
			t.Fatalf("message = %+v", gotMsg)
		}
	})

	t.Run("unavailable without publisher", func(t *testing.T) {
		t.Parallel()

		app := newNotificationTestApp(t, &stubDispatchService{}, nil)
		resp, _ := performRequest(t, app, http.MethodPost, "/v1/notifications/async",
			`{"type":"SMS","recipient":"+905551112233","subject":"s","message":"m"}`)
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", resp.StatusCode)
		}
	})
}

func TestNotificationIntegration_ListAndStats(t *testing.T) {
	t.Parallel()

	svc := &stubDispatchService{
		getUserNotificationsFn: func(ctx context.Context, userID string, limit, offset int) ([]domain.Notification, error) {
			if userID != "user-1" || limit != 10 || offset != 20 {
				t.Fatalf("GetUserNotifications(%q, %d, %d)", userID, limit, offset)
			}
			return []domain.Notification{{ID: "n2"}, {ID: "n1"}}, nil
		},
		getStatsFn: func(ctx context.Context, userID *string) (domain.NotificationStats, error) {
			if userID == nil || *userID != "user-1" {
				t.Fatalf("stats userID = %v", userID)
			}
			return domain.NotificationStats{Total: 5, Sent: 3, Failed: 1, Pending: 1}, nil
		},
		retryFailedFn: func(ctx context.Context) (int, error) {
			return 2, nil
		},
	}
	app := newNotificationTestApp(t, svc, nil)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/notifications?userId=user-1&limit=10&offset=20", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var list struct {
		Data []notificationResponse `json:"data"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(list.Data) != 2 || list.Data[0].ID != "n2" {
		t.Fatalf("data = %+v", list.Data)
	}

	for _, path := range []string{
		"/v1/notifications",
		"/v1/notifications?userId=user-1&limit=0",
		"/v1/notifications?userId=user-1&limit=101",
		"/v1/notifications?userId=user-1&offset=-1",
	} {
		resp, _ := performRequest(t, app, http.MethodGet, path, "")
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("GET %s status = %d, want 400", path, resp.StatusCode)
		}
	}

	resp, body = performRequest(t, app, http.MethodGet, "/v1/notifications/stats?userId=user-1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	var stats statsResponse
	_ = json.Unmarshal(body, &stats)
	if stats.Total != 5 || stats.Sent != 3 {
		t.Fatalf("stats = %+v", stats)
	}

	resp, body = performRequest(t, app, http.MethodPost, "/v1/notifications/retry-failed", "")
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(string(body), `"retryCount":2`) {
		t.Fatalf("retry-failed = %d %s", resp.StatusCode, string(body))
	}
}

func TestNotificationIntegration_Inbox(t *testing.T) {
	t.Parallel()

	svc := &stubDispatchService{
		inboxFn: func(ctx context.Context, recipient string, limit int) ([]domain.InboxMessage, error) {
			if recipient == "nobody" {
				return nil, domain.ErrNoProvider
			}
			if limit != 20 {
				t.Fatalf("limit = %d, want default 20", limit)
			}
			return []domain.InboxMessage{{Subject: "Hi", Message: "there"}}, nil
		},
	}
	app := newNotificationTestApp(t, svc, nil)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/inbox/user-1", "")
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(string(body), `"subject":"Hi"`) {
		t.Fatalf("inbox = %d %s", resp.StatusCode, string(body))
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/inbox/nobody", "")
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestNotificationIntegration_GetNotification(t *testing.T) {
	t.Parallel()

	failure := "sendgrid (status 503): service unavailable"
	createdAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := &stubDispatchService{
		getNotificationFn: func(ctx context.Context, id string) (*domain.Notification, []domain.NotificationAttempt, error) {
			if id != "n-1" {
				return nil, nil, domain.ErrNotFound
			}
			return &domain.Notification{
					ID:        "n-1",
					Type:      domain.NotificationTypeSMS,
					Status:    domain.StatusSent,
					Recipient: "+905551112233",
					CreatedAt: createdAt,
					UpdatedAt: createdAt,
				}, []domain.NotificationAttempt{
					{NotificationID: "n-1", AttemptNumber: 1, Error: &failure, CreatedAt: createdAt},
					{NotificationID: "n-1", AttemptNumber: 2, Succeeded: true, CreatedAt: createdAt.Add(time.Minute)},
				}, nil
		},
	}
	app := newNotificationTestApp(t, svc, nil)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/notifications/n-1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var payload notificationDetailResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if payload.ID != "n-1" || payload.Status != "SENT" || len(payload.Attempts) != 2 {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.Attempts[0].Error == nil || *payload.Attempts[0].Error != failure || !payload.Attempts[1].Succeeded {
		t.Fatalf("attempts = %+v", payload.Attempts)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/notifications/unknown", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
