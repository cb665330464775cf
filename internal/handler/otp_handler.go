package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/otp-dispatch/internal/domain"
	"github.com/kursadbilgin/otp-dispatch/internal/service"
)

type OTPService interface {
	Issue(ctx context.Context, scope domain.CodeScope, expiration time.Duration) (*service.IssueReceipt, error)
	Verify(ctx context.Context, scope domain.CodeScope, code string) (string, error)
	Resend(ctx context.Context, scope domain.CodeScope) (*service.IssueReceipt, error)
	GetStats(ctx context.Context) (domain.OTPStats, error)
}

type OTPHandler struct {
	service OTPService
}

func NewOTPHandler(service OTPService) (*OTPHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("otp service is required")
	}
	return &OTPHandler{service: service}, nil
}

func RegisterOTPRoutes(router fiber.Router, service OTPService) error {
	h, err := NewOTPHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1/otp")
	v1.Post("/generate", h.Generate)
	v1.Post("/verify", h.Verify)
	v1.Post("/resend", h.Resend)
	v1.Get("/stats", h.Stats)

	return nil
}

type otpScopeRequest struct {
	Identifier string `json:"identifier" validate:"required,max=255"`
	Type       string `json:"type" validate:"required"`
	Purpose    string `json:"purpose" validate:"required"`
}

type generateOTPRequest struct {
	otpScopeRequest
	ExpirationMinutes int `json:"expirationMinutes" validate:"omitempty,min=1,max=1440"`
}

type verifyOTPRequest struct {
	otpScopeRequest
	Code string `json:"code" validate:"required,max=18"`
}

type otpReceiptResponse struct {
	Identifier string    `json:"identifier"`
	Type       string    `json:"type"`
	Purpose    string    `json:"purpose"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type otpStatsResponse struct {
	Total   int64 `json:"total"`
	Used    int64 `json:"used"`
	Expired int64 `json:"expired"`
	Active  int64 `json:"active"`
}

func (h *OTPHandler) Generate(c *fiber.Ctx) error {
	var req generateOTPRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	scope, err := req.scope()
	if err != nil {
		return err
	}

	receipt, err := h.service.Issue(c.UserContext(), scope, time.Duration(req.ExpirationMinutes)*time.Minute)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "OTP sent successfully",
		"data":    toReceiptResponse(receipt),
	})
}

func (h *OTPHandler) Verify(c *fiber.Ctx) error {
	var req verifyOTPRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	scope, err := req.scope()
	if err != nil {
		return err
	}

	otpID, err := h.service.Verify(c.UserContext(), scope, strings.TrimSpace(req.Code))
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "OTP verified successfully",
		"data":    fiber.Map{"otpId": otpID},
	})
}

func (h *OTPHandler) Resend(c *fiber.Ctx) error {
	var req otpScopeRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	scope, err := req.scope()
	if err != nil {
		return err
	}

	receipt, err := h.service.Resend(c.UserContext(), scope)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "OTP resent successfully",
		"data":    toReceiptResponse(receipt),
	})
}

func (h *OTPHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.service.GetStats(c.UserContext())
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(otpStatsResponse{
		Total:   stats.Total,
		Used:    stats.Used,
		Expired: stats.Expired,
		Active:  stats.Active,
	})
}

func (r otpScopeRequest) scope() (domain.CodeScope, error) {
	channel, err := domain.ParseOTPChannelFromString(r.Type)
	if err != nil {
		return domain.CodeScope{}, err
	}
	purpose, err := domain.ParsePurposeFromString(r.Purpose)
	if err != nil {
		return domain.CodeScope{}, err
	}

	scope := domain.CodeScope{
		Identifier: r.Identifier,
		Channel:    channel,
		Purpose:    purpose,
	}.Normalized()
	if err := scope.Validate(); err != nil {
		return domain.CodeScope{}, err
	}
	return scope, nil
}

func toReceiptResponse(r *service.IssueReceipt) otpReceiptResponse {
	if r == nil {
		return otpReceiptResponse{}
	}
	return otpReceiptResponse{
		Identifier: r.Identifier,
		Type:       r.Channel.String(),
		Purpose:    r.Purpose.String(),
		ExpiresAt:  r.ExpiresAt,
	}
}
