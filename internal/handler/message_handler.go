package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/kursadbilgin/sms-dispatch/internal/observability"
	"github.com/kursadbilgin/sms-dispatch/internal/tenantctx"
	"github.com/kursadbilgin/sms-dispatch/internal/transport"
	"github.com/kursadbilgin/sms-dispatch/internal/validation"
)

type MessageSender interface {
	Send(ctx context.Context, tenantID domain.TenantID, draft domain.OutboundDraft) (*domain.OutboundMessage, error)
}

// ContextSource resolves the tenant context of the serving host.
type ContextSource interface {
	ContextFor(ctx context.Context, hostKey string) (*tenantctx.TenantContext, error)
}

type MessageHandler struct {
	sender   MessageSender
	contexts ContextSource
}

func NewMessageHandler(sender MessageSender, contexts ContextSource) (*MessageHandler, error) {
	if sender == nil {
		return nil, fmt.Errorf("message sender is required")
	}
	if contexts == nil {
		return nil, fmt.Errorf("context source is required")
	}
	return &MessageHandler{sender: sender, contexts: contexts}, nil
}

func RegisterMessageRoutes(router fiber.Router, sender MessageSender, contexts ContextSource) error {
	h, err := NewMessageHandler(sender, contexts)
	if err != nil {
		return err
	}

	tenants := router.Group("/v1/tenants/:tenantId")
	tenants.Post("/messages", h.SendMessage)
	tenants.Get("/messages/:id", h.GetMessage)

	return nil
}

type sendMessageRequest struct {
	ToNumber   string `json:"toNumber" validate:"required,phone"`
	FromNumber string `json:"fromNumber" validate:"required,max=20"`
	Body       string `json:"body" validate:"required,max=1600"`
}

type messageResponse struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenantId"`
	ToNumber          string     `json:"toNumber"`
	FromNumber        string     `json:"fromNumber"`
	Body              string     `json:"body"`
	Status            string     `json:"status"`
	ProviderMessageID *string    `json:"providerMessageId,omitempty"`
	ErrorCodes        []string   `json:"errorCodes"`
	LastEventType     *string    `json:"lastEventType,omitempty"`
	LastEventAt       *time.Time `json:"lastEventAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

type sendFailureResponse struct {
	Error   string          `json:"error"`
	Code    string          `json:"code,omitempty"`
	Message messageResponse `json:"message"`
}

func (h *MessageHandler) SendMessage(c *fiber.Ctx) error {
	tenantID, ctx, err := tenantFromPath(c)
	if err != nil {
		return err
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	req.ToNumber = strings.TrimSpace(req.ToNumber)
	req.FromNumber = strings.TrimSpace(req.FromNumber)
	if err := validation.Struct(req); err != nil {
		return err
	}

	msg, err := h.sender.Send(ctx, tenantID, domain.OutboundDraft{
		ToNumber:   req.ToNumber,
		FromNumber: req.FromNumber,
		Body:       req.Body,
	})
	if err != nil {
		if msg == nil {
			return err
		}
		// The message exists and is Failed; return it with the failure.
		status, code := transport.Classify(err)
		return c.Status(status).JSON(sendFailureResponse{
			Error:   err.Error(),
			Code:    code,
			Message: toMessageResponse(msg),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(toMessageResponse(msg))
}

func (h *MessageHandler) GetMessage(c *fiber.Ctx) error {
	tenantID, ctx, err := tenantFromPath(c)
	if err != nil {
		return err
	}

	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return fmt.Errorf("%w: message id is required", domain.ErrValidation)
	}

	tc, err := h.contexts.ContextFor(ctx, tenantctx.HostKeyFromContext(ctx))
	if err != nil {
		return err
	}

	msg, err := tc.Messages.GetForTenant(ctx, tenantID, id)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toMessageResponse(msg))
}

// tenantFromPath validates :tenantId and tags the request context with it.
func tenantFromPath(c *fiber.Ctx) (domain.TenantID, context.Context, error) {
	tenantID, err := domain.ParseTenantID(c.Params("tenantId"))
	if err != nil {
		return "", nil, err
	}
	ctx := observability.WithTenantID(c.UserContext(), tenantID.String())
	c.SetUserContext(ctx)
	return tenantID, ctx, nil
}

func toMessageResponse(m *domain.OutboundMessage) messageResponse {
	if m == nil {
		return messageResponse{}
	}

	resp := messageResponse{
		ID:                m.ID,
		TenantID:          m.TenantID.String(),
		ToNumber:          m.ToNumber,
		FromNumber:        m.FromNumber,
		Body:              m.Body,
		Status:            m.Status.String(),
		ProviderMessageID: m.ProviderMessageID,
		ErrorCodes:        m.ErrorCodes,
		LastEventAt:       m.LastEventAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	if resp.ErrorCodes == nil {
		resp.ErrorCodes = []string{}
	}
	if m.LastEventType != nil {
		eventType := m.LastEventType.String()
		resp.LastEventType = &eventType
	}
	return resp
}
