package handler

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
)

type SyncTriggerer interface {
	Refresh(ctx context.Context, tenantID domain.TenantID, externalSystemID string) ([]domain.SyncJobHandle, error)
}

type SyncHandler struct {
	trigger SyncTriggerer
}

func NewSyncHandler(trigger SyncTriggerer) (*SyncHandler, error) {
	if trigger == nil {
		return nil, fmt.Errorf("sync trigger is required")
	}
	return &SyncHandler{trigger: trigger}, nil
}

func RegisterSyncRoutes(router fiber.Router, trigger SyncTriggerer) error {
	h, err := NewSyncHandler(trigger)
	if err != nil {
		return err
	}

	router.Post("/v1/tenants/:tenantId/external-systems/:externalSystemId/refresh", h.Refresh)
	return nil
}

type syncJobResponse struct {
	JobID string `json:"jobId"`
	Kind  string `json:"kind"`
	Queue string `json:"queue"`
}

type refreshResponse struct {
	Jobs []syncJobResponse `json:"jobs"`
}

// Refresh returns once the jobs are enqueued; it never waits for them to run.
func (h *SyncHandler) Refresh(c *fiber.Ctx) error {
	tenantID, ctx, err := tenantFromPath(c)
	if err != nil {
		return err
	}

	handles, err := h.trigger.Refresh(ctx, tenantID, c.Params("externalSystemId"))
	if err != nil {
		return err
	}

	resp := refreshResponse{Jobs: make([]syncJobResponse, 0, len(handles))}
	for _, handle := range handles {
		resp.Jobs = append(resp.Jobs, syncJobResponse{
			JobID: handle.JobID,
			Kind:  handle.Kind.String(),
			Queue: handle.Queue,
		})
	}
	return c.Status(fiber.StatusAccepted).JSON(resp)
}
