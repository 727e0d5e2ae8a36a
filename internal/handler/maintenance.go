package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/musicverse/api/internal/service"
	"github.com/musicverse/api/pkg/response"
)

// MaintenanceHandler exposes manual triggers for the periodic jobs.
// Both endpoints sit behind the internal shared-secret middleware.
type MaintenanceHandler struct {
	sweep *service.SweepService
	gc    *service.GCService
}

func NewMaintenanceHandler(sweep *service.SweepService, gc *service.GCService) *MaintenanceHandler {
	return &MaintenanceHandler{sweep: sweep, gc: gc}
}

// Sweep handles POST /internal/sweep
func (h *MaintenanceHandler) Sweep(c *fiber.Ctx) error {
	report, err := h.sweep.Sweep(c.Context())
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, report)
}

// GC handles POST /internal/gc
func (h *MaintenanceHandler) GC(c *fiber.Ctx) error {
	report, err := h.gc.Collect(c.Context())
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, report)
}
