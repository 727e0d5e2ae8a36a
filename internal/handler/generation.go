package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/musicverse/api/internal/client"
	"github.com/musicverse/api/internal/credit"
	"github.com/musicverse/api/internal/middleware"
	"github.com/musicverse/api/internal/model"
	"github.com/musicverse/api/internal/service"
	"github.com/musicverse/api/internal/store"
	"github.com/musicverse/api/pkg/response"
)

type GenerationHandler struct {
	generation *service.GenerationService
	retry      *service.RetryService
	ledger     credit.Ledger
	creditCost int64
	validator  *validator.Validate
}

func NewGenerationHandler(gen *service.GenerationService, retry *service.RetryService, ledger credit.Ledger, creditCost int64, v *validator.Validate) *GenerationHandler {
	return &GenerationHandler{
		generation: gen,
		retry:      retry,
		ledger:     ledger,
		creditCost: creditCost,
		validator:  v,
	}
}

// Start handles POST /api/generate
func (h *GenerationHandler) Start(c *fiber.Ctx) error {
	var req model.GenerateStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	userID := middleware.GetUserID(c)

	if err := h.ledger.Debit(c.Context(), userID, h.creditCost); err != nil {
		if errors.Is(err, credit.ErrInsufficient) {
			return response.InsufficientCredits(c, "Not enough credits for a generation")
		}
		return response.ServiceError(c, "Credit check failed")
	}

	result, err := h.generation.Start(c.Context(), userID, &req)
	if err != nil {
		// The provider was never reached or rejected the job; the user
		// keeps their credits.
		if refundErr := h.ledger.Refund(c.Context(), userID, h.creditCost); refundErr != nil {
			// Balance drift here is caught by the support tooling.
			_ = refundErr
		}
		return writeSubmissionError(c, err)
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/generate/status/:requestId
func (h *GenerationHandler) Status(c *fiber.Ctx) error {
	requestID := c.Params("requestId")
	if requestID == "" {
		return response.ValidationError(c, "Request ID is required", nil)
	}

	result, err := h.generation.GetStatus(c.Context(), middleware.GetUserID(c), requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Request not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Result handles GET /api/generate/result/:requestId
func (h *GenerationHandler) Result(c *fiber.Ctx) error {
	requestID := c.Params("requestId")
	if requestID == "" {
		return response.ValidationError(c, "Request ID is required", nil)
	}

	result, err := h.generation.GetResult(c.Context(), middleware.GetUserID(c), requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Request not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Retry handles POST /api/generate/retry
func (h *GenerationHandler) Retry(c *fiber.Ctx) error {
	var req model.RetryRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	results := h.retry.Retry(c.Context(), middleware.GetUserID(c), &req)
	return response.OK(c, fiber.Map{"results": results})
}

// writeSubmissionError maps a submission failure to its HTTP shape.
func writeSubmissionError(c *fiber.Ctx, err error) error {
	var ve *service.ValidationError
	if errors.As(err, &ve) {
		return response.ValidationError(c, ve.Message, nil)
	}

	if pe, ok := client.AsProviderError(err); ok {
		msg := client.UserMessage(pe.Category)
		switch pe.Category {
		case client.CategoryValidation:
			return response.ValidationError(c, msg, nil)
		case client.CategoryPolicyViolation:
			return response.ModerationBlocked(c, msg)
		case client.CategoryRateLimited:
			return response.RateLimited(c)
		case client.CategoryInsufficientCredits:
			return response.InsufficientCredits(c, msg)
		default:
			return response.ProviderError(c, msg)
		}
	}

	return response.ServiceError(c, "Generation failed")
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
