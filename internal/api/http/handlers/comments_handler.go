package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// CommentsHandler exposes the ticket conversation thread.
type CommentsHandler struct {
	tickets *service.TicketService
}

// NewCommentsHandler constructs handler.
func NewCommentsHandler(tickets *service.TicketService) *CommentsHandler {
	return &CommentsHandler{tickets: tickets}
}

// Create handles POST /tickets/:id/comments.
func (h *CommentsHandler) Create(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.CreateCommentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	comment, err := h.tickets.AddComment(c.UserContext(), actor, c.Params("id"), req.Content, req.IsInternal)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"comment": commentResponse(comment)})
}

// List handles GET /tickets/:id/comments.
func (h *CommentsHandler) List(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	page, err := intQuery(c, "page")
	if err != nil {
		return err
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		return err
	}
	comments, pagination, err := h.tickets.ListComments(c.UserContext(), actor, c.Params("id"), page, limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"comments":   commentResponses(comments),
		"pagination": paginationResponse(pagination),
	})
}
