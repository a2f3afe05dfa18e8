package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/xeonx/timeago"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/sla"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// slaStatusMet is reported for tickets resolved or closed before breaching.
const slaStatusMet = "met"

func actorFrom(c *fiber.Ctx) (domain.Actor, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return domain.Actor{}, apperrors.NewUnauthorized("authentication required")
	}
	return principal.Actor(), nil
}

func userRef(ref *domain.UserRef, id *string) *dto.UserRefResponse {
	if ref != nil {
		return &dto.UserRefResponse{ID: ref.ID, Name: ref.Name, Email: ref.Email, Role: ref.Role}
	}
	if id != nil && *id != "" {
		return &dto.UserRefResponse{ID: *id}
	}
	return nil
}

func ticketResponse(t *domain.Ticket, policy *sla.Policy, now time.Time) dto.TicketResponse {
	timeline := make([]dto.TimelineEntryResponse, 0, len(t.Timeline))
	for _, entry := range t.Timeline {
		timeline = append(timeline, dto.TimelineEntryResponse{
			Action:      entry.Action,
			PerformedBy: entry.PerformedBy,
			Details:     entry.Details,
			Timestamp:   entry.Timestamp,
		})
	}

	status := string(policy.StatusAt(t.SLADeadline, now))
	remaining := policy.Remaining(t.SLADeadline, now)
	switch {
	case t.SLABreached:
		status = string(sla.StatusBreached)
		remaining = 0
	case t.Status.IsTerminal():
		status = slaStatusMet
		remaining = 0
	}

	createdByID := t.CreatedByID
	return dto.TicketResponse{
		ID:                  t.ID,
		Title:               t.Title,
		Description:         t.Description,
		Status:              t.Status,
		Priority:            t.Priority,
		Category:            t.Category,
		CreatedBy:           userRef(t.CreatedBy, &createdByID),
		AssignedTo:          userRef(t.Assignee, t.AssignedTo),
		SLADeadline:         t.SLADeadline,
		SLABreached:         t.SLABreached,
		SLAStatus:           status,
		SLARemainingSeconds: int64(remaining / time.Second),
		SLADue:              timeago.English.FormatReference(t.SLADeadline, now),
		Version:             t.Version,
		Timeline:            timeline,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
}

func ticketResponses(tickets []domain.Ticket, policy *sla.Policy, now time.Time) []dto.TicketResponse {
	result := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		result = append(result, ticketResponse(&tickets[i], policy, now))
	}
	return result
}

func commentResponse(cm *domain.Comment) dto.CommentResponse {
	authorID := cm.AuthorID
	return dto.CommentResponse{
		ID:         cm.ID,
		TicketID:   cm.TicketID,
		Author:     userRef(cm.Author, &authorID),
		Content:    cm.Content,
		IsInternal: cm.IsInternal,
		CreatedAt:  cm.CreatedAt,
	}
}

func commentResponses(comments []domain.Comment) []dto.CommentResponse {
	result := make([]dto.CommentResponse, 0, len(comments))
	for i := range comments {
		result = append(result, commentResponse(&comments[i]))
	}
	return result
}

func paginationResponse(p service.Pagination) dto.PaginationResponse {
	return dto.PaginationResponse{
		CurrentPage:  p.CurrentPage,
		TotalPages:   p.TotalPages,
		TotalItems:   p.TotalItems,
		ItemsPerPage: p.ItemsPerPage,
	}
}

func userResponse(u *domain.User) dto.UserResponse {
	return dto.UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
}
