package service

import (
	"github.com/spec-kit/helpdesk-service/internal/domain"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// Action names an operation subject to authorization.
type Action string

const (
	ActionTicketCreate          Action = "ticket:create"
	ActionTicketList            Action = "ticket:list"
	ActionTicketRead            Action = "ticket:read"
	ActionTicketUpdate          Action = "ticket:update"
	ActionTicketListBreached    Action = "ticket:list-breached"
	ActionCommentCreate         Action = "comment:create"
	ActionCommentCreateInternal Action = "comment:create-internal"
	ActionCommentReadInternal   Action = "comment:read-internal"
)

// Authorize decides whether actor may perform action. ticket is the target
// for ownership-scoped actions and may be nil otherwise. Agents and admins may
// do everything; plain users may create tickets and read or comment on the
// tickets they own. Listing is scoped to owned tickets by the caller.
func Authorize(actor domain.Actor, action Action, ticket *domain.Ticket) error {
	if actor.ID == "" || !actor.Role.Valid() {
		return apperrors.NewUnauthorized("authentication required")
	}
	if actor.IsStaff() {
		return nil
	}

	switch action {
	case ActionTicketCreate, ActionTicketList:
		return nil
	case ActionTicketRead, ActionCommentCreate:
		if ticket != nil && ticket.CreatedByID == actor.ID {
			return nil
		}
		return apperrors.NewForbidden("access denied")
	case ActionTicketUpdate:
		return apperrors.NewForbidden("users cannot update tickets")
	case ActionTicketListBreached:
		return apperrors.NewForbidden("only agents and admins can view breached tickets")
	case ActionCommentCreateInternal:
		return apperrors.NewForbidden("only agents and admins can add internal comments")
	default:
		return apperrors.NewForbidden("access denied")
	}
}

func canReadInternal(actor domain.Actor) bool {
	return Authorize(actor, ActionCommentReadInternal, nil) == nil
}
