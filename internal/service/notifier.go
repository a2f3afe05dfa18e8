package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
)

// Notifier is told about ticket changes after they are persisted. Errors are
// logged by callers and never fail the originating operation.
type Notifier interface {
	NotifyTicketCreated(ctx context.Context, actor domain.Actor, ticket *domain.Ticket) error
	NotifyAssigned(ctx context.Context, actor domain.Actor, ticket *domain.Ticket, previous *string) error
	NotifyStatusChanged(ctx context.Context, actor domain.Actor, ticket *domain.Ticket, previous domain.TicketStatus) error
	NotifyCommentAdded(ctx context.Context, actor domain.Actor, ticket *domain.Ticket, comment *domain.Comment) error
	NotifySLABreach(ctx context.Context, ticket *domain.Ticket) error
}

// EventNotifier publishes notifications as events on a dispatcher.
type EventNotifier struct {
	dispatcher events.Dispatcher
	now        func() time.Time
}

// NewEventNotifier builds a notifier. now defaults to time.Now.
func NewEventNotifier(dispatcher events.Dispatcher, now func() time.Time) *EventNotifier {
	if now == nil {
		now = time.Now
	}
	return &EventNotifier{dispatcher: dispatcher, now: now}
}

func (n *EventNotifier) NotifyTicketCreated(ctx context.Context, actor domain.Actor, ticket *domain.Ticket) error {
	return n.publish(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    events.UserActor(actor),
		Payload: events.TicketCreatedPayload{
			Title:       ticket.Title,
			Priority:    ticket.Priority,
			Category:    ticket.Category,
			CreatedBy:   ticket.CreatedByID,
			SLADeadline: ticket.SLADeadline,
		},
	})
}

func (n *EventNotifier) NotifyAssigned(ctx context.Context, actor domain.Actor, ticket *domain.Ticket, previous *string) error {
	return n.publish(ctx, events.Event{
		Type:     events.EventTicketAssigned,
		TicketID: ticket.ID,
		Actor:    events.UserActor(actor),
		Payload: events.TicketAssignedPayload{
			PreviousAssignee: previous,
			Assignee:         ticket.AssignedTo,
			Version:          ticket.Version,
		},
	})
}

func (n *EventNotifier) NotifyStatusChanged(ctx context.Context, actor domain.Actor, ticket *domain.Ticket, previous domain.TicketStatus) error {
	return n.publish(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: ticket.ID,
		Actor:    events.UserActor(actor),
		Payload: events.TicketStatusChangedPayload{
			OldStatus: previous,
			NewStatus: ticket.Status,
			Version:   ticket.Version,
		},
	})
}

func (n *EventNotifier) NotifyCommentAdded(ctx context.Context, actor domain.Actor, ticket *domain.Ticket, comment *domain.Comment) error {
	return n.publish(ctx, events.Event{
		Type:     events.EventTicketCommentAdded,
		TicketID: ticket.ID,
		Actor:    events.UserActor(actor),
		Payload: events.TicketCommentAddedPayload{
			CommentID:   comment.ID,
			AuthorID:    comment.AuthorID,
			IsInternal:  comment.IsInternal,
			BodyPreview: stringPreview(comment.Content, 120),
		},
	})
}

func (n *EventNotifier) NotifySLABreach(ctx context.Context, ticket *domain.Ticket) error {
	return n.publish(ctx, events.Event{
		Type:     events.EventTicketSLABreached,
		TicketID: ticket.ID,
		Actor:    events.SystemActor(),
		Payload: events.TicketSLABreachedPayload{
			Title:       ticket.Title,
			Priority:    ticket.Priority,
			Status:      ticket.Status,
			AssignedTo:  ticket.AssignedTo,
			SLADeadline: ticket.SLADeadline,
		},
	})
}

func (n *EventNotifier) publish(ctx context.Context, event events.Event) error {
	if n == nil || n.dispatcher == nil {
		return nil
	}
	event.ID = uuid.NewString()
	event.Timestamp = n.now()
	return n.dispatcher.Publish(ctx, event)
}

func stringPreview(body string, limit int) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= limit {
		return body
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
