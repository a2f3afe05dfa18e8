package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Priority    domain.TicketPriority `json:"priority"`
	Category    domain.TicketCategory `json:"category"`
}

// UpdateTicketRequest payload. Omitted fields are left unchanged; an empty
// assignedTo clears the assignee. Version is the version the client last saw.
type UpdateTicketRequest struct {
	Title       *string                `json:"title"`
	Description *string                `json:"description"`
	Status      *domain.TicketStatus   `json:"status"`
	Priority    *domain.TicketPriority `json:"priority"`
	Category    *domain.TicketCategory `json:"category"`
	AssignedTo  *string                `json:"assignedTo"`
	Version     *int                   `json:"version"`
}

// UserRefResponse is the embedded view of a user.
type UserRefResponse struct {
	ID    string      `json:"id"`
	Name  string      `json:"name,omitempty"`
	Email string      `json:"email,omitempty"`
	Role  domain.Role `json:"role,omitempty"`
}

// TimelineEntryResponse is one audit entry.
type TimelineEntryResponse struct {
	Action      domain.TimelineAction `json:"action"`
	PerformedBy *string               `json:"performedBy"`
	Details     string                `json:"details"`
	Timestamp   time.Time             `json:"timestamp"`
}

// TicketResponse provides full ticket info including SLA state.
type TicketResponse struct {
	ID                  string                  `json:"id"`
	Title               string                  `json:"title"`
	Description         string                  `json:"description"`
	Status              domain.TicketStatus     `json:"status"`
	Priority            domain.TicketPriority   `json:"priority"`
	Category            domain.TicketCategory   `json:"category"`
	CreatedBy           *UserRefResponse        `json:"createdBy"`
	AssignedTo          *UserRefResponse        `json:"assignedTo"`
	SLADeadline         time.Time               `json:"slaDeadline"`
	SLABreached         bool                    `json:"slaBreached"`
	SLAStatus           string                  `json:"slaStatus"`
	SLARemainingSeconds int64                   `json:"slaRemainingSeconds"`
	SLADue              string                  `json:"slaDue"`
	Version             int                     `json:"version"`
	Timeline            []TimelineEntryResponse `json:"timeline"`
	CreatedAt           time.Time               `json:"createdAt"`
	UpdatedAt           time.Time               `json:"updatedAt"`
}

// PaginationResponse describes a page of results.
type PaginationResponse struct {
	CurrentPage  int `json:"currentPage"`
	TotalPages   int `json:"totalPages"`
	TotalItems   int `json:"totalItems"`
	ItemsPerPage int `json:"itemsPerPage"`
}
