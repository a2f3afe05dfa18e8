package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/sla"
)

func TestTicketResponseSLAFields(t *testing.T) {
	policy := sla.NewPolicy(map[domain.TicketPriority]time.Duration{domain.TicketPriorityMedium: 24 * time.Hour})
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	assignee := "agent-1"
	base := domain.Ticket{
		ID:          "t-1",
		Status:      domain.TicketStatusOpen,
		CreatedByID: "user-1",
		AssignedTo:  &assignee,
		SLADeadline: now.Add(3 * time.Hour),
	}

	open := ticketResponse(&base, policy, now)
	assert.Equal(t, string(sla.StatusWarning), open.SLAStatus)
	assert.Equal(t, int64(3*time.Hour/time.Second), open.SLARemainingSeconds)
	assert.Equal(t, "user-1", open.CreatedBy.ID)
	assert.Equal(t, "agent-1", open.AssignedTo.ID)
	assert.NotEmpty(t, open.SLADue)
	assert.NotNil(t, open.Timeline)

	breached := base
	breached.SLABreached = true
	assert.Equal(t, string(sla.StatusBreached), ticketResponse(&breached, policy, now).SLAStatus)

	resolved := base
	resolved.Status = domain.TicketStatusResolved
	resp := ticketResponse(&resolved, policy, now)
	assert.Equal(t, slaStatusMet, resp.SLAStatus)
	assert.Zero(t, resp.SLARemainingSeconds)

	unassigned := base
	unassigned.AssignedTo = nil
	assert.Nil(t, ticketResponse(&unassigned, policy, now).AssignedTo)
}
