package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

func TestCreateTicket(t *testing.T) {
	f := newFixture(t)

	ticket, err := f.svc.CreateTicket(context.Background(), f.user, TicketCreateInput{
		Title:       "  Printer jams  ",
		Description: "Paper jams on every second page",
		Priority:    domain.TicketPriorityHigh,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, ticket.ID)
	assert.Equal(t, "Printer jams", ticket.Title)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Equal(t, domain.TicketCategoryGeneral, ticket.Category)
	assert.Equal(t, 0, ticket.Version)
	assert.False(t, ticket.SLABreached)
	assert.Equal(t, t0.Add(8*time.Hour), ticket.SLADeadline)
	require.Len(t, ticket.Timeline, 1)
	assert.Equal(t, domain.ActionCreated, ticket.Timeline[0].Action)
	assert.Equal(t, "Ticket created with priority: high", ticket.Timeline[0].Details)
	assert.Equal(t, f.user.ID, *ticket.Timeline[0].PerformedBy)
	assert.Equal(t, "user@example.com", ticket.CreatedBy.Email)
	assert.Equal(t, []string{"created"}, f.notifier.Calls())
}

func TestCreateTicketDefaultsAndValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket, err := f.svc.CreateTicket(ctx, f.user, TicketCreateInput{Title: "Login fails", Description: "Cannot log in since update"})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityMedium, ticket.Priority)
	assert.Equal(t, t0.Add(24*time.Hour), ticket.SLADeadline)

	_, err = f.svc.CreateTicket(ctx, f.user, TicketCreateInput{Title: "Hi", Description: "short", Priority: "urgent"})
	require.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
	details := apperrors.ToDomainError(err).Details
	assert.Contains(t, details, "title")
	assert.Contains(t, details, "description")
	assert.Contains(t, details, "priority")

	_, err = f.svc.CreateTicket(ctx, f.user, TicketCreateInput{Title: strings.Repeat("x", 201), Description: "Cannot log in since update"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
}

func TestUpdateTicketRecordsTimelineAndVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createTicket(t, f.user, "Printer jams", domain.TicketPriorityHigh)

	f.clock = t0.Add(10 * time.Minute)
	updated, err := f.svc.UpdateTicket(ctx, f.agent, ticket.ID, TicketChanges{
		Status:     ptr(domain.TicketStatusInProgress),
		AssignedTo: ptr(f.agent.ID),
	}, ptr(0))
	require.NoError(t, err)

	assert.Equal(t, 1, updated.Version)
	assert.Equal(t, domain.TicketStatusInProgress, updated.Status)
	assert.Equal(t, f.agent.ID, *updated.AssignedTo)
	assert.Equal(t, "agent@example.com", updated.Assignee.Email)
	assert.Equal(t, ticket.SLADeadline, updated.SLADeadline)
	require.Len(t, updated.Timeline, 2)
	last := updated.Timeline[1]
	assert.Equal(t, domain.ActionStatusChanged, last.Action)
	assert.Equal(t, "Updated: assignedTo, status", last.Details)
	assert.Equal(t, f.clock, last.Timestamp)
	assert.Equal(t, []string{"created", "status_changed", "assigned"}, f.notifier.Calls())

	resolved, err := f.svc.UpdateTicket(ctx, f.agent, ticket.ID, TicketChanges{Status: ptr(domain.TicketStatusResolved)}, ptr(1))
	require.NoError(t, err)
	assert.Equal(t, 2, resolved.Version)
	assert.Equal(t, domain.ActionResolved, resolved.Timeline[2].Action)
}

func TestUpdateTicketActionPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		changes func(f *fixture) TicketChanges
		action  domain.TimelineAction
	}{
		{"closed", func(*fixture) TicketChanges {
			return TicketChanges{Status: ptr(domain.TicketStatusClosed), Priority: ptr(domain.TicketPriorityLow)}
		}, domain.ActionClosed},
		{"assigned", func(f *fixture) TicketChanges {
			return TicketChanges{AssignedTo: ptr(f.admin.ID)}
		}, domain.ActionAssigned},
		{"same status is a plain update", func(*fixture) TicketChanges {
			return TicketChanges{Status: ptr(domain.TicketStatusOpen)}
		}, domain.ActionUpdated},
		{"priority", func(*fixture) TicketChanges {
			return TicketChanges{Priority: ptr(domain.TicketPriorityCritical)}
		}, domain.ActionUpdated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ticket := f.createTicket(t, f.user, "Printer jams", domain.TicketPriorityHigh)
			updated, err := f.svc.UpdateTicket(context.Background(), f.agent, ticket.ID, tt.changes(f), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.action, updated.Timeline[len(updated.Timeline)-1].Action)
		})
	}
}

func TestUpdateTicketPriorityKeepsDeadline(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, f.user, "Printer jams", domain.TicketPriorityLow)

	updated, err := f.svc.UpdateTicket(context.Background(), f.admin, ticket.ID,
		TicketChanges{Priority: ptr(domain.TicketPriorityCritical)}, nil)
	require.NoError(t, err)
	assert.Equal(t, ticket.SLADeadline, updated.SLADeadline)
}

func TestUpdateTicketErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createTicket(t, f.user, "Printer jams", domain.TicketPriorityHigh)

	_, err := f.svc.UpdateTicket(ctx, f.user, ticket.ID, TicketChanges{Status: ptr(domain.TicketStatusClosed)}, ptr(0))
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))

	_, err = f.svc.UpdateTicket(ctx, f.agent, ticket.ID, TicketChanges{}, ptr(0))
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	_, err = f.svc.UpdateTicket(ctx, f.agent, ticket.ID, TicketChanges{Status: ptr(domain.TicketStatus("done"))}, ptr(0))
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	_, err = f.svc.UpdateTicket(ctx, f.agent, ticket.ID, TicketChanges{AssignedTo: ptr(f.other.ID)}, ptr(0))
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	_, err = f.svc.UpdateTicket(ctx, f.agent, ticket.ID, TicketChanges{AssignedTo: ptr("missing")}, ptr(0))
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	_, err = f.svc.UpdateTicket(ctx, f.agent, ticket.ID, TicketChanges{AssignedTo: ptr(uuid.NewString())}, ptr(0))
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	_, err = f.svc.UpdateTicket(ctx, f.agent, uuid.NewString(), TicketChanges{Status: ptr(domain.TicketStatusClosed)}, ptr(0))
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))

	_, err = f.svc.UpdateTicket(ctx, f.agent, "missing", TicketChanges{Status: ptr(domain.TicketStatusClosed)}, ptr(0))
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	_, err = f.svc.UpdateTicket(ctx, f.agent, ticket.ID, TicketChanges{Status: ptr(domain.TicketStatusClosed)}, ptr(5))
	require.True(t, apperrors.IsCode(err, apperrors.CodeConflict))
	current, ok := apperrors.CurrentVersion(err)
	assert.True(t, ok)
	assert.Equal(t, 0, current)

	stored, err := f.svc.tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Version)
	assert.Len(t, stored.Timeline, 1)
}

func TestUpdateTicketClearsAssignee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createTicket(t, f.user, "Printer jams", domain.TicketPriorityHigh)

	_, err := f.svc.UpdateTicket(ctx, f.agent, ticket.ID, TicketChanges{AssignedTo: ptr(f.agent.ID)}, ptr(0))
	require.NoError(t, err)
	cleared, err := f.svc.UpdateTicket(ctx, f.agent, ticket.ID, TicketChanges{AssignedTo: ptr("")}, ptr(1))
	require.NoError(t, err)
	assert.Nil(t, cleared.AssignedTo)
	assert.Nil(t, cleared.Assignee)
	assert.Equal(t, domain.ActionAssigned, cleared.Timeline[len(cleared.Timeline)-1].Action)
}

func TestConcurrentUpdatesSingleWinner(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, f.user, "Printer jams", domain.TicketPriorityHigh)

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts []int
	)
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			priority := domain.TicketPriorityLow
			if i%2 == 0 {
				priority = domain.TicketPriorityCritical
			}
			_, err := f.svc.UpdateTicket(context.Background(), f.agent, ticket.ID,
				TicketChanges{Priority: &priority}, ptr(0))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			current, ok := apperrors.CurrentVersion(err)
			if ok {
				conflicts = append(conflicts, current)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	require.Len(t, conflicts, writers-1)
	for _, current := range conflicts {
		assert.Equal(t, 1, current)
	}

	stored, err := f.svc.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)
	assert.Len(t, stored.Timeline, 2)
}

func TestAddComment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createTicket(t, f.user, "Printer jams", domain.TicketPriorityHigh)

	comment, err := f.svc.AddComment(ctx, f.user, ticket.ID, "  Any update?  ", false)
	require.NoError(t, err)
	assert.Equal(t, "Any update?", comment.Content)
	assert.Equal(t, "user@example.com", comment.Author.Email)

	_, err = f.svc.AddComment(ctx, f.agent, ticket.ID, "Vendor contacted", true)
	require.NoError(t, err)

	stored, err := f.svc.tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Version)
	require.Len(t, stored.Timeline, 3)
	assert.Equal(t, "Added comment", stored.Timeline[1].Details)
	assert.Equal(t, "Added internal comment", stored.Timeline[2].Details)
	assert.Equal(t, []string{"created", "comment_added", "comment_added"}, f.notifier.Calls())
}

func TestAddCommentRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createTicket(t, f.user, "Printer jams", domain.TicketPriorityHigh)

	_, err := f.svc.AddComment(ctx, f.user, ticket.ID, "secret note", true)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))

	_, err = f.svc.AddComment(ctx, f.other, ticket.ID, "me too", false)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))

	_, err = f.svc.AddComment(ctx, f.user, ticket.ID, "   ", false)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	_, err = f.svc.AddComment(ctx, f.user, ticket.ID, strings.Repeat("a", 1001), false)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	_, err = f.svc.AddComment(ctx, f.agent, uuid.NewString(), "hello", false)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))

	_, err = f.svc.AddComment(ctx, f.agent, uuid.NewString(), "   ", false)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation), "content is checked before the ticket is loaded")

	_, err = f.svc.AddComment(ctx, f.agent, "missing", "hello", false)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	comments, _, err := f.svc.ListComments(ctx, f.agent, ticket.ID, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestNotificationFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = assert.AnError

	ticket, err := f.svc.CreateTicket(context.Background(), f.user, TicketCreateInput{
		Title: "Printer jams", Description: "Paper jams on every page",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ticket.ID)
}

func TestListTicketsVisibilityAndSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := f.createTicket(t, f.user, "Printer jams", domain.TicketPriorityHigh)
	f.clock = t0.Add(time.Minute)
	theirs := f.createTicket(t, f.other, "Laptop broken", domain.TicketPriorityLow)

	_, err := f.svc.AddComment(ctx, f.agent, theirs.ID, "waiting on vendor", true)
	require.NoError(t, err)

	tickets, page, err := f.svc.ListTickets(ctx, f.user, TicketListFilter{})
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, mine.ID, tickets[0].ID)
	assert.Equal(t, Pagination{CurrentPage: 1, TotalPages: 1, TotalItems: 1, ItemsPerPage: 10}, page)

	tickets, page, err = f.svc.ListTickets(ctx, f.agent, TicketListFilter{})
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, theirs.ID, tickets[0].ID, "newest first by default")
	assert.Equal(t, 2, page.TotalItems)

	tickets, _, err = f.svc.ListTickets(ctx, f.other, TicketListFilter{Search: "vendor"})
	require.NoError(t, err)
	assert.Empty(t, tickets, "internal comments are not searchable by users")

	tickets, _, err = f.svc.ListTickets(ctx, f.agent, TicketListFilter{Search: "VENDOR"})
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, theirs.ID, tickets[0].ID)

	tickets, _, err = f.svc.ListTickets(ctx, f.agent, TicketListFilter{SortBy: "priority", SortOrder: "asc"})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityLow, tickets[0].Priority)

	tickets, page, err = f.svc.ListTickets(ctx, f.agent, TicketListFilter{Page: 2, Limit: 1, SortBy: "title", SortOrder: "asc"})
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, "Printer jams", tickets[0].Title)
	assert.Equal(t, Pagination{CurrentPage: 2, TotalPages: 2, TotalItems: 2, ItemsPerPage: 1}, page)
}

func TestListTicketsValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, filter := range []TicketListFilter{
		{Page: -1},
		{Limit: 101},
		{SortBy: "password"},
		{SortOrder: "sideways"},
		{Statuses: []domain.TicketStatus{"pending"}},
		{AssignedTo: ptr("bogus")},
	} {
		_, _, err := f.svc.ListTickets(ctx, f.agent, filter)
		assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation), "filter %+v", filter)
	}
}

func TestGetTicketHidesInternalComments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createTicket(t, f.user, "Printer jams", domain.TicketPriorityHigh)

	_, err := f.svc.AddComment(ctx, f.user, ticket.ID, "first", false)
	require.NoError(t, err)
	f.clock = t0.Add(time.Minute)
	_, err = f.svc.AddComment(ctx, f.agent, ticket.ID, "internal", true)
	require.NoError(t, err)

	_, comments, err := f.svc.GetTicket(ctx, f.user, ticket.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "first", comments[0].Content)

	_, comments, err = f.svc.GetTicket(ctx, f.agent, ticket.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "internal", comments[0].Content)

	_, _, err = f.svc.GetTicket(ctx, f.other, ticket.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))

	_, _, err = f.svc.GetTicket(ctx, f.agent, uuid.NewString())
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))

	_, _, err = f.svc.GetTicket(ctx, f.agent, "missing")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	_, _, err = f.svc.ListComments(ctx, f.agent, "missing", 1, 10)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
}

func TestGetBreachedTickets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	critical := f.createTicket(t, f.user, "Server down", domain.TicketPriorityCritical)
	high := f.createTicket(t, f.user, "Email slow", domain.TicketPriorityHigh)
	f.createTicket(t, f.user, "Feature idea", domain.TicketPriorityLow)

	_, err := f.store.Tickets().MarkBreached(ctx, t0.Add(9*time.Hour),
		domain.NewTimelineEntry(domain.ActionSLABreached, "", "SLA deadline exceeded", t0.Add(9*time.Hour)))
	require.NoError(t, err)

	_, err = f.svc.GetBreachedTickets(ctx, f.user)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))

	breached, err := f.svc.GetBreachedTickets(ctx, f.agent)
	require.NoError(t, err)
	require.Len(t, breached, 2)
	assert.Equal(t, critical.ID, breached[0].ID)
	assert.Equal(t, high.ID, breached[1].ID)

	_, err = f.svc.UpdateTicket(ctx, f.agent, critical.ID, TicketChanges{Status: ptr(domain.TicketStatusResolved)}, ptr(0))
	require.NoError(t, err)
	breached, err = f.svc.GetBreachedTickets(ctx, f.admin)
	require.NoError(t, err)
	require.Len(t, breached, 1)
	assert.Equal(t, high.ID, breached[0].ID)
}

// racingRepo lets another writer update the ticket right before the first
// conditional write goes through.
type racingRepo struct {
	repository.TicketRepository
	once   sync.Once
	before func()
}

func (r *racingRepo) UpdateIfVersion(ctx context.Context, id string, expected *int, mutation repository.TicketMutation) (*domain.Ticket, error) {
	r.once.Do(r.before)
	return r.TicketRepository.UpdateIfVersion(ctx, id, expected, mutation)
}

func TestUnversionedUpdateRecomputesAfterConcurrentWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createTicket(t, f.user, "Printer jams", domain.TicketPriorityHigh)

	repo := &racingRepo{TicketRepository: f.store.Tickets()}
	repo.before = func() {
		status := domain.TicketStatusInProgress
		_, err := f.store.Tickets().UpdateIfVersion(ctx, ticket.ID, nil, repository.TicketMutation{
			Status: &status,
			Entry:  domain.NewTimelineEntry(domain.ActionStatusChanged, f.admin.ID, "Updated: status", t0),
		})
		require.NoError(t, err)
	}
	notifier := &recordingNotifier{}
	svc := NewTicketService(TicketDependencies{
		TicketRepo:  repo,
		CommentRepo: f.store.Comments(),
		UserRepo:    f.store.Users(),
		Policy:      f.svc.Policy(),
		Notifier:    notifier,
		Now:         f.svc.now,
	})

	updated, err := svc.UpdateTicket(ctx, f.agent, ticket.ID, TicketChanges{Status: ptr(domain.TicketStatusInProgress)}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	last := updated.Timeline[len(updated.Timeline)-1]
	assert.Equal(t, domain.ActionUpdated, last.Action, "status already matched the stored row")
	assert.Empty(t, notifier.Calls())
}
