package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository/memory"
	"github.com/spec-kit/helpdesk-service/internal/sla"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingNotifier) record(kind string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, kind)
	return r.err
}

func (r *recordingNotifier) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingNotifier) NotifyTicketCreated(context.Context, domain.Actor, *domain.Ticket) error {
	return r.record("created")
}

func (r *recordingNotifier) NotifyAssigned(context.Context, domain.Actor, *domain.Ticket, *string) error {
	return r.record("assigned")
}

func (r *recordingNotifier) NotifyStatusChanged(context.Context, domain.Actor, *domain.Ticket, domain.TicketStatus) error {
	return r.record("status_changed")
}

func (r *recordingNotifier) NotifyCommentAdded(context.Context, domain.Actor, *domain.Ticket, *domain.Comment) error {
	return r.record("comment_added")
}

func (r *recordingNotifier) NotifySLABreach(context.Context, *domain.Ticket) error {
	return r.record("sla_breach")
}

type fixture struct {
	store    *memory.Store
	svc      *TicketService
	notifier *recordingNotifier
	clock    time.Time
	user     domain.Actor
	other    domain.Actor
	agent    domain.Actor
	admin    domain.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clock: t0, notifier: &recordingNotifier{}}
	now := func() time.Time { return f.clock }
	f.store = memory.NewStore(now)
	f.svc = NewTicketService(TicketDependencies{
		TicketRepo:  f.store.Tickets(),
		CommentRepo: f.store.Comments(),
		UserRepo:    f.store.Users(),
		Policy: sla.NewPolicy(map[domain.TicketPriority]time.Duration{
			domain.TicketPriorityCritical: 2 * time.Hour,
			domain.TicketPriorityHigh:     8 * time.Hour,
			domain.TicketPriorityMedium:   24 * time.Hour,
			domain.TicketPriorityLow:      72 * time.Hour,
		}),
		Notifier: f.notifier,
		Now:      now,
	})
	f.user = f.addUser(t, "user@example.com", domain.RoleUser)
	f.other = f.addUser(t, "other@example.com", domain.RoleUser)
	f.agent = f.addUser(t, "agent@example.com", domain.RoleAgent)
	f.admin = f.addUser(t, "admin@example.com", domain.RoleAdmin)
	return f
}

func (f *fixture) addUser(t *testing.T, email string, role domain.Role) domain.Actor {
	t.Helper()
	user := &domain.User{Name: email, Email: email, Role: role, IsActive: true}
	require.NoError(t, f.store.Users().Create(context.Background(), user))
	return domain.Actor{ID: user.ID, Role: role}
}

func (f *fixture) createTicket(t *testing.T, actor domain.Actor, title string, priority domain.TicketPriority) *domain.Ticket {
	t.Helper()
	ticket, err := f.svc.CreateTicket(context.Background(), actor, TicketCreateInput{
		Title:       title,
		Description: "The " + title + " stopped working this morning",
		Priority:    priority,
	})
	require.NoError(t, err)
	return ticket
}

func ptr[T any](v T) *T { return &v }
