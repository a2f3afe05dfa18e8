// Package memory provides mutex-guarded in-process implementations of the
// repository interfaces. It backs local runs without Postgres and the service
// and worker tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
)

// Store holds users, tickets and comments behind a single lock.
type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	users    map[string]*domain.User
	emails   map[string]string
	tickets  map[string]*domain.Ticket
	comments map[string][]*domain.Comment
}

// NewStore builds an empty store. now stamps updatedAt on writes and defaults
// to time.Now.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:      now,
		users:    make(map[string]*domain.User),
		emails:   make(map[string]string),
		tickets:  make(map[string]*domain.Ticket),
		comments: make(map[string][]*domain.Comment),
	}
}

// Tickets exposes the store as a TicketRepository.
func (s *Store) Tickets() repository.TicketRepository { return ticketStore{s} }

// Comments exposes the store as a CommentRepository.
func (s *Store) Comments() repository.CommentRepository { return commentStore{s} }

// Users exposes the store as a UserRepository.
func (s *Store) Users() repository.UserRepository { return userStore{s} }

type userStore struct{ s *Store }

func (u userStore) Create(_ context.Context, user *domain.User) error {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, taken := s.emails[email]; taken {
		return repository.ErrDuplicate
	}
	now := s.now()
	user.ID = uuid.NewString()
	user.Email = email
	user.CreatedAt = now
	user.UpdatedAt = now
	stored := *user
	s.users[user.ID] = &stored
	s.emails[email] = user.ID
	return nil
}

func (u userStore) GetByID(_ context.Context, id string) (*domain.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	user, ok := u.s.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *user
	return &cp, nil
}

func (u userStore) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	id, ok := u.s.emails[strings.ToLower(email)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *u.s.users[id]
	return &cp, nil
}

type ticketStore struct{ s *Store }

func (t ticketStore) Create(_ context.Context, ticket *domain.Ticket) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[ticket.CreatedByID]; !ok {
		return pgx.ErrNoRows
	}
	ticket.ID = uuid.NewString()
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = s.now()
	}
	ticket.UpdatedAt = ticket.CreatedAt
	s.tickets[ticket.ID] = ticket.Clone()
	s.populate(ticket)
	return nil
}

func (t ticketStore) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	s := t.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return s.view(stored), nil
}

func (t ticketStore) UpdateIfVersion(_ context.Context, id string, expected *int, mutation repository.TicketMutation) (*domain.Ticket, error) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if expected != nil && *expected != stored.Version {
		return nil, &repository.VersionConflictError{Current: stored.Version}
	}

	if mutation.Title != nil {
		stored.Title = *mutation.Title
	}
	if mutation.Description != nil {
		stored.Description = *mutation.Description
	}
	if mutation.Status != nil {
		stored.Status = *mutation.Status
	}
	if mutation.Priority != nil {
		stored.Priority = *mutation.Priority
	}
	if mutation.Category != nil {
		stored.Category = *mutation.Category
	}
	if mutation.AssignedTo != nil {
		if *mutation.AssignedTo == "" {
			stored.AssignedTo = nil
		} else {
			assignee := *mutation.AssignedTo
			stored.AssignedTo = &assignee
		}
	}
	stored.Version++
	stored.Timeline = append(stored.Timeline, mutation.Entry.Clone())
	stored.UpdatedAt = s.now()
	return s.view(stored), nil
}

func (t ticketStore) ListWithFilter(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, int, error) {
	s := t.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*domain.Ticket, 0, len(s.tickets))
	for _, ticket := range s.tickets {
		if s.matches(ticket, filter) {
			matched = append(matched, ticket)
		}
	}
	sortTickets(matched, filter.SortBy, filter.SortDesc)

	total := len(matched)
	limit, offset := repository.NormalizePage(filter.Limit, filter.Offset)
	result := []domain.Ticket{}
	for i := offset; i < total && i < offset+limit; i++ {
		result = append(result, *s.view(matched[i]))
	}
	return result, total, nil
}

func (t ticketStore) MarkBreached(_ context.Context, now time.Time, entry domain.TimelineEntry) ([]domain.Ticket, error) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := []*domain.Ticket{}
	for _, ticket := range s.tickets {
		if ticket.SLABreached || ticket.Status.IsTerminal() || !ticket.SLADeadline.Before(now) {
			continue
		}
		ticket.SLABreached = true
		ticket.Timeline = append(ticket.Timeline, entry.Clone())
		ticket.UpdatedAt = s.now()
		changed = append(changed, ticket)
	}
	sortTickets(changed, repository.SortBySLADeadline, false)

	result := make([]domain.Ticket, 0, len(changed))
	for _, ticket := range changed {
		result = append(result, *s.view(ticket))
	}
	return result, nil
}

func (t ticketStore) ListBreached(_ context.Context) ([]domain.Ticket, error) {
	s := t.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	breached := []*domain.Ticket{}
	for _, ticket := range s.tickets {
		if ticket.SLABreached && !ticket.Status.IsTerminal() {
			breached = append(breached, ticket)
		}
	}
	sortTickets(breached, repository.SortBySLADeadline, false)

	result := make([]domain.Ticket, 0, len(breached))
	for _, ticket := range breached {
		result = append(result, *s.view(ticket))
	}
	return result, nil
}

type commentStore struct{ s *Store }

func (c commentStore) Create(_ context.Context, comment *domain.Comment, entry domain.TimelineEntry) error {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[comment.TicketID]
	if !ok {
		return pgx.ErrNoRows
	}
	author, ok := s.users[comment.AuthorID]
	if !ok {
		return pgx.ErrNoRows
	}
	comment.ID = uuid.NewString()
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = s.now()
	}
	comment.Author = author.Ref()

	stored := *comment
	stored.Author = nil
	s.comments[ticket.ID] = append(s.comments[ticket.ID], &stored)
	ticket.Timeline = append(ticket.Timeline, entry.Clone())
	ticket.UpdatedAt = s.now()
	return nil
}

func (c commentStore) ListByTicket(_ context.Context, ticketID string, includeInternal bool, limit, offset int) ([]domain.Comment, int, error) {
	s := c.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	visible := []domain.Comment{}
	stored := s.comments[ticketID]
	// Stored oldest first; walk backwards for newest first.
	for i := len(stored) - 1; i >= 0; i-- {
		if stored[i].IsInternal && !includeInternal {
			continue
		}
		comment := *stored[i]
		if author, ok := s.users[comment.AuthorID]; ok {
			comment.Author = author.Ref()
		}
		visible = append(visible, comment)
	}

	total := len(visible)
	limit, offset = repository.NormalizePage(limit, offset)
	if offset >= total {
		return []domain.Comment{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return visible[offset:end], total, nil
}

// view returns a caller-owned copy with user refs populated. Callers hold mu.
func (s *Store) view(ticket *domain.Ticket) *domain.Ticket {
	cp := ticket.Clone()
	s.populate(cp)
	return cp
}

func (s *Store) populate(ticket *domain.Ticket) {
	if creator, ok := s.users[ticket.CreatedByID]; ok {
		ticket.CreatedBy = creator.Ref()
	}
	ticket.Assignee = nil
	if ticket.AssignedTo != nil {
		if assignee, ok := s.users[*ticket.AssignedTo]; ok {
			ticket.Assignee = assignee.Ref()
		}
	}
}

func (s *Store) matches(ticket *domain.Ticket, filter repository.TicketFilter) bool {
	if filter.CreatedBy != nil && ticket.CreatedByID != *filter.CreatedBy {
		return false
	}
	if filter.AssignedTo != nil && (ticket.AssignedTo == nil || *ticket.AssignedTo != *filter.AssignedTo) {
		return false
	}
	if len(filter.Statuses) > 0 && !contains(filter.Statuses, ticket.Status) {
		return false
	}
	if len(filter.Priorities) > 0 && !contains(filter.Priorities, ticket.Priority) {
		return false
	}
	if filter.SearchTerm == nil {
		return true
	}
	term := strings.ToLower(strings.TrimSpace(*filter.SearchTerm))
	if term == "" {
		return true
	}
	if strings.Contains(strings.ToLower(ticket.Title), term) ||
		strings.Contains(strings.ToLower(ticket.Description), term) {
		return true
	}
	for _, comment := range s.comments[ticket.ID] {
		if comment.IsInternal && !filter.SearchInternalComments {
			continue
		}
		if strings.Contains(strings.ToLower(comment.Content), term) {
			return true
		}
	}
	return false
}

func contains[T comparable](values []T, v T) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

var priorityRank = map[domain.TicketPriority]int{
	domain.TicketPriorityLow:      1,
	domain.TicketPriorityMedium:   2,
	domain.TicketPriorityHigh:     3,
	domain.TicketPriorityCritical: 4,
}

func sortTickets(tickets []*domain.Ticket, key repository.TicketSortKey, desc bool) {
	compare := func(a, b *domain.Ticket) int {
		switch key {
		case repository.SortByUpdatedAt:
			return a.UpdatedAt.Compare(b.UpdatedAt)
		case repository.SortByPriority:
			return priorityRank[a.Priority] - priorityRank[b.Priority]
		case repository.SortByStatus:
			return strings.Compare(string(a.Status), string(b.Status))
		case repository.SortBySLADeadline:
			return a.SLADeadline.Compare(b.SLADeadline)
		case repository.SortByTitle:
			return strings.Compare(a.Title, b.Title)
		default:
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	}
	sort.SliceStable(tickets, func(i, j int) bool {
		c := compare(tickets[i], tickets[j])
		if desc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		return tickets[i].ID < tickets[j].ID
	})
}
