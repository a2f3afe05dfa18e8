package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/sla"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

const (
	titleMin          = 5
	titleMax          = 200
	descriptionMin    = 10
	descriptionMax    = 2000
	commentMax        = 1000
	defaultPageLimit  = 10
	maxPageLimit      = 100
	detailCommentPage = 100
	// unversionedAttempts bounds the re-read loop for updates sent without a
	// version.
	unversionedAttempts = 3
)

// TicketService coordinates ticket workflows. It is the only writer of
// ticket versions, SLA deadlines and timeline entries.
type TicketService struct {
	tickets  repository.TicketRepository
	comments repository.CommentRepository
	users    repository.UserRepository
	policy   *sla.Policy
	notifier Notifier
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	CommentRepo repository.CommentRepository
	UserRepo    repository.UserRepository
	Policy      *sla.Policy
	Notifier    Notifier
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	Now         func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Description string
	Priority    domain.TicketPriority
	Category    domain.TicketCategory
}

// TicketChanges lists the fields an update may touch. Nil fields are left
// alone; an empty AssignedTo clears the assignee.
type TicketChanges struct {
	Title       *string
	Description *string
	Status      *domain.TicketStatus
	Priority    *domain.TicketPriority
	Category    *domain.TicketCategory
	AssignedTo  *string
}

// TicketListFilter describes listing parameters. Zero Page and Limit select
// the defaults.
type TicketListFilter struct {
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
	AssignedTo *string
	Search     string
	SortBy     string
	SortOrder  string
	Page       int
	Limit      int
}

// Pagination describes a page of results.
type Pagination struct {
	CurrentPage  int
	TotalPages   int
	TotalItems   int
	ItemsPerPage int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets:  deps.TicketRepo,
		comments: deps.CommentRepo,
		users:    deps.UserRepo,
		policy:   deps.Policy,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   logger,
		now:      now,
	}
}

// Policy exposes the SLA policy used for deadlines.
func (s *TicketService) Policy() *sla.Policy {
	return s.policy
}

// Now returns the service clock.
func (s *TicketService) Now() time.Time {
	return s.now()
}

// CreateTicket validates input, stamps the SLA deadline and persists the
// ticket with its created timeline entry.
func (s *TicketService) CreateTicket(ctx context.Context, actor domain.Actor, input TicketCreateInput) (*domain.Ticket, error) {
	if err := Authorize(actor, ActionTicketCreate, nil); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}
	category := input.Category
	if category == "" {
		category = domain.TicketCategoryGeneral
	}

	fields := map[string]any{}
	checkLength(fields, "title", title, titleMin, titleMax)
	checkLength(fields, "description", description, descriptionMin, descriptionMax)
	if !priority.Valid() {
		fields["priority"] = "invalid priority"
	}
	if !category.Valid() {
		fields["category"] = "invalid category"
	}
	if len(fields) > 0 {
		return nil, apperrors.NewValidationError("invalid ticket", fields)
	}

	now := s.now()
	ticket := &domain.Ticket{
		Title:       title,
		Description: description,
		Status:      domain.TicketStatusOpen,
		Priority:    priority,
		Category:    category,
		CreatedByID: actor.ID,
		SLADeadline: s.policy.DeadlineFor(priority, now),
		Version:     0,
		Timeline: []domain.TimelineEntry{
			domain.NewTimelineEntry(domain.ActionCreated, actor.ID,
				fmt.Sprintf("Ticket created with priority: %s", priority), now),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, s.storeError("create ticket", "", err)
	}
	s.logger.Info("ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.String("priority", string(ticket.Priority)),
		zap.Time("sla_deadline", ticket.SLADeadline))

	if s.notifier != nil {
		s.notify(ticket.ID, "ticket_created", s.notifier.NotifyTicketCreated(ctx, actor, ticket))
	}
	return ticket, nil
}

// UpdateTicket applies changes guarded by expectedVersion. The write, the
// version increment and the timeline entry happen in one conditional store
// operation. Without an expected version the update is pinned to the version
// it was computed from and recomputed if another writer got there first.
func (s *TicketService) UpdateTicket(ctx context.Context, actor domain.Actor, id string, changes TicketChanges, expectedVersion *int) (*domain.Ticket, error) {
	if err := Authorize(actor, ActionTicketUpdate, nil); err != nil {
		return nil, err
	}
	if err := checkTicketID(id); err != nil {
		return nil, err
	}

	mutation, changed, err := s.validateChanges(ctx, changes, expectedVersion)
	if err != nil {
		return nil, err
	}

	attempts := 1
	if expectedVersion == nil {
		attempts = unversionedAttempts
	}
	for attempt := 1; ; attempt++ {
		current, err := s.tickets.GetByID(ctx, id)
		if err != nil {
			return nil, s.storeError("load ticket", id, err)
		}
		expected := expectedVersion
		if expected == nil {
			pinned := current.Version
			expected = &pinned
		} else if err := CheckVersion(current.Version, expected); err != nil {
			s.metrics.RecordVersionConflict()
			return nil, err
		}

		statusChanged := mutation.Status != nil && *mutation.Status != current.Status
		assigneeChanged := mutation.AssignedTo != nil && *mutation.AssignedTo != derefString(current.AssignedTo)
		mutation.Entry = domain.NewTimelineEntry(
			timelineAction(mutation.Status, statusChanged, assigneeChanged),
			actor.ID,
			"Updated: "+strings.Join(changed, ", "),
			s.now(),
		)

		updated, err := s.tickets.UpdateIfVersion(ctx, id, expected, mutation)
		if _, conflict := repository.AsVersionConflict(err); conflict && attempt < attempts {
			s.logger.Debug("ticket changed underneath update; retrying",
				zap.String("ticket_id", id), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, s.storeError("update ticket", id, err)
		}
		s.logger.Info("ticket updated",
			zap.String("ticket_id", id),
			zap.Int("version", updated.Version),
			zap.Strings("fields", changed))

		if s.notifier != nil {
			if statusChanged {
				s.notify(id, "status_changed", s.notifier.NotifyStatusChanged(ctx, actor, updated, current.Status))
			}
			if assigneeChanged {
				s.notify(id, "assigned", s.notifier.NotifyAssigned(ctx, actor, updated, current.AssignedTo))
			}
		}
		return updated, nil
	}
}

func (s *TicketService) validateChanges(ctx context.Context, changes TicketChanges, expectedVersion *int) (repository.TicketMutation, []string, error) {
	var (
		mutation repository.TicketMutation
		changed  []string
	)
	fields := map[string]any{}

	if expectedVersion != nil && *expectedVersion < 0 {
		fields["version"] = "version must be a non-negative integer"
	}
	if changes.Title != nil {
		title := strings.TrimSpace(*changes.Title)
		checkLength(fields, "title", title, titleMin, titleMax)
		mutation.Title = &title
		changed = append(changed, "title")
	}
	if changes.Description != nil {
		description := strings.TrimSpace(*changes.Description)
		checkLength(fields, "description", description, descriptionMin, descriptionMax)
		mutation.Description = &description
		changed = append(changed, "description")
	}
	if changes.Status != nil {
		if !changes.Status.Valid() {
			fields["status"] = "invalid status"
		}
		mutation.Status = changes.Status
		changed = append(changed, "status")
	}
	if changes.Priority != nil {
		if !changes.Priority.Valid() {
			fields["priority"] = "invalid priority"
		}
		mutation.Priority = changes.Priority
		changed = append(changed, "priority")
	}
	if changes.Category != nil {
		if !changes.Category.Valid() {
			fields["category"] = "invalid category"
		}
		mutation.Category = changes.Category
		changed = append(changed, "category")
	}
	if changes.AssignedTo != nil {
		assignee := strings.TrimSpace(*changes.AssignedTo)
		if assignee != "" && !validID(assignee) {
			fields["assignedTo"] = "assignedTo must be a valid user id"
		}
		mutation.AssignedTo = &assignee
		changed = append(changed, "assignedTo")
	}

	if len(changed) == 0 {
		return mutation, nil, apperrors.NewValidationError("no updatable fields supplied", nil)
	}
	if len(fields) > 0 {
		return mutation, nil, apperrors.NewValidationError("invalid ticket update", fields)
	}

	if mutation.AssignedTo != nil && *mutation.AssignedTo != "" {
		if err := s.checkAssignee(ctx, *mutation.AssignedTo); err != nil {
			return mutation, nil, err
		}
	}

	sort.Strings(changed)
	return mutation, changed, nil
}

func (s *TicketService) checkAssignee(ctx context.Context, id string) error {
	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewValidationError("invalid ticket update", map[string]any{"assignedTo": "assignee not found"})
	}
	if err != nil {
		return s.storeError("load assignee", "", err)
	}
	if !user.Role.IsStaff() || !user.IsActive {
		return apperrors.NewValidationError("invalid ticket update", map[string]any{"assignedTo": "assignee must be an active agent or admin"})
	}
	return nil
}

// timelineAction picks the entry action for an update: terminal status
// changes first, then any status change, then reassignment.
func timelineAction(status *domain.TicketStatus, statusChanged, assigneeChanged bool) domain.TimelineAction {
	switch {
	case statusChanged && *status == domain.TicketStatusResolved:
		return domain.ActionResolved
	case statusChanged && *status == domain.TicketStatusClosed:
		return domain.ActionClosed
	case statusChanged:
		return domain.ActionStatusChanged
	case assigneeChanged:
		return domain.ActionAssigned
	default:
		return domain.ActionUpdated
	}
}

// AddComment appends a comment and its timeline entry without changing the
// ticket version.
func (s *TicketService) AddComment(ctx context.Context, actor domain.Actor, ticketID, content string, isInternal bool) (*domain.Comment, error) {
	if isInternal {
		if err := Authorize(actor, ActionCommentCreateInternal, nil); err != nil {
			return nil, err
		}
	}
	if err := checkTicketID(ticketID); err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	fields := map[string]any{}
	checkLength(fields, "content", content, 1, commentMax)
	if len(fields) > 0 {
		return nil, apperrors.NewValidationError("invalid comment", fields)
	}

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, s.storeError("load ticket", ticketID, err)
	}
	if err := Authorize(actor, ActionCommentCreate, ticket); err != nil {
		return nil, err
	}

	now := s.now()
	details := "Added comment"
	if isInternal {
		details = "Added internal comment"
	}
	comment := &domain.Comment{
		TicketID:   ticketID,
		AuthorID:   actor.ID,
		Content:    content,
		IsInternal: isInternal,
		CreatedAt:  now,
	}
	entry := domain.NewTimelineEntry(domain.ActionCommentAdded, actor.ID, details, now)
	if err := s.comments.Create(ctx, comment, entry); err != nil {
		return nil, s.storeError("create comment", ticketID, err)
	}
	s.logger.Info("comment added",
		zap.String("ticket_id", ticketID),
		zap.String("comment_id", comment.ID),
		zap.Bool("internal", isInternal))

	if s.notifier != nil {
		s.notify(ticketID, "comment_added", s.notifier.NotifyCommentAdded(ctx, actor, ticket, comment))
	}
	return comment, nil
}

// ListTickets returns a page of tickets visible to actor.
func (s *TicketService) ListTickets(ctx context.Context, actor domain.Actor, filter TicketListFilter) ([]domain.Ticket, Pagination, error) {
	if err := Authorize(actor, ActionTicketList, nil); err != nil {
		return nil, Pagination{}, err
	}

	page, limit, err := pageWindow(filter.Page, filter.Limit)
	if err != nil {
		return nil, Pagination{}, err
	}

	fields := map[string]any{}
	if filter.AssignedTo != nil && !validID(*filter.AssignedTo) {
		fields["assignedTo"] = "assignedTo must be a valid user id"
	}
	for _, status := range filter.Statuses {
		if !status.Valid() {
			fields["status"] = "invalid status"
		}
	}
	for _, priority := range filter.Priorities {
		if !priority.Valid() {
			fields["priority"] = "invalid priority"
		}
	}
	sortBy := repository.SortByCreatedAt
	if filter.SortBy != "" {
		sortBy = repository.TicketSortKey(filter.SortBy)
		if !sortBy.Valid() {
			fields["sortBy"] = "unsupported sort field"
		}
	}
	sortDesc := true
	switch strings.ToLower(filter.SortOrder) {
	case "", "desc":
	case "asc":
		sortDesc = false
	default:
		fields["sortOrder"] = "sort order must be asc or desc"
	}
	if len(fields) > 0 {
		return nil, Pagination{}, apperrors.NewValidationError("invalid ticket query", fields)
	}

	query := repository.TicketFilter{
		AssignedTo:             filter.AssignedTo,
		Statuses:               filter.Statuses,
		Priorities:             filter.Priorities,
		SearchInternalComments: canReadInternal(actor),
		SortBy:                 sortBy,
		SortDesc:               sortDesc,
		Limit:                  limit,
		Offset:                 (page - 1) * limit,
	}
	if !actor.IsStaff() {
		owner := actor.ID
		query.CreatedBy = &owner
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		query.SearchTerm = &term
	}

	tickets, total, err := s.tickets.ListWithFilter(ctx, query)
	if err != nil {
		return nil, Pagination{}, s.storeError("list tickets", "", err)
	}
	return tickets, paginate(page, limit, total), nil
}

// GetTicket returns the ticket with its newest comments. Internal comments are
// only included for agents and admins.
func (s *TicketService) GetTicket(ctx context.Context, actor domain.Actor, id string) (*domain.Ticket, []domain.Comment, error) {
	if err := checkTicketID(id); err != nil {
		return nil, nil, err
	}
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, nil, s.storeError("load ticket", id, err)
	}
	if err := Authorize(actor, ActionTicketRead, ticket); err != nil {
		return nil, nil, err
	}
	comments, _, err := s.comments.ListByTicket(ctx, id, canReadInternal(actor), detailCommentPage, 0)
	if err != nil {
		return nil, nil, s.storeError("list comments", id, err)
	}
	return ticket, comments, nil
}

// ListComments returns a page of the ticket's comments, newest first.
func (s *TicketService) ListComments(ctx context.Context, actor domain.Actor, ticketID string, page, limit int) ([]domain.Comment, Pagination, error) {
	if err := checkTicketID(ticketID); err != nil {
		return nil, Pagination{}, err
	}
	page, limit, err := pageWindow(page, limit)
	if err != nil {
		return nil, Pagination{}, err
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, Pagination{}, s.storeError("load ticket", ticketID, err)
	}
	if err := Authorize(actor, ActionTicketRead, ticket); err != nil {
		return nil, Pagination{}, err
	}
	comments, total, err := s.comments.ListByTicket(ctx, ticketID, canReadInternal(actor), limit, (page-1)*limit)
	if err != nil {
		return nil, Pagination{}, s.storeError("list comments", ticketID, err)
	}
	return comments, paginate(page, limit, total), nil
}

// GetBreachedTickets lists unresolved breached tickets, most overdue first.
func (s *TicketService) GetBreachedTickets(ctx context.Context, actor domain.Actor) ([]domain.Ticket, error) {
	if err := Authorize(actor, ActionTicketListBreached, nil); err != nil {
		return nil, err
	}
	tickets, err := s.tickets.ListBreached(ctx)
	if err != nil {
		return nil, s.storeError("list breached tickets", "", err)
	}
	return tickets, nil
}

// storeError translates repository failures into domain errors.
func (s *TicketService) storeError(op, ticketID string, err error) error {
	if conflict, ok := repository.AsVersionConflict(err); ok {
		s.metrics.RecordVersionConflict()
		return apperrors.NewVersionConflict(conflict.Current)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound("ticket", map[string]any{"id": ticketID})
	}
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	s.logger.Error(op+" failed", zap.String("ticket_id", ticketID), zap.Error(err))
	return apperrors.NewInternalError(err)
}

func (s *TicketService) notify(ticketID, kind string, err error) {
	if err != nil {
		s.logger.Warn("notification failed",
			zap.String("ticket_id", ticketID),
			zap.String("kind", kind),
			zap.Error(err))
	}
}

// validID reports whether id is a canonical UUID, the only form the store
// assigns.
func validID(id string) bool {
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.String() == strings.ToLower(id)
}

func checkTicketID(id string) error {
	if validID(id) {
		return nil
	}
	return apperrors.NewValidationError("invalid ticket id", map[string]any{"id": "id must be a valid ticket id"})
}

func checkLength(fields map[string]any, name, value string, lo, hi int) {
	n := utf8.RuneCountInString(value)
	if n < lo || n > hi {
		fields[name] = fmt.Sprintf("%s must be between %d and %d characters", name, lo, hi)
	}
}

func pageWindow(page, limit int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = defaultPageLimit
	}
	fields := map[string]any{}
	if page < 1 {
		fields["page"] = "page must be at least 1"
	}
	if limit < 1 || limit > maxPageLimit {
		fields["limit"] = fmt.Sprintf("limit must be between 1 and %d", maxPageLimit)
	}
	if len(fields) > 0 {
		return 0, 0, apperrors.NewValidationError("invalid pagination", fields)
	}
	return page, limit, nil
}

func paginate(page, limit, total int) Pagination {
	return Pagination{
		CurrentPage:  page,
		TotalPages:   (total + limit - 1) / limit,
		TotalItems:   total,
		ItemsPerPage: limit,
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
