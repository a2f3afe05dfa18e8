package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// VersionConflictError is returned by conditional writes when the stored
// version no longer matches the caller's expectation.
type VersionConflictError struct {
	Current int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: current version is %d", e.Current)
}

// AsVersionConflict unwraps a VersionConflictError.
func AsVersionConflict(err error) (*VersionConflictError, bool) {
	var conflict *VersionConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}

// TicketSortKey names the columns tickets may be ordered by.
type TicketSortKey string

const (
	SortByCreatedAt   TicketSortKey = "createdAt"
	SortByUpdatedAt   TicketSortKey = "updatedAt"
	SortByPriority    TicketSortKey = "priority"
	SortByStatus      TicketSortKey = "status"
	SortBySLADeadline TicketSortKey = "slaDeadline"
	SortByTitle       TicketSortKey = "title"
)

// Valid reports whether k is an allowed sort key.
func (k TicketSortKey) Valid() bool {
	switch k {
	case SortByCreatedAt, SortByUpdatedAt, SortByPriority, SortByStatus, SortBySLADeadline, SortByTitle:
		return true
	}
	return false
}

// TicketFilter captures listing parameters.
type TicketFilter struct {
	CreatedBy  *string
	AssignedTo *string
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
	SearchTerm *string
	// SearchInternalComments lets the search term match internal comments.
	SearchInternalComments bool
	SortBy                 TicketSortKey
	SortDesc               bool
	Limit                  int
	Offset                 int
}

// TicketMutation is the field set applied by a conditional update. Nil fields
// are left untouched; an empty AssignedTo clears the assignee.
type TicketMutation struct {
	Title       *string
	Description *string
	Status      *domain.TicketStatus
	Priority    *domain.TicketPriority
	Category    *domain.TicketCategory
	AssignedTo  *string
	Entry       domain.TimelineEntry
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	// Create persists the ticket together with its initial timeline.
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	// UpdateIfVersion applies the mutation, increments version and appends
	// the timeline entry in one atomic write. A nil expected version skips the
	// version comparison.
	UpdateIfVersion(ctx context.Context, id string, expected *int, mutation TicketMutation) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, int, error)
	// MarkBreached flags every overdue unresolved ticket in a single filtered
	// write and returns the tickets it changed.
	MarkBreached(ctx context.Context, now time.Time, entry domain.TimelineEntry) ([]domain.Ticket, error)
	ListBreached(ctx context.Context) ([]domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `
        t.id::text, t.title, t.description, t.status, t.priority, t.category,
        t.created_by::text, t.assigned_to::text, t.sla_deadline, t.sla_breached, t.version,
        t.timeline, t.created_at, t.updated_at,
        cu.name, cu.email, cu.role, au.name, au.email, au.role`

const ticketJoins = `
        JOIN users cu ON cu.id = t.created_by
        LEFT JOIN users au ON au.id = t.assigned_to`

// insertTicketQuery inserts the ticket and reads it back with creator and
// assignee resolved, so the caller gets the same projection as GetByID.
const insertTicketQuery = `
        WITH inserted AS (
            INSERT INTO tickets (title, description, status, priority, category, created_by, assigned_to,
                sla_deadline, sla_breached, version, timeline, created_at, updated_at)
            VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7, '')::uuid,$8,$9,$10,$11::jsonb,$12,$12)
            RETURNING *
        )
        SELECT ` + ticketColumns + ` FROM inserted t` + ticketJoins

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	timeline, err := json.Marshal(ticket.Timeline)
	if err != nil {
		return err
	}
	created, err := scanTicket(r.pool.QueryRow(ctx, insertTicketQuery,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.Category,
		ticket.CreatedByID,
		derefString(ticket.AssignedTo),
		ticket.SLADeadline,
		ticket.SLABreached,
		ticket.Version,
		timeline,
		ticket.CreatedAt,
	))
	if err != nil {
		return err
	}
	*ticket = *created
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets t` + ticketJoins + ` WHERE t.id = $1`
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

func (r *ticketRepository) UpdateIfVersion(ctx context.Context, id string, expected *int, mutation TicketMutation) (*domain.Ticket, error) {
	query, args, err := buildConditionalUpdate(id, expected, mutation)
	if err != nil {
		return nil, err
	}
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// Nothing matched: either the ticket is gone or the version moved on.
	var current int
	if err := r.pool.QueryRow(ctx, `SELECT version FROM tickets WHERE id = $1`, id).Scan(&current); err != nil {
		return nil, err
	}
	return nil, &VersionConflictError{Current: current}
}

func buildConditionalUpdate(id string, expected *int, mutation TicketMutation) (string, []any, error) {
	entry, err := json.Marshal([]domain.TimelineEntry{mutation.Entry})
	if err != nil {
		return "", nil, err
	}
	args := []any{id}
	sets := []string{}
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if mutation.Title != nil {
		set("title", *mutation.Title)
	}
	if mutation.Description != nil {
		set("description", *mutation.Description)
	}
	if mutation.Status != nil {
		set("status", *mutation.Status)
	}
	if mutation.Priority != nil {
		set("priority", *mutation.Priority)
	}
	if mutation.Category != nil {
		set("category", *mutation.Category)
	}
	if mutation.AssignedTo != nil {
		args = append(args, *mutation.AssignedTo)
		sets = append(sets, fmt.Sprintf("assigned_to = NULLIF($%d, '')::uuid", len(args)))
	}
	args = append(args, entry)
	sets = append(sets,
		"version = version + 1",
		fmt.Sprintf("timeline = timeline || $%d::jsonb", len(args)),
		"updated_at = NOW()",
	)

	where := "id = $1"
	if expected != nil {
		args = append(args, *expected)
		where += fmt.Sprintf(" AND version = $%d", len(args))
	}

	query := fmt.Sprintf(`
        WITH updated AS (
            UPDATE tickets SET %s WHERE %s RETURNING *
        )
        SELECT %s FROM updated t %s`,
		strings.Join(sets, ", "), where, ticketColumns, ticketJoins)
	return query, args, nil
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, int, error) {
	q := buildTicketListQuery(filter)

	var total int
	if err := r.pool.QueryRow(ctx, q.count, q.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, q.list, q.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, 0, err
	}
	return tickets, total, nil
}

// markBreachedQuery flags overdue unresolved tickets in one statement; the
// filter is evaluated by the database at write time.
const markBreachedQuery = `
        WITH updated AS (
            UPDATE tickets
            SET sla_breached = TRUE, timeline = timeline || $2::jsonb, updated_at = NOW()
            WHERE sla_deadline < $1
              AND status NOT IN ('resolved', 'closed')
              AND sla_breached = FALSE
            RETURNING *
        )
        SELECT ` + ticketColumns + ` FROM updated t` + ticketJoins + `
        ORDER BY t.sla_deadline ASC`

func (r *ticketRepository) MarkBreached(ctx context.Context, now time.Time, entry domain.TimelineEntry) ([]domain.Ticket, error) {
	payload, err := json.Marshal([]domain.TimelineEntry{entry})
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, markBreachedQuery, now, payload)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) ListBreached(ctx context.Context) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets t` + ticketJoins + `
        WHERE t.sla_breached = TRUE AND t.status NOT IN ('resolved', 'closed')
        ORDER BY t.sla_deadline ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket                      domain.Ticket
		timeline                    []byte
		creator                     domain.UserRef
		assigneeName, assigneeEmail *string
		assigneeRole                *domain.Role
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.Category,
		&ticket.CreatedByID,
		&ticket.AssignedTo,
		&ticket.SLADeadline,
		&ticket.SLABreached,
		&ticket.Version,
		&timeline,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&creator.Name,
		&creator.Email,
		&creator.Role,
		&assigneeName,
		&assigneeEmail,
		&assigneeRole,
	); err != nil {
		return nil, err
	}
	if len(timeline) > 0 {
		if err := json.Unmarshal(timeline, &ticket.Timeline); err != nil {
			return nil, fmt.Errorf("decode timeline: %w", err)
		}
	}
	creator.ID = ticket.CreatedByID
	ticket.CreatedBy = &creator
	if ticket.AssignedTo != nil && assigneeName != nil {
		ticket.Assignee = &domain.UserRef{
			ID:    *ticket.AssignedTo,
			Name:  *assigneeName,
			Email: derefString(assigneeEmail),
		}
		if assigneeRole != nil {
			ticket.Assignee.Role = *assigneeRole
		}
	}
	return &ticket, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	result := []domain.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
