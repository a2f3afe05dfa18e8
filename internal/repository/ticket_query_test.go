package repository

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

var fixedTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func TestBuildTicketListQuery_Filters(t *testing.T) {
	filter := TicketFilter{
		CreatedBy:  strPtr("u-1"),
		AssignedTo: strPtr("a-1"),
		Statuses:   []domain.TicketStatus{domain.TicketStatusOpen, domain.TicketStatusInProgress},
		Priorities: []domain.TicketPriority{domain.TicketPriorityCritical},
		SearchTerm: strPtr("  Printer "),
		SortBy:     SortBySLADeadline,
		Limit:      25,
		Offset:     50,
	}

	q := buildTicketListQuery(filter)

	assert.Contains(t, q.list, "t.created_by = $1")
	assert.Contains(t, q.list, "t.assigned_to = $2")
	assert.Contains(t, q.list, "t.status IN ($3,$4)")
	assert.Contains(t, q.list, "t.priority IN ($5)")
	assert.Contains(t, q.list, "LOWER(t.title) LIKE $6")
	assert.Contains(t, q.list, "c.is_internal = FALSE")
	assert.Contains(t, q.list, "ORDER BY t.sla_deadline ASC")
	assert.Contains(t, q.list, "LIMIT 25 OFFSET 50")
	assert.Len(t, q.args, 6)
	assert.Equal(t, "%printer%", q.args[5])

	assert.True(t, strings.HasPrefix(q.count, "SELECT COUNT(*)"))
	assert.NotContains(t, q.count, "LIMIT")
	assert.Contains(t, q.count, "t.priority IN ($5)")

	// Values are bound, never interpolated.
	assert.NotContains(t, q.list, "u-1")
	assert.NotContains(t, q.list, "printer")
}

func TestBuildTicketListQuery_Defaults(t *testing.T) {
	q := buildTicketListQuery(TicketFilter{SortBy: "nope", SortDesc: true, Limit: 1000, Offset: -3})

	assert.Contains(t, q.list, "WHERE 1=1 ORDER BY t.created_at DESC")
	assert.Contains(t, q.list, "LIMIT 100 OFFSET 0")
	assert.Empty(t, q.args)
}

func TestBuildTicketListQuery_StaffSearchIncludesInternalComments(t *testing.T) {
	q := buildTicketListQuery(TicketFilter{SearchTerm: strPtr("vpn"), SearchInternalComments: true})
	assert.NotContains(t, q.list, "is_internal")
}

func TestBuildTicketListQuery_PrioritySortsBySeverity(t *testing.T) {
	q := buildTicketListQuery(TicketFilter{SortBy: SortByPriority, SortDesc: true})
	assert.Contains(t, q.list, "WHEN 'critical' THEN 4 END DESC")
}

func TestLikePatternEscapesWildcards(t *testing.T) {
	assert.Equal(t, `%50\% off\_now%`, likePattern("50% OFF_now"))
}

func TestBuildConditionalUpdate(t *testing.T) {
	status := domain.TicketStatusResolved
	expected := 3
	query, args, err := buildConditionalUpdate("t-1", &expected, TicketMutation{
		Status:     &status,
		AssignedTo: strPtr(""),
		Entry:      domain.NewTimelineEntry(domain.ActionResolved, "agent-1", "Updated: status", fixedTime),
	})

	assert.NoError(t, err)
	assert.Contains(t, query, "status = $2")
	assert.Contains(t, query, "assigned_to = NULLIF($3, '')::uuid")
	assert.Contains(t, query, "version = version + 1")
	assert.Contains(t, query, "timeline = timeline || $4::jsonb")
	assert.Contains(t, query, "WHERE id = $1 AND version = $5")
	assert.Len(t, args, 5)
	assert.Equal(t, 3, args[4])

	query, args, err = buildConditionalUpdate("t-1", nil, TicketMutation{Status: &status})
	assert.NoError(t, err)
	assert.Contains(t, query, "WHERE id = $1 RETURNING")
	assert.Len(t, args, 3)
}

func TestInsertTicketQueryReturnsPopulatedRow(t *testing.T) {
	assert.Contains(t, insertTicketQuery, "WITH inserted AS (")
	assert.Contains(t, insertTicketQuery, "RETURNING *")
	assert.Contains(t, insertTicketQuery, "FROM inserted t")
	assert.Contains(t, insertTicketQuery, "JOIN users cu ON cu.id = t.created_by")
	assert.Contains(t, insertTicketQuery, "LEFT JOIN users au ON au.id = t.assigned_to")
	assert.Contains(t, insertTicketQuery, "cu.name, cu.email, cu.role")
	assert.Contains(t, insertTicketQuery, "$12,$12)")
}

func TestMarkBreachedQueryFiltersAtWriteTime(t *testing.T) {
	assert.Contains(t, markBreachedQuery, "SET sla_breached = TRUE, timeline = timeline || $2::jsonb")
	assert.Contains(t, markBreachedQuery, "WHERE sla_deadline < $1")
	assert.Contains(t, markBreachedQuery, "AND status NOT IN ('resolved', 'closed')")
	assert.Contains(t, markBreachedQuery, "AND sla_breached = FALSE")
	assert.NotContains(t, markBreachedQuery, "version = version")
	assert.Contains(t, markBreachedQuery, "ORDER BY t.sla_deadline ASC")
}
