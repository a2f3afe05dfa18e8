package repository

import (
	"fmt"
	"strings"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

var sortColumns = map[TicketSortKey]string{
	SortByCreatedAt:   "t.created_at",
	SortByUpdatedAt:   "t.updated_at",
	SortByStatus:      "t.status",
	SortBySLADeadline: "t.sla_deadline",
	SortByTitle:       "t.title",
	SortByPriority:    "CASE t.priority WHEN 'low' THEN 1 WHEN 'medium' THEN 2 WHEN 'high' THEN 3 WHEN 'critical' THEN 4 END",
}

type ticketListQuery struct {
	list  string
	count string
	args  []any
}

func buildTicketListQuery(filter TicketFilter) ticketListQuery {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CreatedBy != nil {
		args = append(args, *filter.CreatedBy)
		clauses = append(clauses, fmt.Sprintf("t.created_by = $%d", len(args)))
	}
	if filter.AssignedTo != nil {
		args = append(args, *filter.AssignedTo)
		clauses = append(clauses, fmt.Sprintf("t.assigned_to = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("t.status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, pr := range filter.Priorities {
			args = append(args, pr)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("t.priority IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		args = append(args, likePattern(*filter.SearchTerm))
		placeholder := fmt.Sprintf("$%d", len(args))
		commentScope := " AND c.is_internal = FALSE"
		if filter.SearchInternalComments {
			commentScope = ""
		}
		clauses = append(clauses, fmt.Sprintf(
			"(LOWER(t.title) LIKE %[1]s OR LOWER(t.description) LIKE %[1]s OR EXISTS "+
				"(SELECT 1 FROM comments c WHERE c.ticket_id = t.id AND LOWER(c.content) LIKE %[1]s%[2]s))",
			placeholder, commentScope))
	}

	where := strings.Join(clauses, " AND ")
	limit, offset := NormalizePage(filter.Limit, filter.Offset)

	column, ok := sortColumns[filter.SortBy]
	if !ok {
		column = sortColumns[SortByCreatedAt]
	}
	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}

	return ticketListQuery{
		list: fmt.Sprintf(`SELECT %s FROM tickets t %s WHERE %s ORDER BY %s %s, t.id ASC LIMIT %d OFFSET %d`,
			ticketColumns, ticketJoins, where, column, direction, limit, offset),
		count: fmt.Sprintf(`SELECT COUNT(*) FROM tickets t WHERE %s`, where),
		args:  args,
	}
}

// NormalizePage clamps a page window to the allowed limit range.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// likePattern lowercases term, escapes LIKE wildcards and wraps it for a
// substring match.
func likePattern(term string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.ToLower(strings.TrimSpace(term)))
	return "%" + escaped + "%"
}
