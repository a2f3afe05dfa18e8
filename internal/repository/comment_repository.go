package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// CommentRepository manages ticket thread comments.
type CommentRepository interface {
	// Create stores the comment and appends entry to the ticket timeline in
	// one transaction. It returns pgx.ErrNoRows when the ticket does not exist.
	Create(ctx context.Context, comment *domain.Comment, entry domain.TimelineEntry) error
	// ListByTicket returns comments newest first together with the total count.
	ListByTicket(ctx context.Context, ticketID string, includeInternal bool, limit, offset int) ([]domain.Comment, int, error)
}

type commentRepository struct {
	pool *pgxpool.Pool
}

// NewCommentRepository builds repository.
func NewCommentRepository(pool *pgxpool.Pool) CommentRepository {
	return &commentRepository{pool: pool}
}

func (r *commentRepository) Create(ctx context.Context, comment *domain.Comment, entry domain.TimelineEntry) error {
	payload, err := json.Marshal([]domain.TimelineEntry{entry})
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, `
        UPDATE tickets SET timeline = timeline || $2::jsonb, updated_at = NOW()
        WHERE id = $1`, comment.TicketID, payload)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}

		const query = `
        WITH inserted AS (
            INSERT INTO comments (ticket_id, author_id, content, is_internal, created_at)
            VALUES ($1,$2,$3,$4,$5)
            RETURNING id, author_id, created_at
        )
        SELECT i.id::text, i.created_at, u.name, u.email, u.role
        FROM inserted i JOIN users u ON u.id = i.author_id`
		author := domain.UserRef{ID: comment.AuthorID}
		if err := tx.QueryRow(ctx, query,
			comment.TicketID,
			comment.AuthorID,
			comment.Content,
			comment.IsInternal,
			comment.CreatedAt,
		).Scan(&comment.ID, &comment.CreatedAt, &author.Name, &author.Email, &author.Role); err != nil {
			return err
		}
		comment.Author = &author
		return nil
	})
}

func (r *commentRepository) ListByTicket(ctx context.Context, ticketID string, includeInternal bool, limit, offset int) ([]domain.Comment, int, error) {
	limit, offset = NormalizePage(limit, offset)
	visibility := ""
	if !includeInternal {
		visibility = " AND c.is_internal = FALSE"
	}

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM comments c WHERE c.ticket_id = $1`+visibility, ticketID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
        SELECT c.id::text, c.ticket_id::text, c.author_id::text, c.content, c.is_internal, c.created_at,
            u.name, u.email, u.role
        FROM comments c JOIN users u ON u.id = c.author_id
        WHERE c.ticket_id = $1` + visibility + `
        ORDER BY c.created_at DESC, c.id DESC
        LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, ticketID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	result := []domain.Comment{}
	for rows.Next() {
		var (
			comment domain.Comment
			author  domain.UserRef
		)
		if err := rows.Scan(
			&comment.ID,
			&comment.TicketID,
			&comment.AuthorID,
			&comment.Content,
			&comment.IsInternal,
			&comment.CreatedAt,
			&author.Name,
			&author.Email,
			&author.Role,
		); err != nil {
			return nil, 0, err
		}
		author.ID = comment.AuthorID
		comment.Author = &author
		result = append(result, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}
