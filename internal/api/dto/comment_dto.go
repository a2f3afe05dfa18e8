package dto

import "time"

// CreateCommentRequest payload.
type CreateCommentRequest struct {
	Content    string `json:"content"`
	IsInternal bool   `json:"isInternal"`
}

// CommentResponse represents a thread comment.
type CommentResponse struct {
	ID         string           `json:"id"`
	TicketID   string           `json:"ticketId"`
	Author     *UserRefResponse `json:"author"`
	Content    string           `json:"content"`
	IsInternal bool             `json:"isInternal"`
	CreatedAt  time.Time        `json:"createdAt"`
}
