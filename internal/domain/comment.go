package domain

import "time"

// Comment captures a message in a ticket thread. Internal comments are only
// visible to agents and admins.
type Comment struct {
	ID         string
	TicketID   string
	AuthorID   string
	Content    string
	IsInternal bool
	CreatedAt  time.Time

	Author *UserRef
}
