package domain

// Actor is the authenticated caller performing an operation.
type Actor struct {
	ID   string
	Role Role
}

// IsStaff reports whether the actor is an agent or admin.
func (a Actor) IsStaff() bool {
	return a.Role.IsStaff()
}
