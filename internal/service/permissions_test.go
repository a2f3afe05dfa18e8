package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

func TestAuthorizeMatrix(t *testing.T) {
	owner := domain.Actor{ID: "u-1", Role: domain.RoleUser}
	stranger := domain.Actor{ID: "u-2", Role: domain.RoleUser}
	agent := domain.Actor{ID: "a-1", Role: domain.RoleAgent}
	admin := domain.Actor{ID: "ad-1", Role: domain.RoleAdmin}
	ticket := &domain.Ticket{ID: "t-1", CreatedByID: owner.ID}

	tests := []struct {
		name   string
		actor  domain.Actor
		action Action
		ticket *domain.Ticket
		code   string
	}{
		{"user creates", owner, ActionTicketCreate, nil, ""},
		{"user lists", owner, ActionTicketList, nil, ""},
		{"owner reads", owner, ActionTicketRead, ticket, ""},
		{"stranger reads", stranger, ActionTicketRead, ticket, apperrors.CodeForbidden},
		{"owner comments", owner, ActionCommentCreate, ticket, ""},
		{"stranger comments", stranger, ActionCommentCreate, ticket, apperrors.CodeForbidden},
		{"owner internal comment", owner, ActionCommentCreateInternal, ticket, apperrors.CodeForbidden},
		{"owner reads internal", owner, ActionCommentReadInternal, ticket, apperrors.CodeForbidden},
		{"user updates", owner, ActionTicketUpdate, ticket, apperrors.CodeForbidden},
		{"user breached list", owner, ActionTicketListBreached, nil, apperrors.CodeForbidden},
		{"agent updates", agent, ActionTicketUpdate, ticket, ""},
		{"agent reads any", agent, ActionTicketRead, ticket, ""},
		{"agent internal comment", agent, ActionCommentCreateInternal, ticket, ""},
		{"admin breached list", admin, ActionTicketListBreached, nil, ""},
		{"anonymous", domain.Actor{}, ActionTicketCreate, nil, apperrors.CodeUnauthorized},
		{"unknown role", domain.Actor{ID: "x", Role: "root"}, ActionTicketRead, ticket, apperrors.CodeUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.actor, tt.action, tt.ticket)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, apperrors.IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestCheckVersion(t *testing.T) {
	assert.NoError(t, CheckVersion(3, nil))
	assert.NoError(t, CheckVersion(3, ptr(3)))

	err := CheckVersion(4, ptr(3))
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict))
	current, ok := apperrors.CurrentVersion(err)
	assert.True(t, ok)
	assert.Equal(t, 4, current)
}
