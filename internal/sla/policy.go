// Package sla maps ticket priorities to resolution deadlines.
package sla

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// Status classifies how close a ticket is to its deadline.
type Status string

const (
	StatusSafe     Status = "safe"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusBreached Status = "breached"
)

const (
	criticalWindow = time.Hour
	warningWindow  = 4 * time.Hour
)

// Policy holds the resolution target for each priority.
type Policy struct {
	durations map[domain.TicketPriority]time.Duration
	fallback  time.Duration
}

// NewPolicy builds a policy from explicit durations. Priorities missing from
// the table, and unknown priorities, resolve to the medium duration.
func NewPolicy(durations map[domain.TicketPriority]time.Duration) *Policy {
	table := make(map[domain.TicketPriority]time.Duration, len(durations))
	for p, d := range durations {
		if d > 0 {
			table[p] = d
		}
	}
	return &Policy{durations: table, fallback: table[domain.TicketPriorityMedium]}
}

// NewPolicyFromConfig builds the policy from SLA_HOURS_* settings.
func NewPolicyFromConfig(cfg config.SLAConfig) *Policy {
	durations := make(map[domain.TicketPriority]time.Duration, 4)
	for name, d := range cfg.Durations() {
		durations[domain.TicketPriority(name)] = d
	}
	return NewPolicy(durations)
}

// Duration returns the resolution target for priority.
func (p *Policy) Duration(priority domain.TicketPriority) time.Duration {
	if d, ok := p.durations[priority]; ok {
		return d
	}
	return p.fallback
}

// DeadlineFor returns the point in time by which a ticket created at createdAt
// with the given priority must be resolved.
func (p *Policy) DeadlineFor(priority domain.TicketPriority, createdAt time.Time) time.Time {
	return createdAt.Add(p.Duration(priority))
}

// Remaining is the time left until deadline, never negative.
func (p *Policy) Remaining(deadline, now time.Time) time.Duration {
	left := deadline.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// StatusAt classifies the deadline relative to now.
func (p *Policy) StatusAt(deadline, now time.Time) Status {
	if now.After(deadline) {
		return StatusBreached
	}
	left := deadline.Sub(now)
	switch {
	case left < criticalWindow:
		return StatusCritical
	case left < warningWindow:
		return StatusWarning
	default:
		return StatusSafe
	}
}
