package sla

import (
	"fmt"
	"time"

	"github.com/spec-kit/inquiry-router/internal/domain"
)

// Calculator derives case deadlines from the configured SLA windows.
type Calculator struct {
	windows map[domain.CasePriority]time.Duration
}

// NewCalculator validates that the window mapping is total: every
// priority must map to a positive window.
func NewCalculator(windows map[domain.CasePriority]time.Duration) (*Calculator, error) {
	for _, priority := range domain.Priorities {
		if windows[priority] <= 0 {
			return nil, fmt.Errorf("sla window missing for priority %s", priority)
		}
	}
	return &Calculator{windows: windows}, nil
}

// Window returns the SLA window for a priority.
func (c *Calculator) Window(priority domain.CasePriority) time.Duration {
	return c.windows[priority]
}

// DeadlineFrom anchors a fresh deadline at queue or assignment time.
func (c *Calculator) DeadlineFrom(anchor time.Time, priority domain.CasePriority) time.Time {
	return anchor.Add(c.Window(priority))
}

// Recompute rebases the deadline on a priority change, keeping the
// original anchor. A deadline that has already passed is never
// extended: a breached case stays breached even if priority drops.
func (c *Calculator) Recompute(current time.Time, oldPriority, newPriority domain.CasePriority, now time.Time) time.Time {
	if !current.After(now) {
		return current
	}
	anchor := current.Add(-c.Window(oldPriority))
	return anchor.Add(c.Window(newPriority))
}
