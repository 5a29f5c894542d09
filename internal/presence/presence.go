// ABOUTME: Decides whether live support is available to visitors
// ABOUTME: Business-hours window, recently active agents, or any combination of checkers

package presence

import (
	"context"
	"errors"
	"time"

	"github.com/nexcart/nexcart-gateway/internal/store"
)

// Checker reports whether support is online.
type Checker interface {
	Online(ctx context.Context) (bool, error)
}

// BusinessHours is online from OpenHour to CloseHour inclusive, in Location.
// With the defaults that is 09:00 through 21:59.
type BusinessHours struct {
	OpenHour  int
	CloseHour int
	Location  *time.Location
	Now       func() time.Time
}

// Online checks the current hour against the window.
func (b BusinessHours) Online(context.Context) (bool, error) {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	loc := b.Location
	if loc == nil {
		loc = time.Local
	}
	h := now().In(loc).Hour()
	return h >= b.OpenHour && h <= b.CloseHour, nil
}

// ActiveAgents is online while any support agent has been active within Threshold.
type ActiveAgents struct {
	Agents    store.AgentStore
	Threshold time.Duration
	Now       func() time.Time
}

// Online counts agents with recent heartbeats.
func (a ActiveAgents) Online(ctx context.Context) (bool, error) {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	n, err := a.Agents.CountActiveAgents(ctx, now().Add(-a.Threshold))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AnyOf is online when at least one checker is. Checker errors are
// returned only if no checker reported online.
type AnyOf []Checker

// Online asks each checker in order and stops at the first yes.
func (cs AnyOf) Online(ctx context.Context) (bool, error) {
	var errs []error
	for _, c := range cs {
		ok, err := c.Online(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}
