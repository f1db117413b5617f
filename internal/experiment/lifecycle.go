// Package experiment implements the A/B test lifecycle state machine:
// draft -> running -> paused -> completed, with pause/resume end-date
// arithmetic and winner promotion.
//
// Every operation is a synchronous, deterministic function of
// (current state, inputs, clock). The caller supplies an already-fetched
// snapshot and is responsible for serializing writes; the state machine holds
// no locks and performs no I/O apart from the injected translation lookup
// during promotion.
package experiment

import (
	"fmt"
	"strings"
	"time"

	"github.com/rcabral/switchyard/internal/campaign"
)

// Action is a lifecycle command applied to a test.
type Action string

const (
	// ActionStart starts a draft test, or resumes a paused one.
	ActionStart Action = "start"
	// ActionPause pauses a running test.
	ActionPause Action = "pause"
	// ActionFinish completes a running or paused test without picking a winner.
	ActionFinish Action = "finish"
)

// transitions is the explicit (state, action) -> state table. An absent entry
// means the action does not apply to the state and is silently ignored:
// optimistic updates can leave the calling UI momentarily stale, so a stray
// action must not surface as an error.
var transitions = map[campaign.Status]map[Action]campaign.Status{
	campaign.StatusDraft: {
		ActionStart: campaign.StatusRunning,
	},
	campaign.StatusRunning: {
		ActionPause:  campaign.StatusPaused,
		ActionFinish: campaign.StatusCompleted,
	},
	campaign.StatusPaused: {
		ActionStart:  campaign.StatusRunning,
		ActionFinish: campaign.StatusCompleted,
	},
	// completed is terminal: no entries.
}

// NotReadyError reports the variants blocking a test start. The control plane
// formats the message; the core only names the offending variant ids.
type NotReadyError struct {
	VariantIDs []string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("test is not ready to start: variants without a landing page: %s",
		strings.Join(e.VariantIDs, ", "))
}

// Apply runs a lifecycle action against the test, mutating it in place.
//
// The returned bool reports whether a transition happened. An action that
// does not apply to the current state returns (false, nil) and leaves the
// test untouched. The only failing case is starting a draft test whose
// variants are incomplete, which returns a *NotReadyError.
func Apply(t *campaign.ABTest, action Action, clock Clock) (bool, error) {
	next, ok := transitions[t.Status][action]
	if !ok {
		return false, nil
	}

	now := clock.Now()
	from := t.Status

	switch {
	case from == campaign.StatusDraft && next == campaign.StatusRunning:
		if err := checkReady(t); err != nil {
			return false, err
		}
		t.StartedAt = &now
		// A configured duration fixes the end date; otherwise the test is
		// open-ended and EndDate stays nil.
		if d := t.Completion.TestDurationDays; d != nil {
			end := now.AddDate(0, 0, *d)
			t.EndDate = &end
		}

	case from == campaign.StatusPaused && next == campaign.StatusRunning:
		t.ResumedAt = &now
		// The configured duration measures active wall-clock time, not
		// calendar time: shift the end date by the length of the pause.
		if t.EndDate != nil && t.PausedAt != nil {
			end := t.EndDate.Add(now.Sub(*t.PausedAt))
			t.EndDate = &end
		}

	case next == campaign.StatusPaused:
		t.PausedAt = &now

	case next == campaign.StatusCompleted:
		t.CompletedAt = &now
		t.IsCompleted = true
	}

	t.Status = next
	return true, nil
}

// checkReady verifies every variant has a landing page assigned.
func checkReady(t *campaign.ABTest) error {
	var missing []string
	for _, v := range t.Variants {
		if v.LandingPageID == "" {
			missing = append(missing, v.ID)
		}
	}
	if len(missing) > 0 {
		return &NotReadyError{VariantIDs: missing}
	}
	return nil
}

// Running reports whether the test routes traffic at the given instant:
// it must be in the running state and, when an end date is configured, the
// instant must not be past it.
func Running(t *campaign.ABTest, now time.Time) bool {
	if t == nil || t.Status != campaign.StatusRunning {
		return false
	}
	if t.EndDate != nil && now.After(*t.EndDate) {
		return false
	}
	return true
}
