package core

import (
	"strings"
	"time"

	"github.com/edvin/dbaas/internal/model"
)

// Aggregate derives the operation-level summary from the current unit
// states. It never reads the stored derived fields.
//
// Size sums every per-database record reported so far. Total counts planned
// items; Completed counts items whose last reported status is terminal, and
// every item of a terminal unit, since a settled unit is never polled again.
func Aggregate(op *model.Operation) model.Summary {
	var s model.Summary
	statuses := make([]model.Status, 0, len(op.Units))
	var failures []string

	for _, u := range op.Units {
		statuses = append(statuses, u.Status)
		for _, d := range u.Databases {
			s.Size += d.Size
		}
		for _, it := range u.Items {
			s.Total++
			if u.Status.Terminal() || it.Status.Terminal() {
				s.Completed++
			}
		}
		if u.Status == model.StatusFailed {
			msg := u.ErrorMessage
			if msg == "" {
				msg = "unit failed"
			}
			failures = append(failures, u.AdapterID+": "+msg)
		}
	}

	s.Status = model.RollUp(statuses)
	s.ErrorMessage = strings.Join(failures, "; ")
	return s
}

// refresh writes the aggregate onto op.
func refresh(op *model.Operation, now time.Time) {
	applySummary(op, Aggregate(op))
	op.UpdatedAt = now
}

// unitStatusFromDatabases collapses per-database statuses into a unit status.
func unitStatusFromDatabases(dbs []model.DatabaseStatus) model.Status {
	statuses := make([]model.Status, 0, len(dbs))
	for _, d := range dbs {
		statuses = append(statuses, d.Status)
	}
	return model.RollUp(statuses)
}
