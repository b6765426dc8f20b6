package engine

import (
	"time"

	"epireport/internal/epi"
	"epireport/internal/model"
)

// joins reports whether report belongs to alert: some counted member lies
// within the rule's day window and distance of it (single linkage).
func joins(alert model.Alert, report model.Report, rule model.AlertRule) bool {
	for _, member := range alert.Reports {
		if member.Status == model.ReportStatusRejected {
			continue
		}
		if near(member, report, rule) {
			return true
		}
	}
	return false
}

func near(a, b model.Report, rule model.AlertRule) bool {
	if absDuration(a.ReceivedAt.Sub(b.ReceivedAt)) > rule.Window() {
		return false
	}
	return epi.DistanceKm(a.Location, b.Location) <= rule.KilometersThreshold
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
