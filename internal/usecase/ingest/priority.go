package ingest

import "fraudgate/internal/domain/decision"

// Priority scale: 1 is most urgent, 4 least. Default sits in the middle.
const (
	priorityCritical = 1
	priorityHigh     = 2
	priorityDefault  = 3
	priorityLow      = 4
)

// defaultPriority derives the initial review priority from risk indicators
// on the event: the risk level sets the base, and a declined outcome raises
// it to at least HIGH.
func defaultPriority(rec decision.Record) int {
	priority := priorityDefault
	if rec.RiskLevel != nil {
		switch *rec.RiskLevel {
		case decision.RiskCritical:
			priority = priorityCritical
		case decision.RiskHigh:
			priority = priorityHigh
		case decision.RiskMedium:
			priority = priorityDefault
		case decision.RiskLow:
			priority = priorityLow
		}
	}

	if rec.Decision != nil && *rec.Decision == decision.OutcomeDecline && priority > priorityHigh {
		priority = priorityHigh
	}
	return priority
}
