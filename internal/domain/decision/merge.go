package decision

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// MergeResult describes what a redelivery did to an already-stored record.
type MergeResult struct {
	// Changed is false when the redelivery carried identical provenance and
	// no update needs to be written (a NOOP).
	Changed bool
	// Conflict is set when the redelivered record carried business-field
	// values differing from the stored ones. The write still succeeds
	// (metadata only); the caller surfaces an IDEMPOTENT_CONFLICT signal.
	Conflict bool
	// ConflictFields names the differing business fields, values excluded.
	ConflictFields []string
}

// Merge resolves a redelivery of an already-stored key tuple. Business
// fields always come from the existing record; only the provenance block
// and redacted payload are refreshed from the incoming one. Pure function,
// independent of any storage technology.
func Merge(existing Record, incoming Record) (Record, MergeResult) {
	result := MergeResult{ConflictFields: conflictFields(existing, incoming)}
	result.Conflict = len(result.ConflictFields) > 0

	merged := existing
	if sameProvenance(existing, incoming) {
		return merged, result
	}

	merged.Provenance = incoming.Provenance
	merged.RedactedPayload = incoming.RedactedPayload
	merged.IngestedAt = incoming.IngestedAt
	result.Changed = true
	return merged, result
}

func sameProvenance(existing Record, incoming Record) bool {
	if existing.Provenance.Source != incoming.Provenance.Source {
		return false
	}
	if existing.Provenance.TraceID != incoming.Provenance.TraceID {
		return false
	}
	if !equalPtr(existing.Provenance.Partition, incoming.Provenance.Partition) {
		return false
	}
	if !equalPtr(existing.Provenance.Offset, incoming.Provenance.Offset) {
		return false
	}
	if !equalPtr(existing.Provenance.RequestID, incoming.Provenance.RequestID) {
		return false
	}
	return equalJSON(existing.RedactedPayload, incoming.RedactedPayload)
}

func conflictFields(existing Record, incoming Record) []string {
	var fields []string
	add := func(name string, differs bool) {
		if differs {
			fields = append(fields, name)
		}
	}

	add("amount", existing.Amount != incoming.Amount)
	add("currency", existing.Currency != incoming.Currency)
	add("country", existing.Country != incoming.Country)
	add("card_id", existing.CardID != incoming.CardID)
	add("card_last4", !equalPtr(existing.CardLast4, incoming.CardLast4))
	add("card_network", !equalPtr(existing.Network, incoming.Network))
	add("merchant_id", !equalPtr(existing.MerchantID, incoming.MerchantID))
	add("mcc", !equalPtr(existing.MCC, incoming.MCC))
	add("decision", !equalPtr(existing.Decision, incoming.Decision))
	add("decision_reason", !equalPtr(existing.DecisionReason, incoming.DecisionReason))
	add("risk_level", !equalPtr(existing.RiskLevel, incoming.RiskLevel))
	add("ruleset_key", !equalPtr(existing.RulesetKey, incoming.RulesetKey))
	add("ruleset_id", !equalPtr(existing.RulesetID, incoming.RulesetID))
	add("ruleset_version", !equalPtr(existing.RulesetVersion, incoming.RulesetVersion))
	add("velocity_snapshot", !equalJSON(existing.VelocitySnapshot, incoming.VelocitySnapshot))

	return fields
}

func equalPtr[T comparable](a *T, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalJSON(a map[string]any, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	// Fall back to canonical serialization for mixed numeric types.
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ra) == string(rb)
}

// ConflictSummary renders the conflicting field names for logs and metrics.
func (m MergeResult) ConflictSummary() string {
	return fmt.Sprintf("%d business fields differ: %v", len(m.ConflictFields), m.ConflictFields)
}
