package decision

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Wire layout of one inbound decision event. Pointer fields distinguish
// "absent" from "zero"; unknown top-level fields are ignored for forward
// compatibility.
type wireEvent struct {
	SchemaVersion  *string          `json:"schema_version"`
	EventType      *string          `json:"event_type"`
	TransactionID  *string          `json:"transaction_id"`
	EvaluationType *string          `json:"evaluation_type"`
	OccurredAt     *string          `json:"occurred_at"`
	ProducedAt     *string          `json:"produced_at"`
	TraceID        *string          `json:"trace_id"`
	Decision       *string          `json:"decision"`
	DecisionReason *string          `json:"decision_reason"`
	RiskLevel      *string          `json:"risk_level"`
	Transaction    *wireTransaction `json:"transaction"`
	MatchedRules   []wireRuleMatch  `json:"matched_rules"`

	RulesetKey       *string        `json:"ruleset_key"`
	RulesetID        *string        `json:"ruleset_id"`
	RulesetVersion   *int           `json:"ruleset_version"`
	VelocitySnapshot map[string]any `json:"velocity_snapshot"`
	RawPayload       map[string]any `json:"raw_payload"`
}

type wireTransaction struct {
	OccurredAt  *string  `json:"occurred_at"`
	CardID      *string  `json:"card_id"`
	CardLast4   *string  `json:"card_last4"`
	CardNetwork *string  `json:"card_network"`
	Amount      *float64 `json:"amount"`
	Currency    *string  `json:"currency"`
	Country     *string  `json:"country"`
	MerchantID  *string  `json:"merchant_id"`
	MCC         *string  `json:"mcc"`
	IPAddress   *string  `json:"ip_address"`
}

type wireRuleMatch struct {
	RuleID      *string        `json:"rule_id"`
	RuleVersion *int           `json:"rule_version"`
	RuleName    *string        `json:"rule_name"`
	Matched     *bool          `json:"matched"`
	Contributed *bool          `json:"contributed"`
	Score       *float64       `json:"score"`
	Priority    *int           `json:"priority"`
	Reason      *string        `json:"match_reason"`
	Evidence    map[string]any `json:"condition_values"`
}

const eventType = "fraud.card.decision"

var (
	// Explicit offset (or Z) and at least millisecond fractional precision.
	strictTimeRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3,9}(Z|[+-]\d{2}:\d{2})$`)
	currencyRe   = regexp.MustCompile(`^[A-Z]{3}$`)
	countryRe    = regexp.MustCompile(`^[A-Z]{2}$`)
)

// Validate structurally validates one raw message body against the event
// contract. It returns the normalized event plus the fully decoded message
// as a generic map (the input to the card-data guard). Pure: no I/O, and
// identical input always yields identical output.
func Validate(raw []byte) (*Event, map[string]any, error) {
	var scanned map[string]any
	if err := json.Unmarshal(raw, &scanned); err != nil {
		return nil, nil, NewRejection(RejectSchemaInvalid, "", "body is not valid JSON")
	}

	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, nil, NewRejection(RejectSchemaInvalid, "", "body does not match event contract")
	}

	ev, err := normalize(w)
	if err != nil {
		return nil, nil, err
	}
	return ev, scanned, nil
}

func normalize(w wireEvent) (*Event, error) {
	schemaVersion, err := requiredString(w.SchemaVersion, "schema_version")
	if err != nil {
		return nil, err
	}
	typ, err := requiredString(w.EventType, "event_type")
	if err != nil {
		return nil, err
	}
	if typ != eventType {
		return nil, rejectField("event_type", fmt.Sprintf("unsupported event type %q", typ))
	}

	businessID, err := requiredString(w.TransactionID, "transaction_id")
	if err != nil {
		return nil, err
	}
	traceID, err := requiredString(w.TraceID, "trace_id")
	if err != nil {
		return nil, err
	}

	stage, err := parseStage(w.EvaluationType)
	if err != nil {
		return nil, err
	}
	producedAt, err := parseStrictTime(w.ProducedAt, "produced_at")
	if err != nil {
		return nil, err
	}

	if w.Transaction == nil {
		return nil, rejectField("transaction", "required object is missing")
	}
	tx := *w.Transaction

	occurredAt, err := parseStrictTime(tx.OccurredAt, "transaction.occurred_at")
	if err != nil {
		return nil, err
	}
	cardID, err := requiredString(tx.CardID, "transaction.card_id")
	if err != nil {
		return nil, err
	}
	if tx.Amount == nil {
		return nil, rejectField("transaction.amount", "required field is missing")
	}
	if *tx.Amount <= 0 {
		return nil, rejectField("transaction.amount", "must be greater than zero")
	}
	currency, err := requiredString(tx.Currency, "transaction.currency")
	if err != nil {
		return nil, err
	}
	if !currencyRe.MatchString(currency) {
		return nil, rejectField("transaction.currency", "must be a 3-letter uppercase ISO 4217 code")
	}
	country, err := requiredString(tx.Country, "transaction.country")
	if err != nil {
		return nil, err
	}
	if !countryRe.MatchString(country) {
		return nil, rejectField("transaction.country", "must be a 2-letter uppercase ISO 3166-1 code")
	}

	network, err := parseNetwork(tx.CardNetwork)
	if err != nil {
		return nil, err
	}
	riskLevel, err := parseRiskLevel(w.RiskLevel)
	if err != nil {
		return nil, err
	}

	outcome, reason, err := parseDecision(stage, w.Decision, w.DecisionReason)
	if err != nil {
		return nil, err
	}

	matched := make([]RuleMatch, 0, len(w.MatchedRules))
	for i, rm := range w.MatchedRules {
		norm, err := normalizeRuleMatch(rm, i)
		if err != nil {
			return nil, err
		}
		matched = append(matched, norm)
	}

	ev := &Event{
		SchemaVersion:    schemaVersion,
		BusinessID:       businessID,
		Stage:            stage,
		OccurredAt:       occurredAt,
		ProducedAt:       producedAt,
		TraceID:          traceID,
		Decision:         outcome,
		DecisionReason:   reason,
		RiskLevel:        riskLevel,
		CardID:           cardID,
		CardLast4:        tx.CardLast4,
		Network:          network,
		Amount:           *tx.Amount,
		Currency:         currency,
		Country:          country,
		MerchantID:       tx.MerchantID,
		MCC:              tx.MCC,
		IPAddress:        tx.IPAddress,
		RulesetKey:       w.RulesetKey,
		RulesetID:        w.RulesetID,
		RulesetVersion:   w.RulesetVersion,
		VelocitySnapshot: w.VelocitySnapshot,
		RawPayload:       w.RawPayload,
		MatchedRules:     matched,
	}
	return ev, nil
}

func normalizeRuleMatch(rm wireRuleMatch, idx int) (RuleMatch, error) {
	field := func(name string) string {
		return fmt.Sprintf("matched_rules[%d].%s", idx, name)
	}

	if rm.RuleID == nil || strings.TrimSpace(*rm.RuleID) == "" {
		return RuleMatch{}, rejectField(field("rule_id"), "required field is missing or empty")
	}

	version := 1
	if rm.RuleVersion != nil {
		if *rm.RuleVersion < 1 {
			return RuleMatch{}, rejectField(field("rule_version"), "must be >= 1")
		}
		version = *rm.RuleVersion
	}

	matched := true
	if rm.Matched != nil {
		matched = *rm.Matched
	}
	contributed := false
	if rm.Contributed != nil {
		contributed = *rm.Contributed
	}

	return RuleMatch{
		RuleID:      strings.TrimSpace(*rm.RuleID),
		RuleVersion: version,
		RuleName:    rm.RuleName,
		Matched:     matched,
		Contributed: contributed,
		Score:       rm.Score,
		Priority:    rm.Priority,
		Reason:      rm.Reason,
		Evidence:    rm.Evidence,
	}, nil
}

func parseStage(v *string) (Stage, error) {
	s, err := requiredString(v, "evaluation_type")
	if err != nil {
		return "", err
	}
	switch Stage(s) {
	case StageAuth, StageMonitoring:
		return Stage(s), nil
	default:
		return "", rejectField("evaluation_type", fmt.Sprintf("must be %s or %s", StageAuth, StageMonitoring))
	}
}

// parseDecision enforces the stage contract: AUTH implies a non-null
// decision and reason; MONITORING may omit both, but a present decision
// still requires a reason.
func parseDecision(stage Stage, decision *string, reason *string) (*Outcome, *Reason, error) {
	if stage == StageAuth {
		if decision == nil {
			return nil, nil, rejectField("decision", "required for AUTH events")
		}
		if reason == nil {
			return nil, nil, rejectField("decision_reason", "required for AUTH events")
		}
	}
	if decision == nil {
		if reason != nil {
			r, err := parseReason(*reason)
			if err != nil {
				return nil, nil, err
			}
			return nil, &r, nil
		}
		return nil, nil, nil
	}

	var out Outcome
	switch Outcome(*decision) {
	case OutcomeApprove, OutcomeDecline:
		out = Outcome(*decision)
	default:
		return nil, nil, rejectField("decision", fmt.Sprintf("must be %s or %s", OutcomeApprove, OutcomeDecline))
	}

	if reason == nil {
		return nil, nil, rejectField("decision_reason", "required when decision is present")
	}
	r, err := parseReason(*reason)
	if err != nil {
		return nil, nil, err
	}
	return &out, &r, nil
}

func parseReason(v string) (Reason, error) {
	switch Reason(v) {
	case ReasonRuleMatch, ReasonVelocityMatch, ReasonSystemDecline, ReasonDefaultAllow, ReasonManualReview:
		return Reason(v), nil
	default:
		return "", rejectField("decision_reason", fmt.Sprintf("unknown reason %q", v))
	}
}

func parseNetwork(v *string) (*CardNetwork, error) {
	if v == nil {
		return nil, nil
	}
	switch CardNetwork(*v) {
	case NetworkVisa, NetworkMastercard, NetworkAmex, NetworkDiscover, NetworkOther:
		n := CardNetwork(*v)
		return &n, nil
	default:
		return nil, rejectField("transaction.card_network", fmt.Sprintf("unknown network %q", *v))
	}
}

func parseRiskLevel(v *string) (*RiskLevel, error) {
	if v == nil {
		return nil, nil
	}
	switch RiskLevel(*v) {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		r := RiskLevel(*v)
		return &r, nil
	default:
		return nil, rejectField("risk_level", fmt.Sprintf("unknown risk level %q", *v))
	}
}

func parseStrictTime(v *string, field string) (time.Time, error) {
	s, err := requiredString(v, field)
	if err != nil {
		return time.Time{}, err
	}
	if !strictTimeRe.MatchString(s) {
		return time.Time{}, rejectField(field, "timestamp must be RFC 3339 with explicit offset and millisecond precision")
	}
	t, parseErr := time.Parse(time.RFC3339Nano, s)
	if parseErr != nil {
		return time.Time{}, rejectField(field, "timestamp is not a valid RFC 3339 instant")
	}
	return t, nil
}

func requiredString(v *string, field string) (string, error) {
	if v == nil {
		return "", rejectField(field, "required field is missing")
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return "", rejectField(field, "required field is empty")
	}
	return s, nil
}

func rejectField(field string, msg string) *Rejection {
	return NewRejection(RejectSchemaInvalid, field, msg)
}
