package decision

import "time"

// Stage distinguishes the real-time authorization evaluation from the later
// monitoring/analytics evaluation of the same transaction.
type Stage string

const (
	StageAuth       Stage = "AUTH"
	StageMonitoring Stage = "MONITORING"
)

// Outcome is the engine decision for an AUTH-stage event.
type Outcome string

const (
	OutcomeApprove Outcome = "APPROVE"
	OutcomeDecline Outcome = "DECLINE"
)

// Reason explains the decision outcome.
type Reason string

const (
	ReasonRuleMatch     Reason = "RULE_MATCH"
	ReasonVelocityMatch Reason = "VELOCITY_MATCH"
	ReasonSystemDecline Reason = "SYSTEM_DECLINE"
	ReasonDefaultAllow  Reason = "DEFAULT_ALLOW"
	ReasonManualReview  Reason = "MANUAL_REVIEW"
)

type CardNetwork string

const (
	NetworkVisa       CardNetwork = "VISA"
	NetworkMastercard CardNetwork = "MASTERCARD"
	NetworkAmex       CardNetwork = "AMEX"
	NetworkDiscover   CardNetwork = "DISCOVER"
	NetworkOther      CardNetwork = "OTHER"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Source records how an event reached the ingestion core.
type Source string

const (
	SourceStream Source = "STREAM"
	SourceHTTP   Source = "HTTP"
)

// ReviewStatus is the workflow vocabulary. The ingestion core only ever
// writes StatusPending; later transitions belong to the workflow API.
type ReviewStatus string

const (
	StatusPending   ReviewStatus = "PENDING"
	StatusInReview  ReviewStatus = "IN_REVIEW"
	StatusEscalated ReviewStatus = "ESCALATED"
	StatusResolved  ReviewStatus = "RESOLVED"
	StatusClosed    ReviewStatus = "CLOSED"
)

// Event is a validated, normalized decision event ready for the guard,
// redactor and writer. Built only by Validate.
type Event struct {
	SchemaVersion string
	BusinessID    string
	Stage         Stage
	OccurredAt    time.Time
	ProducedAt    time.Time
	TraceID       string

	Decision       *Outcome
	DecisionReason *Reason
	RiskLevel      *RiskLevel

	CardID    string
	CardLast4 *string
	Network   *CardNetwork

	Amount   float64
	Currency string
	Country  string

	MerchantID *string
	MCC        *string
	IPAddress  *string

	RulesetKey     *string
	RulesetID      *string
	RulesetVersion *int

	VelocitySnapshot map[string]any
	RawPayload       map[string]any

	MatchedRules []RuleMatch
}

// RuleMatch is one rule that fired during evaluation.
type RuleMatch struct {
	RuleID      string
	RuleVersion int
	RuleName    *string
	Matched     bool
	Contributed bool
	Score       *float64
	Priority    *int
	Reason      *string
	Evidence    map[string]any
}

// Provenance describes where one delivery of an event came from.
type Provenance struct {
	Source    Source
	TraceID   string
	Partition *int
	Offset    *uint64
	RequestID *string
}

// Record is the canonical stored shape of one event observation. Business
// fields are written once; only the provenance block is refreshed on
// redelivery (see Merge).
type Record struct {
	ID         string
	BusinessID string
	Stage      Stage
	OccurredAt time.Time

	CardID    string
	CardLast4 *string
	Network   *CardNetwork

	Amount   float64
	Currency string
	Country  string

	MerchantID *string
	MCC        *string

	Decision       *Outcome
	DecisionReason *Reason
	RiskLevel      *RiskLevel

	RulesetKey     *string
	RulesetID      *string
	RulesetVersion *int

	VelocitySnapshot map[string]any
	RedactedPayload  map[string]any

	Provenance Provenance
	ProducedAt time.Time
	IngestedAt time.Time
}

// RuleRecord is the stored shape of one rule match, unique on
// (event id, rule id, rule version).
type RuleRecord struct {
	EventID     string
	RuleID      string
	RuleVersion int
	RuleName    *string
	Matched     bool
	Contributed bool
	Score       *float64
	Priority    *int
	Reason      *string
	Evidence    map[string]any
}

// Review is the 1:1 workflow record bootstrapped for each stored event.
type Review struct {
	ID        string
	EventID   string
	Status    ReviewStatus
	Priority  int
	CreatedAt time.Time
}
