package model

// Transaction is one stored decision-event observation. The natural key
// (transaction_id, evaluation_type, occurred_at) is unique; the surrogate id
// is assigned once on first insert and never regenerated.
type Transaction struct {
	ID string `gorm:"column:id;type:text;primaryKey"`

	TransactionID  string `gorm:"column:transaction_id;type:text;not null;uniqueIndex:ux_transactions_natural_key,priority:1;index"`
	EvaluationType string `gorm:"column:evaluation_type;type:text;not null;uniqueIndex:ux_transactions_natural_key,priority:2"`
	OccurredAt     string `gorm:"column:occurred_at;type:text;not null;uniqueIndex:ux_transactions_natural_key,priority:3"`

	CardID      string  `gorm:"column:card_id;type:text;not null"`
	CardLast4   *string `gorm:"column:card_last4;type:text"`
	CardNetwork *string `gorm:"column:card_network;type:text"`

	Amount   float64 `gorm:"column:amount;not null"`
	Currency string  `gorm:"column:currency;type:text;not null"`
	Country  string  `gorm:"column:country;type:text;not null"`

	MerchantID *string `gorm:"column:merchant_id;type:text"`
	MCC        *string `gorm:"column:merchant_category_code;type:text"`

	Decision       *string `gorm:"column:decision;type:text"`
	DecisionReason *string `gorm:"column:decision_reason;type:text"`
	RiskLevel      *string `gorm:"column:risk_level;type:text"`

	RulesetKey     *string `gorm:"column:ruleset_key;type:text"`
	RulesetID      *string `gorm:"column:ruleset_id;type:text"`
	RulesetVersion *int    `gorm:"column:ruleset_version"`

	VelocitySnapshotJSON string `gorm:"column:velocity_snapshot_json;type:text;not null;default:''"`
	RedactedPayloadJSON  string `gorm:"column:redacted_payload_json;type:text;not null;default:''"`

	IngestionSource string  `gorm:"column:ingestion_source;type:text;not null"`
	TraceID         string  `gorm:"column:trace_id;type:text;not null"`
	Partition       *int    `gorm:"column:stream_partition"`
	Offset          *uint64 `gorm:"column:stream_offset"`
	RequestID       *string `gorm:"column:request_id;type:text"`

	ProducedAt string `gorm:"column:produced_at;type:text;not null"`
	IngestedAt string `gorm:"column:ingested_at;type:text;not null;index"`
}

func (Transaction) TableName() string {
	return "transactions"
}
