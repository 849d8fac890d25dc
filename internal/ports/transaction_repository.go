package ports

import (
	"context"
	"errors"
	"time"

	"fraudgate/internal/domain/decision"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrReviewNotFound      = errors.New("review not found")
)

// UpsertKind tells the caller what a write actually did.
type UpsertKind string

const (
	UpsertCreated UpsertKind = "CREATED"
	UpsertUpdated UpsertKind = "UPDATED"
	UpsertNoop    UpsertKind = "NOOP"
)

// UpsertOutcome reports the idempotent write result. Conflict mirrors the
// domain merge result: the write succeeded, but the redelivery carried
// differing business-field values.
type UpsertOutcome struct {
	Kind           UpsertKind
	Record         decision.Record
	Conflict       bool
	ConflictFields []string
}

// TransactionRepository is the only durable-storage surface of the
// ingestion core. Implementations must honor the composite natural key
// (business id, stage, occurred at) and the metadata-only merge semantics.
type TransactionRepository interface {
	// UpsertTransaction inserts rec, or on a natural-key conflict applies
	// decision.Merge against the stored row and persists only the metadata
	// refresh. The returned record carries the authoritative surrogate id.
	UpsertTransaction(ctx context.Context, rec decision.Record) (UpsertOutcome, error)

	// AddRuleMatches inserts rule rows idempotently on
	// (event id, rule id, rule version); duplicates are silently absorbed.
	// Returns how many rows were actually inserted.
	AddRuleMatches(ctx context.Context, rows []decision.RuleRecord) (int, error)

	// CreateReview stores the 1:1 workflow record for a fresh event.
	CreateReview(ctx context.Context, review decision.Review) error

	GetTransaction(ctx context.Context, eventID string) (decision.Record, error)
	GetTransactionByKey(ctx context.Context, businessID string, stage decision.Stage, occurredAt time.Time) (decision.Record, error)
	ListRuleMatches(ctx context.Context, eventID string) ([]decision.RuleRecord, error)
	GetReviewByEventID(ctx context.Context, eventID string) (decision.Review, error)
}
