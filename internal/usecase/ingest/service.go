package ingest

import (
	"time"

	"github.com/google/uuid"

	"fraudgate/internal/domain/decision"
	"fraudgate/internal/ports"
)

// Policy is the immutable ingestion configuration threaded into the
// validator, guard and redactor. Built once at bootstrap.
type Policy struct {
	CardIDMode       decision.CardIDMode
	PayloadAllowKeys []string
	PayloadMaxBytes  int
	WriteTimeout     time.Duration
}

// Service drives one event through validation, the card-data guard, payload
// redaction and the atomic store write. Both the stream path and the HTTP
// path go through here, so the composite-key conflict resolution is the
// only concurrency control the core needs.
type Service struct {
	repo     ports.TransactionRepository
	uow      ports.UnitOfWork
	guard    *decision.Guard
	redactor *decision.Redactor
	policy   Policy

	now   func() time.Time
	newID func() (string, error)
}

func NewService(repo ports.TransactionRepository, uow ports.UnitOfWork, policy Policy) *Service {
	return &Service{
		repo:     repo,
		uow:      uow,
		guard:    decision.NewGuard(policy.CardIDMode),
		redactor: decision.NewRedactor(policy.PayloadAllowKeys, policy.PayloadMaxBytes),
		policy:   policy,
		now:      time.Now,
		newID:    newEventID,
	}
}

// Surrogate ids are UUIDv7: time-ordered, assigned once, never regenerated.
func newEventID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
