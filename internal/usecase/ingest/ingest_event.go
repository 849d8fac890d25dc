package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"fraudgate/internal/bootstrap/logging"
	"fraudgate/internal/domain/decision"
	"fraudgate/internal/errs"
	"fraudgate/internal/metrics"
	"fraudgate/internal/ports"
)

// IngestInput carries one raw message body plus its delivery provenance.
type IngestInput struct {
	Raw       []byte
	Source    decision.Source
	TraceID   string
	Partition *int
	Offset    *uint64
	RequestID *string
}

// IngestResult acknowledges one processed event.
type IngestResult struct {
	EventID    string
	BusinessID string
	TraceID    string
	Kind       ports.UpsertKind
	Conflict   bool
	IngestedAt time.Time
}

// IngestEvent runs one event through the full pipeline. Terminal rejections
// come back as *decision.Rejection; anything else is a store failure the
// caller may retry.
func (s *Service) IngestEvent(ctx context.Context, input IngestInput) (IngestResult, error) {
	if ctx == nil {
		return IngestResult{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return IngestResult{}, errs.Wrap(err, "check context")
	}
	if s.repo == nil || s.uow == nil {
		return IngestResult{}, errors.New("ingest service is not wired")
	}

	started := s.now()

	ev, scanned, err := decision.Validate(input.Raw)
	if err != nil {
		return IngestResult{}, s.reject(ctx, err)
	}

	ev, err = s.guard.Check(ev, scanned)
	if err != nil {
		return IngestResult{}, s.rejectGuard(ctx, err, ev)
	}

	logCtx := logging.WithEvent(ctx, ev.TraceID, ev.BusinessID)

	redacted := s.redactor.Redact(ev.RawPayload)

	traceID := strings.TrimSpace(input.TraceID)
	if traceID == "" {
		traceID = ev.TraceID
	}

	eventID, err := s.newID()
	if err != nil {
		return IngestResult{}, errs.Wrap(err, "generate event id")
	}

	ingestedAt := s.now().UTC()
	rec := buildRecord(eventID, ev, redacted, decision.Provenance{
		Source:    input.Source,
		TraceID:   traceID,
		Partition: input.Partition,
		Offset:    input.Offset,
		RequestID: input.RequestID,
	}, ingestedAt)

	writeCtx := logCtx
	if s.policy.WriteTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(logCtx, s.policy.WriteTimeout)
		defer cancel()
	}

	var outcome ports.UpsertOutcome
	if err := s.uow.WithTx(writeCtx, func(txCtx context.Context) error {
		var txErr error
		outcome, txErr = s.repo.UpsertTransaction(txCtx, rec)
		if txErr != nil {
			return txErr
		}

		if _, txErr = s.repo.AddRuleMatches(txCtx, ruleRecords(outcome.Record.ID, ev)); txErr != nil {
			return txErr
		}

		// Workflow bootstrap happens only for a first-time insert; analyst
		// work on an existing review is never touched by a redelivery.
		if outcome.Kind == ports.UpsertCreated {
			return s.bootstrapReview(txCtx, outcome.Record, ingestedAt)
		}
		return nil
	}); err != nil {
		return IngestResult{}, errs.Wrap(err, "store decision event")
	}

	if outcome.Conflict {
		metrics.IdempotentConflicts.Inc()
		logging.Warn(logCtx, "IDEMPOTENT_CONFLICT: redelivery carried differing business fields",
			slog.String("event_id", outcome.Record.ID),
			slog.Any("conflict_fields", outcome.ConflictFields),
		)
	}

	metrics.EventsIngested.WithLabelValues(string(input.Source), string(outcome.Kind)).Inc()
	metrics.IngestDuration.Observe(float64(s.now().Sub(started).Milliseconds()))

	logging.Info(logCtx, "decision event ingested",
		slog.String("event_id", outcome.Record.ID),
		slog.String("stage", string(ev.Stage)),
		slog.String("result", string(outcome.Kind)),
		slog.String("source", string(input.Source)),
	)

	return IngestResult{
		EventID:    outcome.Record.ID,
		BusinessID: ev.BusinessID,
		TraceID:    traceID,
		Kind:       outcome.Kind,
		Conflict:   outcome.Conflict,
		IngestedAt: ingestedAt,
	}, nil
}

func (s *Service) reject(ctx context.Context, err error) error {
	if rej, ok := decision.AsRejection(err); ok {
		metrics.EventsRejected.WithLabelValues(string(rej.Code)).Inc()
		logging.Warn(ctx, "decision event rejected",
			slog.String("code", string(rej.Code)),
			slog.String("field", rej.Field),
		)
	}
	return err
}

// rejectGuard logs PAN detections as security-relevant events. Field path
// only; the matched value never reaches a log line.
func (s *Service) rejectGuard(ctx context.Context, err error, ev *decision.Event) error {
	rej, ok := decision.AsRejection(err)
	if !ok {
		return err
	}

	metrics.EventsRejected.WithLabelValues(string(rej.Code)).Inc()
	attrs := []slog.Attr{
		slog.String("code", string(rej.Code)),
		slog.String("field", rej.Field),
	}
	if ev != nil {
		attrs = append(attrs, slog.String("business_id", ev.BusinessID))
	}
	if rej.Code == decision.RejectPANDetected {
		logging.Warn(ctx, "PAN_DETECTED: card data refused at ingestion boundary", attrs...)
	} else {
		logging.Warn(ctx, "card identifier policy rejection", attrs...)
	}
	return err
}

func (s *Service) bootstrapReview(ctx context.Context, rec decision.Record, at time.Time) error {
	reviewID := uuid.NewString()
	review := decision.Review{
		ID:        reviewID,
		EventID:   rec.ID,
		Status:    decision.StatusPending,
		Priority:  defaultPriority(rec),
		CreatedAt: at,
	}
	if err := s.repo.CreateReview(ctx, review); err != nil {
		return errs.Wrap(err, "bootstrap review")
	}
	return nil
}

func buildRecord(eventID string, ev *decision.Event, redacted map[string]any, prov decision.Provenance, ingestedAt time.Time) decision.Record {
	return decision.Record{
		ID:               eventID,
		BusinessID:       ev.BusinessID,
		Stage:            ev.Stage,
		OccurredAt:       ev.OccurredAt,
		CardID:           ev.CardID,
		CardLast4:        ev.CardLast4,
		Network:          ev.Network,
		Amount:           ev.Amount,
		Currency:         ev.Currency,
		Country:          ev.Country,
		MerchantID:       ev.MerchantID,
		MCC:              ev.MCC,
		Decision:         ev.Decision,
		DecisionReason:   ev.DecisionReason,
		RiskLevel:        ev.RiskLevel,
		RulesetKey:       ev.RulesetKey,
		RulesetID:        ev.RulesetID,
		RulesetVersion:   ev.RulesetVersion,
		VelocitySnapshot: ev.VelocitySnapshot,
		RedactedPayload:  redacted,
		Provenance:       prov,
		ProducedAt:       ev.ProducedAt,
		IngestedAt:       ingestedAt,
	}
}

func ruleRecords(eventID string, ev *decision.Event) []decision.RuleRecord {
	if len(ev.MatchedRules) == 0 {
		return nil
	}

	rows := make([]decision.RuleRecord, 0, len(ev.MatchedRules))
	for _, rm := range ev.MatchedRules {
		rows = append(rows, decision.RuleRecord{
			EventID:     eventID,
			RuleID:      rm.RuleID,
			RuleVersion: rm.RuleVersion,
			RuleName:    rm.RuleName,
			Matched:     rm.Matched,
			Contributed: rm.Contributed,
			Score:       rm.Score,
			Priority:    rm.Priority,
			Reason:      rm.Reason,
			Evidence:    rm.Evidence,
		})
	}
	return rows
}
