package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fraudgate/internal/domain/decision"
	"fraudgate/internal/errs"
	"fraudgate/internal/infrastructure/persistence/sqlite/model"
	"fraudgate/internal/ports"
)

// Timestamps are stored as UTC RFC 3339 text so the natural-key index
// compares deterministically.
const timeLayout = time.RFC3339Nano

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return r.db.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), nil
}

var naturalKeyColumns = []clause.Column{
	{Name: "transaction_id"},
	{Name: "evaluation_type"},
	{Name: "occurred_at"},
}

func (r *TransactionRepository) UpsertTransaction(ctx context.Context, rec decision.Record) (ports.UpsertOutcome, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.UpsertOutcome{}, err
	}

	row, err := toTransactionRow(rec)
	if err != nil {
		return ports.UpsertOutcome{}, err
	}

	result := db.Clauses(clause.OnConflict{
		Columns:   naturalKeyColumns,
		DoNothing: true,
	}).Create(&row)
	if result.Error != nil {
		return ports.UpsertOutcome{}, errs.Wrap(result.Error, "insert transaction")
	}
	if result.RowsAffected > 0 {
		return ports.UpsertOutcome{Kind: ports.UpsertCreated, Record: rec}, nil
	}

	// Redelivery: resolve against the stored row via the pure merge.
	var existingRow model.Transaction
	if err := db.
		Where("transaction_id = ? AND evaluation_type = ? AND occurred_at = ?",
			row.TransactionID, row.EvaluationType, row.OccurredAt).
		Take(&existingRow).Error; err != nil {
		return ports.UpsertOutcome{}, errs.Wrap(err, "load conflicting transaction")
	}

	existing, err := fromTransactionRow(existingRow)
	if err != nil {
		return ports.UpsertOutcome{}, err
	}

	merged, mergeResult := decision.Merge(existing, rec)
	outcome := ports.UpsertOutcome{
		Kind:           ports.UpsertNoop,
		Record:         merged,
		Conflict:       mergeResult.Conflict,
		ConflictFields: mergeResult.ConflictFields,
	}
	if !mergeResult.Changed {
		return outcome, nil
	}

	payloadJSON, err := marshalJSONMap(merged.RedactedPayload)
	if err != nil {
		return ports.UpsertOutcome{}, errs.Wrap(err, "marshal redacted payload")
	}

	// Metadata-only refresh: business columns are never touched here.
	updates := map[string]any{
		"ingestion_source":      string(merged.Provenance.Source),
		"trace_id":              merged.Provenance.TraceID,
		"stream_partition":      merged.Provenance.Partition,
		"stream_offset":         merged.Provenance.Offset,
		"request_id":            merged.Provenance.RequestID,
		"redacted_payload_json": payloadJSON,
		"ingested_at":           merged.IngestedAt.UTC().Format(timeLayout),
	}
	if err := db.Model(&model.Transaction{}).
		Where("id = ?", existing.ID).
		Updates(updates).Error; err != nil {
		return ports.UpsertOutcome{}, errs.Wrap(err, "refresh transaction metadata")
	}

	outcome.Kind = ports.UpsertUpdated
	return outcome, nil
}

func (r *TransactionRepository) AddRuleMatches(ctx context.Context, rows []decision.RuleRecord) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	db, err := r.dbFromContext(ctx)
	if err != nil {
		return 0, err
	}

	modelRows := make([]model.RuleMatch, 0, len(rows))
	for _, rec := range rows {
		row, err := toRuleMatchRow(rec)
		if err != nil {
			return 0, err
		}
		modelRows = append(modelRows, row)
	}

	result := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "event_id"},
			{Name: "rule_id"},
			{Name: "rule_version"},
		},
		DoNothing: true,
	}).Create(&modelRows)
	if result.Error != nil {
		return 0, errs.Wrap(result.Error, "insert rule matches")
	}
	return int(result.RowsAffected), nil
}

func (r *TransactionRepository) CreateReview(ctx context.Context, review decision.Review) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	createdAt := review.CreatedAt.UTC().Format(timeLayout)
	row := model.Review{
		ID:        review.ID,
		EventID:   review.EventID,
		Status:    string(review.Status),
		Priority:  review.Priority,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if err := db.Create(&row).Error; err != nil {
		return errs.Wrap(err, "insert review")
	}
	return nil
}

func (r *TransactionRepository) GetTransaction(ctx context.Context, eventID string) (decision.Record, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return decision.Record{}, err
	}

	var row model.Transaction
	if err := db.Where("id = ?", eventID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decision.Record{}, ports.ErrTransactionNotFound
		}
		return decision.Record{}, errs.Wrap(err, "query transaction")
	}
	return fromTransactionRow(row)
}

func (r *TransactionRepository) GetTransactionByKey(ctx context.Context, businessID string, stage decision.Stage, occurredAt time.Time) (decision.Record, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return decision.Record{}, err
	}

	var row model.Transaction
	if err := db.
		Where("transaction_id = ? AND evaluation_type = ? AND occurred_at = ?",
			businessID, string(stage), occurredAt.UTC().Format(timeLayout)).
		Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decision.Record{}, ports.ErrTransactionNotFound
		}
		return decision.Record{}, errs.Wrap(err, "query transaction by key")
	}
	return fromTransactionRow(row)
}

func (r *TransactionRepository) ListRuleMatches(ctx context.Context, eventID string) ([]decision.RuleRecord, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.RuleMatch
	if err := db.
		Where("event_id = ?", eventID).
		Order("rule_id asc, rule_version asc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query rule matches")
	}

	items := make([]decision.RuleRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRuleMatchRow(row)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, nil
}

func (r *TransactionRepository) GetReviewByEventID(ctx context.Context, eventID string) (decision.Review, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return decision.Review{}, err
	}

	var row model.Review
	if err := db.Where("event_id = ?", eventID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decision.Review{}, ports.ErrReviewNotFound
		}
		return decision.Review{}, errs.Wrap(err, "query review")
	}

	createdAt, err := time.Parse(timeLayout, row.CreatedAt)
	if err != nil {
		return decision.Review{}, errs.Wrap(err, "parse review created_at")
	}
	return decision.Review{
		ID:        row.ID,
		EventID:   row.EventID,
		Status:    decision.ReviewStatus(row.Status),
		Priority:  row.Priority,
		CreatedAt: createdAt,
	}, nil
}

func toTransactionRow(rec decision.Record) (model.Transaction, error) {
	velocityJSON, err := marshalJSONMap(rec.VelocitySnapshot)
	if err != nil {
		return model.Transaction{}, errs.Wrap(err, "marshal velocity snapshot")
	}
	payloadJSON, err := marshalJSONMap(rec.RedactedPayload)
	if err != nil {
		return model.Transaction{}, errs.Wrap(err, "marshal redacted payload")
	}

	return model.Transaction{
		ID:                   rec.ID,
		TransactionID:        rec.BusinessID,
		EvaluationType:       string(rec.Stage),
		OccurredAt:           rec.OccurredAt.UTC().Format(timeLayout),
		CardID:               rec.CardID,
		CardLast4:            rec.CardLast4,
		CardNetwork:          stringPtr(rec.Network),
		Amount:               rec.Amount,
		Currency:             rec.Currency,
		Country:              rec.Country,
		MerchantID:           rec.MerchantID,
		MCC:                  rec.MCC,
		Decision:             stringPtr(rec.Decision),
		DecisionReason:       stringPtr(rec.DecisionReason),
		RiskLevel:            stringPtr(rec.RiskLevel),
		RulesetKey:           rec.RulesetKey,
		RulesetID:            rec.RulesetID,
		RulesetVersion:       rec.RulesetVersion,
		VelocitySnapshotJSON: velocityJSON,
		RedactedPayloadJSON:  payloadJSON,
		IngestionSource:      string(rec.Provenance.Source),
		TraceID:              rec.Provenance.TraceID,
		Partition:            rec.Provenance.Partition,
		Offset:               rec.Provenance.Offset,
		RequestID:            rec.Provenance.RequestID,
		ProducedAt:           rec.ProducedAt.UTC().Format(timeLayout),
		IngestedAt:           rec.IngestedAt.UTC().Format(timeLayout),
	}, nil
}

func fromTransactionRow(row model.Transaction) (decision.Record, error) {
	occurredAt, err := time.Parse(timeLayout, row.OccurredAt)
	if err != nil {
		return decision.Record{}, errs.Wrap(err, "parse occurred_at")
	}
	producedAt, err := time.Parse(timeLayout, row.ProducedAt)
	if err != nil {
		return decision.Record{}, errs.Wrap(err, "parse produced_at")
	}
	ingestedAt, err := time.Parse(timeLayout, row.IngestedAt)
	if err != nil {
		return decision.Record{}, errs.Wrap(err, "parse ingested_at")
	}

	velocity, err := unmarshalJSONMap(row.VelocitySnapshotJSON)
	if err != nil {
		return decision.Record{}, errs.Wrap(err, "parse velocity snapshot")
	}
	payload, err := unmarshalJSONMap(row.RedactedPayloadJSON)
	if err != nil {
		return decision.Record{}, errs.Wrap(err, "parse redacted payload")
	}

	return decision.Record{
		ID:               row.ID,
		BusinessID:       row.TransactionID,
		Stage:            decision.Stage(row.EvaluationType),
		OccurredAt:       occurredAt,
		CardID:           row.CardID,
		CardLast4:        row.CardLast4,
		Network:          networkPtr(row.CardNetwork),
		Amount:           row.Amount,
		Currency:         row.Currency,
		Country:          row.Country,
		MerchantID:       row.MerchantID,
		MCC:              row.MCC,
		Decision:         outcomePtr(row.Decision),
		DecisionReason:   reasonPtr(row.DecisionReason),
		RiskLevel:        riskPtr(row.RiskLevel),
		RulesetKey:       row.RulesetKey,
		RulesetID:        row.RulesetID,
		RulesetVersion:   row.RulesetVersion,
		VelocitySnapshot: velocity,
		RedactedPayload:  payload,
		Provenance: decision.Provenance{
			Source:    decision.Source(row.IngestionSource),
			TraceID:   row.TraceID,
			Partition: row.Partition,
			Offset:    row.Offset,
			RequestID: row.RequestID,
		},
		ProducedAt: producedAt,
		IngestedAt: ingestedAt,
	}, nil
}

func toRuleMatchRow(rec decision.RuleRecord) (model.RuleMatch, error) {
	evidenceJSON, err := marshalJSONMap(rec.Evidence)
	if err != nil {
		return model.RuleMatch{}, errs.Wrap(err, "marshal rule evidence")
	}

	return model.RuleMatch{
		EventID:      rec.EventID,
		RuleID:       rec.RuleID,
		RuleVersion:  rec.RuleVersion,
		RuleName:     rec.RuleName,
		Matched:      rec.Matched,
		Contributed:  rec.Contributed,
		Score:        rec.Score,
		Priority:     rec.Priority,
		MatchReason:  rec.Reason,
		EvidenceJSON: evidenceJSON,
	}, nil
}

func fromRuleMatchRow(row model.RuleMatch) (decision.RuleRecord, error) {
	evidence, err := unmarshalJSONMap(row.EvidenceJSON)
	if err != nil {
		return decision.RuleRecord{}, errs.Wrap(err, "parse rule evidence")
	}

	return decision.RuleRecord{
		EventID:     row.EventID,
		RuleID:      row.RuleID,
		RuleVersion: row.RuleVersion,
		RuleName:    row.RuleName,
		Matched:     row.Matched,
		Contributed: row.Contributed,
		Score:       row.Score,
		Priority:    row.Priority,
		Reason:      row.MatchReason,
		Evidence:    evidence,
	}, nil
}

func marshalJSONMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalJSONMap(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func stringPtr[T ~string](v *T) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func networkPtr(v *string) *decision.CardNetwork {
	if v == nil {
		return nil
	}
	n := decision.CardNetwork(*v)
	return &n
}

func outcomePtr(v *string) *decision.Outcome {
	if v == nil {
		return nil
	}
	o := decision.Outcome(*v)
	return &o
}

func reasonPtr(v *string) *decision.Reason {
	if v == nil {
		return nil
	}
	r := decision.Reason(*v)
	return &r
}

func riskPtr(v *string) *decision.RiskLevel {
	if v == nil {
		return nil
	}
	r := decision.RiskLevel(*v)
	return &r
}
