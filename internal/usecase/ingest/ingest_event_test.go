package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"fraudgate/internal/domain/decision"
	"fraudgate/internal/infrastructure/persistence/sqlite/model"
	"fraudgate/internal/infrastructure/persistence/sqlite/repository"
	"fraudgate/internal/infrastructure/persistence/sqlite/uow"
	"fraudgate/internal/ports"
)

type testEnv struct {
	svc  *Service
	repo *repository.TransactionRepository
}

func setupService(t *testing.T, policy Policy) testEnv {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "ingest.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&model.Transaction{}, &model.RuleMatch{}, &model.Review{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	repo := repository.NewTransactionRepository(db)
	if policy.PayloadMaxBytes == 0 {
		policy.PayloadMaxBytes = 4096
	}
	if policy.CardIDMode == "" {
		policy.CardIDMode = decision.ModeTokenOnly
	}
	if policy.PayloadAllowKeys == nil {
		policy.PayloadAllowKeys = []string{"channel", "auth_code"}
	}
	return testEnv{
		svc:  NewService(repo, uow.NewUnitOfWork(db), policy),
		repo: repo,
	}
}

func eventBody(t *testing.T, mutate func(m map[string]any)) []byte {
	t.Helper()

	m := map[string]any{
		"schema_version":  "1.0",
		"event_type":      "fraud.card.decision",
		"transaction_id":  "txn-8000",
		"evaluation_type": "AUTH",
		"produced_at":     "2026-08-01T12:00:00.125Z",
		"trace_id":        "trace-a",
		"decision":        "DECLINE",
		"decision_reason": "RULE_MATCH",
		"risk_level":      "HIGH",
		"transaction": map[string]any{
			"occurred_at": "2026-08-01T11:59:59.500Z",
			"card_id":     "tok_9f",
			"card_last4":  "4242",
			"amount":      75.25,
			"currency":    "USD",
			"country":     "US",
		},
		"matched_rules": []any{
			map[string]any{"rule_id": "velocity-card-1h", "rule_version": 3},
		},
		"raw_payload": map[string]any{
			"channel":    "ecommerce",
			"cardholder": "J. Doe",
		},
	}
	if mutate != nil {
		mutate(m)
	}
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return raw
}

func streamInput(raw []byte, partition int, offset uint64) IngestInput {
	return IngestInput{
		Raw:       raw,
		Source:    decision.SourceStream,
		Partition: &partition,
		Offset:    &offset,
	}
}

func TestIngestFreshEventCreatesEverything(t *testing.T) {
	env := setupService(t, Policy{})
	ctx := context.Background()

	res, err := env.svc.IngestEvent(ctx, streamInput(eventBody(t, nil), 1, 10))
	if err != nil {
		t.Fatalf("IngestEvent() error = %v", err)
	}
	if res.Kind != ports.UpsertCreated {
		t.Fatalf("Kind = %q, want CREATED", res.Kind)
	}
	if res.EventID == "" {
		t.Fatalf("EventID is empty")
	}

	rec, err := env.repo.GetTransaction(ctx, res.EventID)
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if rec.BusinessID != "txn-8000" {
		t.Fatalf("BusinessID = %q", rec.BusinessID)
	}
	if rec.Provenance.Source != decision.SourceStream {
		t.Fatalf("Provenance.Source = %q", rec.Provenance.Source)
	}
	if rec.Provenance.Offset == nil || *rec.Provenance.Offset != 10 {
		t.Fatalf("Provenance.Offset = %v", rec.Provenance.Offset)
	}
	if _, ok := rec.RedactedPayload["cardholder"]; ok {
		t.Fatalf("cardholder leaked into redacted payload")
	}
	if rec.RedactedPayload["channel"] != "ecommerce" {
		t.Fatalf("RedactedPayload = %v", rec.RedactedPayload)
	}
	// TOKEN_ONLY strips last4 before storage.
	if rec.CardLast4 != nil {
		t.Fatalf("CardLast4 = %q, want stripped", *rec.CardLast4)
	}

	rules, err := env.repo.ListRuleMatches(ctx, res.EventID)
	if err != nil {
		t.Fatalf("ListRuleMatches() error = %v", err)
	}
	if len(rules) != 1 || rules[0].RuleID != "velocity-card-1h" {
		t.Fatalf("rules = %+v", rules)
	}

	review, err := env.repo.GetReviewByEventID(ctx, res.EventID)
	if err != nil {
		t.Fatalf("GetReviewByEventID() error = %v", err)
	}
	if review.Status != decision.StatusPending {
		t.Fatalf("review.Status = %q, want PENDING", review.Status)
	}
	if review.Priority != 2 {
		t.Fatalf("review.Priority = %d, want 2 for HIGH risk", review.Priority)
	}
}

func TestIngestIdenticalRedeliveryIsNoop(t *testing.T) {
	env := setupService(t, Policy{})
	ctx := context.Background()
	raw := eventBody(t, nil)

	first, err := env.svc.IngestEvent(ctx, streamInput(raw, 1, 10))
	if err != nil {
		t.Fatalf("first IngestEvent() error = %v", err)
	}

	second, err := env.svc.IngestEvent(ctx, streamInput(raw, 1, 10))
	if err != nil {
		t.Fatalf("second IngestEvent() error = %v", err)
	}
	if second.Kind != ports.UpsertNoop {
		t.Fatalf("Kind = %q, want NOOP", second.Kind)
	}
	if second.EventID != first.EventID {
		t.Fatalf("EventID = %q, want stable %q", second.EventID, first.EventID)
	}
	if second.Conflict {
		t.Fatalf("Conflict = true, want false")
	}

	rules, err := env.repo.ListRuleMatches(ctx, first.EventID)
	if err != nil {
		t.Fatalf("ListRuleMatches() error = %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("rules duplicated on redelivery: %d", len(rules))
	}
}

func TestIngestConflictingRedeliveryWarnsButSucceeds(t *testing.T) {
	env := setupService(t, Policy{})
	ctx := context.Background()

	first, err := env.svc.IngestEvent(ctx, streamInput(eventBody(t, nil), 1, 10))
	if err != nil {
		t.Fatalf("first IngestEvent() error = %v", err)
	}

	conflicting := eventBody(t, func(m map[string]any) {
		m["transaction"].(map[string]any)["amount"] = 999.99
	})
	second, err := env.svc.IngestEvent(ctx, streamInput(conflicting, 2, 55))
	if err != nil {
		t.Fatalf("conflicting IngestEvent() error = %v", err)
	}
	if second.Kind != ports.UpsertUpdated {
		t.Fatalf("Kind = %q, want UPDATED", second.Kind)
	}
	if !second.Conflict {
		t.Fatalf("Conflict = false, want IDEMPOTENT_CONFLICT signal")
	}

	rec, err := env.repo.GetTransaction(ctx, first.EventID)
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if rec.Amount != 75.25 {
		t.Fatalf("Amount = %v, stored value must win", rec.Amount)
	}
	if rec.Provenance.Offset == nil || *rec.Provenance.Offset != 55 {
		t.Fatalf("Provenance.Offset = %v, want refreshed", rec.Provenance.Offset)
	}
}

func TestIngestRedeliveryDoesNotDuplicateReview(t *testing.T) {
	env := setupService(t, Policy{})
	ctx := context.Background()

	first, err := env.svc.IngestEvent(ctx, streamInput(eventBody(t, nil), 1, 10))
	if err != nil {
		t.Fatalf("first IngestEvent() error = %v", err)
	}
	review, err := env.repo.GetReviewByEventID(ctx, first.EventID)
	if err != nil {
		t.Fatalf("GetReviewByEventID() error = %v", err)
	}

	if _, err := env.svc.IngestEvent(ctx, streamInput(eventBody(t, nil), 3, 77)); err != nil {
		t.Fatalf("redelivery IngestEvent() error = %v", err)
	}

	again, err := env.repo.GetReviewByEventID(ctx, first.EventID)
	if err != nil {
		t.Fatalf("GetReviewByEventID() after redelivery error = %v", err)
	}
	if again.ID != review.ID {
		t.Fatalf("review replaced on redelivery: %q -> %q", review.ID, again.ID)
	}
}

func TestIngestBothStagesOfOneTransaction(t *testing.T) {
	env := setupService(t, Policy{})
	ctx := context.Background()

	auth, err := env.svc.IngestEvent(ctx, streamInput(eventBody(t, nil), 1, 10))
	if err != nil {
		t.Fatalf("auth IngestEvent() error = %v", err)
	}

	monitoring := eventBody(t, func(m map[string]any) {
		m["evaluation_type"] = "MONITORING"
		m["trace_id"] = "trace-b"
		delete(m, "decision")
		delete(m, "decision_reason")
		m["transaction"].(map[string]any)["occurred_at"] = "2026-08-01T13:10:00.000Z"
	})
	mon, err := env.svc.IngestEvent(ctx, streamInput(monitoring, 1, 11))
	if err != nil {
		t.Fatalf("monitoring IngestEvent() error = %v", err)
	}
	if mon.Kind != ports.UpsertCreated {
		t.Fatalf("Kind = %q, want CREATED for second stage", mon.Kind)
	}
	if mon.EventID == auth.EventID {
		t.Fatalf("stages share one surrogate id")
	}

	// Each stored event carries its own workflow record.
	for _, id := range []string{auth.EventID, mon.EventID} {
		if _, err := env.repo.GetReviewByEventID(ctx, id); err != nil {
			t.Fatalf("GetReviewByEventID(%q) error = %v", id, err)
		}
	}
}

func TestIngestRejectsPAN(t *testing.T) {
	env := setupService(t, Policy{})
	ctx := context.Background()

	raw := eventBody(t, func(m map[string]any) {
		m["raw_payload"].(map[string]any)["memo"] = "4111111111111111"
	})
	_, err := env.svc.IngestEvent(ctx, streamInput(raw, 1, 10))
	rej, ok := decision.AsRejection(err)
	if !ok {
		t.Fatalf("error = %v, want rejection", err)
	}
	if rej.Code != decision.RejectPANDetected {
		t.Fatalf("Code = %q, want PAN_DETECTED", rej.Code)
	}

	// Nothing from the refused message reaches storage.
	occurredAt := time.Date(2026, 8, 1, 11, 59, 59, 500_000_000, time.UTC)
	if _, err := env.repo.GetTransactionByKey(ctx, "txn-8000", decision.StageAuth, occurredAt); !errors.Is(err, ports.ErrTransactionNotFound) {
		t.Fatalf("GetTransactionByKey() error = %v, want not found", err)
	}
}

func TestIngestRejectsSchemaInvalid(t *testing.T) {
	env := setupService(t, Policy{})
	ctx := context.Background()

	raw := eventBody(t, func(m map[string]any) {
		delete(m, "trace_id")
	})
	_, err := env.svc.IngestEvent(ctx, streamInput(raw, 1, 10))
	rej, ok := decision.AsRejection(err)
	if !ok {
		t.Fatalf("error = %v, want rejection", err)
	}
	if rej.Code != decision.RejectSchemaInvalid {
		t.Fatalf("Code = %q, want SCHEMA_INVALID", rej.Code)
	}
}

func TestIngestTokenPlusLast4Policy(t *testing.T) {
	env := setupService(t, Policy{CardIDMode: decision.ModeTokenPlusLast4})
	ctx := context.Background()

	res, err := env.svc.IngestEvent(ctx, streamInput(eventBody(t, nil), 1, 10))
	if err != nil {
		t.Fatalf("IngestEvent() error = %v", err)
	}
	rec, err := env.repo.GetTransaction(ctx, res.EventID)
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if rec.CardLast4 == nil || *rec.CardLast4 != "4242" {
		t.Fatalf("CardLast4 = %v, want 4242 retained", rec.CardLast4)
	}

	missing := eventBody(t, func(m map[string]any) {
		delete(m["transaction"].(map[string]any), "card_last4")
	})
	_, err = env.svc.IngestEvent(ctx, streamInput(missing, 1, 11))
	rej, ok := decision.AsRejection(err)
	if !ok {
		t.Fatalf("error = %v, want rejection", err)
	}
	if rej.Code != decision.RejectBadLast4 {
		t.Fatalf("Code = %q, want MISSING_OR_INVALID_LAST4", rej.Code)
	}
}

func TestDefaultPriority(t *testing.T) {
	outcome := func(o decision.Outcome) *decision.Outcome { return &o }
	risk := func(r decision.RiskLevel) *decision.RiskLevel { return &r }

	tests := []struct {
		name string
		rec  decision.Record
		want int
	}{
		{name: "no signals", rec: decision.Record{}, want: 3},
		{name: "critical risk", rec: decision.Record{RiskLevel: risk(decision.RiskCritical)}, want: 1},
		{name: "high risk", rec: decision.Record{RiskLevel: risk(decision.RiskHigh)}, want: 2},
		{name: "medium risk", rec: decision.Record{RiskLevel: risk(decision.RiskMedium)}, want: 3},
		{name: "low risk", rec: decision.Record{RiskLevel: risk(decision.RiskLow)}, want: 4},
		{
			name: "decline raises low risk",
			rec:  decision.Record{RiskLevel: risk(decision.RiskLow), Decision: outcome(decision.OutcomeDecline)},
			want: 2,
		},
		{
			name: "decline never lowers critical",
			rec:  decision.Record{RiskLevel: risk(decision.RiskCritical), Decision: outcome(decision.OutcomeDecline)},
			want: 1,
		},
		{
			name: "approve leaves default",
			rec:  decision.Record{Decision: outcome(decision.OutcomeApprove)},
			want: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := defaultPriority(tt.rec); got != tt.want {
				t.Fatalf("defaultPriority() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIngestHTTPSourceProvenance(t *testing.T) {
	env := setupService(t, Policy{})
	ctx := context.Background()

	requestID := "req-1"
	res, err := env.svc.IngestEvent(ctx, IngestInput{
		Raw:       eventBody(t, nil),
		Source:    decision.SourceHTTP,
		TraceID:   "edge-trace",
		RequestID: &requestID,
	})
	if err != nil {
		t.Fatalf("IngestEvent() error = %v", err)
	}
	if res.TraceID != "edge-trace" {
		t.Fatalf("TraceID = %q, want caller trace to win", res.TraceID)
	}

	rec, err := env.repo.GetTransaction(ctx, res.EventID)
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if rec.Provenance.Source != decision.SourceHTTP {
		t.Fatalf("Provenance.Source = %q", rec.Provenance.Source)
	}
	if rec.Provenance.RequestID == nil || *rec.Provenance.RequestID != "req-1" {
		t.Fatalf("Provenance.RequestID = %v", rec.Provenance.RequestID)
	}
	if rec.Provenance.Partition != nil {
		t.Fatalf("Provenance.Partition = %v, want nil for HTTP", *rec.Provenance.Partition)
	}
}
