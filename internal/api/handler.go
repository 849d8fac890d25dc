package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"fraudgate/internal/bootstrap/logging"
	"fraudgate/internal/domain/decision"
	"fraudgate/internal/errs"
	"fraudgate/internal/usecase/ingest"
)

const maxBodyBytes = 1 << 20

// DecisionIngestor is the slice of the ingest service the HTTP surface needs.
type DecisionIngestor interface {
	IngestEvent(ctx context.Context, input ingest.IngestInput) (ingest.IngestResult, error)
}

type Handler struct {
	svc DecisionIngestor
	db  *gorm.DB
}

func NewHandler(svc DecisionIngestor, db *gorm.DB) *Handler {
	return &Handler{svc: svc, db: db}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/v1/decision-events", h.handleIngest)
	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, errorBody{
			ErrorCode: string(decision.RejectSchemaInvalid),
			Message:   "request body could not be read",
		})
		return
	}
	if len(body) > maxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, errorBody{
			ErrorCode: string(decision.RejectSchemaInvalid),
			Message:   "request body exceeds limit",
		})
		return
	}

	requestID := middleware.GetReqID(ctx)
	input := ingest.IngestInput{
		Raw:     body,
		Source:  decision.SourceHTTP,
		TraceID: r.Header.Get("X-Trace-Id"),
	}
	if requestID != "" {
		input.RequestID = &requestID
	}

	res, err := h.svc.IngestEvent(ctx, input)
	if err != nil {
		h.writeIngestError(ctx, w, err, body, input.TraceID)
		return
	}

	writeJSON(w, http.StatusAccepted, ingestResponse{
		EventID:            res.EventID,
		BusinessID:         res.BusinessID,
		TraceID:            res.TraceID,
		Result:             string(res.Kind),
		IdempotentConflict: res.Conflict,
		IngestedAt:         res.IngestedAt,
	})
}

func (h *Handler) writeIngestError(ctx context.Context, w http.ResponseWriter, err error, body []byte, headerTrace string) {
	businessID, traceID := requestIdentity(body)
	if headerTrace != "" {
		traceID = headerTrace
	}

	if rej, ok := decision.AsRejection(err); ok {
		status := http.StatusUnprocessableEntity
		if rej.Code == decision.RejectSchemaInvalid {
			status = http.StatusBadRequest
		}
		writeError(w, status, errorBody{
			ErrorCode:  string(rej.Code),
			Message:    rej.Error(),
			BusinessID: businessID,
			TraceID:    traceID,
		})
		return
	}

	logging.Error(ctx, "ingest request failed", slog.Any("err", errs.Loggable(err)))
	writeError(w, http.StatusInternalServerError, errorBody{
		ErrorCode:  string(decision.RejectUnhandled),
		Message:    "event could not be stored",
		BusinessID: businessID,
		TraceID:    traceID,
	})
}

// requestIdentity best-effort extracts correlation ids from a possibly
// invalid body so rejection responses stay attributable.
func requestIdentity(raw []byte) (businessID string, traceID string) {
	var peek struct {
		TransactionID string `json:"transaction_id"`
		TraceID       string `json:"trace_id"`
	}
	_ = json.Unmarshal(raw, &peek)
	return peek.TransactionID, peek.TraceID
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
