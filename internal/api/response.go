package api

import (
	"encoding/json"
	"net/http"
	"time"
)

type ingestResponse struct {
	EventID            string    `json:"event_id"`
	BusinessID         string    `json:"business_id"`
	TraceID            string    `json:"trace_id"`
	Result             string    `json:"result"`
	IdempotentConflict bool      `json:"idempotent_conflict"`
	IngestedAt         time.Time `json:"ingested_at"`
}

type errorBody struct {
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	BusinessID string `json:"business_id,omitempty"`
	TraceID    string `json:"trace_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, body)
}
