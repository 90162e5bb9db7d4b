package handlers

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC-7807-style problem document. Every non-2xx
// response from the gateway uses this shape so callers can match a
// failure back to its audit trail via correlation_id.
type Problem struct {
	Type          string                 `json:"type,omitempty"`
	Title         string                 `json:"title"`
	Status        int                    `json:"status"`
	Detail        string                 `json:"detail,omitempty"`
	Reason        string                 `json:"reason"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	DecisionID    string                 `json:"decision_id,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// WriteProblem writes a Problem document with Content-Type
// application/problem+json and the given status.
func WriteProblem(w http.ResponseWriter, status int, reason, detail, correlationID, decisionID string) {
	p := Problem{
		Title:         http.StatusText(status),
		Status:        status,
		Detail:        detail,
		Reason:        reason,
		CorrelationID: correlationID,
		DecisionID:    decisionID,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	if correlationID != "" {
		w.Header().Set("X-Correlation-Id", correlationID)
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(p)
}

// WriteJSON writes v as a plain JSON success response with status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
