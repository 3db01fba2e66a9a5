package common

import (
	"encoding/json"
	"net/http"
)

type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, ErrorResponse{Error: message})
}

// RespondWithDomainError picks the status from the error and exposes rejection context.
func RespondWithDomainError(w http.ResponseWriter, err error) {
	status := HTTPStatusFromError(err)
	if rej, ok := AsRejection(err); ok {
		RespondWithJSON(w, status, ErrorResponse{Error: rej.Message, Code: rej.Code, Details: rej.Details})
		return
	}
	if status == http.StatusInternalServerError {
		RespondWithJSON(w, status, ErrorResponse{Error: "internal server error"})
		return
	}
	RespondWithJSON(w, status, ErrorResponse{Error: err.Error()})
}

func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
