// Package server exposes the memory engine over HTTP: envelope encoding,
// request validation, the middleware chain, and the /v1/memory routes.
package server

import (
	"net/http"

	"github.com/engram-labs/engram/internal/jsonx"
)

// Envelope shapes. Every response is one of the two; handlers never write
// naked JSON.
type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
	Meta    any  `json:"meta,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Success bool        `json:"success"`
	Error   errorDetail `json:"error"`
}

// WriteSuccess writes {success:true, data, meta?} with the given status.
func WriteSuccess(w http.ResponseWriter, status int, data, meta any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonx.MarshalWrite(w, successEnvelope{Success: true, Data: data, Meta: meta})
}

// WriteError writes {success:false, error:{code, message, details?}} with the
// given status. Its signature matches the error hooks the auth and rate-limit
// middlewares accept, so the envelope shape lives only here.
func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonx.MarshalWrite(w, errorEnvelope{Error: errorDetail{Code: code, Message: message, Details: details}})
}
