// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bureau-foundation/loom/lib/eventstore"
	"github.com/bureau-foundation/loom/lib/graph"
)

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`

	// Code carries the admission code wire name when the error is a
	// protocol rejection ("malformed_event", "unauthorized", …).
	Code string `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// respondError writes a JSON error response with the given HTTP status
// code and message.
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, errorResponse{Error: message})
}

// respondErrorf is like respondError but accepts a format string.
func respondErrorf(w http.ResponseWriter, statusCode int, format string, args ...any) {
	respondError(w, statusCode, fmt.Sprintf(format, args...))
}

// rejectionStatus maps an admission code onto an HTTP status for the
// client surface. Dependency codes map to 500: a locally built event
// cites only stored extremities, so a missing dependency means the
// server's own frontier is inconsistent, not that the client erred.
func rejectionStatus(code graph.Code) int {
	switch code {
	case graph.CodeMalformedEvent:
		return http.StatusBadRequest
	case graph.CodeUnauthorized:
		return http.StatusForbidden
	case graph.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondRejection writes a rejected admission result as its mapped
// HTTP error.
func respondRejection(w http.ResponseWriter, result graph.AdmissionResult) {
	respondJSON(w, rejectionStatus(result.Code), errorResponse{
		Error: result.Reason,
		Code:  result.Code.String(),
	})
}

// respondLookupError maps a failed store or graph lookup: unknown IDs
// and unknown rooms are 404, anything else is a storage fault.
func (a *API) respondLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, eventstore.ErrEventNotFound) || errors.Is(err, graph.ErrUnknownRoom) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	a.logger.Error("storage fault",
		"method", r.Method,
		"path", r.URL.Path,
		"error", err)
	respondError(w, http.StatusInternalServerError, err.Error())
}
