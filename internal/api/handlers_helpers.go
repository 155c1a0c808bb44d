// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/tomtom215/platebook/internal/validation"
)

// ErrCodeValidation is returned when query parameters fail validation.
const ErrCodeValidation = "VALIDATION_ERROR"

// validateRequest validates v with the shared validator and writes a 400
// VALIDATION_ERROR response when it fails. It reports whether v is valid.
//
// Example:
//
//	req := listExportsRequest{Limit: getIntParam(r, "limit", 0)}
//	if !validateRequest(w, r, &req) {
//	    return
//	}
func validateRequest(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	validationErr := validation.ValidateStruct(v)
	if validationErr == nil {
		return true
	}
	apiErr := validationErr.ToAPIError()
	var details interface{}
	if apiErr.Details != nil {
		details = apiErr.Details
	}
	respondError(w, r, http.StatusBadRequest, apiErr.Code, apiErr.Message, details, nil)
	return false
}

// getIntParam extracts an integer query parameter. A value that is not a
// number is returned as -1 so validation rejects it.
func getIntParam(r *http.Request, key string, defaultValue int) int {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return -1
	}
	return n
}
