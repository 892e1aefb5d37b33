package session

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies the expected, caller-recoverable outcomes of engine
// operations.
type Code string

const (
	CodeValidation       Code = "VALIDATION"
	CodeSessionNotActive Code = "SESSION_NOT_ACTIVE"
	CodeTooEarly         Code = "TOO_EARLY"
	CodeTooLate          Code = "TOO_LATE"
	CodeOutOfRange       Code = "OUT_OF_RANGE"
	CodeDuplicate        Code = "DUPLICATE_CHECKIN"
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
)

// APIError is a typed engine outcome. Messages are fixed per code so they
// never leak session state or other students' check-ins.
type APIError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`

	// DistanceM is set for CodeOutOfRange, for diagnostics/logs only. It is
	// deliberately absent from the JSON body.
	DistanceM float64 `json:"-"`
}

func (e *APIError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func ErrValidation(msg string) *APIError {
	return &APIError{Code: CodeValidation, Message: msg}
}

// ErrSessionNotActive reads identically whether the session never existed,
// already ended, or was cancelled.
func ErrSessionNotActive() *APIError {
	return &APIError{Code: CodeSessionNotActive, Message: "attendance session not found or not active"}
}

func ErrTooEarly() *APIError {
	return &APIError{Code: CodeTooEarly, Message: "attendance has not opened yet"}
}

func ErrTooLate() *APIError {
	return &APIError{Code: CodeTooLate, Message: "attendance window has closed"}
}

func ErrOutOfRange(distanceM float64) *APIError {
	return &APIError{Code: CodeOutOfRange, Message: "you are not within the class vicinity", DistanceM: distanceM}
}

func ErrDuplicate() *APIError {
	return &APIError{Code: CodeDuplicate, Message: "this device or student has already marked attendance for this session"}
}

func ErrStoreUnavailable() *APIError {
	return &APIError{Code: CodeStoreUnavailable, Message: "storage unavailable, try again later"}
}

// HTTPStatus maps an engine error to a response status.
func HTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeValidation, CodeDuplicate:
			return http.StatusBadRequest
		case CodeSessionNotActive:
			return http.StatusNotFound
		case CodeTooEarly, CodeTooLate, CodeOutOfRange:
			return http.StatusForbidden
		case CodeStoreUnavailable:
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}

// CodeOf returns the engine code carried by err, or "" for untyped errors.
func CodeOf(err error) Code {
	var api *APIError
	if errors.As(err, &api) {
		return api.Code
	}
	return ""
}
