package models

import (
	"errors"
	"fmt"
)

// ErrorCode classifies label reader failures. None of them is fatal to the process.
type ErrorCode string

const (
	ErrCaptureFailure        ErrorCode = "CAPTURE_FAILURE"
	ErrAnalysis              ErrorCode = "ANALYSIS_FAILURE"
	ErrQuestion              ErrorCode = "QUESTION_FAILURE"
	ErrCapabilityUnavailable ErrorCode = "CAPABILITY_UNAVAILABLE"
	ErrInvalidRequest        ErrorCode = "INVALID_REQUEST"
	ErrConflict              ErrorCode = "CONFLICT"
)

// LabelError is a structured error with a code and an optional cause.
type LabelError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *LabelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LabelError) Unwrap() error {
	return e.Err
}

// NewCaptureFailure reports a frame that could not be obtained.
func NewCaptureFailure(err error) *LabelError {
	return &LabelError{Code: ErrCaptureFailure, Message: "frame unavailable", Err: err}
}

// NewAnalysisError reports an analysis call that failed or returned unusable data.
func NewAnalysisError(msg string, err error) *LabelError {
	return &LabelError{Code: ErrAnalysis, Message: msg, Err: err}
}

// NewQuestionError reports a follow-up question that could not be answered.
func NewQuestionError(msg string, err error) *LabelError {
	return &LabelError{Code: ErrQuestion, Message: msg, Err: err}
}

// NewCapabilityUnavailable reports a missing speech or camera capability.
func NewCapabilityUnavailable(capability string) *LabelError {
	return &LabelError{Code: ErrCapabilityUnavailable, Message: capability + " unavailable"}
}

// NewInvalidRequest creates an error for bad caller input.
func NewInvalidRequest(msg string) *LabelError {
	return &LabelError{Code: ErrInvalidRequest, Message: msg}
}

// NewConflict creates an error for an operation rejected by the current state.
func NewConflict(msg string) *LabelError {
	return &LabelError{Code: ErrConflict, Message: msg}
}

// IsCode checks if err (or anything it wraps) is a LabelError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var lErr *LabelError
	if errors.As(err, &lErr) {
		return lErr.Code == code
	}
	return false
}
