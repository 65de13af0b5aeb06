// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package social

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a failure class shared by every provider.
type ErrorCode string

// Error codes. The set matches what providers and socialmux itself
// report; providers may describe them differently via ErrorMessage.
const (
	ErrCodeSuccess                ErrorCode = "SUCCESS"
	ErrCodeUnknown                ErrorCode = "UNKNOWN"
	ErrCodeOffline                ErrorCode = "OFFLINE"
	ErrCodeMalformedParameters    ErrorCode = "MALFORMEDPARAMETERS"
	ErrCodeLoginBadCredentials    ErrorCode = "LOGIN_BADCREDENTIALS"
	ErrCodeLoginFailedConnection  ErrorCode = "LOGIN_FAILEDCONNECTION"
	ErrCodeLoginAlreadyOnline     ErrorCode = "LOGIN_ALREADYONLINE"
	ErrCodeSendInvalidDestination ErrorCode = "SEND_INVALIDDESTINATION"
)

// DefaultErrorMessages holds the standard description of every error
// code. Providers without their own wording return these.
var DefaultErrorMessages = map[ErrorCode]string{
	ErrCodeSuccess:                "Success!",
	ErrCodeUnknown:                "Unknown error",
	ErrCodeOffline:                "User is currently offline",
	ErrCodeMalformedParameters:    "Parameters are malformed",
	ErrCodeLoginBadCredentials:    "Error authenticating with server",
	ErrCodeLoginFailedConnection:  "Error connecting to server",
	ErrCodeLoginAlreadyOnline:     "User is already logged in",
	ErrCodeSendInvalidDestination: "Message sent to an invalid destination",
}

// DefaultErrorMessage returns the standard description of code, or the
// description of ErrCodeUnknown for codes outside the vocabulary.
func DefaultErrorMessage(code ErrorCode) string {
	if message, ok := DefaultErrorMessages[code]; ok {
		return message
	}
	return DefaultErrorMessages[ErrCodeUnknown]
}

// Error is a failure carrying a vocabulary code. Callers extract it with
// errors.As or test for a code with IsError:
//
//	var socialErr *social.Error
//	if errors.As(err, &socialErr) {
//	    if socialErr.Code == social.ErrCodeOffline { ... }
//	}
type Error struct {
	Code    ErrorCode `json:"errcode"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("social: %s: %s", e.Code, e.Message)
}

// NewError creates an Error for code using the provider's wording.
func NewError(provider Provider, code ErrorCode) *Error {
	return &Error{Code: code, Message: provider.ErrorMessage(code)}
}

// IsError reports whether err is (or wraps) an *Error with the given code.
func IsError(err error, code ErrorCode) bool {
	var socialErr *Error
	if errors.As(err, &socialErr) {
		return socialErr.Code == code
	}
	return false
}
