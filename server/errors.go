package server

import "fmt"

// Flow error codes surfaced in redirect URLs after a failed login attempt.
// The underlying cause is logged server-side only; these codes are the whole
// of what the browser sees.
const (
	// ErrCodeProvider: the provider returned an explicit error parameter.
	ErrCodeProvider = "provider_error"
	// ErrCodeMalformedCallback: code or state missing from the callback.
	ErrCodeMalformedCallback = "malformed_callback"
	// ErrCodeInvalidState: stored state absent or not equal to the received
	// one. Deliberately a single code for both cases so the response gives
	// no oracle for which check failed.
	ErrCodeInvalidState = "invalid_state"
	// ErrCodeTokenExchange: the code-for-token exchange failed.
	ErrCodeTokenExchange = "token_exchange_failed"
	// ErrCodeUserinfo: identity claims could not be fetched.
	ErrCodeUserinfo = "userinfo_failed"
	// ErrCodeLoginFailed: any other terminal failure completing the login.
	ErrCodeLoginFailed = "login_failed"
)

// FlowError pairs a public redirect code with a private cause.
type FlowError struct {
	Code  string
	cause error
}

func (e *FlowError) Error() string {
	if e.cause == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.cause)
}

func (e *FlowError) Unwrap() error { return e.cause }

func flowErr(code string, cause error) *FlowError {
	return &FlowError{Code: code, cause: cause}
}
