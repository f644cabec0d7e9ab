// Package errors provides custom error types for the live-test harness.
//
// Each error type includes a constructor, Error() method, and a type-checking
// helper using errors.As for proper error unwrapping.
//
// # Error Types Overview
//
//	┌──────────────────────────┬────────┬─────────────────────────────────────┐
//	│ Error Type               │ Status │ Description                         │
//	├──────────────────────────┼────────┼─────────────────────────────────────┤
//	│ APIError                 │ any    │ glab api call failed                │
//	│ UnknownRoleError         │ -      │ Role has no configured token        │
//	│ ResourceNotFoundError    │ 404    │ Project, group or ledger entry gone │
//	└──────────────────────────┴────────┴─────────────────────────────────────┘
//
// # APIError
//
// Carries the HTTP status and the raw response of a failed glab call. glab
// only reports failures as text, so the status is recovered from the message
// with ClassifyStatus:
//
//   - "404" → 404
//   - "401" or "unauthorized" → 401
//   - "403" or "forbidden" → 403
//   - "422" → 422
//   - "429" → 429
//   - anything else → 500
//
// Timeouts produce an APIError with StatusCode 0.
//
// Usage:
//
//	if errors.IsNotFound(err) {
//	    return nil
//	}
//
// # Retry classification
//
// APIError.Retryable and IsRetryable report true only for 429, 5xx and
// status 0. Every other 4xx is final.
//
// # Type Checking Pattern
//
// All error types provide Is* helper functions that use errors.As:
//
//	wrapped := fmt.Errorf("create label: %w", errors.NewAPIError(403, "403 Forbidden", nil))
//	errors.IsForbidden(wrapped) // returns true
package errors
