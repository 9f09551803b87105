package core

// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// When users encounter errors, they can quote the error code to support staff
// for faster diagnosis.
//
// Typed errors (ValidationError, MergeError, ConflictError) and sentinels
// (ErrNotFound, ErrForbidden, ...) are recognized first with errors.As and
// errors.Is. Anything else falls through to pattern matching on the error text.
//
// # Validation Errors (VAL000-VAL099)
//
//	VAL000 - Validation failed: One or more rows are invalid
//	VAL001 - Invalid date: Invalid date format detected
//	         Action: Use YYYY-MM-DD or DD/MM/YYYY
//	VAL002 - Invalid number: Invalid number format detected
//	VAL003 - Required field: Required field is empty
//	VAL004 - Out of range: Number is outside the allowed range
//	VAL005 - Invalid email: Email address is not valid
//	VAL006 - Invalid option: Value is not in the dropdown list
//	VAL007 - Locked column: Column can only be changed by an administrator
//	VAL010 - Invalid request: The request is malformed
//
// # Merge Errors (MRG001-MRG099)
//
//	MRG001 - Duplicates: Unique column values repeat across the selected files
//	MRG002 - Dropdown values: Some values are not allowed by their column
//	MRG003 - Invalid rows: Some rows fail validation
//
// # Reservation Errors (RSV001-RSV099)
//
//	RSV001 - Conflict: Rows are reserved by another user
//
// # Lookup and Access (NF001, AUTH001-AUTH099)
//
//	NF001   - Not found: The item does not exist or was removed
//	AUTH001 - Forbidden: The action needs other permissions
//	AUTH002 - Missing identity: The request carries no user identity
//	AUTH003 - Invalid key: The API key is missing or invalid
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: A record with this ID already exists
//	        Patterns: "duplicate key", "unique constraint", "violates unique"
//	DB004 - Connection refused: Unable to connect to database
//	        Patterns: "connection refused"
//	DB005 - Connection reset: Database connection was interrupted
//	        Patterns: "connection reset"
//	DB006 - Timeout: Operation timed out
//	        Patterns: "timeout"
//	DB007 - Deadlock or busy: Database was busy with conflicting operations
//	        Patterns: "deadlock", "database is locked"
//
// # Operation Errors (OPS001-OPS099)
//
//	OPS001 - System busy: Too many merges or ingests in progress
//	OPS002 - Request cancelled: Request was cancelled
//	OPS003 - Request timeout: Request timed out
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Rate limited: Too many requests
//	          Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check application logs for the original
// technical error when users report ERR000.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

// Messages for typed errors and sentinels.
var (
	msgValidation = UserMessage{
		Message: "One or more rows are invalid",
		Action:  "Fix the listed fields and save again",
		Code:    "VAL000",
	}
	msgInvalidInput = UserMessage{
		Message: "The request is malformed",
		Action:  "Check the request and try again",
		Code:    "VAL010",
	}
	msgDuplicates = UserMessage{
		Message: "Unique values repeat across the selected files",
		Action:  "Remove the listed duplicates from the later files and merge again",
		Code:    "MRG001",
	}
	msgDropdowns = UserMessage{
		Message: "Some values are not allowed by their dropdown column",
		Action:  "Pick one of the allowed values for each listed cell",
		Code:    "MRG002",
	}
	msgMergeRows = UserMessage{
		Message: "Some rows in the selected files are invalid",
		Action:  "Fix the listed rows and merge again",
		Code:    "MRG003",
	}
	msgConflict = UserMessage{
		Message: "Some rows are reserved by another user",
		Action:  "Choose different rows or ask the holder to release them",
		Code:    "RSV001",
	}
	msgStale = UserMessage{
		Message: "The file was changed while this request was running",
		Action:  "Refresh and try again",
		Code:    "RSV002",
	}
	msgNotFound = UserMessage{
		Message: "The item does not exist or was removed",
		Action:  "Refresh and try again",
		Code:    "NF001",
	}
	msgForbidden = UserMessage{
		Message: "You do not have permission for this action",
		Action:  "Ask an administrator for help",
		Code:    "AUTH001",
	}
	msgBusy = UserMessage{
		Message: "System is busy processing other merges or imports",
		Action:  "Please wait a moment and try again",
		Code:    "OPS001",
	}
	msgCancelled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "OPS002",
	}
	msgDeadline = UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller selection or try again later",
		Code:    "OPS003",
	}
)

// fieldMessages maps the first field error of a ValidationError to a message.
var fieldMessages = map[ErrorCode]UserMessage{
	CodeInvalidDate:   {Message: "Invalid date format detected", Action: "Use YYYY-MM-DD or DD/MM/YYYY", Code: "VAL001"},
	CodeInvalidNumber: {Message: "Invalid number format detected", Action: "Remove letters and use a standard decimal format", Code: "VAL002"},
	CodeRequired:      {Message: "Required field is empty", Action: "Fill in every required column", Code: "VAL003"},
	CodeOutOfRange:    {Message: "Number is outside the allowed range", Action: "Enter a value within the column's range", Code: "VAL004"},
	CodeInvalidEmail:  {Message: "Email address is not valid", Action: "Enter an address like name@example.com", Code: "VAL005"},
	CodeInvalidOption: {Message: "Value is not in the dropdown list", Action: "Check the allowed values for this field", Code: "VAL006"},
	CodeLockedColumn:  {Message: "This column can only be changed by an administrator", Action: "Edit an editable column instead", Code: "VAL007"},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// The first matching pattern wins, so more specific patterns come first.
var errorPatterns = []errorPattern{
	// Database constraint errors
	{pattern: "duplicate key", msg: UserMessage{Message: "A record with this ID already exists", Action: "Refresh and try again", Code: "DB001"}},
	{pattern: "unique constraint", msg: UserMessage{Message: "A record with this ID already exists", Action: "Refresh and try again", Code: "DB001"}},
	{pattern: "violates unique", msg: UserMessage{Message: "A record with this ID already exists", Action: "Refresh and try again", Code: "DB001"}},

	// Database connection errors
	{pattern: "connection refused", msg: UserMessage{Message: "Unable to connect to database", Action: "Please try again in a few moments", Code: "DB004"}},
	{pattern: "connection reset", msg: UserMessage{Message: "Database connection was interrupted", Action: "Please try again", Code: "DB005"}},
	{pattern: "timeout", msg: UserMessage{Message: "Operation timed out", Action: "Please try again later", Code: "DB006"}},
	{pattern: "deadlock", msg: UserMessage{Message: "Database was busy with conflicting operations", Action: "Please try again", Code: "DB007"}},
	{pattern: "database is locked", msg: UserMessage{Message: "Database was busy with conflicting operations", Action: "Please try again", Code: "DB007"}},

	// Transport errors raised outside core
	{pattern: "missing user identity", msg: UserMessage{Message: "The request carries no user identity", Action: "Sign in through the gateway and try again", Code: "AUTH002"}},
	{pattern: "missing api key", msg: UserMessage{Message: "The API key is missing or invalid", Action: "Provide a valid X-API-Key header", Code: "AUTH003"}},
	{pattern: "invalid api key", msg: UserMessage{Message: "The API key is missing or invalid", Action: "Provide a valid X-API-Key header", Code: "AUTH003"}},
	{pattern: "rate limit", msg: UserMessage{Message: "Too many requests", Action: "Please wait a moment before trying again", Code: "RATE001"}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	msg := MapError(fmt.Errorf("get file: %w", ErrNotFound))
//	// msg.Code == "NF001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		for _, r := range verr.Rows {
			for _, fe := range r.Errors {
				if msg, ok := fieldMessages[fe.Code]; ok {
					return msg
				}
			}
		}
		if len(verr.Dropdowns) > 0 {
			return fieldMessages[CodeInvalidOption]
		}
		return msgValidation
	}

	var merr *MergeError
	if errors.As(err, &merr) {
		switch {
		case len(merr.Duplicates) > 0:
			return msgDuplicates
		case len(merr.Dropdowns) > 0:
			return msgDropdowns
		default:
			return msgMergeRows
		}
	}

	var cerr *ConflictError
	if errors.As(err, &cerr) {
		return msgConflict
	}

	switch {
	case errors.Is(err, ErrStale):
		return msgStale
	case errors.Is(err, ErrNotFound):
		return msgNotFound
	case errors.Is(err, ErrForbidden):
		return msgForbidden
	case errors.Is(err, ErrTooManyOperations):
		return msgBusy
	case errors.Is(err, ErrInvalidInput):
		return msgInvalidInput
	case errors.Is(err, context.Canceled):
		return msgCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return msgDeadline
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether an error maps to a specific message rather
// than the generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
