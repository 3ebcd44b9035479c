// Package core provides the CSV import engine.
//
// # Error Codes Reference
//
// This file maps technical errors to user-facing messages with a code that
// can be quoted in support requests.
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Invalid table name: empty or contains a backtick
//	IMP002 - Invalid dialect: delimiter or quote cannot be used
//	IMP003 - Column count mismatch: table exists with another width
//	IMP004 - Append declined: table exists and append was not confirmed
//	IMP005 - Import cancelled: stopped before commit, nothing was written
//	IMP006 - System busy: another import holds the store
//	IMP007 - Import not found: unknown or expired import id
//	IMP008 - Request timeout: "context deadline exceeded"
//	IMP009 - Invalid option: a request field other than the dialect is malformed
//
// # Store Errors (SAV, TBL, INS, DB)
//
//	SAV001 - Savepoint could not be opened
//	TBL001 - Table could not be created
//	TBL002 - Table not found: "no such table", "does not exist"
//	INS001 - A row could not be inserted
//	DB001  - Duplicate key: "duplicate key"
//	DB002  - Unique constraint: "unique constraint", "violates unique"
//	DB003  - Foreign key: "foreign key"
//	DB004  - Connection refused: "connection refused"
//	DB005  - Connection reset: "connection reset"
//	DB006  - Timeout: "timeout"
//	DB007  - Busy: "deadlock", "database is locked"
//	DB008  - Commit failed
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: "file too large"
//	FILE002 - Invalid CSV: "invalid csv", or the reader failed mid-import
//	FILE003 - Encoding error: "encoding error"
//	FILE004 - No file: "no file provided"
//	FILE005 - Empty file: "empty file"
//	FILE006 - Unsupported encoding
//
// # Rate Limiting
//
//	RATE001 - Too many requests: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the application logs for the
// technical error.
//
// # Matching
//
// Typed errors from this package are checked first with errors.Is and
// errors.As. Everything else is matched case-insensitively with
// strings.Contains against errorPatterns; the first match wins, so more
// specific patterns come first.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgInvalidTable = UserMessage{
		Message: "Table name is not valid",
		Action:  "Use a non-empty name without backticks",
		Code:    "IMP001",
	}
	msgInvalidDialect = UserMessage{
		Message: "Delimiter or quote character cannot be used",
		Action:  "Pick a single character that is not a line break and differs from the other",
		Code:    "IMP002",
	}
	msgInvalidOption = UserMessage{
		Message: "A request option is not valid",
		Action:  "Check the option named in the error details",
		Code:    "IMP009",
	}
	msgColumnMismatch = UserMessage{
		Message: "Table exists with a different number of columns",
		Action:  "Import into a new table or fix the file's columns",
		Code:    "IMP003",
	}
	msgAppendDeclined = UserMessage{
		Message: "Table already exists",
		Action:  "Confirm appending to the existing table or choose another name",
		Code:    "IMP004",
	}
	msgCancelled = UserMessage{
		Message: "Import was cancelled and nothing was written",
		Action:  "Start a new import when ready",
		Code:    "IMP005",
	}
	msgBusy = UserMessage{
		Message: "Another import is in progress",
		Action:  "Please wait a moment and try again",
		Code:    "IMP006",
	}
	msgSavepoint = UserMessage{
		Message: "Could not start the import on the database",
		Action:  "Check the database connection and try again",
		Code:    "SAV001",
	}
	msgCreateTable = UserMessage{
		Message: "Could not create the table",
		Action:  "Check the table and column names",
		Code:    "TBL001",
	}
	msgInsert = UserMessage{
		Message: "A row could not be inserted, nothing was written",
		Action:  "Review the row reported in the error details",
		Code:    "INS001",
	}
	msgCommit = UserMessage{
		Message: "Import could not be committed, nothing was written",
		Action:  "Please try again",
		Code:    "DB008",
	}
	msgInvalidCSV = UserMessage{
		Message: "File is not a valid CSV",
		Action:  "Check the delimiter, quote character and encoding",
		Code:    "FILE002",
	}
	msgEmptyFile = UserMessage{
		Message: "The file contains no rows",
		Action:  "Please import a CSV file with data rows",
		Code:    "FILE005",
	}
	msgUnsupportedEncoding = UserMessage{
		Message: "Text encoding is not supported",
		Action:  "Use an IANA encoding name such as UTF-8 or ISO-8859-1",
		Code:    "FILE006",
	}
)

// errorPatterns maps technical error text (case-insensitive) to user messages.
// Order matters: specific patterns before general ones.
var errorPatterns = []errorPattern{
	// Constraint errors
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A row with this key already exists",
			Action:  "Remove duplicate rows or import into a new table",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your CSV",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Review your data for duplicate key values",
			Code:    "DB002",
		},
	},
	{
		pattern: "foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Import the referenced rows first",
			Code:    "DB003",
		},
	},

	// Connection errors
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or raise the import timeout",
			Code:    "IMP008",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},

	// Table errors
	{
		pattern: "no such table",
		msg: UserMessage{
			Message: "Table not found",
			Action:  "Verify the table name is correct",
			Code:    "TBL002",
		},
	},
	{
		pattern: "does not exist",
		msg: UserMessage{
			Message: "Table not found",
			Action:  "Verify the table name is correct",
			Code:    "TBL002",
		},
	},

	// File errors
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{pattern: "invalid csv", msg: msgInvalidCSV},
	{
		pattern: "encoding error",
		msg: UserMessage{
			Message: "File could not be decoded",
			Action:  "Check the file's compression and text encoding",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV file to import",
			Code:    "FILE004",
		},
	},
	{pattern: "empty file", msg: msgEmptyFile},

	// Harness errors
	{
		pattern: "import not found",
		msg: UserMessage{
			Message: "Import not found",
			Action:  "The import may have expired. Please start a new import",
			Code:    "IMP007",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	if msg, ok := mapTypedError(err); ok {
		return msg
	}
	if msg, ok := matchPattern(err); ok {
		return msg
	}
	return defaultMessage
}

func mapTypedError(err error) (UserMessage, bool) {
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return msgCancelled, true
	case errors.Is(err, ErrTooManyImports):
		return msgBusy, true
	case errors.Is(err, ErrAppendDeclined):
		return msgAppendDeclined, true
	case errors.Is(err, ErrEmptyInput):
		return msgEmptyFile, true
	}

	var mismatch *ColumnCountMismatchError
	if errors.As(err, &mismatch) {
		return msgColumnMismatch, true
	}

	var precond *PreconditionError
	if errors.As(err, &precond) {
		switch precond.Field {
		case "table name":
			return msgInvalidTable, true
		case "encoding":
			return msgUnsupportedEncoding, true
		case "delimiter", "quote", "dialect", "profile":
			return msgInvalidDialect, true
		default:
			return msgInvalidOption, true
		}
	}

	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		// The native diagnostic is usually more specific than the stage.
		if msg, ok := matchPattern(storeErr.Err); ok {
			return msg, true
		}
		switch storeErr.Stage {
		case StageSavepoint:
			return msgSavepoint, true
		case StageCreateTable:
			return msgCreateTable, true
		case StageInsert:
			return msgInsert, true
		case StageRead:
			return msgInvalidCSV, true
		case StageCommit:
			return msgCommit, true
		}
	}
	return UserMessage{}, false
}

func matchPattern(err error) (UserMessage, bool) {
	if err == nil {
		return UserMessage{}, false
	}
	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg, true
		}
	}
	return UserMessage{}, false
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

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
// The original error is preserved for logging.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
