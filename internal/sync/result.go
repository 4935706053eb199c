package sync

import (
	"errors"

	"github.com/ledgersync/expsync/internal/db"
	"github.com/ledgersync/expsync/internal/schema"
)

// ErrorCode classifies a failed operation for the client.
type ErrorCode string

const (
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeForbidden        ErrorCode = "FORBIDDEN"
	CodeInvalidOperation ErrorCode = "INVALID_OPERATION"
	CodeStorageFailure   ErrorCode = "STORAGE_FAILURE"
)

// Classify maps an operation error to its ErrorCode.
func Classify(err error) ErrorCode {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, db.ErrForbidden):
		return CodeForbidden
	case errors.Is(err, schema.ErrInvalid):
		return CodeInvalidOperation
	default:
		return CodeStorageFailure
	}
}

// Result is the outcome of one operation in a batch.
//
// On success Data holds the stored expense (CREATE, UPDATE) or a
// DeleteResult. On failure Error, Code and Operation are set. LocalID echoes
// the request in both cases.
type Result struct {
	Success   bool                  `json:"success"`
	Data      any                   `json:"data,omitempty"`
	Error     string                `json:"error,omitempty"`
	Code      ErrorCode             `json:"code,omitempty"`
	Operation *schema.SyncOperation `json:"operation,omitempty"`
	LocalID   string                `json:"localId,omitempty"`
}

// DeleteResult is the success payload of a DELETE.
type DeleteResult struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// Summary counts the outcomes of a batch.
type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Summarize counts successes and failures. Total always equals
// Successful + Failed.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Success {
			s.Successful++
		} else {
			s.Failed++
		}
	}
	return s
}
