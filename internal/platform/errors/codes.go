// Package errors provides structured error handling for the runtime.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Intent errors
	CodeIntentTypeEmpty     Code = "INTENT_TYPE_EMPTY"
	CodeIntentTenantEmpty   Code = "INTENT_TENANT_EMPTY"
	CodeIntentParamsInvalid Code = "INTENT_PARAMETERS_INVALID"

	// Registry errors
	CodeHandlerNotFound          Code = "HANDLER_NOT_FOUND"
	CodeHandlerAlreadyRegistered Code = "HANDLER_ALREADY_REGISTERED"
	CodeHandlerNil               Code = "HANDLER_NIL"

	// Execution errors
	CodeExecutionNotFound          Code = "EXECUTION_NOT_FOUND"
	CodeExecutionInvalidTransition Code = "EXECUTION_INVALID_STATUS_TRANSITION"
	CodeExecutionAlreadyCompleted  Code = "EXECUTION_ALREADY_COMPLETED"
	CodeHandlerFailed              Code = "HANDLER_FAILED"
	CodeHandlerTimeout             Code = "HANDLER_TIMEOUT"

	// Journal errors
	CodeJournalPartitionEmpty Code = "JOURNAL_PARTITION_EMPTY"
	CodeJournalAppendFailed   Code = "JOURNAL_APPEND_FAILED"
	CodeJournalRangeInvalid   Code = "JOURNAL_RANGE_INVALID"

	// State surface errors
	CodeStateScopeEmpty Code = "STATE_SCOPE_EMPTY"
	CodeStateKeyEmpty   Code = "STATE_KEY_EMPTY"

	// Outbox errors
	CodeOutboxEnqueueFailed Code = "OUTBOX_ENQUEUE_FAILED"
	CodeOutboxPublishFailed Code = "OUTBOX_PUBLISH_FAILED"

	// Data brain errors
	CodeReferenceNotFound      Code = "REFERENCE_NOT_FOUND"
	CodeReferenceLocationEmpty Code = "REFERENCE_LOCATION_EMPTY"
	CodeLineageDepthInvalid    Code = "LINEAGE_DEPTH_INVALID"

	// Bulk operation errors
	CodeOperationNotFound      Code = "OPERATION_NOT_FOUND"
	CodeOperationEmptyItems    Code = "OPERATION_EMPTY_ITEMS"
	CodeOperationInvalidResume Code = "OPERATION_INVALID_RESUME_BATCH"

	// Infrastructure errors
	CodeNotFound       Code = "NOT_FOUND"
	CodeTransientInfra Code = "TRANSIENT_INFRA_FAILURE"
)

// HTTPStatus maps domain codes to HTTP status codes at the API boundary.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, bad input
	case CodeIntentTypeEmpty,
		CodeIntentTenantEmpty,
		CodeIntentParamsInvalid,
		CodeJournalPartitionEmpty,
		CodeJournalRangeInvalid,
		CodeStateScopeEmpty,
		CodeStateKeyEmpty,
		CodeReferenceLocationEmpty,
		CodeLineageDepthInvalid,
		CodeOperationEmptyItems,
		CodeOperationInvalidResume:
		return http.StatusBadRequest

	// Not found - missing entities and routing misses
	case CodeNotFound,
		CodeExecutionNotFound,
		CodeReferenceNotFound,
		CodeOperationNotFound,
		CodeHandlerNotFound:
		return http.StatusNotFound

	// Conflict - lifecycle and registration violations
	case CodeExecutionInvalidTransition,
		CodeExecutionAlreadyCompleted,
		CodeHandlerAlreadyRegistered:
		return http.StatusConflict

	// Unavailable - transient infrastructure failures
	case CodeTransientInfra:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
