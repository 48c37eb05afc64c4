// Package errors provides structured error handling for tabsense.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Persistence errors (durable store, disk)
//   - 3XX: Resource errors (engine/daemon/model not ready or unreachable)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
//   - 6XX: Consistency errors (graph/mapping drift)
//   - 7XX: Extraction failures (collaborator produced no text)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryPersistence indicates durable store read/write errors.
	CategoryPersistence Category = "PERSISTENCE"
	// CategoryResource indicates a required resource is not ready or unreachable.
	CategoryResource Category = "RESOURCE"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
	// CategoryConsistency indicates graph/mapping drift.
	CategoryConsistency Category = "CONSISTENCY"
	// CategoryExtraction indicates the extraction collaborator failed for a document.
	CategoryExtraction Category = "EXTRACTION"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound   = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigPermission = "ERR_103_CONFIG_PERMISSION"

	// Persistence errors (200-299)
	ErrCodeStoreRead    = "ERR_201_STORE_READ"
	ErrCodeStoreWrite   = "ERR_202_STORE_WRITE"
	ErrCodeDiskFull     = "ERR_203_DISK_FULL"
	ErrCodeStoreCorrupt = "ERR_204_STORE_CORRUPT"
	ErrCodeGraphLoad    = "ERR_205_GRAPH_LOAD"

	// Resource errors (300-399)
	ErrCodeEngineNotReady    = "ERR_301_ENGINE_NOT_READY"
	ErrCodeDaemonUnavailable = "ERR_302_DAEMON_UNAVAILABLE"
	ErrCodeModelDownload     = "ERR_303_MODEL_DOWNLOAD"
	ErrCodeRequestTimeout    = "ERR_304_REQUEST_TIMEOUT"
	ErrCodeModelLoad         = "ERR_305_MODEL_LOAD"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidVector     = "ERR_403_INVALID_VECTOR"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeInvalidOwner      = "ERR_405_INVALID_OWNER"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeChunkingFailed  = "ERR_504_CHUNKING_FAILED"
	ErrCodeIndexFailed     = "ERR_505_INDEX_FAILED"

	// Consistency errors (600-699)
	ErrCodeMappingDrift    = "ERR_601_MAPPING_DRIFT"
	ErrCodeLabelUnresolved = "ERR_602_LABEL_UNRESOLVED"

	// Extraction failures (700-799)
	ErrCodeNoContent        = "ERR_701_NO_CONTENT"
	ErrCodeExtractionFailed = "ERR_702_EXTRACTION_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "301" from "ERR_301_ENGINE_NOT_READY")
	numStr := code[4:7]
	if len(numStr) < 1 {
		return CategoryInternal
	}

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryPersistence
	case '3':
		return CategoryResource
	case '4':
		return CategoryValidation
	case '6':
		return CategoryConsistency
	case '7':
		return CategoryExtraction
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// Fatal errors
	switch code {
	case ErrCodeStoreCorrupt, ErrCodeDiskFull:
		return SeverityFatal
	}

	// Skipped documents and dropped labels degrade quietly
	switch code {
	case ErrCodeNoContent, ErrCodeExtractionFailed, ErrCodeLabelUnresolved:
		return SeverityWarning
	}

	// Retryable resource errors get warning severity
	if isRetryableCode(code) {
		return SeverityWarning
	}

	// Default to error severity
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Model load failure is deliberately absent: it leaves the engine in error
// state and is only retried by an explicit re-initialization.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEngineNotReady, ErrCodeDaemonUnavailable, ErrCodeModelDownload, ErrCodeRequestTimeout:
		return true
	default:
		return false
	}
}
