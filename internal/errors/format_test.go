package errors

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForUser_BasicError(t *testing.T) {
	// Given: a TabError
	err := New(ErrCodeStoreRead, "mapping 'tabs' could not be read", nil)

	// When: formatting for user
	result := FormatForUser(err)

	// Then: contains message
	assert.Contains(t, result, "mapping 'tabs' could not be read")
	// And: contains error code at end
	assert.Contains(t, result, "[ERR_201_STORE_READ]")
}

func TestFormatForUser_WithSuggestion(t *testing.T) {
	// Given: an error with suggestion
	err := New(ErrCodeDaemonUnavailable, "daemon is not running", nil).
		WithSuggestion("Start the daemon with 'tabsense daemon'")

	// When: formatting for user
	result := FormatForUser(err)

	// Then: contains suggestion
	assert.Contains(t, result, "Suggestion:")
	assert.Contains(t, result, "tabsense daemon")
}

func TestFormatForUser_StandardError(t *testing.T) {
	// Given: a standard Go error
	err := errors.New("something went wrong")

	// When: formatting for user
	result := FormatForUser(err)

	// Then: shows generic message
	assert.Contains(t, result, "something went wrong")
}

func TestFormatForUser_NilError(t *testing.T) {
	// When: formatting nil
	result := FormatForUser(nil)

	// Then: returns empty string
	assert.Empty(t, result)
}

func TestFormatJSON_BasicError(t *testing.T) {
	// Given: a TabError with details
	err := New(ErrCodeStoreRead, "mapping read failed", nil).
		WithDetail("index", "tabs").
		WithSuggestion("Check the profile directory permissions")

	// When: formatting as JSON
	data, jsonErr := FormatJSON(err)

	// Then: valid JSON
	require.NoError(t, jsonErr)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))

	// And: contains expected fields
	assert.Equal(t, ErrCodeStoreRead, result["code"])
	assert.Equal(t, "mapping read failed", result["message"])
	assert.Equal(t, string(CategoryPersistence), result["category"])
	assert.Equal(t, string(SeverityError), result["severity"])
	assert.Equal(t, "Check the profile directory permissions", result["suggestion"])

	details, ok := result["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tabs", details["index"])
}

func TestFormatJSON_StandardError(t *testing.T) {
	// Given: a standard error
	err := errors.New("generic error")

	// When: formatting as JSON
	data, jsonErr := FormatJSON(err)

	// Then: valid JSON with internal error code
	require.NoError(t, jsonErr)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, ErrCodeInternal, result["code"])
	assert.Equal(t, "generic error", result["message"])
}

func TestFormatJSON_NilError(t *testing.T) {
	// When: formatting nil
	data, err := FormatJSON(nil)

	// Then: returns empty result
	assert.NoError(t, err)
	assert.Equal(t, "null", strings.TrimSpace(string(data)))
}

func TestFormatJSON_WithCause(t *testing.T) {
	// Given: an error with cause
	cause := errors.New("underlying error")
	err := New(ErrCodeInternal, "operation failed", cause)

	// When: formatting as JSON
	data, jsonErr := FormatJSON(err)

	// Then: includes cause
	require.NoError(t, jsonErr)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, "underlying error", result["cause"])
}

func TestFormatForCLI_IncludesCodeAndHint(t *testing.T) {
	// Given: a fatal error
	err := New(ErrCodeStoreCorrupt, "index store is corrupted", nil).
		WithSuggestion("Run 'tabsense rebuild' to recreate the index")

	// When: formatting for CLI
	result := FormatForCLI(err)

	// Then: contains error info
	assert.Contains(t, result, "index store is corrupted")
	assert.Contains(t, result, "ERR_204_STORE_CORRUPT")
	assert.Contains(t, result, "tabsense rebuild")
}

func TestFormatForCLI_ShortFormat(t *testing.T) {
	// Given: a simple error
	err := New(ErrCodeStoreRead, "store read failed", nil)

	// When: formatting for CLI
	result := FormatForCLI(err)

	// Then: is concise
	lines := strings.Split(strings.TrimSpace(result), "\n")
	assert.LessOrEqual(t, len(lines), 5, "Should be concise")
}

func TestFormatForLog_TabErrorFields(t *testing.T) {
	// Given: a TabError with detail and suggestion
	cause := errors.New("socket closed")
	err := New(ErrCodeDaemonUnavailable, "daemon gone", cause).
		WithDetail("socket", "/tmp/tabsense.sock").
		WithSuggestion("restart the daemon")

	// When: formatting for structured logging
	fields := FormatForLog(err)

	// Then: all attributes present
	assert.Equal(t, ErrCodeDaemonUnavailable, fields["error_code"])
	assert.Equal(t, string(CategoryResource), fields["category"])
	assert.Equal(t, true, fields["retryable"])
	assert.Equal(t, "socket closed", fields["cause"])
	assert.Equal(t, "restart the daemon", fields["suggestion"])
	assert.Equal(t, "/tmp/tabsense.sock", fields["detail_socket"])
}

func TestFormatForLog_StandardError(t *testing.T) {
	fields := FormatForLog(errors.New("plain"))
	assert.Equal(t, "plain", fields["error"])
}
