package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabsense/tabsense/internal/ui"
)

func TestStatusCmd_NotRunning(t *testing.T) {
	// Given: a fresh profile with no daemon
	isolateConfig(t)

	cmd := newStatusCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--no-color"})

	// When: asking for status
	err := cmd.Execute()

	// Then: the stopped state is rendered
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "stopped")
}

func TestStatusCmd_NotRunningJSON(t *testing.T) {
	// Given: a fresh profile with no daemon
	isolateConfig(t)

	cmd := newStatusCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--json"})

	// When: asking for status as JSON
	err := cmd.Execute()

	// Then: the result decodes with running=false
	require.NoError(t, err)
	var info ui.StatusInfo
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	assert.False(t, info.Running)
}
