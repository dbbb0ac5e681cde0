package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "schedule", "serve", "show", "export", "backfill", "simulate-alert", "version"} {
		assert.True(t, names[want], want)
	}
}

func TestRunFlags(t *testing.T) {
	require.NoError(t, runCmd.ParseFlags([]string{"--tickers", "INFY.NS,TCS.NS", "--period", "6mo", "--overwrite=false", "--out", "/tmp/x"}))
	opts := runOptions(runCmd)
	assert.Equal(t, []string{"INFY.NS", "TCS.NS"}, opts.Tickers)
	assert.Equal(t, "6mo", opts.Period)
	require.NotNil(t, opts.Overwrite)
	assert.False(t, *opts.Overwrite)
	assert.Equal(t, "/tmp/x", opts.OutBase)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "version: ")
	assert.Contains(t, out.String(), "commit: ")
}
