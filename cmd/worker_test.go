package main

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerFlagDefaults(t *testing.T) {
	cmd := &cobra.Command{Use: "x"}
	addWorkerFlags(cmd, 45, 25)

	opts := parseWorkerOpts(cmd)
	assert.False(t, opts.Once)
	assert.Equal(t, 45*time.Second, opts.Interval)
	assert.Equal(t, 25, opts.BatchSize)
}

func TestWorkerFlagParsing(t *testing.T) {
	cmd := &cobra.Command{Use: "x"}
	addWorkerFlags(cmd, 45, 25)
	require.NoError(t, cmd.ParseFlags([]string{"--once", "--interval", "5", "--batch-size", "7"}))

	opts := parseWorkerOpts(cmd)
	assert.True(t, opts.Once)
	assert.Equal(t, 5*time.Second, opts.Interval)
	assert.Equal(t, 7, opts.BatchSize)
}

func TestAllWorkersShareInvocationContract(t *testing.T) {
	for _, cmd := range []*cobra.Command{watchCmd, importCmd, extractCmd, dedupCmd, statsCmd} {
		for _, flag := range []string{"once", "interval", "batch-size", "verbose"} {
			assert.NotNil(t, cmd.Flags().Lookup(flag), "%s missing --%s", cmd.Use, flag)
		}
	}
}
