package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	out := captureStdout(t)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	require.Contains(t, out.String(), "pcscanctl dev")
	require.Contains(t, out.String(), "commit: none")
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"simulate", "watch", "version"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err)
		require.Equal(t, name, cmd.Name())
	}
}

func TestSimulateFlagsShared(t *testing.T) {
	sim, _, err := rootCmd.Find([]string{"simulate"})
	require.NoError(t, err)
	watch, _, err := rootCmd.Find([]string{"watch"})
	require.NoError(t, err)

	for _, name := range []string{"rounds", "allocs", "workers", "min-limit", "reclaim-interval"} {
		require.NotNil(t, sim.Flags().Lookup(name), name)
		require.NotNil(t, watch.Flags().Lookup(name), name)
	}
	require.NotNil(t, watch.Flags().Lookup("interval"))
}
