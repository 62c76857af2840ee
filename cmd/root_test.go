package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"resolve", "cluster", "cache", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "geocluster", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestResolveCommand_Flags(t *testing.T) {
	for _, name := range []string{"input", "output", "encoding", "sheet"} {
		assert.NotNil(t, resolveCmd.Flags().Lookup(name), "resolve should have --%s flag", name)
	}
}

func TestClusterCommand_Flags(t *testing.T) {
	for _, name := range []string{"input", "resolved", "epsilon-km", "csv", "xlsx", "geojson", "tsv"} {
		assert.NotNil(t, clusterCmd.Flags().Lookup(name), "cluster should have --%s flag", name)
	}

	flag := clusterCmd.Flags().Lookup("min-cluster-size")
	require.NotNil(t, flag)
	assert.Equal(t, "5", flag.DefValue)

	flag = clusterCmd.Flags().Lookup("format")
	require.NotNil(t, flag)
	assert.Equal(t, "table", flag.DefValue)
}

func TestCacheCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range cacheCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["clear"])
	assert.True(t, names["stats"])
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}
