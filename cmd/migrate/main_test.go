package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idealindiska/livs-backend/pkg/migrate"
)

func TestParseArgs(t *testing.T) {
	opts, err := parseArgs(nil)
	require.NoError(t, err)
	assert.Equal(t, "up", opts.command)
	assert.Equal(t, migrate.DefaultDir, opts.dir)

	opts, err = parseArgs([]string{"-dir", "db/migrations", "-name", "add surveys", "create"})
	require.NoError(t, err)
	assert.Equal(t, options{command: "create", dir: "db/migrations", name: "add surveys"}, opts)

	opts, err = parseArgs([]string{"-version", "20261002093000", "to"})
	require.NoError(t, err)
	assert.Equal(t, "20261002093000", opts.version)
}

func TestParseArgsRejectsIncompleteCommands(t *testing.T) {
	for _, args := range [][]string{
		{"create"},
		{"to"},
		{"redo"},
		{"up", "down"},
	} {
		_, err := parseArgs(args)
		assert.Error(t, err, "%v", args)
	}
}
