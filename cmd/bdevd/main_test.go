package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCommandHasExpectedSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}

	for _, want := range []string{"serve", "apply", "volume"} {
		assert.True(t, names[want], "expected rootCmd to have subcommand %q", want)
	}
}

func TestVolumeCommandHasExpectedSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, cmd := range volumeCmd.Commands() {
		names[cmd.Name()] = true
	}

	for _, want := range []string{"create", "add-replica", "remove-replica", "remove", "pause", "unpause", "list", "inspect"} {
		assert.True(t, names[want], "expected volumeCmd to have subcommand %q", want)
	}
}

func TestStateName(t *testing.T) {
	tests := []struct {
		state int
		want  string
	}{
		{0, "configuring"},
		{1, "online"},
		{2, "offline"},
		{99, "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, stateName(tt.state))
	}
}
