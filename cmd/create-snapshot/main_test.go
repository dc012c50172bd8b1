package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chainguard-dev/ec2ops/internal/cli"
)

func TestCommandArguments(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		stderr string
	}{
		{name: "no arguments", args: nil, stderr: "Usage:"},
		{name: "missing description", args: []string{"-i", "i-0abc"}, stderr: `"description" not set`},
		{name: "missing instances", args: []string{"-d", "nightly"}, stderr: `"instances" not set`},
		{name: "partial credentials", args: []string{"-i", "i-0abc", "-d", "nightly", "--awssecret", "s"}, stderr: "--awskey and --awssecret"},
		{name: "stray argument", args: []string{"-i", "i-0abc", "-d", "nightly", "extra"}, stderr: "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, 1, cli.Execute(newCommand(), tt.args, &stdout, &stderr))
			assert.Contains(t, stderr.String(), tt.stderr)
		})
	}
}

func TestInstancesFlag(t *testing.T) {
	cmd := newCommand()
	err := cmd.ParseFlags([]string{"-i", "i-0abc,i-0def", "--instances", "i-0123", "-d", "nightly"})
	assert.NoError(t, err)
	got, err := cmd.Flags().GetStringSlice("instances")
	assert.NoError(t, err)
	assert.Equal(t, []string{"i-0abc", "i-0def", "i-0123"}, got)
}
