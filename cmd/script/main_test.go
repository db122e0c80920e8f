package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
)

func runWithArgs(t *testing.T, args ...string) int {
	t.Helper()
	oldArgs, oldFlags := os.Args, pflag.CommandLine
	t.Cleanup(func() {
		os.Args, pflag.CommandLine = oldArgs, oldFlags
	})
	os.Args = append([]string{"script"}, args...)
	pflag.CommandLine = pflag.NewFlagSet("script", pflag.ContinueOnError)
	return run()
}

func TestRun_ExitCodes(t *testing.T) {
	assert.Equal(t, 2, runWithArgs(t, "--address", "bogus"))
	assert.Equal(t, 1, runWithArgs(t,
		"--address", "0x00000000000000000000000000000000000000aa",
		"--config-dir", filepath.Join(t.TempDir(), "missing")))
}
