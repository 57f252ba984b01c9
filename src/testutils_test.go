package ecubridge

import (
	"io"
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *log.Logger {
	return log.New(io.Discard)
}

// pflag (not unreasonably) assumes it only ever gets called once, so the
// XxxMain tests need a fresh flag set each time.
func setupPflag(args []string) {
	os.Args = args
	pflag.CommandLine = pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
}

func captureOutput(t *testing.T, command func()) string {
	t.Helper()

	var oldStdout = os.Stdout
	defer func() {
		os.Stdout = oldStdout
	}()

	var r, w, pipeErr = os.Pipe()
	require.NoError(t, pipeErr)

	os.Stdout = w

	command()

	w.Close() //nolint:gosec

	os.Stdout = oldStdout

	var outputBytes, readErr = io.ReadAll(r)

	require.NoError(t, readErr)

	return string(outputBytes)
}

func AssertOutputContains(t *testing.T, command func(), expectedOutputContains string) {
	t.Helper()

	assert.Contains(t, captureOutput(t, command), expectedOutputContains)
}

func defaultChannelConfig() ChannelConfig {
	var cfg ChannelConfig

	for i := 1; i <= NUM_CHANNELS; i++ {
		if i <= 5 {
			cfg.InputFilters = append(cfg.InputFilters, "passthrough")
		} else {
			cfg.InputFilters = append(cfg.InputFilters, "null")
		}

		cfg.OutputFilters = append(cfg.OutputFilters, "passthrough")
		cfg.Patch = append(cfg.Patch, i)
	}

	return cfg
}

func newConfiguredTable(t *testing.T) *ChannelTable {
	t.Helper()

	var ct = NewChannelTable(newTestLogger())
	require.NoError(t, ct.Configure(defaultChannelConfig()))

	return ct
}
