package ecubridge

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
bridge:
  command_port: 6999
  command_timeout: 20ms
  data_tap_group: 239.1.2.3
  data_tap_raw: 7001
  data_tap_normal: 7002
  data_tap_output: 7003
  read_timeout: 2s
  max_retries: 5
ports:
  dl32:
    usb_slot: 3
  solodl:
    device: /dev/ttyS1
    baud: 9600
input_filters: [passthrough, passthrough, "manual 12", passthrough, passthrough,
  null, null, null, null, null, null, null, null, null, null]
patch: [2, 1, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15]
log:
  level: debug
`

func writeConfig(t *testing.T, text string) string {
	t.Helper()

	var path = filepath.Join(t.TempDir(), "ecubridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o600))

	return path
}

func TestDefaultConfigValid(t *testing.T) {
	var cfg = DefaultConfig()

	require.NoError(t, cfg.Validate())

	var ct = NewChannelTable(newTestLogger())
	require.NoError(t, ct.Configure(cfg.ChannelConfig()))
}

func TestLoadConfig(t *testing.T) {
	var path = writeConfig(t, sampleConfig)

	var cfg, err = LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path())
	assert.Equal(t, 6999, cfg.Bridge.CommandPort)
	assert.Equal(t, 20*time.Millisecond, cfg.Bridge.CommandTimeout)
	assert.Equal(t, "239.1.2.3", cfg.Bridge.TapGroup)
	assert.Equal(t, 2*time.Second, cfg.Bridge.ReadTimeout)
	assert.Equal(t, 5, cfg.Bridge.MaxRetries)
	assert.Equal(t, DEFAULT_STATUS_TIME_FMT, cfg.Bridge.StatusTimeFormat)
	assert.Equal(t, DEFAULT_TAP_INTERFACE, cfg.Bridge.TapInterface)

	assert.Equal(t, 3, cfg.Ports.DL32.USBSlot)
	assert.Equal(t, DEFAULT_BAUD, cfg.Ports.DL32.Baud)
	assert.Equal(t, "/dev/ttyS1", cfg.Ports.SoloDL.Device)
	assert.Equal(t, 9600, cfg.Ports.SoloDL.Baud)

	assert.Equal(t, "manual 12", cfg.InputFilters[2])
	assert.Len(t, cfg.OutputFilters, NUM_CHANNELS)
	assert.Equal(t, 2, cfg.Patch[0])
	assert.Equal(t, "debug", cfg.Log.Level)

	var ct = NewChannelTable(newTestLogger())
	require.NoError(t, ct.Configure(cfg.ChannelConfig()))

	var out, transformErr = ct.Transform(1, 999)
	require.NoError(t, transformErr)
	assert.Equal(t, uint32(999), out)
}

func TestLoadConfigEmptyFile(t *testing.T) {
	var cfg, err = LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	var defaults = DefaultConfig()
	assert.Equal(t, defaults.Bridge, cfg.Bridge)
	assert.Equal(t, defaults.Patch, cfg.Patch)
}

func TestLoadConfigMissingFile(t *testing.T) {
	var _, err = LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))

	assert.ErrorIs(t, err, ErrConfig)
}

func TestLoadConfigErrors(t *testing.T) {
	var cases = map[string]string{
		"bad yaml":           "bridge: [",
		"command port":       "bridge: {command_port: 70000}",
		"same tap ports":     "bridge: {data_tap_raw: 6002}",
		"unicast group":      "bridge: {data_tap_group: 10.0.0.1}",
		"zero read timeout":  "bridge: {read_timeout: 0s}",
		"negative retries":   "bridge: {max_retries: -1}",
		"bad cable":          "ports: {cable: pl2303}",
		"same device":        "ports: {dl32: {device: /dev/x}, solodl: {device: /dev/x}}",
		"bad log level":      "log: {level: chatty}",
		"bad command timing": "bridge: {command_timeout: -5ms}",
	}

	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			var _, err = LoadConfig(writeConfig(t, text))
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestChannelConfigErrorsSurfaceFromTable(t *testing.T) {
	var cfg, err = LoadConfig(writeConfig(t, "patch: [1, 1, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15]"))
	require.NoError(t, err)

	var ct = NewChannelTable(newTestLogger())
	assert.ErrorIs(t, ct.Configure(cfg.ChannelConfig()), ErrConfig)
}

func TestSampleConfigFile(t *testing.T) {
	var cfg, err = LoadConfig(filepath.Join("..", "ecubridge.yaml"))
	require.NoError(t, err)

	var defaults = DefaultConfig()
	assert.Equal(t, defaults.Bridge, cfg.Bridge)
	assert.Equal(t, defaults.Ports, cfg.Ports)
	assert.Equal(t, defaults.ChannelConfig(), cfg.ChannelConfig())
}
