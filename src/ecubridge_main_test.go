package ecubridge

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeTCPPort(t *testing.T) int {
	t.Helper()

	var l, err = net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var port = l.Addr().(*net.TCPAddr).Port //nolint:forcetypeassert
	require.NoError(t, l.Close())

	return port
}

func TestLoadDaemonConfigFallsBackToDefaults(t *testing.T) {
	var missing = filepath.Join(t.TempDir(), "nope.yaml")

	var cfg, err = loadDaemonConfig(daemonOptions{configFile: missing}) //nolint:exhaustruct
	require.NoError(t, err)
	assert.Equal(t, DEFAULT_COMMAND_PORT, cfg.Bridge.CommandPort)
	assert.Empty(t, cfg.Path())

	_, err = loadDaemonConfig(daemonOptions{configFile: missing, configSet: true}) //nolint:exhaustruct
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = loadDaemonConfig(daemonOptions{configFile: writeConfig(t, "bridge: [")}) //nolint:exhaustruct
	assert.ErrorIs(t, err, ErrConfig)
}

func TestRunDaemon(t *testing.T) {
	var dir = t.TempDir()
	var port = freeTCPPort(t)
	var address = fmt.Sprintf("127.0.0.1:%d", port)

	var configText = fmt.Sprintf("bridge: {command_port: %d}\n", port)
	var configFile = writeConfig(t, configText)

	var opts = daemonOptions{
		configFile: configFile,
		configSet:  true,
		debug:      true,
		logFile:    filepath.Join(dir, "ecubridge.log"),
		pidFile:    filepath.Join(dir, "ecubridge.pid"),
	}

	var watch = func(context.Context, *log.Logger) (<-chan USBEvent, error) {
		return make(chan USBEvent), nil
	}

	var signals = make(chan os.Signal, 1)
	var done = make(chan error, 1)

	go func() {
		done <- runDaemon(context.Background(), opts, &fakeScanner{}, watch, signals) //nolint:exhaustruct
	}()

	require.Eventually(t, func() bool {
		var lines, err = SendCommand(address, "echo,hi", time.Second)
		return err == nil && len(lines) == 1 && lines[0] == "hi"
	}, 5*time.Second, 20*time.Millisecond)

	assert.FileExists(t, opts.pidFile)

	var status, err = SendCommand(address, "status", time.Second)
	require.NoError(t, err)
	assert.Contains(t, status, "config: "+configFile)
	assert.Contains(t, status, "   log: "+opts.logFile)
	assert.Contains(t, status, "status: USB Unplugged")

	require.NoError(t, os.WriteFile(configFile,
		[]byte(configText+"patch: [2, 1, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15]\n"), 0o600))

	signals <- syscall.SIGHUP

	require.Eventually(t, func() bool {
		var lines, mapErr = SendCommand(address, "channels,map,terse", time.Second)
		return mapErr == nil && len(lines) == NUM_CHANNELS && strings.HasSuffix(lines[0], " 2: 1")
	}, 5*time.Second, 20*time.Millisecond)

	signals <- syscall.SIGTERM

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}

	assert.NoFileExists(t, opts.pidFile)

	var logText, readErr = os.ReadFile(opts.logFile)
	require.NoError(t, readErr)
	assert.Contains(t, string(logText), "configuration reloaded")
	assert.Contains(t, string(logText), "USB cable not connected")
}

func TestRunDaemonBadConfig(t *testing.T) {
	var opts = daemonOptions{configFile: writeConfig(t, "log: {level: chatty}"), configSet: true} //nolint:exhaustruct

	var err = runDaemon(context.Background(), opts, &fakeScanner{}, nil, nil) //nolint:exhaustruct
	assert.ErrorIs(t, err, ErrConfig)
}

func TestRunDaemonPIDFileHeld(t *testing.T) {
	var pidFile = filepath.Join(t.TempDir(), "ecubridge.pid")

	var pf, err = LockPIDFile(pidFile)
	require.NoError(t, err)

	defer pf.Release()

	var opts = daemonOptions{ //nolint:exhaustruct
		configFile: writeConfig(t, fmt.Sprintf("bridge: {command_port: %d}", freeTCPPort(t))),
		configSet:  true,
		logFile:    filepath.Join(t.TempDir(), "ecubridge.log"),
		pidFile:    pidFile,
	}

	err = runDaemon(context.Background(), opts, &fakeScanner{}, nil, nil) //nolint:exhaustruct
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestEcubridgeMainVersion(t *testing.T) {
	setupPflag([]string{"ecubridge", "--version"})

	AssertOutputContains(t, EcubridgeMain, "ecubridge - Version ")
}
