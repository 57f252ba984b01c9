package ecubridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errScanFailed = errors.New("scan failed")

// fakeScanner is shared between a test and a running bridge loop.
type fakeScanner struct {
	mu   sync.Mutex
	usb  []USBDevice
	ttys []TTYDevice
	err  error
}

func (f *fakeScanner) USBDevices() ([]USBDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]USBDevice(nil), f.usb...), f.err
}

func (f *fakeScanner) TTYDevices() ([]TTYDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]TTYDevice(nil), f.ttys...), f.err
}

func (f *fakeScanner) plug() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.usb = []USBDevice{
		{Syspath: "/sys/devices/hub/1-1", VendorID: "1d6b", ProductID: "0002"},                                                          //nolint:exhaustruct
		{Syspath: "/sys/devices/hub/1-2", VendorID: "0403", ProductID: "6011", Serial: "FT1234", Manufacturer: "FTDI", Product: "Quad"}, //nolint:exhaustruct
	}

	f.ttys = nil
	for i := 3; i >= 0; i-- {
		f.ttys = append(f.ttys, TTYDevice{
			Devnode:   "/dev/ttyUSB" + string(rune('4'+i)),
			VendorID:  "0403",
			ProductID: "6011",
			Serial:    "FT1234",
			Interface: i,
		})
	}

	f.ttys = append(f.ttys, TTYDevice{Devnode: "/dev/ttyUSB0", VendorID: "067b", ProductID: "2303"}) //nolint:exhaustruct
}

func (f *fakeScanner) unplug() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.usb = f.usb[:1]
	f.ttys = f.ttys[len(f.ttys)-1:]
}

func TestParseUSBEventKind(t *testing.T) {
	assert.Equal(t, USBEventAdd, ParseUSBEventKind("add"))
	assert.Equal(t, USBEventRemove, ParseUSBEventKind("REMOVE"))
	assert.Equal(t, USBEventOffline, ParseUSBEventKind(" offline"))
	assert.Equal(t, USBEventUnknown, ParseUSBEventKind("bind"))
	assert.Equal(t, "move", USBEventMove.String())
}

func TestCableMonitorInitialScan(t *testing.T) {
	var scanner = &fakeScanner{} //nolint:exhaustruct
	scanner.plug()

	var cm = NewCableMonitor(scanner, nil, time.Second, newTestLogger())

	assert.True(t, cm.Connected())
	assert.Contains(t, cm.Details(), "serial FT1234")
	assert.Contains(t, cm.Details(), "0403:6011")

	scanner.unplug()

	var state, err = cm.Scan()
	require.NoError(t, err)
	assert.Equal(t, CableDisconnected, state)
	assert.Equal(t, "not connected", cm.Details())
}

func TestCableMonitorRescanIsAuthoritative(t *testing.T) {
	var scanner = &fakeScanner{} //nolint:exhaustruct
	var cm = NewCableMonitor(scanner, nil, time.Second, newTestLogger())

	assert.False(t, cm.Connected())

	// A remove event while the cable is actually there still leaves us connected.
	scanner.plug()

	var state, err = cm.HandleEvent(USBEvent{Kind: USBEventRemove}) //nolint:exhaustruct
	require.NoError(t, err)
	assert.Equal(t, CableConnected, state)

	scanner.unplug()

	state, err = cm.HandleEvent(USBEvent{Kind: USBEventAdd}) //nolint:exhaustruct
	require.NoError(t, err)
	assert.Equal(t, CableDisconnected, state)
}

func TestCableMonitorScanError(t *testing.T) {
	var scanner = &fakeScanner{} //nolint:exhaustruct
	scanner.plug()

	var cm = NewCableMonitor(scanner, nil, time.Second, newTestLogger())
	require.True(t, cm.Connected())

	scanner.err = errScanFailed

	var state, err = cm.HandleEvent(USBEvent{Kind: USBEventChange}) //nolint:exhaustruct
	assert.ErrorIs(t, err, errScanFailed)
	assert.Equal(t, CableDisconnected, state)
}

func TestCableMonitorWaitForEvents(t *testing.T) {
	var scanner = &fakeScanner{} //nolint:exhaustruct
	var events = make(chan USBEvent, 1)
	var cm = NewCableMonitor(scanner, events, 10*time.Millisecond, newTestLogger())

	scanner.plug()
	events <- USBEvent{Kind: USBEventAdd, Syspath: "/sys/devices/hub/1-2"}

	var state, err = cm.WaitForEvents(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, CableConnected, state)
}

func TestCableMonitorWaitForEventsRetries(t *testing.T) {
	var cm = NewCableMonitor(&fakeScanner{}, make(chan USBEvent), 5*time.Millisecond, newTestLogger()) //nolint:exhaustruct

	var start = time.Now()
	var _, err = cm.WaitForEvents(context.Background(), 3)

	assert.ErrorIs(t, err, ErrReadTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestCableMonitorWaitForEventsCancel(t *testing.T) {
	var cm = NewCableMonitor(&fakeScanner{}, make(chan USBEvent), time.Millisecond, newTestLogger()) //nolint:exhaustruct

	var ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var _, err = cm.WaitForEvents(ctx, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCableMonitorWaitWithoutEvents(t *testing.T) {
	var cm = NewCableMonitor(&fakeScanner{}, nil, time.Millisecond, newTestLogger()) //nolint:exhaustruct

	var _, err = cm.WaitForEvents(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotReady)
}
