package ecubridge

/*------------------------------------------------------------------
 *
 * Purpose:   	Keep track of whether the USB cable is plugged in.
 *
 * Description:	Any hot-plug event makes us look at the bus again.  What
 *		the rescan finds is the answer; the event itself is only
 *		logged, so a lost or out of order event can't leave us
 *		confused for long.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

type CableState int

const (
	CableDisconnected CableState = iota
	CableConnected
)

func (s CableState) String() string {
	if s == CableConnected {
		return "connected"
	}

	return "disconnected"
}

type USBEventKind int

const (
	USBEventUnknown USBEventKind = iota
	USBEventAdd
	USBEventRemove
	USBEventChange
	USBEventMove
	USBEventOnline
	USBEventOffline
)

var usbEventNames = map[USBEventKind]string{
	USBEventUnknown: "unknown",
	USBEventAdd:     "add",
	USBEventRemove:  "remove",
	USBEventChange:  "change",
	USBEventMove:    "move",
	USBEventOnline:  "online",
	USBEventOffline: "offline",
}

func (k USBEventKind) String() string {
	return usbEventNames[k]
}

// ParseUSBEventKind maps a udev action to an event kind.
func ParseUSBEventKind(action string) USBEventKind {
	var a = strings.ToLower(strings.TrimSpace(action))

	for kind, name := range usbEventNames {
		if name == a {
			return kind
		}
	}

	return USBEventUnknown
}

type USBEvent struct {
	Kind    USBEventKind
	Syspath string
}

type CableMonitor struct {
	scanner     DeviceScanner
	events      <-chan USBEvent
	readTimeout time.Duration
	logger      *log.Logger

	vendorID  string
	productID string

	state  CableState
	device USBDevice
}

// NewCableMonitor does an initial scan so Connected is right from the start.
// events may be nil when hot-plug isn't available; the state then only
// changes through Scan.
func NewCableMonitor(scanner DeviceScanner, events <-chan USBEvent, readTimeout time.Duration, logger *log.Logger) *CableMonitor {
	var cm = &CableMonitor{ //nolint:exhaustruct
		scanner:     scanner,
		events:      events,
		readTimeout: readTimeout,
		logger:      logger.WithPrefix("USBCable"),
		vendorID:    FT4232H_VENDOR_ID,
		productID:   FT4232H_PRODUCT_ID,
	}

	if _, err := cm.Scan(); err != nil {
		cm.logger.Warn("initial scan failed", "err", err)
	}

	return cm
}

// Events is the source the event loop selects on.
func (cm *CableMonitor) Events() <-chan USBEvent {
	return cm.events
}

func (cm *CableMonitor) Connected() bool {
	return cm.state == CableConnected
}

func (cm *CableMonitor) State() CableState {
	return cm.state
}

// Scan looks for the cable and updates the state.  A failed scan counts as
// not connected.
func (cm *CableMonitor) Scan() (CableState, error) {
	var devices, err = cm.scanner.USBDevices()
	if err != nil {
		cm.state = CableDisconnected
		cm.device = USBDevice{} //nolint:exhaustruct

		return cm.state, err
	}

	cm.state = CableDisconnected
	cm.device = USBDevice{} //nolint:exhaustruct

	for _, d := range devices {
		if strings.EqualFold(d.VendorID, cm.vendorID) && strings.EqualFold(d.ProductID, cm.productID) {
			cm.state = CableConnected
			cm.device = d

			break
		}
	}

	return cm.state, nil
}

// HandleEvent rescans and returns the new state.
func (cm *CableMonitor) HandleEvent(ev USBEvent) (CableState, error) {
	var before = cm.state

	var after, err = cm.Scan()

	cm.logger.Debug("usb event", "kind", ev.Kind, "syspath", ev.Syspath, "state", after)

	if after != before {
		cm.logger.Info("cable "+after.String(), "details", cm.Details())
	}

	return after, err
}

/*-------------------------------------------------------------------
 *
 * Name:	WaitForEvents
 *
 * Purpose:	Block until a hot-plug event arrives and handle it.
 *
 * Inputs:	maxRetries	- Number of read timeouts to put up with.
 *				  0 means wait forever.
 *
 * Returns:	The state after the rescan.  ErrReadTimeout when the
 *		retries ran out.
 *
 *--------------------------------------------------------------------*/

func (cm *CableMonitor) WaitForEvents(ctx context.Context, maxRetries int) (CableState, error) {
	if cm.events == nil {
		return cm.state, fmt.Errorf("%w: no hot-plug events", ErrNotReady)
	}

	var timer = time.NewTimer(cm.readTimeout)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return cm.state, ctx.Err()
		case ev, ok := <-cm.events:
			if !ok {
				return cm.state, fmt.Errorf("%w: hot-plug events ended", ErrNotReady)
			}

			return cm.HandleEvent(ev)
		case <-timer.C:
			if maxRetries > 0 && attempt >= maxRetries {
				return cm.state, ErrReadTimeout
			}

			timer.Reset(cm.readTimeout)
		}
	}
}

// Details describes the cable for status output and logs.
func (cm *CableMonitor) Details() string {
	if cm.state != CableConnected {
		return "not connected"
	}

	var d = cm.device

	return fmt.Sprintf("%s %s (%s:%s) serial %s, USB %s, removable %s",
		d.Manufacturer, d.Product, d.VendorID, d.ProductID, d.Serial, d.Version, d.Removable)
}
