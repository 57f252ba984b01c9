package ecubridge

/*------------------------------------------------------------------
 *
 * Purpose:   	Find the USB serial cable and watch for it coming and going.
 *
 * Description:	The cable is an FTDI FT4232H, four UARTs behind one USB
 *		device.  Linux gives each UART a tty (ttyUSBn) whose
 *		parents are the usb_interface (bInterfaceNumber 00..03)
 *		and then the usb_device (idVendor, idProduct, serial...).
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jochenvg/go-udev"
)

const (
	FT4232H_VENDOR_ID  = "0403"
	FT4232H_PRODUCT_ID = "6011"
)

// USBDevice is what udev knows about one usb_device.
type USBDevice struct {
	Syspath      string
	VendorID     string
	ProductID    string
	Serial       string
	Version      string
	Manufacturer string
	Product      string
	Removable    string
}

// TTYDevice is one serial port and where it hangs off the USB bus.
type TTYDevice struct {
	Devnode   string
	VendorID  string
	ProductID string
	Serial    string
	Interface int
}

type DeviceScanner interface {
	USBDevices() ([]USBDevice, error)
	TTYDevices() ([]TTYDevice, error)
}

type udevScanner struct {
	u udev.Udev
}

func newUdevScanner() *udevScanner {
	return &udevScanner{u: udev.Udev{}}
}

func (s *udevScanner) USBDevices() ([]USBDevice, error) {
	var e = s.u.NewEnumerate()

	if err := e.AddMatchSubsystem("usb"); err != nil {
		return nil, fmt.Errorf("udev match usb: %w", err)
	}

	var devices, err = e.Devices()
	if err != nil {
		return nil, fmt.Errorf("udev enumerate usb: %w", err)
	}

	var result []USBDevice

	for _, d := range devices {
		if d.Devtype() != "usb_device" {
			continue
		}

		result = append(result, USBDevice{
			Syspath:      d.Syspath(),
			VendorID:     d.SysattrValue("idVendor"),
			ProductID:    d.SysattrValue("idProduct"),
			Serial:       d.SysattrValue("serial"),
			Version:      strings.TrimSpace(d.SysattrValue("version")),
			Manufacturer: d.SysattrValue("manufacturer"),
			Product:      d.SysattrValue("product"),
			Removable:    d.SysattrValue("removable"),
		})
	}

	return result, nil
}

func (s *udevScanner) TTYDevices() ([]TTYDevice, error) {
	var e = s.u.NewEnumerate()

	if err := e.AddMatchSubsystem("tty"); err != nil {
		return nil, fmt.Errorf("udev match tty: %w", err)
	}

	var devices, err = e.Devices()
	if err != nil {
		return nil, fmt.Errorf("udev enumerate tty: %w", err)
	}

	var result []TTYDevice

	for _, d := range devices {
		var usbDevice = d.ParentWithSubsystemDevtype("usb", "usb_device")
		var usbInterface = d.ParentWithSubsystemDevtype("usb", "usb_interface")

		if usbDevice == nil || usbInterface == nil || d.Devnode() == "" {
			continue
		}

		var iface, ifaceErr = strconv.ParseInt(strings.TrimSpace(usbInterface.SysattrValue("bInterfaceNumber")), 16, 32)
		if ifaceErr != nil {
			continue
		}

		result = append(result, TTYDevice{
			Devnode:   d.Devnode(),
			VendorID:  usbDevice.SysattrValue("idVendor"),
			ProductID: usbDevice.SysattrValue("idProduct"),
			Serial:    usbDevice.SysattrValue("serial"),
			Interface: int(iface),
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Interface < result[j].Interface
	})

	return result, nil
}

/*-------------------------------------------------------------------
 *
 * Name:	WatchUSBEvents
 *
 * Purpose:	Follow udev hot-plug events for USB devices.
 *
 * Returns:	Channel of events.  It is closed when ctx is done.
 *
 * Description:	Events for every USB device come through.  The
 *		CableMonitor rescans on each one so it doesn't matter
 *		which device it was about.
 *
 *--------------------------------------------------------------------*/

func WatchUSBEvents(ctx context.Context, logger *log.Logger) (<-chan USBEvent, error) {
	var u = udev.Udev{}

	var m = u.NewMonitorFromNetlink("udev")
	if m == nil {
		return nil, fmt.Errorf("udev: could not open netlink monitor")
	}

	if err := m.FilterAddMatchSubsystemDevtype("usb", "usb_device"); err != nil {
		return nil, fmt.Errorf("udev monitor filter: %w", err)
	}

	var devices, errs, err = m.DeviceChan(ctx)
	if err != nil {
		return nil, fmt.Errorf("udev monitor: %w", err)
	}

	var events = make(chan USBEvent, 8)

	go func() {
		defer close(events)

		for {
			select {
			case <-ctx.Done():
				return
			case monitorErr, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}

				logger.Warn("udev monitor", "err", monitorErr)
			case d, ok := <-devices:
				if !ok {
					return
				}

				var ev = USBEvent{
					Kind:    ParseUSBEventKind(d.Action()),
					Syspath: d.Syspath(),
				}

				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}
