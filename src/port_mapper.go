package ecubridge

/*------------------------------------------------------------------
 *
 * Purpose:   	Work out which tty is the DL-32 and which is the SoloDL.
 *
 * Description:	The FT4232H cable has four ports, labelled 1 to 4 on the
 *		harness.  Port n is USB interface n-1, and the ttyUSB
 *		numbers depend on what else was plugged in first, so we go
 *		by the interface number rather than the name.
 *
 *		A port configured with an explicit device path skips all
 *		of this.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"strings"
)

const NUM_USB_SLOTS = 4

type PortMapper struct {
	scanner   DeviceScanner
	vendorID  string
	productID string
}

func NewPortMapper(scanner DeviceScanner) *PortMapper {
	return &PortMapper{
		scanner:   scanner,
		vendorID:  FT4232H_VENDOR_ID,
		productID: FT4232H_PRODUCT_ID,
	}
}

// Slots lists the cable's tty device nodes by slot, index 0 unused.
func (pm *PortMapper) Slots() ([NUM_USB_SLOTS + 1]string, error) {
	var slots [NUM_USB_SLOTS + 1]string

	var ttys, err = pm.scanner.TTYDevices()
	if err != nil {
		return slots, err
	}

	var found = false

	for _, tty := range ttys {
		if !strings.EqualFold(tty.VendorID, pm.vendorID) || !strings.EqualFold(tty.ProductID, pm.productID) {
			continue
		}

		var slot = tty.Interface + 1
		if slot < 1 || slot > NUM_USB_SLOTS {
			continue
		}

		// With two cables plugged in, first one wins.
		if slots[slot] == "" {
			slots[slot] = tty.Devnode
		}

		found = true
	}

	if !found {
		return slots, ErrNotConnected
	}

	return slots, nil
}

/*-------------------------------------------------------------------
 *
 * Name:	Resolve
 *
 * Purpose:	Find the device node for the DL-32 and SoloDL ports.
 *
 * Returns:	dl32, solodl device paths.
 *
 *		ErrNotConnected if the cable isn't there, ErrConfig for
 *		bad slot numbers or both ports on the same slot.
 *
 *--------------------------------------------------------------------*/

func (pm *PortMapper) Resolve(ports PortsConfig) (string, string, error) {
	if ports.DL32.Device == "" && ports.SoloDL.Device == "" &&
		ports.DL32.USBSlot == ports.SoloDL.USBSlot {
		return "", "", fmt.Errorf("%w: dl32 and solodl both on usb slot %d", ErrConfig, ports.DL32.USBSlot)
	}

	var slots [NUM_USB_SLOTS + 1]string
	var scanned = false

	var lookup = func(name string, port PortConfig) (string, error) {
		if port.Device != "" {
			return port.Device, nil
		}

		if port.USBSlot < 1 || port.USBSlot > NUM_USB_SLOTS {
			return "", fmt.Errorf("%w: %s usb_slot must be 1..%d, got %d", ErrConfig, name, NUM_USB_SLOTS, port.USBSlot)
		}

		if !scanned {
			var err error

			slots, err = pm.Slots()
			if err != nil {
				return "", err
			}

			scanned = true
		}

		if slots[port.USBSlot] == "" {
			return "", fmt.Errorf("%s: no tty on usb slot %d: %w", name, port.USBSlot, ErrNotConnected)
		}

		return slots[port.USBSlot], nil
	}

	var dl32, err = lookup("dl32", ports.DL32)
	if err != nil {
		return "", "", err
	}

	solodl, err := lookup("solodl", ports.SoloDL)
	if err != nil {
		return "", "", err
	}

	return dl32, solodl, nil
}
