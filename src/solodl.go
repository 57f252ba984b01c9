package ecubridge

/*------------------------------------------------------------------
 *
 * Purpose:   	Send channel values to the AIM SoloDL.
 *
 * Description:	The SoloDL takes the AIM "UART" protocol: one 5 byte packet
 *		per channel,
 *
 *			code  0xA3  value-hi  value-lo  checksum
 *
 *		where the checksum is the low byte of the sum of the first
 *		four.  Each AIM channel has a fixed rate of 10, 5 or 2 Hz.
 *
 *		WriteSamples must be called every 100ms.  A slot counter
 *		runs 1..10 over one second and a channel goes out only on
 *		slots divisible by 10/Hz.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
)

const (
	SOLODL_PACKET_TYPE = 0xA3
	SOLODL_BASE_HZ     = 10
)

type aimChannel struct {
	code byte
	hz   int
}

var aimChannels = [NUM_CHANNELS + 1]aimChannel{
	{0, 0},
	{1, 10},   // RPM
	{5, 10},   // Wheel Speed
	{9, 5},    // Oil Press
	{13, 2},   // Oil Temp
	{17, 2},   // Water Temp
	{21, 5},   // Fuel Press
	{33, 5},   // Batt Volt
	{45, 10},  // Throt Ang
	{69, 10},  // Manif Press
	{97, 2},   // Air Charge Temp
	{101, 2},  // Exh Temp
	{105, 10}, // Lambda
	{109, 2},  // Fuel Temp
	{113, 5},  // Gear
	{125, 2},  // Error Flag
}

type SoloDLWriter struct {
	port   io.Writer
	logger *log.Logger

	slot    int
	factors [NUM_CHANNELS + 1]int
	packets uint64
}

func NewSoloDLWriter(port io.Writer, logger *log.Logger) *SoloDLWriter {
	var w = &SoloDLWriter{ //nolint:exhaustruct
		port:   port,
		logger: logger.WithPrefix("SoloDL"),
	}

	for c := 1; c <= NUM_CHANNELS; c++ {
		w.factors[c] = SOLODL_BASE_HZ / aimChannels[c].hz
	}

	return w
}

// Slot is the slot used by the most recent WriteSamples, 0 before the first.
func (w *SoloDLWriter) Slot() int {
	return w.slot
}

func (w *SoloDLWriter) Packets() uint64 {
	return w.packets
}

// Due reports whether channel goes out on slot.
func (w *SoloDLWriter) Due(channel, slot int) bool {
	if channel < 1 || channel > NUM_CHANNELS {
		return false
	}

	return slot%w.factors[channel] == 0
}

/*-------------------------------------------------------------------
 *
 * Name:	WriteSamples
 *
 * Purpose:	Send one 100ms tick worth of packets.
 *
 * In/Out:	samples	- Channels not due this slot are set to zero
 *			  so the caller sees what actually went out.
 *
 * Description:	A write error or short write gives up on the rest of
 *		the tick.  There is no retry; the next tick is 100ms away.
 *
 *--------------------------------------------------------------------*/

func (w *SoloDLWriter) WriteSamples(samples *Samples) error {
	w.slot = 1 + w.slot%SOLODL_BASE_HZ

	for c := 1; c <= NUM_CHANNELS; c++ {
		if !w.Due(c, w.slot) {
			samples[c] = 0
			continue
		}

		var pkt = EncodeSoloDLPacket(aimChannels[c].code, samples[c])

		var n, err = w.port.Write(pkt[:])
		if err != nil {
			return fmt.Errorf("channel %d: %w", c, err)
		}

		if n != len(pkt) {
			w.logger.Warn("short write", "channel", c, "wrote", n)

			return fmt.Errorf("channel %d: %w", c, ErrShortWrite)
		}

		w.packets++
	}

	return nil
}

func EncodeSoloDLPacket(code byte, value uint32) [5]byte {
	var pkt = [5]byte{code, SOLODL_PACKET_TYPE, byte(value >> 8 & 0xFF), byte(value % 256)}

	pkt[4] = pkt[0] + pkt[1] + pkt[2] + pkt[3]

	return pkt
}
