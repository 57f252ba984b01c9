package ecubridge

/*------------------------------------------------------------------
 *
 * Purpose:   	Read sample packets from the DL-32 data logger.
 *
 * Description:	The DL-32 streams packets about every 86ms:
 *
 *		  byte 0	1x1x xx1L	(mask 0xA2, L = length bit 7)
 *		  byte 1	1lll llll	(mask 0x80, l = length bits 0..6)
 *		  payload	length * 2 bytes of big endian words
 *
 *		A payload word with the top two bits of the first byte and
 *		the top bit of the second byte clear is a channel sample.
 *		Samples fill channels 1, 2, 3... in order.  Anything else
 *		is an LM-1 or LC-1 sub-packet and we don't care about it.
 *
 *		There is no checksum.  A packet that goes wrong is just
 *		dropped; a fresh one is along shortly.
 *
 *---------------------------------------------------------------*/

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
)

const (
	DL32_HEADER0_MASK = 0xA2
	DL32_HEADER1_MASK = 0x80
)

// DL32Reader frames packets from a port whose Read returns (0, nil) when
// the read timeout expires with nothing received.
type DL32Reader struct {
	port       io.Reader
	maxRetries int
	logger     *log.Logger

	discarded uint64
	packets   uint64
}

// NewDL32Reader wraps port.  maxRetries bounds the number of read timeouts
// in a row, 0 means wait forever.
func NewDL32Reader(port io.Reader, maxRetries int, logger *log.Logger) *DL32Reader {
	return &DL32Reader{ //nolint:exhaustruct
		port:       port,
		maxRetries: maxRetries,
		logger:     logger.WithPrefix("DL32"),
	}
}

// Discarded is the number of bytes thrown away while looking for a header.
func (r *DL32Reader) Discarded() uint64 {
	return r.discarded
}

func (r *DL32Reader) Packets() uint64 {
	return r.packets
}

/*-------------------------------------------------------------------
 *
 * Name:	ReadSamples
 *
 * Purpose:	Read one whole packet and decode it.
 *
 * Outputs:	samples	- Channels 1..n hold the data words.  Everything
 *			  else is zero.
 *
 * Returns:	Number of channels decoded.
 *
 * Description:	Any error, including running out of retries, abandons
 *		the packet.  The next call starts looking for a header
 *		from scratch.
 *
 *--------------------------------------------------------------------*/

func (r *DL32Reader) ReadSamples(samples *Samples) (int, error) {
	var header [2]byte

	for {
		if err := r.readFull(header[:1]); err != nil {
			return 0, err
		}

		if header[0]&DL32_HEADER0_MASK != DL32_HEADER0_MASK {
			r.discard(1)
			continue
		}

		if err := r.readFull(header[1:]); err != nil {
			return 0, err
		}

		if header[1]&DL32_HEADER1_MASK != DL32_HEADER1_MASK {
			r.discard(2)
			continue
		}

		break
	}

	var words = int(header[0]&0x01)*128 + int(header[1]&0x7F)
	var payload = make([]byte, words*2)

	if err := r.readFull(payload); err != nil {
		return 0, fmt.Errorf("reading %d byte payload: %w", len(payload), err)
	}

	r.packets++

	return DecodeDL32Payload(payload, samples), nil
}

func (r *DL32Reader) discard(n int) {
	r.discarded += uint64(n) //nolint:gosec
	r.logger.Debug("discarding bytes while seeking header", "count", n, "total", r.discarded)
}

// readFull loops on short reads.  Each empty read is one timeout; the retry
// limit applies to timeouts in a row.
func (r *DL32Reader) readFull(buf []byte) error {
	var got = 0
	var timeouts = 0

	for got < len(buf) {
		var n, err = r.port.Read(buf[got:])
		got += n

		if err != nil {
			if errors.Is(err, io.EOF) && n == 0 {
				return io.ErrUnexpectedEOF
			}

			if n == 0 {
				return err
			}
		}

		if n > 0 {
			timeouts = 0
			continue
		}

		timeouts++
		if r.maxRetries > 0 && timeouts >= r.maxRetries {
			return ErrReadTimeout
		}
	}

	return nil
}

// DecodeDL32Payload stores the data words of payload into samples[1..] and
// returns how many there were.  Slots past that are left alone.  Words past
// the last channel are ignored, as is an odd trailing byte.
func DecodeDL32Payload(payload []byte, samples *Samples) int {
	var count = 0

	for i := 0; i+1 < len(payload); i += 2 {
		var hi, lo = payload[i], payload[i+1]

		switch {
		case hi&0xC0 == 0 && lo&0x80 == 0:
			if count < NUM_CHANNELS {
				count++
				samples[count] = uint32(hi)<<8 | uint32(lo)
			}
		case hi&0x80 != 0:
			// LM-1 sub-packet
		default:
			// LC-1 sub-packet
		}
	}

	return count
}
