package ecubridge

/*------------------------------------------------------------------
 *
 * Purpose:   	Interface to serial port, hiding operating system differences.
 *
 *---------------------------------------------------------------*/

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/term"
)

// VTIME is in tenths of a second and fits in one byte.
const (
	MIN_SERIAL_READ_TIMEOUT = 100 * time.Millisecond
	MAX_SERIAL_READ_TIMEOUT = 25500 * time.Millisecond
)

// SerialPort may be closed from one goroutine while another is blocked in
// Read.  Close waits for that Read to time out, and later calls get
// os.ErrClosed.
type SerialPort struct {
	name   string
	fd     *term.Term
	logger *log.Logger

	mu       sync.RWMutex
	closed   bool
	closeErr error
}

/*-------------------------------------------------------------------
 *
 * Name:	OpenSerialPort
 *
 * Purpose:	Open serial port.
 *
 * Inputs:	devicename	- Usually like /dev/ttyUSB0.
 *
 *		baud		- Speed.  1200, 4800, 9600 bps, etc.
 *				  If 0, leave it alone.
 *
 *		readTimeout	- How long a Read waits for the first byte.
 *				  Clamped to what the tty can do, 0.1 to 25.5 seconds.
 *
 * Description:	Raw mode, 8N1, no flow control.  The port is flushed
 *		so we don't start on whatever was sitting in the buffer.
 *
 *---------------------------------------------------------------*/

func OpenSerialPort(devicename string, baud int, readTimeout time.Duration, logger *log.Logger) (*SerialPort, error) {
	var fd, err = term.Open(devicename, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("could not open serial port %s: %w", devicename, err)
	}

	var sp = &SerialPort{ //nolint:exhaustruct
		name:   devicename,
		fd:     fd,
		logger: logger.WithPrefix("SerialPort"),
	}

	switch baud {
	case 0: /* Leave it alone. */
	case 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200:
		if err := fd.SetSpeed(baud); err != nil {
			sp.Close()
			return nil, fmt.Errorf("could not set speed %d on %s: %w", baud, devicename, err)
		}
	default:
		sp.Close()
		return nil, fmt.Errorf("%w: unsupported serial speed %d", ErrConfig, baud)
	}

	readTimeout = min(max(readTimeout, MIN_SERIAL_READ_TIMEOUT), MAX_SERIAL_READ_TIMEOUT)

	if err := fd.SetReadTimeout(readTimeout); err != nil {
		sp.Close()
		return nil, fmt.Errorf("could not set read timeout on %s: %w", devicename, err)
	}

	if err := fd.Flush(); err != nil {
		sp.logger.Warn("flush failed", "port", devicename, "err", err)
	}

	sp.logger.Info("opened", "port", devicename, "baud", baud, "timeout", readTimeout)

	return sp, nil
}

func (sp *SerialPort) Name() string {
	return sp.name
}

// Read returns (0, nil) when the read timeout expires with nothing
// received.
func (sp *SerialPort) Read(data []byte) (int, error) {
	sp.mu.RLock()
	defer sp.mu.RUnlock()

	if sp.closed {
		return 0, os.ErrClosed
	}

	var n, err = sp.fd.Read(data)
	if n == 0 && errors.Is(err, io.EOF) {
		return 0, nil
	}

	return n, err
}

// Write sends all of data or reports ErrShortWrite.
func (sp *SerialPort) Write(data []byte) (int, error) {
	sp.mu.RLock()
	defer sp.mu.RUnlock()

	if sp.closed {
		return 0, os.ErrClosed
	}

	var written, err = sp.fd.Write(data)
	if err != nil {
		return written, err
	}

	if written != len(data) {
		return written, ErrShortWrite
	}

	return written, nil
}

// Flush discards anything not yet read or sent.
func (sp *SerialPort) Flush() error {
	sp.mu.RLock()
	defer sp.mu.RUnlock()

	if sp.closed {
		return os.ErrClosed
	}

	return sp.fd.Flush()
}

// Close may be called more than once.
func (sp *SerialPort) Close() error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.closed {
		return sp.closeErr
	}

	sp.closed = true
	sp.closeErr = sp.fd.Close()
	sp.logger.Info("closed", "port", sp.name)

	return sp.closeErr
}
