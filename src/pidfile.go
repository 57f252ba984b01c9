package ecubridge

/*------------------------------------------------------------------
 *
 * Purpose:   	Make sure only one bridge drives the serial ports.
 *
 * Description:	The PID file is locked with flock for as long as the
 *		bridge runs.  The kernel drops the lock when the process
 *		goes, so a stale file left by a crash doesn't get in the
 *		way of the next start.
 *
 *---------------------------------------------------------------*/

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

var ErrAlreadyRunning = errors.New("already running")

type PIDFile struct {
	path string
	file *os.File
}

// LockPIDFile takes the lock and writes our PID into the file.
func LockPIDFile(path string) (*PIDFile, error) {
	var file, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		var other = readPID(file)
		file.Close()

		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s is held by PID %s", ErrAlreadyRunning, path, other)
		}

		return nil, fmt.Errorf("locking PID file: %w", err)
	}

	if err := file.Truncate(0); err != nil {
		file.Close()
		return nil, fmt.Errorf("truncating PID file: %w", err)
	}

	if _, err := file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("writing PID file: %w", err)
	}

	return &PIDFile{path: path, file: file}, nil
}

func readPID(file *os.File) string {
	var buf = make([]byte, 32)

	var n, _ = file.ReadAt(buf, 0)
	if n == 0 {
		return "unknown"
	}

	return strings.TrimSpace(string(buf[:n]))
}

// Release removes the file and drops the lock.
func (p *PIDFile) Release() error {
	var removeErr = os.Remove(p.path)
	var closeErr = p.file.Close()

	return errors.Join(removeErr, closeErr)
}
