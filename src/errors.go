package ecubridge

import "errors"

var (
	ErrNotReady     = errors.New("not ready")
	ErrBadChannel   = errors.New("channel # must be 1..15")
	ErrNoFilter     = errors.New("no filter provided")
	ErrConfig       = errors.New("configuration error")
	ErrReadTimeout  = errors.New("maximum # of timeouts reached")
	ErrShortWrite   = errors.New("didn't write whole packet")
	ErrNotConnected = errors.New("USB cable not connected")
	ErrCableLost    = errors.New("can not reopen devices after reconnect")
)
