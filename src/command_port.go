package ecubridge

/*------------------------------------------------------------------
 *
 * Purpose:   	TCP command port.
 *
 * Description:	One client at a time, one line in, one response out,
 *		then "END" and hang up.  Something like
 *
 *			echo "channels,map" | nc localhost 5999
 *
 *		is all a client needs to be.
 *
 *		The accept happens on its own goroutine, which hands each
 *		connection to the event loop and waits for the loop to
 *		take it before accepting the next.
 *
 *---------------------------------------------------------------*/

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	MAX_COMMAND_LINE = 4095
	COMMAND_END      = "END"
)

type CommandPort struct {
	listener net.Listener
	conns    chan net.Conn
	done     chan struct{}
	timeout  time.Duration
	logger   *log.Logger

	closeOnce sync.Once
}

// ListenCommandPort starts listening on port, 0 for any free port.
// timeout bounds each read and write with a client.
func ListenCommandPort(ctx context.Context, port int, timeout time.Duration, logger *log.Logger) (*CommandPort, error) {
	var lc = net.ListenConfig{Control: reuseAddr} //nolint:exhaustruct

	var listener, err = lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("command port %d: %w", port, err)
	}

	var cp = &CommandPort{ //nolint:exhaustruct
		listener: listener,
		conns:    make(chan net.Conn),
		done:     make(chan struct{}),
		timeout:  timeout,
		logger:   logger.WithPrefix("CommandPort"),
	}

	go cp.acceptLoop()

	cp.logger.Info("listening", "addr", listener.Addr())

	return cp, nil
}

func (cp *CommandPort) acceptLoop() {
	for {
		var conn, err = cp.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			cp.logger.Warn("accept failed", "err", err)

			continue
		}

		select {
		case cp.conns <- conn:
		case <-cp.done:
			conn.Close()
			return
		}
	}
}

// Port is the TCP port actually in use.
func (cp *CommandPort) Port() int {
	if addr, ok := cp.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}

	return 0
}

// Conns delivers accepted connections, one at a time.
func (cp *CommandPort) Conns() <-chan net.Conn {
	return cp.conns
}

// Client wraps an accepted connection.
func (cp *CommandPort) Client(conn net.Conn) *CommandClient {
	return &CommandClient{
		conn:    conn,
		reader:  bufio.NewReaderSize(conn, MAX_COMMAND_LINE+1),
		timeout: cp.timeout,
	}
}

func (cp *CommandPort) Close() error {
	var err error

	cp.closeOnce.Do(func() {
		close(cp.done)
		err = cp.listener.Close()
	})

	return err
}

type CommandClient struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

func (c *CommandClient) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

/*-------------------------------------------------------------------
 *
 * Name:	Receive
 *
 * Purpose:	Read one command line.
 *
 * Returns:	The line without its terminator.  Anything that isn't
 *		printable ASCII is changed to a space.  A line longer
 *		than 4095 bytes is cut off there.
 *
 *--------------------------------------------------------------------*/

func (c *CommandClient) Receive() (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return "", err
	}

	var line, err = c.reader.ReadSlice('\n')

	switch {
	case err == nil, errors.Is(err, bufio.ErrBufferFull):
	case errors.Is(err, io.EOF) && len(line) > 0:
	default:
		return "", err
	}

	if len(line) > MAX_COMMAND_LINE {
		line = line[:MAX_COMMAND_LINE]
	}

	return sanitizeCommand(line), nil
}

func sanitizeCommand(line []byte) string {
	var clean = []byte(strings.TrimRight(string(line), "\r\n"))

	for i, b := range clean {
		if b < 32 || b > 126 {
			clean[i] = ' '
		}
	}

	return string(clean)
}

// Send writes line with exactly one newline on the end.
func (c *CommandClient) Send(line string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}

	var _, err = io.WriteString(c.conn, strings.TrimRight(line, "\n")+"\n")

	return err
}

// Drop says "END" and hangs up.
func (c *CommandClient) Drop() error {
	var sendErr = c.Send(COMMAND_END)
	var closeErr = c.conn.Close()

	return errors.Join(sendErr, closeErr)
}
