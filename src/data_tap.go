package ecubridge

/*------------------------------------------------------------------
 *
 * Purpose:   	Data taps.  Copies of the raw, normal and output samples
 *		for anyone who wants to watch.
 *
 * Description:	Each send is one UDP datagram to a multicast group,
 *
 *			1,v1,2,v2,...,15,v15\n
 *
 *		TTL 1 and loopback on, so by default it never leaves the
 *		box.  Nobody listening is fine, and a failed send is only
 *		counted and logged.  The bridge never waits on a tap.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

const MAX_TAP_LINE = 256

func FormatTapLine(samples *Samples) string {
	var sb strings.Builder

	for c := 1; c <= NUM_CHANNELS; c++ {
		if c > 1 {
			sb.WriteByte(',')
		}

		fmt.Fprintf(&sb, "%d,%d", c, samples[c])
	}

	sb.WriteByte('\n')

	return sb.String()
}

// ParseTapLine is the reverse of FormatTapLine.
func ParseTapLine(line string) (Samples, error) {
	var samples Samples

	var fields = strings.Split(strings.TrimRight(line, "\r\n"), ",")
	if len(fields) != 2*NUM_CHANNELS {
		return samples, fmt.Errorf("tap line has %d fields, expected %d", len(fields), 2*NUM_CHANNELS)
	}

	for c := 1; c <= NUM_CHANNELS; c++ {
		var ch, err = strconv.Atoi(strings.TrimSpace(fields[2*(c-1)]))
		if err != nil || ch != c {
			return samples, fmt.Errorf("tap line: expected channel %d, got %q", c, fields[2*(c-1)])
		}

		var v, vErr = parseUint32(fields[2*c-1])
		if vErr != nil {
			return samples, fmt.Errorf("tap line: channel %d value %q: %w", c, fields[2*c-1], vErr)
		}

		samples[c] = v
	}

	return samples, nil
}

type DataTapWriter struct {
	name   string
	conn   *net.UDPConn
	dst    *net.UDPAddr
	logger *log.Logger

	sent   uint64
	failed uint64
}

/*-------------------------------------------------------------------
 *
 * Name:	NewDataTapWriter
 *
 * Inputs:	name	- raw, normal or output.  For logs.
 *		group	- Usually a multicast group.  A unicast address
 *			  works too, handy for testing.
 *		ifname	- Interface for outgoing multicast, "" for the
 *			  system default.
 *
 *--------------------------------------------------------------------*/

func NewDataTapWriter(name string, group string, port int, ifname string, logger *log.Logger) (*DataTapWriter, error) {
	var ip = net.ParseIP(group)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("%w: data tap %s: bad address %q", ErrConfig, name, group)
	}

	var conn, err = net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0}) //nolint:exhaustruct
	if err != nil {
		return nil, fmt.Errorf("data tap %s: %w", name, err)
	}

	var w = &DataTapWriter{ //nolint:exhaustruct
		name:   name,
		conn:   conn,
		dst:    &net.UDPAddr{IP: ip, Port: port}, //nolint:exhaustruct
		logger: logger.WithPrefix("DataTap"),
	}

	if ip.IsMulticast() {
		var pc = ipv4.NewPacketConn(conn)

		if ifname != "" {
			var ifi, ifErr = net.InterfaceByName(ifname)
			if ifErr == nil {
				ifErr = pc.SetMulticastInterface(ifi)
			}

			if ifErr != nil {
				w.logger.Warn("can't use multicast interface, using default", "tap", name, "interface", ifname, "err", ifErr)
			}
		}

		if err := pc.SetMulticastTTL(1); err != nil {
			w.logger.Warn("can't set multicast TTL", "tap", name, "err", err)
		}

		if err := pc.SetMulticastLoopback(true); err != nil {
			w.logger.Warn("can't enable multicast loopback", "tap", name, "err", err)
		}
	}

	w.logger.Info("data tap open", "tap", name, "dst", w.dst)

	return w, nil
}

func (w *DataTapWriter) Name() string {
	return w.name
}

// Send is best effort.  The error is for logging only.
func (w *DataTapWriter) Send(samples *Samples) error {
	var line = FormatTapLine(samples)

	var _, err = w.conn.WriteToUDP([]byte(line), w.dst)
	if err != nil {
		w.failed++
		return fmt.Errorf("data tap %s: %w", w.name, err)
	}

	w.sent++

	return nil
}

func (w *DataTapWriter) Stats() (uint64, uint64) {
	return w.sent, w.failed
}

func (w *DataTapWriter) Close() error {
	return w.conn.Close()
}

type DataTapReader struct {
	conn net.PacketConn
	pc   *ipv4.PacketConn
	buf  []byte
}

// reuseAddr lets several readers share a tap port.
func reuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error

	var err = c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}

	return sockErr
}

// NewDataTapReader listens on port and joins group if it is multicast.
// Port 0 picks a free port, see Port.
func NewDataTapReader(ctx context.Context, group string, port int, ifname string) (*DataTapReader, error) {
	var ip = net.ParseIP(group)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("bad address %q", group)
	}

	var lc = net.ListenConfig{Control: reuseAddr} //nolint:exhaustruct

	var conn, err = lc.ListenPacket(ctx, "udp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, err
	}

	var r = &DataTapReader{
		conn: conn,
		pc:   ipv4.NewPacketConn(conn),
		buf:  make([]byte, MAX_TAP_LINE),
	}

	if ip.IsMulticast() {
		var ifi *net.Interface

		if ifname != "" {
			ifi, err = net.InterfaceByName(ifname)
			if err != nil {
				conn.Close()
				return nil, err
			}
		}

		if err := r.pc.JoinGroup(ifi, &net.UDPAddr{IP: ip}); err != nil { //nolint:exhaustruct
			conn.Close()
			return nil, fmt.Errorf("join %s: %w", group, err)
		}
	}

	return r, nil
}

func (r *DataTapReader) Port() int {
	if addr, ok := r.conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}

	return 0
}

// Read waits up to timeout for one tap line.  0 means no timeout.
func (r *DataTapReader) Read(timeout time.Duration) (Samples, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	if err := r.conn.SetReadDeadline(deadline); err != nil {
		return Samples{}, err
	}

	var n, _, err = r.conn.ReadFrom(r.buf)
	if err != nil {
		return Samples{}, err
	}

	return ParseTapLine(string(r.buf[:n]))
}

func (r *DataTapReader) Close() error {
	return r.conn.Close()
}
