package ecubridge

/*------------------------------------------------------------------
 *
 * Purpose:   	The bridge itself.  DL-32 in, SoloDL out, every 100ms.
 *
 * Description:	Loop runs everything from one goroutine.  Each time
 *		around it may send to the SoloDL, then waits for whichever
 *		comes first:
 *
 *		  - time for the next send
 *		  - a packet from the DL-32
 *		  - a command port client
 *		  - a USB hot-plug event
 *		  - a stop or reload request
 *
 *		The DL-32 is read by a pump goroutine that owns the port and
 *		the framing.  It hands each packet (or error) over through a
 *		one slot channel, and it alone closes the port.  Nothing
 *		else runs outside the loop, so the channel table, SoloDL
 *		writer and counters need no locks.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
)

const (
	TAP_RAW = iota
	TAP_NORMAL
	TAP_OUTPUT
	NUM_TAPS
)

// TapSender is one of the raw, normal or output data taps.
type TapSender interface {
	Name() string
	Send(samples *Samples) error
}

// PortOpener opens a serial device.  OpenSerialPort in real life.
type PortOpener func(device string, baud int) (io.ReadWriteCloser, error)

// BridgeDeps is everything the bridge talks to outside itself.  Scanner
// is required.  A nil OpenPort means OpenSerialPort.  Any other nil entry
// means that part is missing: no command port, no hot-plug events, no tap.
type BridgeDeps struct {
	Scanner   DeviceScanner
	USBEvents <-chan USBEvent
	OpenPort  PortOpener
	Commands  *CommandPort
	Taps      [NUM_TAPS]TapSender
}

type BridgeStats struct {
	RX          uint64
	TX          uint64
	Cmds        uint64
	ReadErrors  uint64
	WriteErrors uint64
	TapErrors   uint64
}

type dl32Result struct {
	samples Samples
	count   int
	err     error
}

type Bridge struct {
	cfg    *Config
	logger *log.Logger

	table    *ChannelTable
	cable    *CableMonitor
	mapper   *PortMapper
	commands *CommandPort
	taps     [NUM_TAPS]TapSender
	openPort PortOpener

	timeFormat *strftime.Strftime

	solodlPort io.ReadWriteCloser
	solodl     *SoloDLWriter
	dl32Ch     chan dl32Result
	pumpDone   chan struct{}
	pumpExited chan struct{}

	raw    Samples
	normal Samples
	output Samples

	running  bool
	stopping bool
	stopCh   chan struct{}
	reloadCh chan struct{}

	stats    BridgeStats
	started  time.Time
	lastSend time.Time
	now      func() time.Time
}

/*-------------------------------------------------------------------
 *
 * Name:	NewBridge
 *
 * Purpose:	Set up the channel table and, if the cable is there,
 *		open the serial ports.
 *
 * Returns:	Error for a bad channel configuration or when the
 *		cable is there but its ports can't be opened.
 *
 *--------------------------------------------------------------------*/

func NewBridge(cfg *Config, logger *log.Logger, deps BridgeDeps) (*Bridge, error) {
	var timeFormat, err = strftime.New(cfg.Bridge.StatusTimeFormat)
	if err != nil {
		return nil, fmt.Errorf("%w: status_time_format: %w", ErrConfig, err)
	}

	var b = &Bridge{ //nolint:exhaustruct
		cfg:        cfg,
		logger:     logger.WithPrefix("Bridge"),
		table:      NewChannelTable(logger),
		mapper:     NewPortMapper(deps.Scanner),
		commands:   deps.Commands,
		taps:       deps.Taps,
		openPort:   deps.OpenPort,
		timeFormat: timeFormat,
		stopCh:     make(chan struct{}, 1),
		reloadCh:   make(chan struct{}, 1),
		now:        time.Now,
	}

	if b.openPort == nil {
		b.openPort = func(device string, baud int) (io.ReadWriteCloser, error) {
			return OpenSerialPort(device, baud, cfg.Bridge.ReadTimeout, logger)
		}
	}

	if err := b.table.Configure(cfg.ChannelConfig()); err != nil {
		return nil, err
	}

	b.cable = NewCableMonitor(deps.Scanner, deps.USBEvents, cfg.Bridge.ReadTimeout, logger)

	if b.cable.Connected() {
		if err := b.openDevices(); err != nil {
			return nil, err
		}
	} else {
		b.logger.Warn("USB cable not connected, waiting for it")
	}

	b.started = b.now()

	return b, nil
}

func (b *Bridge) Table() *ChannelTable {
	return b.table
}

func (b *Bridge) Stats() BridgeStats {
	return b.stats
}

// Stop asks Loop to finish.  Safe from any goroutine.
func (b *Bridge) Stop() {
	select {
	case b.stopCh <- struct{}{}:
	default:
	}
}

// Reload asks Loop to re-read the configuration file.  Safe from any
// goroutine.
func (b *Bridge) Reload() {
	select {
	case b.reloadCh <- struct{}{}:
	default:
	}
}

func (b *Bridge) openDevices() error {
	var dl32Path, solodlPath, err = b.mapper.Resolve(b.cfg.Ports)
	if err != nil {
		return err
	}

	dl32, err := b.openPort(dl32Path, b.cfg.Ports.DL32.Baud)
	if err != nil {
		return fmt.Errorf("dl32: %w", err)
	}

	solodl, err := b.openPort(solodlPath, b.cfg.Ports.SoloDL.Baud)
	if err != nil {
		dl32.Close()
		return fmt.Errorf("solodl: %w", err)
	}

	b.solodlPort = solodl
	b.solodl = NewSoloDLWriter(solodl, b.logger)

	b.dl32Ch = make(chan dl32Result, 1)
	b.pumpDone = make(chan struct{})
	b.pumpExited = make(chan struct{})

	var reader = NewDL32Reader(stoppableReader{r: dl32, done: b.pumpDone}, b.cfg.Bridge.MaxRetries, b.logger)

	go b.pump(dl32, reader, b.dl32Ch, b.pumpDone, b.pumpExited)

	b.logger.Info("devices open", "dl32", dl32Path, "solodl", solodlPath)

	return nil
}

// closeDevices stops the pump, which closes the DL-32 port itself once its
// current read returns.  With wait set, don't return until it has.
func (b *Bridge) closeDevices(wait bool) {
	if b.pumpDone != nil {
		close(b.pumpDone)
		b.pumpDone = nil
	}

	b.dl32Ch = nil

	if wait && b.pumpExited != nil {
		<-b.pumpExited
	}

	b.pumpExited = nil

	if b.solodlPort != nil {
		if err := b.solodlPort.Close(); err != nil {
			b.logger.Warn("closing solodl", "err", err)
		}

		b.solodlPort = nil
		b.solodl = nil
	}

	b.logger.Info("devices closed")
}

// stoppableReader fails the next read once done is closed, so a reader
// that retries timeouts forever still gives up.
type stoppableReader struct {
	r    io.Reader
	done <-chan struct{}
}

func (s stoppableReader) Read(buf []byte) (int, error) {
	select {
	case <-s.done:
		return 0, errPumpStopped
	default:
	}

	return s.r.Read(buf)
}

var errPumpStopped = errors.New("pump stopped")

// pump reads DL-32 packets until done is closed, then closes port.
func (b *Bridge) pump(port io.Closer, reader *DL32Reader, out chan<- dl32Result, done <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)

	defer func() {
		if err := port.Close(); err != nil {
			b.logger.Warn("closing dl32", "err", err)
		}
	}()

	for {
		var res dl32Result

		res.count, res.err = reader.ReadSamples(&res.samples)

		select {
		case <-done:
			return
		default:
		}

		select {
		case out <- res:
		case <-done:
			return
		}

		if res.err != nil && !errors.Is(res.err, ErrReadTimeout) {
			// Don't spin on a port that has gone bad.
			select {
			case <-time.After(SEND_INTERVAL):
			case <-done:
				return
			}
		}
	}
}

/*-------------------------------------------------------------------
 *
 * Name:	Loop
 *
 * Purpose:	Run the bridge until stopped.
 *
 * Returns:	nil after Stop, the stop command or ctx ending.  An
 *		error when the ports can't be reopened after the cable
 *		comes back.
 *
 *--------------------------------------------------------------------*/

func (b *Bridge) Loop(ctx context.Context) error {
	b.running = true
	b.stopping = false

	defer func() {
		b.running = false
		b.closeDevices(true)
	}()

	var conns <-chan net.Conn
	if b.commands != nil {
		conns = b.commands.Conns()
	}

	var cableEvents = b.cable.Events()

	var timer = time.NewTimer(0)
	defer timer.Stop()

	b.lastSend = b.now()

	b.logger.Info("running")

	for !b.stopping {
		if shouldSend(b.now().Sub(b.lastSend), len(b.dl32Ch) > 0) {
			b.send()
		}

		var elapsed = b.now().Sub(b.lastSend)
		var sleep, alarm = nextSleep(elapsed)

		if alarm == alarmClamp {
			b.logger.Warn("sleep clamped", "since_last", elapsed)
		}

		timer.Reset(sleep)

		select {
		case <-ctx.Done():
			b.stopping = true

		case <-b.stopCh:
			b.stopping = true

		case <-b.reloadCh:
			if err := b.reloadConfig(); err != nil {
				b.logger.Error("reload failed, keeping current configuration", "err", err)
			}

		case <-timer.C:

		case res := <-b.dl32Ch:
			b.receive(res)

		case conn := <-conns:
			b.serveCommand(conn)

		case ev, ok := <-cableEvents:
			if !ok {
				b.logger.Warn("USB hot-plug events stopped")
				cableEvents = nil

				continue
			}

			if err := b.cableEvent(ev); err != nil {
				return err
			}
		}
	}

	b.logger.Info("stopped", "reads", b.stats.RX, "writes", b.stats.TX, "cmds", b.stats.Cmds)

	return nil
}

func (b *Bridge) send() {
	var now = b.now()
	var since = now.Sub(b.lastSend)

	b.lastSend = now

	if lateSend(since) {
		b.logger.Warn("SoloDL send is late", "since_last", since)
	}

	if !b.cable.Connected() || b.solodl == nil {
		return
	}

	if err := b.table.Load(&b.raw, &b.normal, &b.output); err != nil {
		b.logger.Error("can't load channels", "err", err)
		return
	}

	if err := b.solodl.WriteSamples(&b.output); err != nil {
		b.stats.WriteErrors++
		b.logger.Warn("SoloDL write failed", "err", err)

		return
	}

	b.stats.TX++

	if b.stats.TX%DEFAULT_UNPOWERED_WARNING == 0 && b.stats.RX == 0 {
		b.logger.Warn("nothing from the DL-32 yet, is it powered?", "writes", b.stats.TX)
	}

	b.monitorData(TAP_RAW, &b.raw)
	b.monitorData(TAP_NORMAL, &b.normal)
	b.monitorData(TAP_OUTPUT, &b.output)
}

func (b *Bridge) monitorData(which int, samples *Samples) {
	var tap = b.taps[which]
	if tap == nil {
		return
	}

	if err := tap.Send(samples); err != nil {
		b.stats.TapErrors++
		b.logger.Debug("tap send failed", "tap", tap.Name(), "err", err)
	}
}

func (b *Bridge) receive(res dl32Result) {
	if res.err != nil {
		b.stats.ReadErrors++
		b.logger.Warn("DL-32 read failed", "err", res.err)

		return
	}

	// Channels this packet didn't carry keep their last value.
	copy(b.raw[1:res.count+1], res.samples[1:res.count+1])
	b.stats.RX++

	b.logger.Debug("DL-32 packet", "channels", res.count)
}

func (b *Bridge) serveCommand(conn net.Conn) {
	var client = b.commands.Client(conn)

	var line, err = client.Receive()
	if err != nil {
		b.logger.Warn("command receive failed", "client", client.RemoteAddr(), "err", err)
		conn.Close()

		return
	}

	var response = b.DoCommand(line)

	if err := client.Send(response); err != nil {
		b.logger.Warn("command send failed", "client", client.RemoteAddr(), "err", err)
	}

	if err := client.Drop(); err != nil {
		b.logger.Debug("command drop", "client", client.RemoteAddr(), "err", err)
	}

	b.stats.Cmds++
}

func (b *Bridge) cableEvent(ev USBEvent) error {
	var before = b.cable.Connected()

	var _, err = b.cable.HandleEvent(ev)
	if err != nil {
		b.logger.Warn("USB rescan failed", "err", err)
	}

	var after = b.cable.Connected()

	switch {
	case before && !after:
		b.logger.Warn("USB cable unplugged")
		b.closeDevices(false)
	case !before && after:
		b.logger.Info("USB cable plugged in")

		if err := b.openDevices(); err != nil {
			return fmt.Errorf("%w: %w", ErrCableLost, err)
		}
	}

	return nil
}

/*-------------------------------------------------------------------
 *
 * Name:	reloadConfig
 *
 * Purpose:	Re-read the configuration file and apply the channel
 *		settings.
 *
 * Description:	The new settings are tried on a scratch table first so a
 *		bad file leaves the running table alone.  Ports, taps and
 *		the command port stay as they were until a restart.
 *
 *--------------------------------------------------------------------*/

func (b *Bridge) reloadConfig() error {
	if b.cfg.Path() == "" {
		return fmt.Errorf("%w: no configuration file to reload", ErrConfig)
	}

	var cfg, err = LoadConfig(b.cfg.Path())
	if err != nil {
		return err
	}

	var scratch = NewChannelTable(log.New(io.Discard))
	if err := scratch.Configure(cfg.ChannelConfig()); err != nil {
		return err
	}

	if err := b.table.Configure(cfg.ChannelConfig()); err != nil {
		return err
	}

	cfg.Ports = b.cfg.Ports
	cfg.Bridge = b.cfg.Bridge
	cfg.Log = b.cfg.Log
	b.cfg = cfg

	b.logger.Info("configuration reloaded", "path", cfg.Path())

	return nil
}
