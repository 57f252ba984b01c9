package ecubridge

/*------------------------------------------------------------------
 *
 * Purpose:   	Main program for the ECU bridge.
 *
 * Description:	Reads the configuration, sets up logging, the PID file,
 *		the command port, the data taps and the USB hot-plug
 *		monitor, then runs the bridge until told to stop.
 *
 *		Signals:
 *
 *			SIGTERM, SIGINT		Stop.
 *			SIGHUP			Re-read the configuration file.
 *
 *		Runs in the foreground.  Leave it to systemd to keep it
 *		running.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
)

type daemonOptions struct {
	configFile string
	configSet  bool // Given on the command line, so it had better be there.
	debug      bool
	logFile    string
	pidFile    string
}

// usbWatcher starts hot-plug events.  WatchUSBEvents in real life.
type usbWatcher func(ctx context.Context, logger *log.Logger) (<-chan USBEvent, error)

func EcubridgeMain() {
	var configFile = pflag.StringP("config-file", "c", DEFAULT_CONFIG_FILE, "Configuration file name.")
	var debug = pflag.BoolP("debug", "d", false, "Debug logging, whatever the configuration file says.")
	var logFile = pflag.StringP("log-file", "L", "", "Log to this file instead of the one in the configuration.")
	var pidFile = pflag.StringP("pid-file", "p", "", "Lock and write a PID file so only one bridge runs.")
	var version = pflag.BoolP("version", "v", false, "Print version and exit.")
	var help = pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - Bridge a DL-32 data logger to an AiM SoloDL.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	if *version {
		printVersion(os.Stdout, "ecubridge", *debug)
		return
	}

	var opts = daemonOptions{
		configFile: *configFile,
		configSet:  pflag.CommandLine.Changed("config-file"),
		debug:      *debug,
		logFile:    *logFile,
		pidFile:    *pidFile,
	}

	var signals = make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	var err = runDaemon(context.Background(), opts, newUdevScanner(), WatchUSBEvents, signals)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ecubridge: %s\n", err)
		os.Exit(1)
	}
}

// loadDaemonConfig falls back to the defaults when the default file isn't
// there.  A file named on the command line has to exist.
func loadDaemonConfig(opts daemonOptions) (*Config, error) {
	var cfg, err = LoadConfig(opts.configFile)

	if err != nil && !opts.configSet && errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return cfg, err
}

/*-------------------------------------------------------------------
 *
 * Name:	runDaemon
 *
 * Purpose:	Everything EcubridgeMain does after the command line.
 *
 * Inputs:	scanner	- Finds the cable and its ports.
 *		watch	- Starts hot-plug events.  A failure here only
 *			  means we don't notice the cable coming and going.
 *		signals	- SIGHUP reloads, anything else stops.
 *
 * Returns:	nil after a clean stop.
 *
 *--------------------------------------------------------------------*/

func runDaemon(ctx context.Context, opts daemonOptions, scanner DeviceScanner, watch usbWatcher, signals <-chan os.Signal) error {
	var cfg, err = loadDaemonConfig(opts)
	if err != nil {
		return err
	}

	if opts.logFile != "" {
		cfg.Log.File = opts.logFile
	}

	logger, logCloser, err := NewLogger(cfg.Log, opts.debug)
	if err != nil {
		return err
	}

	if logCloser != nil {
		defer logCloser.Close()
	}

	if cfg.Path() == "" {
		logger.Warn("no configuration file, using defaults", "tried", opts.configFile)
	} else {
		logger.Info("configuration loaded", "path", cfg.Path())
	}

	if opts.pidFile != "" {
		var pf, pidErr = LockPIDFile(opts.pidFile)
		if pidErr != nil {
			return pidErr
		}

		defer func() {
			if err := pf.Release(); err != nil {
				logger.Warn("releasing PID file", "err", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var events <-chan USBEvent

	if watch != nil {
		events, err = watch(ctx, logger)
		if err != nil {
			logger.Warn("no USB hot-plug events, cable changes need a restart", "err", err)
			events = nil
		}
	}

	commands, err := ListenCommandPort(ctx, cfg.Bridge.CommandPort, cfg.Bridge.CommandTimeout, logger)
	if err != nil {
		return err
	}
	defer commands.Close()

	var deps = BridgeDeps{ //nolint:exhaustruct
		Scanner:   scanner,
		USBEvents: events,
		Commands:  commands,
	}

	var tapPorts = [NUM_TAPS]int{cfg.Bridge.TapRaw, cfg.Bridge.TapNormal, cfg.Bridge.TapOutput}

	for i, name := range []string{"raw", "normal", "output"} {
		var tap, tapErr = NewDataTapWriter(name, cfg.Bridge.TapGroup, tapPorts[i], cfg.Bridge.TapInterface, logger)
		if tapErr != nil {
			logger.Warn("data tap unavailable", "tap", name, "err", tapErr)
			continue
		}
		defer tap.Close()

		deps.Taps[i] = tap
	}

	if cfg.Bridge.DNSSD {
		if err := AnnounceCommandPort(ctx, cfg.Bridge.DNSSDName, commands.Port(), logger); err != nil {
			logger.Warn("DNS-SD announcement failed", "err", err)
		}
	}

	bridge, err := NewBridge(cfg, logger, deps)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-signals:
				logger.Info("signal", "signal", sig)

				if sig == syscall.SIGHUP {
					bridge.Reload()
				} else {
					bridge.Stop()
				}
			}
		}
	}()

	return bridge.Loop(ctx)
}
