package ecubridge

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

/*-------------------------------------------------------------------
 *
 * Name:	NewLogger
 *
 * Purpose:	Build the one logger everything else hangs off.
 *
 * Inputs:	cfg	- Level and optional file.  No file means stderr.
 *		debug	- Force debug level, from the command line.
 *
 * Returns:	Logger, and the file to close on exit (nil for stderr).
 *
 *--------------------------------------------------------------------*/

func NewLogger(cfg LogConfig, debug bool) (*log.Logger, io.Closer, error) {
	var level, err = log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: log level: %w", ErrConfig, err)
	}

	if debug {
		level = log.DebugLevel
	}

	var w io.Writer = os.Stderr
	var closer io.Closer

	if cfg.File != "" {
		var f, openErr = os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec
		if openErr != nil {
			return nil, nil, fmt.Errorf("could not open log file %s: %w", cfg.File, openErr)
		}

		w = f
		closer = f
	}

	var logger = log.NewWithOptions(w, log.Options{ //nolint:exhaustruct
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          "ecubridge",
	})

	return logger, closer, nil
}
