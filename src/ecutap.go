package ecubridge

/*------------------------------------------------------------------
 *
 * Purpose:   	Watch one of the bridge's data taps.
 *
 * Description:	Prints each tap line as it comes, or with -T collects
 *		a number of them into a table, one row per send and one
 *		column per channel.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"
)

const (
	DEFAULT_ECUTAP_TIMEOUT     = 2 * time.Second
	DEFAULT_ECUTAP_TABLE_COUNT = 10
)

// tapPort maps raw, normal or output to the default port for that tap.
func tapPort(kind string) (int, error) {
	switch strings.ToLower(kind) {
	case "raw":
		return DEFAULT_TAP_RAW_PORT, nil
	case "normal":
		return DEFAULT_TAP_NORMAL_PORT, nil
	case "output":
		return DEFAULT_TAP_OUTPUT_PORT, nil
	default:
		return 0, fmt.Errorf("%w: tap kind must be raw, normal or output, not %q", ErrConfig, kind)
	}
}

type tapOptions struct {
	group   string
	port    int
	ifname  string
	count   int
	table   bool
	timeout time.Duration
}

func EcutapMain() {
	var group = pflag.StringP("group", "g", DEFAULT_TAP_GROUP, "Multicast group the bridge sends to.")
	var port = pflag.IntP("port", "P", 0, "UDP port.  Overrides --kind.")
	var kind = pflag.StringP("kind", "k", "output", "Which tap: raw, normal or output.")
	var ifname = pflag.StringP("interface", "i", DEFAULT_TAP_INTERFACE, "Interface to join the group on.")
	var count = pflag.IntP("count", "n", 0, "Stop after this many lines.  0 means forever, or 10 with --table.")
	var table = pflag.BoolP("table", "T", false, "Collect the lines into a table.")
	var timeout = pflag.DurationP("timeout", "t", DEFAULT_ECUTAP_TIMEOUT, "Complain when nothing arrives for this long.")
	var version = pflag.BoolP("version", "v", false, "Print version and exit.")
	var help = pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - Watch an ECU bridge data tap.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	if *version {
		printVersion(os.Stdout, "ecutap", false)
		return
	}

	var opts = tapOptions{
		group:   *group,
		port:    *port,
		ifname:  *ifname,
		count:   *count,
		table:   *table,
		timeout: *timeout,
	}

	if opts.port == 0 {
		var p, err = tapPort(*kind)
		if err != nil {
			pterm.Error.Println(err)
			os.Exit(1)
		}

		opts.port = p
	}

	if opts.table && opts.count == 0 {
		opts.count = DEFAULT_ECUTAP_TABLE_COUNT
	}

	var reader, err = NewDataTapReader(context.Background(), opts.group, opts.port, opts.ifname)
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
	defer reader.Close()

	if err := watchTap(os.Stdout, reader, opts); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

// watchTap reads opts.count lines, or forever for 0.  Quiet spells are
// reported and waited out, anything else ends the watch.
func watchTap(w io.Writer, reader *DataTapReader, opts tapOptions) error {
	var rows []Samples

	for n := 0; opts.count == 0 || n < opts.count; {
		var samples, err = reader.Read(opts.timeout)

		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			pterm.Warning.Printfln("nothing on port %d for %s", opts.port, opts.timeout)
			continue
		case err != nil:
			return err
		}

		n++

		if opts.table {
			rows = append(rows, samples)
		} else {
			fmt.Fprint(w, FormatTapLine(&samples))
		}
	}

	if opts.table {
		var out, err = renderTapTable(rows)
		if err != nil {
			return err
		}

		fmt.Fprintln(w, out)
	}

	return nil
}

func renderTapTable(rows []Samples) (string, error) {
	var header = []string{"#"}
	for c := 1; c <= NUM_CHANNELS; c++ {
		header = append(header, strconv.Itoa(c))
	}

	var data = pterm.TableData{header}

	for i, samples := range rows {
		var row = []string{strconv.Itoa(i + 1)}
		for c := 1; c <= NUM_CHANNELS; c++ {
			row = append(row, strconv.FormatUint(uint64(samples[c]), 10))
		}

		data = append(data, row)
	}

	return pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
}
