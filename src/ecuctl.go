package ecubridge

/*------------------------------------------------------------------
 *
 * Purpose:   	Send one command to a running bridge.
 *
 * Description:	The arguments are joined with commas, so
 *
 *			ecuctl patch swap 1 2
 *
 *		sends "patch,swap,1,2".  The response is printed up to the
 *		END line.  Exit status is 1 for an ERROR response or when
 *		the bridge can't be reached.
 *
 *---------------------------------------------------------------*/

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"
)

const DEFAULT_ECUCTL_TIMEOUT = 5 * time.Second

func EcuctlMain() {
	var host = pflag.StringP("host", "H", "localhost", "Host the bridge runs on.")
	var port = pflag.IntP("port", "P", DEFAULT_COMMAND_PORT, "Command port.")
	var timeout = pflag.DurationP("timeout", "t", DEFAULT_ECUCTL_TIMEOUT, "Give up if the bridge hasn't answered by then.")
	var version = pflag.BoolP("version", "v", false, "Print version and exit.")
	var help = pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - Send a command to the ECU bridge.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options] command [argument...]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Try \"%s help\" for the list of commands.\n", os.Args[0])
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	if *version {
		printVersion(os.Stdout, "ecuctl", false)
		return
	}

	if pflag.NArg() == 0 {
		pflag.Usage()
		os.Exit(1)
	}

	var address = net.JoinHostPort(*host, strconv.Itoa(*port))

	var lines, err = SendCommand(address, strings.Join(pflag.Args(), ","), *timeout)
	if err != nil {
		pterm.Error.Printfln("%s: %s", address, err)
		os.Exit(1)
	}

	if printResponse(os.Stdout, lines) {
		os.Exit(1)
	}
}

/*-------------------------------------------------------------------
 *
 * Name:	SendCommand
 *
 * Purpose:	One command, one response.
 *
 * Returns:	The response lines without END.  The bridge closing the
 *		connection without END still counts as a response.
 *
 *--------------------------------------------------------------------*/

func SendCommand(address string, command string, timeout time.Duration) ([]string, error) {
	var conn, err = net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	if _, err := io.WriteString(conn, command+"\n"); err != nil {
		return nil, fmt.Errorf("sending command: %w", err)
	}

	var lines []string
	var scanner = bufio.NewScanner(conn)

	for scanner.Scan() {
		var line = scanner.Text()
		if line == COMMAND_END {
			return lines, nil
		}

		lines = append(lines, line)
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return lines, fmt.Errorf("reading response: %w", err)
	}

	return lines, nil
}

// printResponse says whether the bridge reported an error.
func printResponse(w io.Writer, lines []string) bool {
	var failed = false

	for _, line := range lines {
		if msg, ok := strings.CutPrefix(line, "ERROR: "); ok {
			fmt.Fprint(w, pterm.Error.Sprintln(msg))

			failed = true

			continue
		}

		fmt.Fprintln(w, line)
	}

	return failed
}
