package ecubridge

/*------------------------------------------------------------------
 *
 * Purpose:   	Commands from the command port.
 *
 * Description:	A command is a comma separated line.  The command and
 *		sub-command names are not case sensitive.
 *
 *		echo,<text>...
 *		stop
 *		status
 *		channels,map[,terse]
 *		channels,transform,<channel>,<value>
 *		patch,reset
 *		patch,default
 *		patch,swap,<channel>,<channel>
 *		filter,<input|output>,<channel>,<null|passthrough|manual>[,<value>]
 *		config,reload
 *		help
 *
 *		Every problem gets an "ERROR: ..." answer.  Nothing a
 *		client sends can stop the bridge except "stop".
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"strconv"
	"strings"
)

const commandHelp = `echo,<text>...
stop
status
channels,map[,terse]
channels,transform,<channel>,<value>
patch,reset
patch,default
patch,swap,<channel>,<channel>
filter,<input|output>,<channel>,<null|passthrough|manual>[,<value>]
config,reload
help`

func commandError(format string, args ...any) string {
	return "ERROR: " + fmt.Sprintf(format, args...)
}

// parseChannel gives 0 for anything that isn't a channel number.
func parseChannel(token string) int {
	var c, err = strconv.Atoi(strings.TrimSpace(token))
	if err != nil || c < 1 || c > NUM_CHANNELS {
		return 0
	}

	return c
}

func isNumber(token string) bool {
	var _, err = strconv.Atoi(strings.TrimSpace(token))

	return err == nil
}

/*-------------------------------------------------------------------
 *
 * Name:	DoCommand
 *
 * Purpose:	Carry out one command line.
 *
 * Returns:	The response, without the final newline.
 *
 *--------------------------------------------------------------------*/

func (b *Bridge) DoCommand(line string) string {
	if strings.TrimSpace(line) == "" {
		return commandError("no command.")
	}

	var tokens = strings.Split(line, ",")
	var cmd = strings.ToLower(strings.TrimSpace(tokens[0]))

	b.logger.Info("command", "line", line)

	var result string

	switch cmd {
	case "echo":
		result = strings.Join(tokens[1:], "")
	case "stop":
		b.stopping = true
		result = "OK.  Stopping."
	case "status":
		result = b.status()
	case "channels":
		result = b.channelsCommand(tokens)
	case "patch":
		result = b.patchCommand(tokens)
	case "filter":
		result = b.filterCommand(tokens)
	case "config":
		result = b.configCommand(tokens)
	case "help":
		result = commandHelp
	default:
		result = commandError("Unknown command: %s", cmd)
	}

	if strings.HasPrefix(result, "ERROR:") {
		b.logger.Warn("command failed", "line", line, "result", result)
	}

	return result
}

func subCommand(tokens []string) string {
	return strings.ToLower(strings.TrimSpace(tokens[1]))
}

func (b *Bridge) channelsCommand(tokens []string) string {
	if len(tokens) < 2 {
		return commandError("channels is missing a sub-command.")
	}

	switch subCommand(tokens) {
	case "map":
		// Any third argument at all means terse.
		var channelMap, err = b.table.ChannelMap(len(tokens) >= 3)
		if err != nil {
			return commandError("problem fetching channel map: %s", err)
		}

		return channelMap

	case "transform":
		if len(tokens) < 4 {
			return commandError("transform sub-command is missing arguments.")
		}

		if !isNumber(tokens[2]) {
			return commandError("transform sub-command - bad channel # value: %s", tokens[2])
		}

		var channel = parseChannel(tokens[2])
		if channel == 0 {
			return commandError("transform sub-command - channel # value out of range: %s", tokens[2])
		}

		var value, err = parseUint32(tokens[3])
		if err != nil {
			return commandError("transform sub-command - requires number argument: %s", tokens[3])
		}

		output, err := b.table.Transform(channel, value)
		if err != nil {
			return commandError("transform sub-command - problem transforming: %s", err)
		}

		return strconv.FormatUint(uint64(output), 10)
	}

	return commandError("unknown sub-command: %s", tokens[1])
}

func (b *Bridge) patchCommand(tokens []string) string {
	if len(tokens) < 2 {
		return commandError("patch is missing arguments.")
	}

	switch sub := subCommand(tokens); sub {
	case "reset":
		if err := b.table.PatchReset(); err != nil {
			return commandError("problem resetting patch table: %s", err)
		}

		return "OK. patch table reset."

	case "default":
		if err := b.table.PatchDefault(); err != nil {
			return commandError("problem resetting patch table: %s", err)
		}

		return "OK. patch table reset."

	case "swap":
		if len(tokens) < 4 {
			return commandError("swap sub-command is missing arguments.")
		}

		var chans [2]int

		for i := range chans {
			var token = tokens[2+i]

			if !isNumber(token) {
				return commandError("bad channel #%d value: %s", i+1, token)
			}

			chans[i] = parseChannel(token)
			if chans[i] == 0 {
				return commandError("channel #%d value out of range: %s", i+1, token)
			}
		}

		if err := b.table.Patch(chans[0], chans[1]); err != nil {
			return commandError("problem swapping channels: %s", err)
		}

		return "OK. swapped."

	default:
		return commandError("patch unrecognized sub-command: %s", sub)
	}
}

func (b *Bridge) filterCommand(tokens []string) string {
	if len(tokens) < 4 {
		return commandError("filter is missing arguments.")
	}

	var side = strings.ToLower(strings.TrimSpace(tokens[1]))
	if side != "input" && side != "output" {
		return commandError("bad filter side (must be input or output): %s", side)
	}

	if !isNumber(tokens[2]) {
		return commandError("bad channel number: %s", tokens[2])
	}

	var channel = parseChannel(tokens[2])
	if channel == 0 {
		return commandError("channel out of range: %s", tokens[2])
	}

	var kind = strings.ToLower(strings.TrimSpace(tokens[3]))
	var value uint32

	switch kind {
	case "null", "passthrough":
	case "manual":
		if len(tokens) < 5 {
			return commandError("manual filter requires value argument")
		}

		var err error

		value, err = parseUint32(tokens[4])
		if err != nil {
			return commandError("manual filter requires number argument: %s", tokens[4])
		}
	default:
		return commandError("bad filter kind (must be null, passthrough, or manual): %s", kind)
	}

	var filter, err = NewFilter(kind, value)
	if err != nil {
		return commandError("%s", err)
	}

	if side == "input" {
		err = b.table.SetInputFilter(channel, filter)
	} else {
		err = b.table.SetOutputFilter(channel, filter)
	}

	if err != nil {
		b.logger.Error("can't set filter", "side", side, "channel", channel, "err", err)
		return commandError("problem setting %s filter.", side)
	}

	b.logger.Info("filter set", "side", side, "channel", channel, "filter", filter.Label())

	return "OK. Filter set."
}

func (b *Bridge) configCommand(tokens []string) string {
	if len(tokens) < 2 {
		return commandError("config is missing a sub-command.")
	}

	switch sub := subCommand(tokens); sub {
	case "reload":
		if err := b.reloadConfig(); err != nil {
			return commandError("reload failed: %s", err)
		}

		return "OK. configuration reloaded."
	default:
		return commandError("config unrecognized sub-command: %s", sub)
	}
}

func (b *Bridge) status() string {
	var sb strings.Builder

	if b.cable.Connected() {
		sb.WriteString("status: OK\n")
	} else {
		sb.WriteString("status: USB Unplugged\n")
	}

	if !b.running {
		sb.WriteString("status: not running\n")
	}

	if b.stopping {
		sb.WriteString("status: stopping...\n")
	}

	var logFile = b.cfg.Log.File
	if logFile == "" {
		logFile = "stderr"
	}

	fmt.Fprintf(&sb, " reads: %d\n", b.stats.RX)
	fmt.Fprintf(&sb, "writes: %d\n", b.stats.TX)
	fmt.Fprintf(&sb, "uptime: %d\n", int64(b.now().Sub(b.started).Seconds()))
	fmt.Fprintf(&sb, "  cmds: %d\n", b.stats.Cmds)
	fmt.Fprintf(&sb, "config: %s\n", b.cfg.Path())
	fmt.Fprintf(&sb, "   log: %s\n", logFile)
	fmt.Fprintf(&sb, " since: %s\n", b.timeFormat.FormatString(b.started))
	fmt.Fprintf(&sb, " cable: %s\n", b.cable.Details())
	fmt.Fprintf(&sb, "errors: %d read, %d write, %d tap\n", b.stats.ReadErrors, b.stats.WriteErrors, b.stats.TapErrors)

	return sb.String()
}
