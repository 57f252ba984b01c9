package ecubridge

/*------------------------------------------------------------------
 *
 * Purpose:   	Map DL-32 data onto the SoloDL channels.
 *
 * Description:	The bridge has 15 channels.  Data from the DL-32 comes in
 *		on the left and goes out on the right to the SoloDL.
 *
 *		chan #  transform filter  patch order  filter   transform
 *		---------------------------------------------------------
 *		chan 1  [dl32-1]  [pass]  1            [pass]   [rpm]
 *		chan 2  [dl32-2]  [pass]  2            [pass]   [wheelspeed]
 *		chan 3  [dl32-3]  [pass]  3            [pass]   [oilpress]
 *		chan 4  [dl32-4]  [pass]  4            [pass]   [oiltemp]
 *		chan 5  [dl32-5]  [pass]  5            [pass]   [watertemp]
 *		chan 6  [null]    [null]  6            [pass]   [fuelpress]
 *		...
 *		chan 15 [null]    [null]  15           [pass]   [errorflag]
 *
 *		The transforms on either end are fixed by the devices.
 *		The filters are configurable, and the patch order rewires
 *		which input feeds which output.  If DL-32 1 should show up
 *		as oil pressure, give input 1 patch order 3 and move 3
 *		somewhere else.
 *
 *		The output side stays in AIM protocol order; the patch
 *		table only picks which normalized input value feeds it.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
)

const NUM_CHANNELS = 15

// Samples holds one value per channel.  Index 0 is unused and always zero.
type Samples [NUM_CHANNELS + 1]uint32

// ChannelConfig is the part of the configuration the channel table consumes.
type ChannelConfig struct {
	InputFilters  []string
	OutputFilters []string
	Patch         []int
}

var inputTransformKinds = [NUM_CHANNELS + 1]TransformKind{
	0,
	TransformDL32Chan1,
	TransformDL32Chan2,
	TransformDL32Chan3,
	TransformDL32Chan4,
	TransformDL32Chan5,
	TransformNull,
	TransformNull,
	TransformNull,
	TransformNull,
	TransformNull,
	TransformNull,
	TransformNull,
	TransformNull,
	TransformNull,
	TransformNull,
}

var outputTransformKinds = [NUM_CHANNELS + 1]TransformKind{
	0,
	TransformAIMRPM,
	TransformAIMWheelSpeed,
	TransformAIMOilPress,
	TransformAIMOilTemp,
	TransformAIMWaterTemp,
	TransformAIMFuelPress,
	TransformAIMBattVolt,
	TransformAIMThrotAng,
	TransformAIMManifPress,
	TransformAIMAirChargeTemp,
	TransformAIMExhTemp,
	TransformAIMLambda,
	TransformAIMFuelTemp,
	TransformAIMGear,
	TransformAIMErrorFlag,
}

type ChannelTable struct {
	logger *log.Logger
	ready  bool

	inputTrans   [NUM_CHANNELS + 1]*Transform
	inputFilter  [NUM_CHANNELS + 1]*Transform
	outputFilter [NUM_CHANNELS + 1]*Transform
	outputTrans  [NUM_CHANNELS + 1]*Transform

	// patchTable[src] = dst, patchInverse[dst] = src.
	patchTable        [NUM_CHANNELS + 1]int
	patchInverse      [NUM_CHANNELS + 1]int
	patchTableOrig    [NUM_CHANNELS + 1]int
	patchTableDefault [NUM_CHANNELS + 1]int
}

func NewChannelTable(logger *log.Logger) *ChannelTable {
	var ct = &ChannelTable{logger: logger.WithPrefix("ChannelTable")} //nolint:exhaustruct

	ct.Clear()

	return ct
}

func (ct *ChannelTable) Ready() bool {
	return ct.ready
}

/*-------------------------------------------------------------------
 *
 * Name:	Configure
 *
 * Purpose:	Reset everything and build the table from configuration.
 *
 * Description:	Callable at any time, so a configuration reload can
 *		happen live.  Anything wrong leaves the table cleared and
 *		not ready; nothing is ever partially applied.
 *
 *--------------------------------------------------------------------*/

func (ct *ChannelTable) Configure(cfg ChannelConfig) error {
	if ct.ready {
		ct.Clear()
	}

	for i := 1; i <= NUM_CHANNELS; i++ {
		ct.inputTrans[i] = NewTransform(inputTransformKinds[i])
		ct.outputTrans[i] = NewTransform(outputTransformKinds[i])
	}

	for i := 1; i <= NUM_CHANNELS; i++ {
		var f, err = ct.parseFilterFor(cfg.InputFilters, i, "input")
		if err != nil {
			return err
		}

		ct.inputFilter[i] = f
	}

	for i := 1; i <= NUM_CHANNELS; i++ {
		var f, err = ct.parseFilterFor(cfg.OutputFilters, i, "output")
		if err != nil {
			return err
		}

		ct.outputFilter[i] = f
	}

	for i := 1; i <= NUM_CHANNELS; i++ {
		var chanName = fmt.Sprintf("patch_%d", i)

		if i > len(cfg.Patch) {
			return ct.configFail("missing patch order: %s", chanName)
		}

		var order = cfg.Patch[i-1]

		if order < 1 || order > NUM_CHANNELS {
			return ct.configFail("channel patch order out of range (%d) on channel %s", order, chanName)
		}

		for j := 1; j < i; j++ {
			if ct.patchTable[j] == order {
				return ct.configFail("channel patch order already assigned (%d) on channel %s", order, chanName)
			}
		}

		ct.patchTable[i] = order
	}

	// Belt and braces; with the duplicate check above this can't fire
	// unless the table was corrupted some other way.
	var sum1, sum2 int
	for i := 1; i <= NUM_CHANNELS; i++ {
		sum1 += i
		sum2 += ct.patchTable[i]
	}

	if sum1 != sum2 {
		return ct.configFail("patch ordering appears corrupt")
	}

	ct.patchTableOrig = ct.patchTable
	ct.invertPatchTable()

	ct.ready = true

	ct.logger.Info("configured")

	for i := 1; i <= NUM_CHANNELS; i++ {
		var dst = ct.patchTable[i]
		ct.logger.Infof("DL-32 > [%8s][%12s] %2d..%2d [%12s][%16s] > SoloDL",
			ct.inputTrans[i].Name(), ct.inputFilter[i].Label(), i, dst,
			ct.outputFilter[dst].Label(), ct.outputTrans[dst].Name())
	}

	return nil
}

func (ct *ChannelTable) parseFilterFor(specs []string, channel int, side string) (*Transform, error) {
	var chanName = fmt.Sprintf("chan_%d", channel)

	if channel > len(specs) || strings.TrimSpace(specs[channel-1]) == "" {
		return nil, ct.configFail("missing %s filter on channel %s", side, chanName)
	}

	var f, err = ParseFilter(specs[channel-1])
	if err != nil {
		return nil, ct.configFail("%s on %s channel %s", err, side, chanName)
	}

	return f, nil
}

func (ct *ChannelTable) configFail(format string, args ...any) error {
	var err = fmt.Errorf("%w: "+format, append([]any{ErrConfig}, args...)...)

	ct.logger.Error("configure()", "err", err)
	ct.Clear()

	return err
}

// Clear drops every transform and resets the patch tables.  The table is
// not ready again until Configure succeeds.
func (ct *ChannelTable) Clear() {
	ct.ready = false

	for i := range NUM_CHANNELS + 1 {
		ct.inputTrans[i] = nil
		ct.inputFilter[i] = nil
		ct.outputFilter[i] = nil
		ct.outputTrans[i] = nil

		ct.patchTable[i] = 0
		ct.patchInverse[i] = 0
		ct.patchTableOrig[i] = 0
		ct.patchTableDefault[i] = i
	}
}

func (ct *ChannelTable) invertPatchTable() {
	for src := 0; src <= NUM_CHANNELS; src++ {
		ct.patchInverse[ct.patchTable[src]] = src
	}
}

func (ct *ChannelTable) check(op string, channels ...int) error {
	if !ct.ready {
		return fmt.Errorf("%s: %w", op, ErrNotReady)
	}

	for _, c := range channels {
		if c < 1 || c > NUM_CHANNELS {
			return fmt.Errorf("%s: %w: %d", op, ErrBadChannel, c)
		}
	}

	return nil
}

/*-------------------------------------------------------------------
 *
 * Name:	Load
 *
 * Purpose:	Raw DL-32 samples to normal and SoloDL ready values.
 *
 * Description:	Normalizing always uses the physical input wiring of
 *		the channel.  Only then does the patch table pick which
 *		normal value feeds each output, so an input's transforms
 *		follow it wherever it is patched to.
 *
 *		All 15 normal values are computed before any output so
 *		the result depends on nothing but the table and raw.
 *
 *--------------------------------------------------------------------*/

func (ct *ChannelTable) Load(raw, normal, output *Samples) error {
	if err := ct.check("load()"); err != nil {
		return err
	}

	normal[0] = 0
	output[0] = 0

	for i := 1; i <= NUM_CHANNELS; i++ {
		normal[i] = ct.inputFilter[i].Y(ct.inputTrans[i].Y(raw[i]))
	}

	for dst := 1; dst <= NUM_CHANNELS; dst++ {
		var src = ct.patchInverse[dst]
		output[dst] = ct.outputTrans[dst].Inverse(ct.outputFilter[dst].Y(normal[src]))
	}

	return nil
}

// Transform is a dry run of one output channel: treat input as if it came
// from whichever DL-32 channel is patched to it, and return what would be
// sent to the SoloDL.  Nothing is read or sent.
func (ct *ChannelTable) Transform(channel int, input uint32) (uint32, error) {
	if err := ct.check("transform()", channel); err != nil {
		return 0, err
	}

	var dst = channel
	var src = ct.patchInverse[dst]

	var normal = ct.inputFilter[src].Y(ct.inputTrans[src].Y(input))
	var output = ct.outputTrans[dst].Inverse(ct.outputFilter[dst].Y(normal))

	ct.logger.Debug("transform()", "chan", channel, "src", src, "raw", input, "normal", normal, "output", output)

	return output, nil
}

func (ct *ChannelTable) SetInputFilter(channel int, filter *Transform) error {
	if err := ct.check("setInputFilter()", channel); err != nil {
		return err
	}

	if filter == nil {
		return fmt.Errorf("setInputFilter(): %w", ErrNoFilter)
	}

	ct.inputFilter[channel] = filter

	return nil
}

func (ct *ChannelTable) SetOutputFilter(channel int, filter *Transform) error {
	if err := ct.check("setOutputFilter()", channel); err != nil {
		return err
	}

	if filter == nil {
		return fmt.Errorf("setOutputFilter(): %w", ErrNoFilter)
	}

	ct.outputFilter[channel] = filter

	return nil
}

/*-------------------------------------------------------------------
 *
 * Name:	Patch
 *
 * Purpose:	Swap which inputs feed two output channels.
 *
 * Inputs:	chan1, chan2	- Output channels, 1..15.
 *
 * Description:	Whatever was sent to the SoloDL on chan1 now goes out
 *		on chan2 and vice versa.  Swapping the same pair again
 *		undoes it.  PatchReset goes back to the configured order,
 *		PatchDefault to 1:1, 2:2, etc.
 *
 *--------------------------------------------------------------------*/

func (ct *ChannelTable) Patch(chan1, chan2 int) error {
	if err := ct.check("patch()", chan1, chan2); err != nil {
		return err
	}

	var dstA, dstB = chan1, chan2
	var srcA, srcB = ct.patchInverse[dstA], ct.patchInverse[dstB]

	ct.patchInverse[dstB] = srcA
	ct.patchInverse[dstA] = srcB

	ct.patchTable[srcB] = dstA
	ct.patchTable[srcA] = dstB

	return nil
}

func (ct *ChannelTable) PatchReset() error {
	if err := ct.check("patchReset()"); err != nil {
		return err
	}

	ct.patchTable = ct.patchTableOrig
	ct.invertPatchTable()

	return nil
}

func (ct *ChannelTable) PatchDefault() error {
	if err := ct.check("patchDefault()"); err != nil {
		return err
	}

	ct.patchTable = ct.patchTableDefault
	ct.invertPatchTable()

	return nil
}

// PatchTable returns copies of the forward (src to dst) and inverse
// (dst to src) patch tables.
func (ct *ChannelTable) PatchTable() ([NUM_CHANNELS + 1]int, [NUM_CHANNELS + 1]int) {
	return ct.patchTable, ct.patchInverse
}

/*-------------------------------------------------------------------
 *
 * Name:	ChannelMap
 *
 * Purpose:	Printout of the channel mapping a human can read.
 *
 * Inputs:	terse	- CSV instead.
 *
 *--------------------------------------------------------------------*/

func (ct *ChannelTable) ChannelMap(terse bool) (string, error) {
	if err := ct.check("channelMap()"); err != nil {
		return "", err
	}

	var sb strings.Builder

	for dst := 1; dst <= NUM_CHANNELS; dst++ {
		var src = ct.patchInverse[dst]

		var inputt = ct.inputTrans[src].Name()
		var inputf = ct.inputFilter[src].Label()
		var outputf = ct.outputFilter[dst].Label()
		var outputt = ct.outputTrans[dst].Name()

		if terse {
			fmt.Fprintf(&sb, "%8s,%12s,%12s,%16s,%2d:%2d\n", inputt, inputf, outputf, outputt, src, dst)
		} else {
			fmt.Fprintf(&sb, "DL-32 > [%8s][%12s] %2d..%2d [%12s][%16s] > SoloDL\n", inputt, inputf, src, dst, outputf, outputt)
		}
	}

	return sb.String(), nil
}
