package ecubridge

/*------------------------------------------------------------------
 *
 * Purpose:   	Per-channel value transforms.
 *
 * Description:	Every channel passes through four transform slots on its
 *		way from the DL-32 to the SoloDL.  The fixed "device" slots
 *		know how the hardware encodes a value.  The "filter" slots
 *		are chosen by the user (null, passthrough or manual).
 *
 *		Y() takes a device value to a normal, human value.
 *		Inverse() does the opposite.  The SoloDL applies the AIM
 *		protocol scaling on its side, so on output we send
 *		Inverse() of the normal value and the dash shows the
 *		normal value again.
 *
 *		Integer truncation means Inverse(Y(x)) is not always x
 *		for the divide based transforms.  Y(Inverse(Y(x))) == Y(x)
 *		does hold.
 *
 *---------------------------------------------------------------*/

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type TransformKind int

const (
	TransformNull TransformKind = iota + 1
	TransformPassthrough
	TransformManual
	TransformAIMRPM
	TransformAIMWheelSpeed
	TransformAIMOilPress
	TransformAIMOilTemp
	TransformAIMWaterTemp
	TransformAIMFuelPress
	TransformAIMBattVolt
	TransformAIMThrotAng
	TransformAIMManifPress
	TransformAIMAirChargeTemp
	TransformAIMExhTemp
	TransformAIMLambda
	TransformAIMFuelTemp
	TransformAIMGear
	TransformAIMErrorFlag
	TransformDL32Chan1
	TransformDL32Chan2
	TransformDL32Chan3
	TransformDL32Chan4
	TransformDL32Chan5
)

const MAX_TRANSFORM_PARAMS = 5

var transformNames = map[TransformKind]string{
	TransformNull:             "Null",
	TransformPassthrough:      "Passthrough",
	TransformManual:           "Manual",
	TransformAIMRPM:           "RPM",
	TransformAIMWheelSpeed:    "Wheel Speed",
	TransformAIMOilPress:      "Oil Press",
	TransformAIMOilTemp:       "Oil Temp",
	TransformAIMWaterTemp:     "Water Temp",
	TransformAIMFuelPress:     "Fuel Press",
	TransformAIMBattVolt:      "Batt Volt",
	TransformAIMThrotAng:      "Throt Ang",
	TransformAIMManifPress:    "Manif Press",
	TransformAIMAirChargeTemp: "Air Charge Temp",
	TransformAIMExhTemp:       "Exh Temp",
	TransformAIMLambda:        "Lambda",
	TransformAIMFuelTemp:      "Fuel Temp",
	TransformAIMGear:          "Gear",
	TransformAIMErrorFlag:     "Error Flag",
	TransformDL32Chan1:        "DL-32 1",
	TransformDL32Chan2:        "DL-32 2",
	TransformDL32Chan3:        "DL-32 3",
	TransformDL32Chan4:        "DL-32 4",
	TransformDL32Chan5:        "DL-32 5",
}

func (k TransformKind) String() string {
	var name, ok = transformNames[k]
	if !ok {
		return "unknown"
	}

	return name
}

// Transform is one slot of the channel pipeline.  The zero value is not
// usable; build one with NewTransform, NewManualTransform or ParseFilter.
type Transform struct {
	kind   TransformKind
	params [MAX_TRANSFORM_PARAMS]uint32
}

func NewTransform(kind TransformKind) *Transform {
	return &Transform{kind: kind} //nolint:exhaustruct
}

func NewManualTransform(value uint32) *Transform {
	var t = NewTransform(TransformManual)
	t.SetParam(0, value)

	return t
}

func (t *Transform) Kind() TransformKind {
	return t.kind
}

func (t *Transform) Name() string {
	return t.kind.String()
}

// SetParam quietly ignores an index outside 0..4.
func (t *Transform) SetParam(index int, value uint32) {
	if index < 0 || index >= MAX_TRANSFORM_PARAMS {
		return
	}

	t.params[index] = value
}

// Param returns 0 for an index outside 0..4.
func (t *Transform) Param(index int) uint32 {
	if index < 0 || index >= MAX_TRANSFORM_PARAMS {
		return 0
	}

	return t.params[index]
}

// Label is the name used in channel maps, with the value for manual filters.
func (t *Transform) Label() string {
	if t.kind == TransformManual {
		return fmt.Sprintf("%s (%d)", t.Name(), t.Param(0))
	}

	return t.Name()
}

/*-------------------------------------------------------------------
 *
 * Name:	Y
 *
 * Purpose:	Device value to normal value.
 *
 * Description:	The scaled kinds divide in floating point and then
 *		truncate toward zero.  A temperature below the -100 offset
 *		goes negative; that is carried into uint32 modulo 2^32,
 *		the same as the hardware sees it.
 *
 *--------------------------------------------------------------------*/

func (t *Transform) Y(x uint32) uint32 {
	switch t.kind {
	case TransformManual:
		return t.params[0]
	case TransformAIMBattVolt, TransformAIMFuelPress, TransformAIMLambda:
		return truncU32(float64(x) / 1000.0)
	case TransformAIMAirChargeTemp, TransformAIMFuelTemp, TransformAIMWaterTemp:
		return truncU32(float64(x)/10.0 - 100)
	case TransformAIMThrotAng:
		return truncU32(float64(x) / 10.0)
	case TransformAIMGear:
		return min(x, 3)
	case TransformAIMWheelSpeed:
		// Was x/10 at one point.  The dash now expects the raw value.
		return x
	default:
		return x
	}
}

// Inverse undoes Y, as far as truncation allows.  Overflow wraps.
func (t *Transform) Inverse(x uint32) uint32 {
	switch t.kind {
	case TransformManual:
		return t.params[0]
	case TransformAIMBattVolt, TransformAIMFuelPress, TransformAIMLambda:
		return x * 1000
	case TransformAIMAirChargeTemp, TransformAIMFuelTemp, TransformAIMWaterTemp:
		return (x + 100) * 10
	case TransformAIMThrotAng:
		return x * 10
	case TransformAIMGear:
		return min(x, 3)
	default:
		return x
	}
}

func truncU32(f float64) uint32 {
	return uint32(int64(f)) //nolint:gosec
}

var errBadFilter = errors.New("bad filter")

/*-------------------------------------------------------------------
 *
 * Name:	ParseFilter
 *
 * Purpose:	Build a user filter from its configuration text.
 *
 * Inputs:	text	- "null", "passthrough" or "manual <n>".
 *			  Case is ignored.  The manual value may be
 *			  separated by spaces, tabs or a comma.
 *
 *--------------------------------------------------------------------*/

func ParseFilter(text string) (*Transform, error) {
	var args = strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})

	if len(args) == 0 {
		return nil, fmt.Errorf("%w: missing filter", errBadFilter)
	}

	switch args[0] {
	case "null":
		return NewTransform(TransformNull), nil
	case "passthrough":
		return NewTransform(TransformPassthrough), nil
	case "manual":
		if len(args) < 2 {
			return nil, fmt.Errorf("%w: manual filter requires a value", errBadFilter)
		}

		var n, err = parseUint32(args[1])
		if err != nil {
			return nil, fmt.Errorf("%w: non-numeric manual value (%s)", errBadFilter, args[1])
		}

		return NewManualTransform(n), nil
	}

	return nil, fmt.Errorf("%w: unknown filter (%s)", errBadFilter, args[0])
}

// NewFilter builds a user filter by kind name, as the filter command does.
func NewFilter(kind string, value uint32) (*Transform, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "null":
		return NewTransform(TransformNull), nil
	case "passthrough":
		return NewTransform(TransformPassthrough), nil
	case "manual":
		return NewManualTransform(value), nil
	}

	return nil, fmt.Errorf("%w: must be null, passthrough, or manual: %s", errBadFilter, kind)
}

func parseUint32(s string) (uint32, error) {
	var n, err = strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, err
	}

	return uint32(n), nil
}
