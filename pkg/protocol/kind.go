package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrLength      = errors.New("unexpected payload length")
	ErrUnknownKind = errors.New("unknown message kind")
	ErrGainChannel = errors.New("unknown gain channel")
	ErrConfig      = errors.New("invalid motor configuration")
)

// Message kinds of motor driver boards
type Kind uint8

const (
	KindInit        Kind = 0
	KindTarget      Kind = 1
	KindLimitSwitch Kind = 2
	KindGain        Kind = 3
	KindMultiTarget Kind = 4
	KindFeedback    Kind = 5
	KindStatus      Kind = 6
	KindCommand     Kind = 7
)

const KindCount = 8

var kindMap = map[Kind]string{
	KindInit:        "INIT",
	KindTarget:      "TARGET",
	KindLimitSwitch: "LIMIT_SWITCH",
	KindGain:        "GAIN",
	KindMultiTarget: "MULTI_TARGET",
	KindFeedback:    "FEEDBACK",
	KindStatus:      "STATUS",
	KindCommand:     "COMMAND",
}

func (k Kind) String() string {
	if name, ok := kindMap[k]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
}

// Valid payload lengths per direction and kind
var expectedLengths = map[Direction]map[Kind][]int{
	ToSlave: {
		KindInit:        {ConfigLegacySize, ConfigSize},
		KindTarget:      {TargetInt16Size, TargetFloatSize},
		KindLimitSwitch: {LimitSwitchSize},
		KindGain:        {GainSize},
		KindMultiTarget: {MultiTargetSize},
		KindCommand:     {CommandSize},
	},
	ToMaster: {
		KindInit:        {InitReportSize},
		KindTarget:      {TargetInt16Size, TargetFloatSize},
		KindLimitSwitch: {LimitSwitchSize},
		KindGain:        {GainSize},
		KindFeedback:    {FeedbackSize},
		KindStatus:      {StatusSize},
	},
}

// Valid payload lengths for a kind, nil if the kind has no layout
// in that direction
func ExpectedLength(dir Direction, kind Kind) []int {
	return expectedLengths[dir][kind]
}

// Check a payload length against the layout of the kind
func CheckLength(dir Direction, kind Kind, length int) error {
	valid, ok := expectedLengths[dir][kind]
	if !ok {
		return fmt.Errorf("%w : %v %v", ErrUnknownKind, dir, kind)
	}
	for _, l := range valid {
		if l == length {
			return nil
		}
	}
	return fmt.Errorf("%w : %v expects %v bytes, got %v", ErrLength, kind, valid, length)
}
