package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Payload sizes
const (
	TargetInt16Size = 2
	TargetFloatSize = 4
	MultiTargetSize = 8
	GainSize        = 5
	LimitSwitchSize = 1
	FeedbackSize    = 5
	StatusSize      = 5
	InitReportSize  = 1
	CommandSize     = 2
)

// Encoding of target values on the wire
type TargetFormat uint8

const (
	FormatInt16 TargetFormat = 0
	FormatFloat TargetFormat = 1
)

func (f TargetFormat) String() string {
	if f == FormatFloat {
		return "float"
	}
	return "int16"
}

func ParseTargetFormat(s string) (TargetFormat, error) {
	switch s {
	case "int16", "":
		return FormatInt16, nil
	case "float", "float32":
		return FormatFloat, nil
	}
	return FormatInt16, fmt.Errorf("unknown target format %q", s)
}

// Number of boards sharing one multi target frame
func GroupSize(format TargetFormat) int {
	if format == FormatFloat {
		return MultiTargetSize / TargetFloatSize
	}
	return MultiTargetSize / TargetInt16Size
}

func putFloat(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

func getFloat(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// Saturating conversion to the int16 wire format
func toInt16(v float32) int16 {
	switch {
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

func EncodeTargetInt16(v int16) []byte {
	b := make([]byte, TargetInt16Size)
	binary.LittleEndian.PutUint16(b, uint16(v))
	return b
}

func EncodeTargetFloat(v float32) []byte {
	b := make([]byte, TargetFloatSize)
	putFloat(b, v)
	return b
}

// Encode a target with the given format, int16 values saturate
func EncodeTarget(format TargetFormat, v float32) []byte {
	if format == FormatFloat {
		return EncodeTargetFloat(v)
	}
	return EncodeTargetInt16(toInt16(v))
}

// The format is given by the payload length, 2 bytes int16, 4 bytes float
func DecodeTarget(b []byte) (float32, error) {
	switch len(b) {
	case TargetInt16Size:
		return float32(int16(binary.LittleEndian.Uint16(b))), nil
	case TargetFloatSize:
		return getFloat(b), nil
	}
	return 0, fmt.Errorf("%w : %v expects %v or %v bytes, got %v", ErrLength, KindTarget, TargetInt16Size, TargetFloatSize, len(b))
}

// Pack up to GroupSize(format) targets in one frame, missing slots are 0
func EncodeMultiTarget(format TargetFormat, values ...float32) ([]byte, error) {
	group := GroupSize(format)
	if len(values) > group {
		return nil, fmt.Errorf("%w : %v targets for a group of %v", ErrLength, len(values), group)
	}
	b := make([]byte, MultiTargetSize)
	for slot, v := range values {
		if format == FormatFloat {
			putFloat(b[slot*TargetFloatSize:], v)
		} else {
			binary.LittleEndian.PutUint16(b[slot*TargetInt16Size:], uint16(toInt16(v)))
		}
	}
	return b, nil
}

// Extract the target of one slot of a multi target frame
func DecodeMultiTargetSlot(format TargetFormat, b []byte, slot int) (float32, error) {
	if len(b) != MultiTargetSize {
		return 0, fmt.Errorf("%w : %v expects %v bytes, got %v", ErrLength, KindMultiTarget, MultiTargetSize, len(b))
	}
	if slot < 0 || slot >= GroupSize(format) {
		return 0, fmt.Errorf("slot %v out of range for format %v", slot, format)
	}
	if format == FormatFloat {
		return getFloat(b[slot*TargetFloatSize:]), nil
	}
	return float32(int16(binary.LittleEndian.Uint16(b[slot*TargetInt16Size:]))), nil
}

// Group address and slot of a board inside multi target frames
func GroupOf(format TargetFormat, boardID uint8) (group uint8, slot int) {
	size := uint8(GroupSize(format))
	return boardID / size, int(boardID % size)
}

type GainChannel uint8

const (
	GainP GainChannel = 0
	GainI GainChannel = 1
	GainD GainChannel = 2
)

const GainChannelCount = 3

func (ch GainChannel) String() string {
	switch ch {
	case GainP:
		return "P"
	case GainI:
		return "I"
	case GainD:
		return "D"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(ch))
}

func (ch GainChannel) Valid() bool {
	return ch < GainChannelCount
}

// | channel u8 | value f32 |
func EncodeGain(ch GainChannel, v float32) ([]byte, error) {
	if !ch.Valid() {
		return nil, fmt.Errorf("%w : %v", ErrGainChannel, uint8(ch))
	}
	b := make([]byte, GainSize)
	b[0] = uint8(ch)
	putFloat(b[1:], v)
	return b, nil
}

func DecodeGain(b []byte) (GainChannel, float32, error) {
	if len(b) != GainSize {
		return 0, 0, fmt.Errorf("%w : %v expects %v bytes, got %v", ErrLength, KindGain, GainSize, len(b))
	}
	ch := GainChannel(b[0])
	if !ch.Valid() {
		return 0, 0, fmt.Errorf("%w : %v", ErrGainChannel, b[0])
	}
	return ch, getFloat(b[1:]), nil
}

// Feedback to master : | value f32 | limit switch bits u8 |
type Feedback struct {
	Value       float32 `json:"value"`
	LimitSwitch uint8   `json:"limit_switch"`
}

func (f Feedback) MarshalBinary() ([]byte, error) {
	b := make([]byte, FeedbackSize)
	putFloat(b, f.Value)
	b[4] = f.LimitSwitch
	return b, nil
}

func (f *Feedback) UnmarshalBinary(b []byte) error {
	if len(b) != FeedbackSize {
		return fmt.Errorf("%w : %v expects %v bytes, got %v", ErrLength, KindFeedback, FeedbackSize, len(b))
	}
	f.Value = getFloat(b)
	f.LimitSwitch = b[4]
	return nil
}

// Status to master : | load current f32 [A] | temperature i8 [degC] |
type Status struct {
	LoadCurrent float32 `json:"load_current"`
	Temperature int8    `json:"temperature"`
}

func (s Status) MarshalBinary() ([]byte, error) {
	b := make([]byte, StatusSize)
	putFloat(b, s.LoadCurrent)
	b[4] = uint8(s.Temperature)
	return b, nil
}

func (s *Status) UnmarshalBinary(b []byte) error {
	if len(b) != StatusSize {
		return fmt.Errorf("%w : %v expects %v bytes, got %v", ErrLength, KindStatus, StatusSize, len(b))
	}
	s.LoadCurrent = getFloat(b)
	s.Temperature = int8(b[4])
	return nil
}

// Init report sent by a board waiting for its configuration
func EncodeInitReport(bt BoardType) []byte {
	return []byte{uint8(bt)}
}

func DecodeInitReport(b []byte) (BoardType, error) {
	if len(b) != InitReportSize {
		return 0, fmt.Errorf("%w : %v expects %v bytes, got %v", ErrLength, KindInit, InitReportSize, len(b))
	}
	return BoardType(b[0] & boardTypeMask), nil
}

func EncodeLimitSwitch(bits uint8) []byte {
	return []byte{bits}
}

func DecodeLimitSwitch(b []byte) (uint8, error) {
	if len(b) != LimitSwitchSize {
		return 0, fmt.Errorf("%w : %v expects %v bytes, got %v", ErrLength, KindLimitSwitch, LimitSwitchSize, len(b))
	}
	return b[0], nil
}

// Supervisory commands from the master
type Command uint8

const (
	CommandStop         Command = 0
	CommandStart        Command = 1
	CommandClearError   Command = 2
	CommandSetMode      Command = 3
	CommandResetEncoder Command = 4
)

var commandMap = map[Command]string{
	CommandStop:         "STOP",
	CommandStart:        "START",
	CommandClearError:   "CLEAR_ERROR",
	CommandSetMode:      "SET_MODE",
	CommandResetEncoder: "RESET_ENCODER",
}

func (c Command) String() string {
	if name, ok := commandMap[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
}

func ParseCommand(s string) (Command, error) {
	for cmd, name := range commandMap {
		if name == s {
			return cmd, nil
		}
	}
	return 0, fmt.Errorf("unknown command %q", s)
}

// | command u8 | argument u8 |
func EncodeCommand(cmd Command, arg uint8) []byte {
	return []byte{uint8(cmd), arg}
}

func DecodeCommand(b []byte) (Command, uint8, error) {
	if len(b) != CommandSize {
		return 0, 0, fmt.Errorf("%w : %v expects %v bytes, got %v", ErrLength, KindCommand, CommandSize, len(b))
	}
	cmd := Command(b[0])
	if _, ok := commandMap[cmd]; !ok {
		return 0, 0, fmt.Errorf("%w : command %v", ErrUnknownKind, b[0])
	}
	return cmd, b[1], nil
}
