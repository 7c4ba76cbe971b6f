package protocol

import "fmt"

// 11 bit identifier layout
// | dir (1) | board type (3) | board id (4) | kind (3) |
const (
	dirShift       = 10
	boardTypeShift = 7
	boardIDShift   = 3

	dirMask       = 0x1
	boardTypeMask = 0x7
	boardIDMask   = 0xF
	kindMask      = 0x7

	// Identifier bits that select one board, regardless of direction and kind
	BoardMask uint16 = (boardTypeMask << boardTypeShift) | (boardIDMask << boardIDShift)
	// Highest encodable identifier
	MaxID uint16 = 0x7FF
	// Number of addressable boards per board type
	MaxBoards = boardIDMask + 1
)

type Direction uint8

const (
	ToSlave  Direction = 0
	ToMaster Direction = 1
)

func (d Direction) String() string {
	if d == ToMaster {
		return "TO_MASTER"
	}
	return "TO_SLAVE"
}

type BoardType uint8

const (
	EStop       BoardType = 0
	MotorDriver BoardType = 1
	Servo       BoardType = 2
	Solenoid    BoardType = 3
	LED         BoardType = 4
	Sensor      BoardType = 5
	Wireless    BoardType = 6
	Other       BoardType = 7
)

var boardTypeMap = map[BoardType]string{
	EStop:       "ESTOP",
	MotorDriver: "MOTOR_DRIVER",
	Servo:       "SERVO",
	Solenoid:    "SOLENOID",
	LED:         "LED",
	Sensor:      "SENSOR",
	Wireless:    "WIRELESS",
	Other:       "OTHER",
}

func (bt BoardType) String() string {
	if name, ok := boardTypeMap[bt]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(bt))
}

// Decoded CAN identifier
type Address struct {
	Direction Direction
	BoardType BoardType
	BoardID   uint8
	Kind      Kind
}

// Pack the fields into an identifier, out of range fields are truncated
// to their bit width
func EncodeID(dir Direction, bt BoardType, id uint8, kind Kind) uint16 {
	return uint16(dir&dirMask)<<dirShift |
		uint16(bt&boardTypeMask)<<boardTypeShift |
		uint16(id&boardIDMask)<<boardIDShift |
		uint16(kind&kindMask)
}

// Unpack an identifier, bits above the 11 bit range are ignored
func DecodeID(id uint16) Address {
	return Address{
		Direction: Direction((id >> dirShift) & dirMask),
		BoardType: BoardType((id >> boardTypeShift) & boardTypeMask),
		BoardID:   uint8((id >> boardIDShift) & boardIDMask),
		Kind:      Kind(id & kindMask),
	}
}

func (a Address) ID() uint16 {
	return EncodeID(a.Direction, a.BoardType, a.BoardID, a.Kind)
}

func (a Address) String() string {
	return fmt.Sprintf("%v %v#%d %v", a.Direction, a.BoardType, a.BoardID, a.Kind)
}
