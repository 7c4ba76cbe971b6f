package mdnode

const CanRtrFlag uint32 = 0x40000000
const CanSffMask uint32 = 0x000007FF
const CanEffFlag uint32 = 0x80000000

// Maximum payload of a classic CAN frame
const MaxDLC = 8

// A CAN frame
type Frame struct {
	ID    uint32
	Flags uint8
	DLC   uint8
	Data  [8]byte
}

func NewFrame(id uint32, flags uint8, dlc uint8) Frame {
	return Frame{ID: id, Flags: flags, DLC: dlc}
}

// Create a standard frame from a payload, payload is truncated to [MaxDLC] bytes
func NewFrameWithData(id uint32, payload []byte) Frame {
	frame := Frame{ID: id & CanSffMask}
	n := copy(frame.Data[:], payload)
	frame.DLC = uint8(n)
	return frame
}

// Payload returns the valid part of the data field
func (frame Frame) Payload() []byte {
	dlc := frame.DLC
	if dlc > MaxDLC {
		dlc = MaxDLC
	}
	return frame.Data[:dlc]
}

// Interface for handling a received CAN frame
type FrameListener interface {
	Handle(frame Frame)
}

// FrameListenerFunc adapts a plain function to a [FrameListener]
type FrameListenerFunc func(frame Frame)

func (f FrameListenerFunc) Handle(frame Frame) {
	f(frame)
}

// A CAN Bus interface
type Bus interface {
	Connect(...any) error                   // Connect to the CAN bus
	Disconnect() error                      // Disconnect from CAN bus
	Send(frame Frame) error                 // Send a frame on the bus
	Subscribe(callback FrameListener) error // Subscribe to all received CAN frames
}
