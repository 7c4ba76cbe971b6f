package slcan

import (
	"encoding/hex"
	"fmt"
	"strconv"

	mdnode "github.com/gn10/mdnode"
)

// LAWICEL / SLCAN ASCII framing
// tIIILDD..   standard data frame
// TIIIIIIIILDD.. extended data frame
// rIIIL / RIIIIIIIIL remote frames
// Every command and frame ends with a carriage return.

const cr = '\r'

// Bitrate commands, S0 .. S8
var bitrateCodes = map[int]byte{
	10_000:    '0',
	20_000:    '1',
	50_000:    '2',
	100_000:   '3',
	125_000:   '4',
	250_000:   '5',
	500_000:   '6',
	800_000:   '7',
	1_000_000: '8',
}

func bitrateCommand(bitrate int) ([]byte, error) {
	code, ok := bitrateCodes[bitrate]
	if !ok {
		return nil, fmt.Errorf("unsupported slcan bitrate %v", bitrate)
	}
	return []byte{'S', code, cr}, nil
}

// Serialize a frame into its ASCII representation, including the trailing CR
func SerializeFrame(frame mdnode.Frame) ([]byte, error) {
	if frame.DLC > mdnode.MaxDLC {
		return nil, fmt.Errorf("invalid DLC %d", frame.DLC)
	}
	extended := frame.ID&mdnode.CanEffFlag != 0
	remote := frame.ID&mdnode.CanRtrFlag != 0
	buf := make([]byte, 0, 1+8+1+16+1)
	switch {
	case extended && remote:
		buf = append(buf, 'R')
	case extended:
		buf = append(buf, 'T')
	case remote:
		buf = append(buf, 'r')
	default:
		buf = append(buf, 't')
	}
	if extended {
		buf = append(buf, fmt.Sprintf("%08X", frame.ID&0x1FFFFFFF)...)
	} else {
		buf = append(buf, fmt.Sprintf("%03X", frame.ID&mdnode.CanSffMask)...)
	}
	buf = append(buf, '0'+frame.DLC)
	if !remote {
		buf = append(buf, []byte(fmt.Sprintf("%X", frame.Data[:frame.DLC]))...)
	}
	return append(buf, cr), nil
}

// Parse one ASCII frame, without the trailing CR
func ParseFrame(line []byte) (mdnode.Frame, error) {
	if len(line) == 0 {
		return mdnode.Frame{}, fmt.Errorf("empty slcan line")
	}
	var idLen int
	var flags uint32
	switch line[0] {
	case 't':
		idLen = 3
	case 'r':
		idLen = 3
		flags = mdnode.CanRtrFlag
	case 'T':
		idLen = 8
		flags = mdnode.CanEffFlag
	case 'R':
		idLen = 8
		flags = mdnode.CanEffFlag | mdnode.CanRtrFlag
	default:
		return mdnode.Frame{}, fmt.Errorf("unexpected slcan line %q", line)
	}
	if len(line) < 1+idLen+1 {
		return mdnode.Frame{}, fmt.Errorf("truncated slcan frame %q", line)
	}
	id, err := strconv.ParseUint(string(line[1:1+idLen]), 16, 32)
	if err != nil {
		return mdnode.Frame{}, fmt.Errorf("invalid slcan id : %w", err)
	}
	dlc := line[1+idLen] - '0'
	if dlc > mdnode.MaxDLC {
		return mdnode.Frame{}, fmt.Errorf("invalid DLC %d", dlc)
	}
	frame := mdnode.Frame{ID: uint32(id) | flags, DLC: dlc}
	if flags&mdnode.CanRtrFlag != 0 {
		return frame, nil
	}
	data := line[2+idLen:]
	if len(data) < int(dlc)*2 {
		return mdnode.Frame{}, fmt.Errorf("truncated slcan data %q", line)
	}
	if _, err := hex.Decode(frame.Data[:dlc], data[:int(dlc)*2]); err != nil {
		return mdnode.Frame{}, fmt.Errorf("invalid slcan data : %w", err)
	}
	return frame, nil
}
