package sim

// Order of the four DIP switches in the board id
type DipOrder uint8

const (
	// DIP1 is the least significant bit
	DipLSBFirst DipOrder = 0
	// DIP1 is the most significant bit, older board revisions
	DipMSBFirst DipOrder = 1
)

// Four position DIP switch, true is ON
type DipSwitch [4]bool

// Board id selected by the switches
func BoardID(dip DipSwitch, order DipOrder) uint8 {
	var id uint8
	for i, on := range dip {
		if !on {
			continue
		}
		if order == DipMSBFirst {
			id |= 1 << (3 - i)
		} else {
			id |= 1 << i
		}
	}
	return id
}

// Switch positions producing id
func DipFor(id uint8, order DipOrder) DipSwitch {
	var dip DipSwitch
	for i := range dip {
		bit := uint(i)
		if order == DipMSBFirst {
			bit = uint(3 - i)
		}
		dip[i] = id&(1<<bit) != 0
	}
	return dip
}
