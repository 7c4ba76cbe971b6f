package mdnode

import "errors"

var (
	ErrIllegalArgument = errors.New("error in function arguments")
	ErrTxBusy          = errors.New("sending rejected because driver is busy. Try again")
	ErrInvalidState    = errors.New("driver not ready")
	ErrNotConnected    = errors.New("bus is not connected")
)
