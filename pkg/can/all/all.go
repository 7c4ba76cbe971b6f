// Package all registers every CAN backend, import it for its side effects
package all

import (
	_ "github.com/gn10/mdnode/pkg/can/loopback"
	_ "github.com/gn10/mdnode/pkg/can/slcan"
	_ "github.com/gn10/mdnode/pkg/can/socketcan"
	_ "github.com/gn10/mdnode/pkg/can/virtual"
)
