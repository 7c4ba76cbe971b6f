//go:build linux

package all

import (
	_ "github.com/gn10/mdnode/pkg/can/socketcanraw"
)
