package can

import (
	"fmt"
	"sort"

	mdnode "github.com/gn10/mdnode"
)

type NewInterfaceFunc func(channel string) (mdnode.Bus, error)

var interfaceRegistry = make(map[string]NewInterfaceFunc)

// Register a new CAN bus interface type
// This should be called inside an init() function of plugin
func RegisterInterface(interfaceType string, newInterface NewInterfaceFunc) {
	interfaceRegistry[interfaceType] = newInterface
}

// Names of the registered interfaces, sorted
func AvailableInterfaces() []string {
	names := make([]string, 0, len(interfaceRegistry))
	for name := range interfaceRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create a new CAN bus with given interface
// Backends are registered by importing their package, e.g. pkg/can/all
func NewBus(canInterface string, channel string) (mdnode.Bus, error) {
	createInterface, ok := interfaceRegistry[canInterface]
	if !ok {
		return nil, fmt.Errorf("unsupported interface : %v (available %v)", canInterface, AvailableInterfaces())
	}
	return createInterface(channel)
}
