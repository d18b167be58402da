// Package can collects concrete [canopen.Bus] transport adapters. Each
// adapter registers itself under a short interface name so callers can
// pick a transport by string (as a config file or CLI flag would) without
// importing the adapter package directly.
package can

import (
	"fmt"

	canopen "github.com/samsamfire/conode"
)

// NewInterfaceFunc constructs a Bus bound to the given channel name (e.g.
// "can0", "vcan0").
type NewInterfaceFunc func(channel string) (canopen.Bus, error)

var registry = make(map[string]NewInterfaceFunc)

// RegisterInterface makes a transport available under name. Adapter
// packages call this from an init() function.
func RegisterInterface(name string, newInterface NewInterfaceFunc) {
	registry[name] = newInterface
}

// NewBus constructs a Bus for the named interface and channel.
func NewBus(name string, channel string) (canopen.Bus, error) {
	newInterface, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unsupported can interface: %s", name)
	}
	return newInterface(channel)
}
