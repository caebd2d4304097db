// Package rawio defines the boundary between the link engine and an
// external packet-injection/monitor-mode I/O library: a minimal Card
// interface plus the one piece of adapter
// configuration the core is still responsible for validating — that a
// named network interface exists and reports a usable MTU before it is
// handed to that external library.
package rawio

import (
	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
)

// Card is the minimal interface the link engine needs from a
// packet-injection-capable, monitor-mode Wi-Fi adapter handle: a
// pollable file descriptor plus raw frame read/write.
type Card interface {
	Fd() int
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Name() string
}

// ConfigError reports a fatal misconfiguration discovered at engine
// construction: a named card that doesn't exist, or one
// with an unusable MTU.
type ConfigError struct {
	Card string
	Err  error
}

func (e *ConfigError) Error() string {
	return "rawio: " + e.Card + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// minMTU is the smallest MTU that can carry the 802.11 payload of one
// full FEC fragment (1476 bytes); the radiotap and 802.11 headers are
// not counted against it.
const minMTU = 1500

// ValidateInterface resolves name to a live network interface and
// returns its MTU, failing with *ConfigError if the interface doesn't
// exist or can't carry a full-size fragment. This is the only piece of
// "Wi-Fi adapter configuration" the core touches directly; monitor-mode
// and channel setup remain the caller's responsibility.
func ValidateInterface(name string) (mtu int, err error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return 0, &ConfigError{Card: name, Err: errors.Wrap(err, "interface not found")}
	}
	attrs := link.Attrs()
	if attrs.MTU < minMTU {
		return 0, &ConfigError{Card: name, Err: errors.Errorf("MTU %d too small, need at least %d", attrs.MTU, minMTU)}
	}
	return attrs.MTU, nil
}
