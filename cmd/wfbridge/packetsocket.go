package main

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/wfbridge/wfbridge/rawio"
)

// packetSocket is an AF_PACKET/SOCK_RAW rawio.Card bound to a single
// network interface. Bringing that interface into monitor mode on the
// right channel is the packet-injection library's job (out of scope per
// rawio's own doc comment); this file owns only the socket plumbing
// needed to hand the core engine something that satisfies rawio.Card on
// Linux.
type packetSocket struct {
	name string
	fd   int
}

// htons converts a uint16 from host to network byte order, since
// golang.org/x/sys/unix doesn't export one for the protocol field of a
// SockaddrLinklayer.
func htons(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}

func openPacketSocket(name string) (*packetSocket, error) {
	if _, err := rawio.ValidateInterface(name); err != nil {
		return nil, err
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, &rawio.ConfigError{Card: name, Err: errors.Wrap(err, "resolve interface index")}
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, &rawio.ConfigError{Card: name, Err: errors.Wrap(err, "open AF_PACKET socket")}
	}
	addr := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, &rawio.ConfigError{Card: name, Err: errors.Wrap(err, "bind to interface")}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, &rawio.ConfigError{Card: name, Err: errors.Wrap(err, "set non-blocking")}
	}
	return &packetSocket{name: name, fd: fd}, nil
}

func (p *packetSocket) Fd() int      { return p.fd }
func (p *packetSocket) Name() string { return p.name }

func (p *packetSocket) Read(buf []byte) (int, error) {
	n, err := unix.Read(p.fd, buf)
	if err != nil {
		return 0, errors.Wrapf(err, "packetsocket %s: read", p.name)
	}
	return n, nil
}

func (p *packetSocket) Write(buf []byte) (int, error) {
	n, err := unix.Write(p.fd, buf)
	if err != nil {
		return 0, errors.Wrapf(err, "packetsocket %s: write", p.name)
	}
	return n, nil
}

func (p *packetSocket) Close() error {
	return unix.Close(p.fd)
}
