//go:build linux

package canlin

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Connect opens a raw CAN socket bound to the named network interface
// (e.g. "can0", "vcan0"), configures it non-blocking and brings the bus up
// over it. On failure nothing is left open. An existing connection is torn
// down first.
func (b *Bus) Connect(ifname string) error {
	ep, err := openSocketCAN(ifname)
	if err != nil {
		return fmt.Errorf("canlin: connect %q: %w", ifname, err)
	}
	return b.Attach(ep)
}

// canSocket is an Endpoint over a non-blocking AF_CAN raw socket.
type canSocket struct {
	fd int
}

func openSocketCAN(ifname string) (Endpoint, error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set nonblock: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: iface.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind: %w", err)
	}
	return &canSocket{fd: fd}, nil
}

func (s *canSocket) Read(p []byte) (int, error) {
	n, err := unix.Read(s.fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrNoData
		}
		return 0, err
	}
	return n, nil
}

func (s *canSocket) Write(p []byte) (int, error) {
	n, err := unix.Write(s.fd, p)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *canSocket) Close() error {
	return unix.Close(s.fd)
}
