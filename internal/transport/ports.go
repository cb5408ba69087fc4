package transport

import (
	"net"
	"strconv"
)

// PortBlock is one bound ephemeral data listener per CPU. The relay
// answers a recorder's init with the block's port numbers; each listener
// then accepts exactly one data connection.
type PortBlock struct {
	listeners []net.Listener
}

// BindPorts binds count ephemeral TCP listeners on host. An empty host
// binds all interfaces. The block grows with successful binds only, so
// count never sizes an allocation up front.
func BindPorts(host string, count int) (*PortBlock, error) {
	b := &PortBlock{}
	for i := 0; i < count; i++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
		if err != nil {
			b.Close()
			return nil, err
		}
		b.listeners = append(b.listeners, ln)
	}
	return b, nil
}

// Ports reports the bound port numbers in CPU order.
func (b *PortBlock) Ports() []int {
	ports := make([]int, len(b.listeners))
	for i, ln := range b.listeners {
		ports[i] = ln.Addr().(*net.TCPAddr).Port
	}
	return ports
}

// Listener returns the bound listener for cpu.
func (b *PortBlock) Listener(cpu int) net.Listener {
	return b.listeners[cpu]
}

// Len reports how many listeners the block holds.
func (b *PortBlock) Len() int { return len(b.listeners) }

// Close shuts every listener down, returning the first error seen.
func (b *PortBlock) Close() error {
	var first error
	for _, ln := range b.listeners {
		if err := ln.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// JoinHostPort formats host and a numeric port for dialing data sockets.
func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
