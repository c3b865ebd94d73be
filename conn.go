// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import (
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/transport/v4/packetio"
)

// selectedPath is the socket and the addresses of a selected pair.
type selectedPath struct {
	conn   net.PacketConn
	local  netip.AddrPort
	remote netip.AddrPort
}

// Conn is the data path of a component. It implements net.Conn on top of
// the selected candidate pair. Writes fail with ErrNoSelectedPair until a
// pair is selected.
type Conn struct {
	agent       *Agent
	streamID    int
	componentID uint16

	buffer   *packetio.Buffer
	selected atomic.Pointer[selectedPath]

	mu        sync.Mutex
	onReceive func([]byte)

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
}

var _ net.Conn = (*Conn)(nil)

func newConn(agent *Agent, streamID int, componentID uint16) *Conn {
	c := &Conn{
		agent:       agent,
		streamID:    streamID,
		componentID: componentID,
		buffer:      packetio.NewBuffer(),
	}

	// Set a maximum size of the buffer in bytes.
	c.buffer.SetLimitSize(maxBufferSize)

	return c
}

// setSelected switches the path used by Write. nil clears it.
func (c *Conn) setSelected(path *selectedPath) {
	c.selected.Store(path)
}

// deliver hands an inbound datagram to the OnReceive handler, or buffers
// it for Read when no handler is set.
func (c *Conn) deliver(data []byte) {
	c.bytesReceived.Add(uint64(len(data)))

	c.mu.Lock()
	handler := c.onReceive
	c.mu.Unlock()

	if handler != nil {
		c.agent.events.push(func() {
			handler(data)
		})

		return
	}

	if _, err := c.buffer.Write(data); err != nil {
		c.agent.log.Tracef("Dropped %d bytes for %d/%d: %v", len(data), c.streamID, c.componentID, err)
	}
}

// OnReceive sets a handler called with every datagram received on the
// component. Datagrams are no longer buffered for Read while it is set.
func (c *Conn) OnReceive(f func(data []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReceive = f
}

// Read reads one datagram from the component.
func (c *Conn) Read(p []byte) (int, error) {
	return c.buffer.Read(p)
}

// Write sends one datagram on the selected pair.
func (c *Conn) Write(p []byte) (int, error) {
	path := c.selected.Load()
	if path == nil {
		return 0, ErrNoSelectedPair
	}

	n, err := path.conn.WriteTo(p, net.UDPAddrFromAddrPort(path.remote))
	if err != nil {
		return n, err
	}
	c.bytesSent.Add(uint64(n)) //nolint:gosec

	return n, nil
}

// Close stops reads on the component. The sockets belong to the Agent and
// stay open until the stream is removed.
func (c *Conn) Close() error {
	return c.buffer.Close()
}

// LocalAddr returns the local address of the selected pair, or nil.
func (c *Conn) LocalAddr() net.Addr {
	if path := c.selected.Load(); path != nil {
		return net.UDPAddrFromAddrPort(path.local)
	}

	return nil
}

// RemoteAddr returns the remote address of the selected pair, or nil.
func (c *Conn) RemoteAddr() net.Addr {
	if path := c.selected.Load(); path != nil {
		return net.UDPAddrFromAddrPort(path.remote)
	}

	return nil
}

// SetDeadline sets the read deadline. Writes never block.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.SetReadDeadline(t)
}

// SetReadDeadline sets the deadline of Read.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.buffer.SetReadDeadline(t)
}

// SetWriteDeadline is a stub.
func (c *Conn) SetWriteDeadline(time.Time) error {
	return nil
}

// BytesSent returns the number of bytes written on the component.
func (c *Conn) BytesSent() uint64 {
	return c.bytesSent.Load()
}

// BytesReceived returns the number of bytes received on the component.
func (c *Conn) BytesReceived() uint64 {
	return c.bytesReceived.Load()
}
