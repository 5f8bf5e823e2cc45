// Package transport wraps a UDP socket dedicated to a single TFTP transfer.
package transport

import (
	"net"
	"time"

	"github.com/lfkeitel/tftpd/internal/packet"
	"github.com/pkg/errors"
)

// ReceiveBufferSize leaves headroom over packet.MaxPacketSize so oversized
// datagrams are seen as such instead of being silently truncated.
const ReceiveBufferSize = 1024

type Conn struct {
	conn   net.PacketConn
	addr   net.Addr
	locked bool
	buf    []byte
}

type Response struct {
	// Timeout is set when the read deadline expired before a datagram arrived.
	Timeout bool
	Op      packet.Opcode
	Addr    net.Addr
	// Raw aliases the receive buffer and is only valid until the next Receive.
	Raw []byte
}

// New returns a Conn that only accepts datagrams from addr.
func New(conn net.PacketConn, addr net.Addr) *Conn {
	return &Conn{conn: conn, addr: addr, locked: true, buf: make([]byte, ReceiveBufferSize)}
}

// NewUnlocked returns a Conn that sends to addr until the first datagram
// arrives, then locks onto that datagram's source. Clients use this because
// the server answers from a new port.
func NewUnlocked(conn net.PacketConn, addr net.Addr) *Conn {
	c := New(conn, addr)
	c.locked = false
	return c
}

func (c *Conn) Remote() net.Addr    { return c.addr }
func (c *Conn) LocalAddr() net.Addr { return c.conn.LocalAddr() }
func (c *Conn) Close() error        { return c.conn.Close() }

func (c *Conn) Send(b []byte) error {
	_, err := c.conn.WriteTo(b, c.addr)
	return errors.Wrapf(err, "sending to %s", c.addr)
}

func (c *Conn) SendData(block uint16, payload []byte) error {
	return c.Send(packet.EncodeData(block, payload))
}

func (c *Conn) SendAck(block uint16) error {
	return c.Send(packet.EncodeAck(block))
}

func (c *Conn) SendError(code packet.ErrorCode, msg string) error {
	return c.Send(packet.EncodeError(code, msg))
}

// Receive waits up to timeout for the next datagram from the peer.
// Datagrams from any other source are answered with an Unknown TID error
// and do not extend the deadline.
func (c *Conn) Receive(timeout time.Duration) (*Response, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, errors.Wrap(err, "setting read deadline")
	}

	for {
		n, addr, err := c.conn.ReadFrom(c.buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return &Response{Timeout: true}, nil
			}
			return nil, errors.Wrap(err, "receiving")
		}

		if !c.locked {
			c.addr = addr
			c.locked = true
		} else if !SameAddr(addr, c.addr) {
			c.conn.WriteTo(packet.EncodeError(packet.ErrUnknownTID, "Unknown transfer ID"), addr)
			continue
		}

		recv := c.buf[:n]
		// An undecodable opcode is left as 0, which no handler accepts.
		op, _ := packet.OpcodeOf(recv)
		return &Response{Op: op, Addr: addr, Raw: recv}, nil
	}
}

// SameAddr compares transfer identifiers: host and port.
func SameAddr(a, b net.Addr) bool {
	ua, okA := a.(*net.UDPAddr)
	ub, okB := b.(*net.UDPAddr)
	if okA && okB {
		return ua.Port == ub.Port && ua.IP.Equal(ub.IP)
	}
	return a.String() == b.String()
}
