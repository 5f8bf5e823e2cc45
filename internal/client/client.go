// Package client implements the requesting side of RFC 1350 transfers.
package client

import (
	"io"
	"net"
	"time"

	"github.com/lfkeitel/tftpd/internal/packet"
	"github.com/lfkeitel/tftpd/internal/transport"
	"github.com/pkg/errors"
)

var (
	ErrTimeout       = errors.New("max retransmits exceeded")
	ErrUnexpectedOp  = errors.New("unexpected packet")
	ErrBlockSequence = errors.New("unexpected block number")
)

type Option func(*Client)

type Client struct {
	addr    string
	timeout time.Duration
	retries int
	mode    string
}

func New(addr string, options ...Option) *Client {
	c := &Client{
		addr:    addr,
		timeout: 2 * time.Second,
		retries: 5,
		mode:    packet.ModeOctet,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithRetries(n int) Option {
	return func(c *Client) {
		c.retries = n
	}
}

// WithMode selects octet or netascii.
func WithMode(mode string) Option {
	return func(c *Client) {
		c.mode = mode
	}
}

func (c *Client) dial() (*transport.Conn, error) {
	addr, err := net.ResolveUDPAddr("udp", c.addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", c.addr)
	}
	network := "udp"
	if addr.IP.To4() != nil {
		network = "udp4"
	}
	conn, err := net.ListenPacket(network, ":0")
	if err != nil {
		return nil, errors.Wrap(err, "opening socket")
	}
	return transport.NewUnlocked(conn, addr), nil
}

// Get downloads filename into w and returns the number of bytes received
// from the wire. A server ERROR is returned as *packet.Error.
func (c *Client) Get(filename string, w io.Writer) (int64, error) {
	conn, err := c.dial()
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	sink := w
	var decoder *transport.ASCIIDecoder
	if c.mode == packet.ModeNetascii {
		decoder = transport.NewASCIIDecoder(w)
		defer decoder.Abort()
		sink = decoder
	}

	lastSent := packet.EncodeRequest(packet.OpRRQ, filename, c.mode)
	if err := conn.Send(lastSent); err != nil {
		return 0, err
	}

	var total int64
	expected := uint16(1)
	retries := 0
	for {
		resp, err := conn.Receive(c.timeout)
		if err != nil {
			return total, err
		}

		if resp.Timeout {
			if retries >= c.retries {
				return total, ErrTimeout
			}
			retries++
			// Before the first DATA this resends the RRQ itself.
			conn.Send(lastSent)
			continue
		}

		switch resp.Op {
		case packet.OpData:
		case packet.OpError:
			return total, decodeRemote(resp.Raw)
		default:
			conn.SendError(packet.ErrIllegalOperation, "Invalid operation for read request")
			return total, errors.Wrapf(ErrUnexpectedOp, "opcode %d", resp.Op)
		}

		data, err := packet.DecodeData(resp.Raw)
		if err != nil {
			conn.SendError(packet.ErrIllegalOperation, "Malformed DATA")
			return total, err
		}
		if data.Block == expected-1 {
			conn.Send(lastSent)
			continue
		}
		if data.Block != expected {
			conn.SendError(packet.ErrNotDefined, "Unexpected block number")
			return total, errors.Wrapf(ErrBlockSequence, "expected %d, got %d", expected, data.Block)
		}

		if _, err := sink.Write(data.Payload); err != nil {
			conn.SendError(packet.ErrDiskFull, "Failed to write block")
			return total, errors.Wrap(err, "writing block")
		}
		total += int64(len(data.Payload))
		retries = 0

		lastSent = packet.EncodeAck(data.Block)
		if data.Final() {
			if decoder != nil {
				if err := decoder.Close(); err != nil {
					return total, err
				}
			}
			return total, conn.Send(lastSent)
		}
		if err := conn.Send(lastSent); err != nil {
			return total, err
		}
		expected++
	}
}

// Put uploads the content of r as filename and returns the bytes sent.
func (c *Client) Put(filename string, r io.Reader) (int64, error) {
	conn, err := c.dial()
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if c.mode == packet.ModeNetascii {
		enc := transport.NewASCIIEncoder(r)
		defer enc.Close()
		r = enc
	}

	// Block 0 is the server's acknowledgment of the WRQ.
	if err := c.exchange(conn, packet.EncodeRequest(packet.OpWRQ, filename, c.mode), 0); err != nil {
		return 0, err
	}

	var total int64
	buf := make([]byte, packet.BlockSize)
	for block := uint16(1); ; block++ {
		n, err := io.ReadFull(r, buf)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			conn.SendError(packet.ErrNotDefined, "Client read failure")
			return total, errors.Wrap(err, "reading source")
		}

		if err := c.exchange(conn, packet.EncodeData(block, buf[:n]), block); err != nil {
			return total, err
		}
		total += int64(n)

		if n < packet.BlockSize {
			return total, nil
		}
	}
}

// exchange sends out until the peer acknowledges block.
func (c *Client) exchange(conn *transport.Conn, out []byte, block uint16) error {
	retries := 0
	for {
		if err := conn.Send(out); err != nil {
			return err
		}

		resp, err := conn.Receive(c.timeout)
		if err != nil {
			return err
		}

		switch {
		case resp.Timeout:
		case resp.Op == packet.OpAck:
			ack, err := packet.DecodeAck(resp.Raw)
			if err != nil {
				return err
			}
			if ack.Block == block {
				return nil
			}
		case resp.Op == packet.OpError:
			return decodeRemote(resp.Raw)
		default:
			conn.SendError(packet.ErrIllegalOperation, "Invalid operation for write request")
			return errors.Wrapf(ErrUnexpectedOp, "opcode %d", resp.Op)
		}

		if retries >= c.retries {
			return ErrTimeout
		}
		retries++
	}
}

func decodeRemote(raw []byte) error {
	e, err := packet.DecodeError(raw)
	if err != nil {
		return err
	}
	return e
}
