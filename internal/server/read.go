package server

import (
	"fmt"
	"io"

	"github.com/lfkeitel/tftpd/internal/packet"
	"github.com/lfkeitel/tftpd/internal/transport"
	"github.com/pkg/errors"
)

// doRead sends the requested file to the client one block at a time.
func (s *session) doRead() error {
	file, err := s.store.OpenForRead(s.req.Filename)
	if err != nil {
		return storeError(err)
	}
	defer file.Close()

	var src io.Reader = file
	if s.req.Mode == packet.ModeNetascii {
		enc := transport.NewASCIIEncoder(file)
		defer enc.Close()
		src = enc
	}

	nextBlock, err := s.blockSource(src)
	if err != nil {
		return fail(packet.ErrNotDefined, "Failed to read file", err)
	}

	for block := uint16(1); ; block++ {
		chunk, err := nextBlock()
		if err != nil {
			return fail(packet.ErrNotDefined, "Failed to read file", err)
		}

		if err := s.sendBlock(block, chunk); err != nil {
			return err
		}
		s.bytes += int64(len(chunk))

		// The short block was acknowledged, transfer complete
		if len(chunk) < packet.BlockSize {
			return nil
		}
	}
}

// blockSource returns a function yielding successive payloads. The final
// payload is always shorter than a block, possibly empty.
func (s *session) blockSource(src io.Reader) (func() ([]byte, error), error) {
	if s.strategy == StrategyBuffered {
		content, err := io.ReadAll(src)
		if err != nil {
			return nil, errors.Wrap(err, "loading file")
		}
		s.log.Debugf("Starting transfer of %d bytes", len(content))

		chunks := packet.Segment(content)
		return func() ([]byte, error) {
			if len(chunks) == 0 {
				return nil, errors.New("read past final block")
			}
			chunk := chunks[0]
			chunks = chunks[1:]
			return chunk, nil
		}, nil
	}

	buf := make([]byte, packet.BlockSize)
	return func() ([]byte, error) {
		n, err := io.ReadFull(src, buf)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = nil
		}
		return buf[:n], errors.Wrap(err, "reading block")
	}, nil
}

// sendBlock transmits one DATA packet and waits for its ACK, retransmitting
// on timeout or on an ACK for any other block.
func (s *session) sendBlock(block uint16, chunk []byte) error {
	retries := 0
	for {
		s.log.Debugf("Sending DATA block # %d (%d bytes)", block, len(chunk))
		if err := s.conn.SendData(block, chunk); err != nil {
			return fail(packet.ErrNotDefined, "Failed to send block", err)
		}

		resp, err := s.conn.Receive(s.timeout)
		if err != nil {
			return fail(packet.ErrNotDefined, "Transfer failed", err)
		}

		switch {
		case resp.Timeout:
			s.log.Debugf("Timed out waiting for ACK %d", block)
		case resp.Op == packet.OpAck:
			ack, err := packet.DecodeAck(resp.Raw)
			if err != nil {
				return fail(packet.ErrIllegalOperation, "Malformed ACK", err)
			}
			if ack.Block == block {
				return nil
			}
			s.log.Debugf("Expected ACK %d, got ACK %d", block, ack.Block)
		case resp.Op == packet.OpError:
			return remoteError(resp.Raw)
		default:
			return fail(packet.ErrIllegalOperation, "Invalid operation for read request", fmt.Errorf("opcode %d", resp.Op))
		}

		if !s.retryBudget(&retries) {
			return fail(packet.ErrNotDefined, "Max retransmits exceeded", nil)
		}
		s.log.Debugf("Retransmitting block %d", block)
	}
}
