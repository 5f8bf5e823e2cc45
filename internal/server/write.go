package server

import (
	"fmt"
	"io"

	"github.com/lfkeitel/tftpd/internal/packet"
	"github.com/lfkeitel/tftpd/internal/transport"
)

// doWrite receives a file from the client. Nothing appears under the
// destination name unless every block arrived and the commit succeeded.
func (s *session) doWrite() error {
	upload, err := s.store.CreateExclusive(s.req.Filename, s.strategy == StrategyBuffered)
	if err != nil {
		return storeError(err)
	}
	defer upload.Abort()

	var sink io.Writer = upload
	var decoder *transport.ASCIIDecoder
	if s.req.Mode == packet.ModeNetascii {
		decoder = transport.NewASCIIDecoder(upload)
		defer decoder.Abort()
		sink = decoder
	}

	lastAck := uint16(0)
	if err := s.conn.SendAck(lastAck); err != nil {
		return fail(packet.ErrNotDefined, "Failed to send ACK", err)
	}

	retries := 0
	for {
		resp, err := s.conn.Receive(s.timeout)
		if err != nil {
			return fail(packet.ErrNotDefined, "Transfer failed", err)
		}

		switch {
		case resp.Timeout:
			if !s.retryBudget(&retries) {
				return fail(packet.ErrNotDefined, "Max retransmits exceeded", nil)
			}
			s.log.Debugf("Retransmitting ACK %d", lastAck)
			if err := s.conn.SendAck(lastAck); err != nil {
				return fail(packet.ErrNotDefined, "Failed to send ACK", err)
			}
			continue
		case resp.Op == packet.OpError:
			return remoteError(resp.Raw)
		}

		data, err := packet.DecodeData(resp.Raw)
		if err != nil {
			return fail(packet.ErrIllegalOperation, "Invalid operation for write request", err)
		}

		expected := lastAck + 1
		if data.Block == lastAck {
			// Our ACK was lost and the client resent the block.
			s.log.Debugf("Duplicate DATA block # %d", data.Block)
			if err := s.conn.SendAck(lastAck); err != nil {
				return fail(packet.ErrNotDefined, "Failed to send ACK", err)
			}
			continue
		}
		if data.Block != expected {
			return fail(packet.ErrNotDefined, "Unexpected block number", fmt.Errorf("expected %d, got %d", expected, data.Block))
		}
		retries = 0

		s.bytes += int64(len(data.Payload))
		if s.maxSize > 0 && s.bytes > s.maxSize {
			return fail(packet.ErrDiskFull, "File exceeds maximum size", nil)
		}
		if _, err := sink.Write(data.Payload); err != nil {
			return fail(packet.ErrNotDefined, "Failed to write block", err)
		}
		s.log.Debugf("Received DATA block # %d (%d bytes)", data.Block, len(data.Payload))
		lastAck = data.Block

		if data.Final() {
			return s.finalize(upload.Commit, decoder, lastAck)
		}
		if err := s.conn.SendAck(lastAck); err != nil {
			return fail(packet.ErrNotDefined, "Failed to send ACK", err)
		}
	}
}

// finalize commits the upload before acknowledging the final block so the
// client only sees success once the file exists.
func (s *session) finalize(commit func() error, decoder *transport.ASCIIDecoder, block uint16) error {
	if decoder != nil {
		if err := decoder.Close(); err != nil {
			return fail(packet.ErrNotDefined, "Failed to write file", err)
		}
	}
	if err := commit(); err != nil {
		return storeError(err)
	}
	if err := s.conn.SendAck(block); err != nil {
		return fail(packet.ErrNotDefined, "Failed to send ACK", err)
	}
	s.dally(block)
	return nil
}

// dally re-acknowledges the final block if the client resends it because
// the last ACK was lost. The file is already committed at this point.
func (s *session) dally(block uint16) {
	for i := 0; i < s.retries; i++ {
		resp, err := s.conn.Receive(s.timeout)
		if err != nil || resp.Timeout || resp.Op != packet.OpData {
			return
		}
		data, err := packet.DecodeData(resp.Raw)
		if err != nil || data.Block != block {
			return
		}
		s.log.Debugf("Re-sending final ACK %d", block)
		s.conn.SendAck(block)
	}
}
