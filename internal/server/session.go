package server

import (
	"time"

	"github.com/lfkeitel/tftpd/internal/packet"
	"github.com/lfkeitel/tftpd/internal/store"
	"github.com/lfkeitel/tftpd/internal/transport"
	"github.com/pkg/errors"
)

// session drives one transfer to completion. It is owned by a single
// goroutine and shares nothing with other sessions but the store.
type session struct {
	id       string
	req      *packet.Request
	conn     *transport.Conn
	store    *store.Store
	log      Logger
	timeout  time.Duration
	retries  int
	strategy Strategy
	maxSize  int64

	bytes       int64
	retransmits int
}

func (s *session) run() {
	start := time.Now()
	s.log.Infof("%s request for %s with mode %s from %s", s.req.Op, s.req.Filename, s.req.Mode, s.conn.Remote())

	err := s.transfer()
	s.finish(err, time.Since(start))
}

func (s *session) transfer() error {
	switch s.req.Mode {
	case packet.ModeOctet, packet.ModeNetascii:
	default:
		return fail(packet.ErrIllegalOperation, "Unsupported transfer mode "+s.req.Mode, nil)
	}

	if s.req.Op == packet.OpRRQ {
		return s.doRead()
	}
	return s.doWrite()
}

func (s *session) finish(err error, elapsed time.Duration) {
	defer s.conn.Close()

	if err == nil {
		s.log.Infof("Transfer of %s completed in %s (%d bytes, %d retransmits)", s.req.Filename, elapsed, s.bytes, s.retransmits)
		return
	}

	var te *transferError
	if !errors.As(err, &te) {
		te = &transferError{code: packet.ErrNotDefined, msg: "Transfer failed", reply: true, cause: err}
	}
	s.log.Infof("Transfer of %s failed after %s: %v", s.req.Filename, elapsed, te)

	if te.reply {
		if sendErr := s.conn.SendError(te.code, te.msg); sendErr != nil {
			s.log.Errorf("%v", sendErr)
		}
	}
}

// retryBudget reports whether another retransmission is allowed and charges
// for it.
func (s *session) retryBudget(retries *int) bool {
	if *retries >= s.retries {
		return false
	}
	*retries++
	s.retransmits++
	return true
}
