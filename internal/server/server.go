package server

import (
	"context"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lfkeitel/tftpd/internal/packet"
	"github.com/lfkeitel/tftpd/internal/store"
	"github.com/lfkeitel/tftpd/internal/transport"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultPort    = 8888
	DefaultTimeout = 2 * time.Second
	DefaultRetries = 5
)

// Strategy selects how file content moves between disk and the wire.
type Strategy int

const (
	// StrategyBuffered holds a whole file in memory per transfer.
	StrategyBuffered Strategy = iota
	// StrategyStream moves one block at a time.
	StrategyStream
)

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "buffered", "buffer":
		return StrategyBuffered, nil
	case "stream", "streaming":
		return StrategyStream, nil
	}
	return 0, errors.Errorf("unknown transfer strategy %q", s)
}

func (s Strategy) String() string {
	if s == StrategyStream {
		return "stream"
	}
	return "buffered"
}

type Option func(*Server)

type Server struct {
	store       *store.Store
	log         Logger
	timeout     time.Duration
	retries     int
	strategy    Strategy
	maxFileSize int64
	sessions    *semaphore.Weighted

	wg sync.WaitGroup
}

func New(s *store.Store, options ...Option) *Server {
	srv := &Server{
		store:   s,
		log:     NewStdLogger(os.Stderr, false),
		timeout: DefaultTimeout,
		retries: DefaultRetries,
	}
	for _, option := range options {
		option(srv)
	}
	return srv
}

// WithTimeout sets how long a session waits for each ACK or DATA.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.timeout = d
	}
}

// WithRetries sets how many retransmissions a session makes before giving up.
func WithRetries(n int) Option {
	return func(s *Server) {
		s.retries = n
	}
}

// WithMaxSessions bounds concurrent transfers. Zero means unbounded.
func WithMaxSessions(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.sessions = semaphore.NewWeighted(n)
		}
	}
}

func WithStrategy(strategy Strategy) Option {
	return func(s *Server) {
		s.strategy = strategy
	}
}

// WithMaxFileSize caps write transfers. Zero means unlimited.
func WithMaxFileSize(n int64) Option {
	return func(s *Server) {
		s.maxFileSize = n
	}
}

func WithLogger(l Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return errors.Wrap(err, "binding request listener")
	}
	return s.Serve(ctx, conn)
}

// Serve reads requests from conn until ctx is cancelled, then waits for
// running sessions and returns nil. conn is closed on return.
func (s *Server) Serve(ctx context.Context, conn net.PacketConn) error {
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	s.log.Infof("Start TFTP server on %s reading %s writing %s", conn.LocalAddr(), s.store.ReadRoot(), s.store.WriteRoot())

	buffer := make([]byte, transport.ReceiveBufferSize)
	for {
		n, addr, err := conn.ReadFrom(buffer)
		if err != nil {
			if ctx.Err() != nil {
				s.log.Infof("Shutting down, waiting for running transfers")
				s.wg.Wait()
				return nil
			}
			s.wg.Wait()
			return errors.Wrap(err, "reading request")
		}

		s.handleRequest(conn, addr, buffer[:n])
	}
}

func (s *Server) handleRequest(conn net.PacketConn, addr net.Addr, raw []byte) {
	req, err := packet.DecodeRequest(raw)
	if errors.Is(err, packet.ErrInvalidOpcode) {
		s.log.Infof("Rejecting non-request datagram from %s: %v", addr, err)
		conn.WriteTo(packet.EncodeError(packet.ErrAccessViolation, "Expected read or write request"), addr)
		return
	}
	if err != nil {
		s.log.Debugf("Dropping malformed request from %s: %v", addr, err)
		return
	}

	if s.sessions != nil && !s.sessions.TryAcquire(1) {
		s.log.Infof("Rejecting %s request from %s: too many transfers", req.Op, addr)
		conn.WriteTo(packet.EncodeError(packet.ErrNotDefined, "Server busy"), addr)
		return
	}

	sessConn, err := s.listenSession(conn)
	if err != nil {
		s.log.Errorf("%v", err)
		conn.WriteTo(packet.EncodeError(packet.ErrNotDefined, "Cannot allocate transfer"), addr)
		s.release()
		return
	}

	id := uuid.New().String()[:8]
	sess := &session{
		id:       id,
		req:      req,
		conn:     transport.New(sessConn, addr),
		store:    s.store,
		log:      prefixLogger{Logger: s.log, prefix: "[" + id + "] "},
		timeout:  s.timeout,
		retries:  s.retries,
		strategy: s.strategy,
		maxSize:  s.maxFileSize,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release()
		sess.run()
	}()
}

func (s *Server) release() {
	if s.sessions != nil {
		s.sessions.Release(1)
	}
}

// listenSession opens the per-transfer socket on the listener's host with
// an ephemeral port.
func (s *Server) listenSession(listener net.PacketConn) (net.PacketConn, error) {
	host := ""
	if udpAddr, ok := listener.LocalAddr().(*net.UDPAddr); ok && !udpAddr.IP.IsUnspecified() {
		host = udpAddr.IP.String()
	}
	conn, err := net.ListenPacket("udp", net.JoinHostPort(host, "0"))
	return conn, errors.Wrap(err, "opening transfer socket")
}
