package server

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/metrics"
	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/protocol"
)

// Sender writes response datagrams from its own socket, shared by all workers
type Sender struct {
	conn    *net.UDPConn
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	closed bool
}

// NewSender opens an unbound UDP socket for responses
func NewSender(logger *slog.Logger, m *metrics.Metrics) (*Sender, error) {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open response socket: %w", err)
	}

	return &Sender{
		conn:    conn,
		logger:  logger,
		metrics: m,
	}, nil
}

// Send stamps and encodes resp and writes it to addr. Failures are logged and
// counted; the client simply receives nothing.
func (s *Sender) Send(addr *net.UDPAddr, resp protocol.Response) {
	resp.Stamp(time.Now())

	data, err := protocol.Encode(resp)
	if err != nil {
		s.fail(addr, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.fail(addr, net.ErrClosed)
		return
	}

	if _, err := s.conn.WriteToUDP(data, addr); err != nil {
		s.fail(addr, err)
		return
	}

	s.metrics.RecordResponseSent()
	s.logger.Debug("Response sent",
		slog.String("remote_addr", addr.String()),
		slog.String("status", resp.Status),
		slog.Int("size", len(data)),
	)
}

func (s *Sender) fail(addr *net.UDPAddr, err error) {
	s.metrics.RecordSendError()
	s.logger.Error("Failed to send response",
		slog.String("remote_addr", addrString(addr)),
		slog.String("error", err.Error()),
	)
}

// LocalAddr returns the address responses are sent from
func (s *Sender) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Close releases the socket. Calling Close more than once has no effect.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

func addrString(addr *net.UDPAddr) string {
	if addr == nil {
		return "<nil>"
	}
	return addr.String()
}
