package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/config"
	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/metrics"
	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/queue"
	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/worker"
)

var (
	// ErrInvalidPort is returned by Start when the port is outside 1024-65535
	ErrInvalidPort = errors.New("invalid port")
	// ErrPersistentReceiveFailure is returned by Start when the socket keeps failing
	ErrPersistentReceiveFailure = errors.New("persistent receive failure")
	// ErrAlreadyStarted is returned by Start when the listener is not stopped
	ErrAlreadyStarted = errors.New("listener already started")
)

// State is the lifecycle state of a Listener
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(s))
	}
}

// Listener owns the UDP socket, the hand-off queue, the worker pool and the sender
type Listener struct {
	config  *config.Config
	dict    worker.Dictionary
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Lifecycle, guarded by mu
	mu     sync.Mutex
	state  atomic.Int32
	ready  chan struct{}
	done   chan struct{}
	conn   *net.UDPConn
	queue  *queue.Queue
	sender *Sender
	pool   *worker.Pool

	running atomic.Bool
	limiter *rate.Limiter

	// Counters
	packetsReceived atomic.Uint64
	packetsEnqueued atomic.Uint64
	rateLimited     atomic.Uint64
	queueRejected   atomic.Uint64
	receiveErrors   atomic.Uint64
}

// NewListener creates a listener. Nothing is bound until Start is called.
func NewListener(cfg *config.Config, dict worker.Dictionary, logger *slog.Logger, m *metrics.Metrics) *Listener {
	l := &Listener{
		config:  cfg,
		dict:    dict,
		logger:  logger,
		metrics: m,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	close(l.done)
	return l
}

// Start binds the socket, starts the workers and runs the receive loop in the
// calling goroutine until Stop is called or ctx is cancelled. The listener is
// always stopped when Start returns.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()

	if l.State() != StateStopped {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}

	if err := config.ValidatePort(l.config.Server.UDPPort); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrInvalidPort, err)
	}

	l.setState(StateStarting)

	if err := l.open(); err != nil {
		l.setState(StateStopped)
		l.mu.Unlock()
		return err
	}

	l.done = make(chan struct{})
	ready, done := l.ready, l.done

	l.running.Store(true)
	l.setState(StateRunning)
	close(ready)
	l.mu.Unlock()

	l.logger.Info("UDP listener started",
		slog.String("address", l.conn.LocalAddr().String()),
		slog.Int("buffer_size", l.config.Server.BufferSize),
		slog.Int("workers", l.pool.Workers()),
		slog.Int("queue_capacity", l.queue.Cap()),
		slog.String("overflow", l.queue.Policy().String()),
	)

	go func() {
		select {
		case <-ctx.Done():
			l.logger.Info("Context cancelled, stopping UDP listener")
			l.running.Store(false)
		case <-done:
		}
	}()

	err := l.receiveLoop()
	l.shutdown()
	close(done)

	return err
}

// open binds the socket and builds the pipeline behind it. Caller holds mu.
func (l *Listener) open() error {
	cfg := l.config

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.UDPPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	sender, err := NewSender(l.logger.With(slog.String("component", "sender")), l.metrics)
	if err != nil {
		conn.Close()
		return err
	}

	policy, err := queue.ParsePolicy(cfg.Queue.Overflow)
	if err != nil {
		conn.Close()
		sender.Close()
		return err
	}

	l.conn = conn
	l.sender = sender
	l.queue = queue.New(cfg.Queue.Capacity, policy)
	l.pool = worker.NewPool(worker.Config{
		Workers:        cfg.Workers.Count,
		DequeueTimeout: cfg.Workers.GetDequeueTimeout(),
		LatencyWarning: cfg.Workers.GetLatencyWarning(),
	}, l.dict, l.queue, l.sender, l.logger.With(slog.String("component", "worker")), l.metrics)

	l.limiter = nil
	if cfg.Server.RateLimit > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst)
	}

	l.pool.Start()
	return nil
}

// Stop requests shutdown and waits until the workers are drained and both
// sockets are closed. Calling Stop more than once, or before Start, has no effect.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if l.State() == StateRunning {
		l.logger.Info("Stopping UDP listener...")
		l.running.Store(false)
	}
	done := l.done
	l.mu.Unlock()

	<-done
	return nil
}

// shutdown drains the pool and releases the sockets after the receive loop exits
func (l *Listener) shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.running.Store(false)
	l.setState(StateStopping)

	if !l.pool.Stop(l.config.Workers.GetJoinTimeout()) {
		l.logger.Warn("Some workers did not finish before the join timeout")
	}

	if err := l.conn.Close(); err != nil {
		l.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
	}

	if err := l.sender.Close(); err != nil {
		l.logger.Warn("Error closing response socket", slog.String("error", err.Error()))
	}

	l.setState(StateStopped)
	l.ready = make(chan struct{})

	stats := l.statistics()
	l.logger.Info("UDP listener stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_enqueued", stats.PacketsEnqueued),
		slog.Uint64("requests_processed", stats.RequestsProcessed),
		slog.Uint64("rate_limited", stats.RateLimited),
		slog.Uint64("queue_rejected", stats.QueueRejected),
		slog.Uint64("receive_errors", stats.ReceiveErrors),
	)
}

// receiveLoop reads datagrams until the running flag is cleared
func (l *Listener) receiveLoop() error {
	buffer := make([]byte, l.config.Server.BufferSize)
	timeout := l.config.Server.GetReceiveTimeout()
	maxErrors := l.config.Server.MaxReceiveErrors
	consecutiveErrors := 0

	for l.running.Load() {
		// Set read deadline to check the running flag periodically
		if err := l.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			if !l.running.Load() {
				return nil
			}
			l.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
		}

		n, remoteAddr, err := l.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			// Errors raised while shutting down are expected
			if !l.running.Load() {
				return nil
			}

			consecutiveErrors++
			l.receiveErrors.Add(1)
			l.metrics.RecordReceiveError()
			l.logger.Error("Failed to read UDP packet",
				slog.String("error", err.Error()),
				slog.Int("consecutive_errors", consecutiveErrors),
			)

			if consecutiveErrors >= maxErrors {
				return fmt.Errorf("%w: %d consecutive errors: %w", ErrPersistentReceiveFailure, consecutiveErrors, err)
			}
			continue
		}

		consecutiveErrors = 0
		l.handleDatagram(buffer[:n], remoteAddr)
	}

	return nil
}

// handleDatagram applies admission control and hands a copy of data to the queue
func (l *Listener) handleDatagram(data []byte, remoteAddr *net.UDPAddr) {
	receivedAt := time.Now()
	l.packetsReceived.Add(1)
	l.metrics.RecordRequestReceived()

	if l.limiter != nil && !l.limiter.AllowN(receivedAt, 1) {
		l.rateLimited.Add(1)
		l.metrics.RecordRequestRejected(metrics.RejectRateLimited)
		l.logger.Debug("Rate limit exceeded, dropping packet",
			slog.String("remote_addr", remoteAddr.String()),
			slog.Int("packet_size", len(data)),
		)
		return
	}

	// The receive buffer is reused, so the queued request gets its own copy
	packetData := make([]byte, len(data))
	copy(packetData, data)

	evictedBefore := l.queue.Dropped()
	ok := l.queue.Enqueue(queue.Request{
		Data:       packetData,
		Addr:       remoteAddr,
		EnqueuedAt: receivedAt,
	})
	l.metrics.SetQueueSize(l.queue.Len())

	if !ok {
		l.queueRejected.Add(1)
		l.metrics.RecordRequestRejected(metrics.RejectQueueFull)
		l.logger.Warn("Request queue full, dropping packet",
			slog.String("remote_addr", remoteAddr.String()),
			slog.Int("packet_size", len(data)),
		)
		return
	}

	l.packetsEnqueued.Add(1)
	if l.queue.Dropped() > evictedBefore {
		l.metrics.RecordQueueEviction()
		l.logger.Warn("Request queue full, evicted oldest packet",
			slog.String("remote_addr", remoteAddr.String()),
		)
	}
}

// Ready is closed once the listener is accepting datagrams
func (l *Listener) Ready() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

// State returns the current lifecycle state
func (l *Listener) State() State {
	return State(l.state.Load())
}

func (l *Listener) setState(s State) {
	l.state.Store(int32(s))
}

// LocalAddr returns the bound address, or nil when the listener never started
func (l *Listener) LocalAddr() *net.UDPAddr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// GetStatistics returns current listener statistics
func (l *Listener) GetStatistics() ListenerStatistics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statistics()
}

// statistics builds the snapshot. Caller holds mu.
func (l *Listener) statistics() ListenerStatistics {
	stats := ListenerStatistics{
		State:           l.State().String(),
		PacketsReceived: l.packetsReceived.Load(),
		PacketsEnqueued: l.packetsEnqueued.Load(),
		RateLimited:     l.rateLimited.Load(),
		QueueRejected:   l.queueRejected.Load(),
		ReceiveErrors:   l.receiveErrors.Load(),
	}

	if l.queue != nil {
		stats.QueueSize = l.queue.Len()
		stats.QueueCapacity = l.queue.Cap()
		stats.QueueDropped = l.queue.Dropped()
		stats.OverflowPolicy = l.queue.Policy().String()
	}

	if l.pool != nil {
		stats.Workers = l.pool.Workers()
		stats.RequestsProcessed = l.pool.Processed()
		stats.WorkerPanics = l.pool.Panics()
	}

	return stats
}

// ListenerStatistics represents listener performance counters
type ListenerStatistics struct {
	State             string `json:"state"`
	PacketsReceived   uint64 `json:"packets_received"`
	PacketsEnqueued   uint64 `json:"packets_enqueued"`
	RateLimited       uint64 `json:"rate_limited"`
	QueueRejected     uint64 `json:"queue_rejected"`
	QueueDropped      uint64 `json:"queue_dropped"`
	ReceiveErrors     uint64 `json:"receive_errors"`
	QueueSize         int    `json:"queue_size"`
	QueueCapacity     int    `json:"queue_capacity"`
	OverflowPolicy    string `json:"overflow_policy"`
	Workers           int    `json:"workers"`
	RequestsProcessed uint64 `json:"requests_processed"`
	WorkerPanics      uint64 `json:"worker_panics"`
}
