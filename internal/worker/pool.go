package worker

import (
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/metrics"
	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/protocol"
	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/queue"
)

// Defaults
const (
	DefaultWorkers        = 5
	DefaultDequeueTimeout = 500 * time.Millisecond
	DefaultLatencyWarning = time.Second
)

// Config contains worker pool parameters
type Config struct {
	Workers        int
	DequeueTimeout time.Duration // how often an idle worker re-checks the stop flag
	LatencyWarning time.Duration // queue wait above which a warning is logged
}

func (c Config) withDefaults() Config {
	if c.Workers < 1 {
		c.Workers = DefaultWorkers
	}
	if c.DequeueTimeout <= 0 {
		c.DequeueTimeout = DefaultDequeueTimeout
	}
	if c.LatencyWarning <= 0 {
		c.LatencyWarning = DefaultLatencyWarning
	}
	return c
}

// Pool is a fixed set of workers answering queued lookup requests
type Pool struct {
	config  Config
	dict    Dictionary
	queue   *queue.Queue
	sender  Sender
	logger  *slog.Logger
	metrics *metrics.Metrics

	wg       sync.WaitGroup
	started  atomic.Bool
	stopping atomic.Bool

	processed atomic.Uint64
	panics    atomic.Uint64
}

// NewPool creates a worker pool. Workers are not started until Start is called.
// m may be nil.
func NewPool(cfg Config, dict Dictionary, q *queue.Queue, sender Sender, logger *slog.Logger, m *metrics.Metrics) *Pool {
	return &Pool{
		config:  cfg.withDefaults(),
		dict:    dict,
		queue:   q,
		sender:  sender,
		logger:  logger,
		metrics: m,
	}
}

// Start launches the workers. Calling Start more than once has no effect.
func (p *Pool) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	p.logger.Info("Starting worker pool", slog.Int("workers", p.config.Workers))

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

// Stop asks workers to drain the queue and exit, waiting at most joinTimeout.
// It returns false if some workers were still busy when the timeout expired;
// those workers are abandoned and exit on their own.
func (p *Pool) Stop(joinTimeout time.Duration) bool {
	if p.stopping.CompareAndSwap(false, true) {
		p.logger.Info("Stopping worker pool", slog.Int("queued", p.queue.Len()))
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(joinTimeout)
	defer timer.Stop()

	select {
	case <-done:
		p.logger.Info("Worker pool stopped", slog.Uint64("processed", p.processed.Load()))
		return true
	case <-timer.C:
		p.logger.Warn("Worker pool stop timed out, abandoning workers",
			slog.Duration("join_timeout", joinTimeout),
			slog.Int("queued", p.queue.Len()),
		)
		return false
	}
}

// Workers returns the configured number of workers
func (p *Pool) Workers() int {
	return p.config.Workers
}

// Processed returns the number of requests answered so far
func (p *Pool) Processed() uint64 {
	return p.processed.Load()
}

// Panics returns the number of recovered processing panics
func (p *Pool) Panics() uint64 {
	return p.panics.Load()
}

// run is the loop of a single worker
func (p *Pool) run(workerID int) {
	defer p.wg.Done()

	logger := p.logger.With(slog.Int("worker_id", workerID))
	logger.Debug("Worker started")

	for {
		if p.stopping.Load() && p.queue.Len() == 0 {
			logger.Debug("Worker stopped")
			return
		}

		req, ok := p.queue.DequeueWithTimeout(p.config.DequeueTimeout)
		if !ok {
			continue
		}
		p.metrics.SetQueueSize(p.queue.Len())

		wait := time.Since(req.EnqueuedAt)
		p.metrics.RecordQueueWait(wait.Seconds())
		if wait > p.config.LatencyWarning {
			logger.Warn("Request spent too long in queue",
				slog.String("remote_addr", addrString(req.Addr)),
				slog.Duration("latency", wait),
			)
		}

		logger.Debug("Processing request", slog.String("remote_addr", addrString(req.Addr)))
		p.ProcessRequest(req.Data, req.Addr)
	}
}

// ProcessRequest decodes and answers a single request datagram. Exactly one
// response is handed to the sender, and the response is returned for callers
// that want to inspect it.
func (p *Pool) ProcessRequest(data []byte, addr *net.UDPAddr) protocol.Response {
	start := time.Now()

	resp := p.respond(data, addr)
	p.processed.Add(1)
	p.metrics.RecordRequestProcessed(resp.Status, time.Since(start).Seconds())

	p.send(addr, resp)
	return resp
}

// respond builds the response, converting any panic into an internal error
func (p *Pool) respond(data []byte, addr *net.UDPAddr) (resp protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.metrics.RecordWorkerPanic()
			p.logger.Error("Error processing request",
				slog.String("remote_addr", addrString(addr)),
				slog.String("error", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
			resp = protocol.Error(protocol.MsgInternalError)
		}
	}()

	req, err := protocol.DecodeRequest(data)
	if err != nil {
		p.logger.Warn("Invalid request",
			slog.String("remote_addr", addrString(addr)),
			slog.Int("size", len(data)),
			slog.String("error", err.Error()),
		)
		return protocol.ErrorForDecode(err)
	}

	if req.Action != protocol.ActionLookup {
		p.logger.Warn("Unknown action",
			slog.String("remote_addr", addrString(addr)),
			slog.String("action", req.Action),
		)
		return protocol.UnknownAction(req.Action)
	}

	if req.Word == "" {
		return protocol.Error(protocol.MsgMissingWord)
	}

	if definition, ok := p.dict.Lookup(req.Word); ok {
		return protocol.Found(req.Word, definition)
	}
	return protocol.NotFound(req.Word)
}

// send hands resp to the sender; a panicking sender must not kill the worker
func (p *Pool) send(addr *net.UDPAddr, resp protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.metrics.RecordWorkerPanic()
			p.logger.Error("Error sending response",
				slog.String("remote_addr", addrString(addr)),
				slog.String("error", fmt.Sprint(r)),
			)
		}
	}()

	p.sender.Send(addr, resp)
}

func addrString(addr *net.UDPAddr) string {
	if addr == nil {
		return "<nil>"
	}
	return addr.String()
}
