package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/avast/retry-go"

	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/protocol"
)

// Defaults
const (
	DefaultTimeout    = 2 * time.Second
	DefaultAttempts   = 3
	DefaultRetryDelay = 100 * time.Millisecond
)

// ErrTimeout is returned when no reply arrived within the per-attempt timeout
var ErrTimeout = errors.New("no response from server")

// Client sends lookup requests to a dictionary server
type Client struct {
	server     *net.UDPAddr
	timeout    time.Duration
	attempts   uint
	retryDelay time.Duration
	logger     *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithTimeout sets how long each attempt waits for a reply
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithAttempts sets the total number of attempts per request
func WithAttempts(n uint) Option {
	return func(c *Client) {
		c.attempts = n
	}
}

// WithRetryDelay sets the base backoff between attempts
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithLogger sets the logger used for retry diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for the server at address (host:port)
func New(address string, opts ...Option) (*Client, error) {
	server, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve server address %s: %w", address, err)
	}

	c := &Client{
		server:     server,
		timeout:    DefaultTimeout,
		attempts:   DefaultAttempts,
		retryDelay: DefaultRetryDelay,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.attempts < 1 {
		c.attempts = 1
	}

	return c, nil
}

// Lookup asks the server for the definition of word
func (c *Client) Lookup(ctx context.Context, word string) (*protocol.Response, error) {
	payload, err := protocol.EncodeRequest(protocol.Request{Action: protocol.ActionLookup, Word: word})
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, payload)
}

// Do sends a raw request datagram and returns the decoded reply. Only timeouts
// are retried.
func (c *Client) Do(ctx context.Context, payload []byte) (*protocol.Response, error) {
	var result *protocol.Response
	if err := retry.Do(
		func() error {
			resp, err := c.exchange(ctx, payload)
			if err != nil {
				if !errors.Is(err, ErrTimeout) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			result = resp
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			return retry.BackOffDelay(n, err, config)
		}),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("Retrying request",
				slog.String("server", c.server.String()),
				slog.Uint64("attempt", uint64(n+1)),
				slog.String("error", err.Error()),
			)
		}),
	); err != nil {
		return nil, err
	}
	return result, nil
}

// exchange performs one request/reply. Replies come from the server's sender
// socket rather than its listening port, so the socket is left unconnected.
func (c *Client) exchange(ctx context.Context, payload []byte) (*protocol.Response, error) {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open client socket: %w", err)
	}
	defer conn.Close()

	if _, err := conn.WriteToUDP(payload, c.server); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	buf := make([]byte, 64*1024)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return protocol.DecodeResponse(buf[:n])
}
