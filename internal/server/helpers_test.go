package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/config"
	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/dictionary"
	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/metrics"
	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/protocol"
)

const testDictionary = `{
  "entries": [
    {"word": "cat", "definition": "a small domesticated feline", "synonyms": ["kitty"], "category": "animal"},
    {"word": "dog", "definition": "a domesticated canine", "category": "animal"},
    {"word": "run", "definition": "move swiftly on foot", "category": "verb"}
  ],
  "metadata": {"version": "1.0"}
}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) (*dictionary.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dictionary.json")
	require.NoError(t, os.WriteFile(path, []byte(testDictionary), 0644))
	store, err := dictionary.New(path, testLogger())
	require.NoError(t, err)
	return store, path
}

// freePort returns a loopback UDP port that was free a moment ago. Ephemeral
// ports are always above the listener's minimum.
func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	require.GreaterOrEqual(t, port, config.MinPort)
	return port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.UDPPort = freePort(t)
	cfg.Server.BindAddress = "127.0.0.1"
	cfg.Server.ReceiveTimeoutMs = 50
	cfg.Workers.Count = 3
	cfg.Workers.DequeueTimeoutMs = 20
	return cfg
}

// startListener runs l.Start in the background and waits until it is ready.
// The returned channel yields Start's result.
func startListener(t *testing.T, ctx context.Context, l *Listener) <-chan error {
	t.Helper()
	ready := l.Ready()
	result := make(chan error, 1)
	go func() {
		result <- l.Start(ctx)
	}()

	select {
	case <-ready:
	case err := <-result:
		t.Fatalf("listener failed to start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not become ready")
	}

	t.Cleanup(func() {
		_ = l.Stop()
	})
	return result
}

// testClient is an unconnected socket: replies arrive from the sender's port,
// not the listening port.
type testClient struct {
	conn   *net.UDPConn
	server *net.UDPAddr
}

func newTestClient(t *testing.T, l *Listener) *testClient {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{conn: conn, server: l.LocalAddr()}
}

func (c *testClient) send(t *testing.T, payload []byte) {
	t.Helper()
	_, err := c.conn.WriteToUDP(payload, c.server)
	require.NoError(t, err)
}

// roundTrip sends payload and decodes the single reply
func (c *testClient) roundTrip(t *testing.T, payload []byte) map[string]any {
	t.Helper()
	c.send(t, payload)

	buf := make([]byte, protocol.DefaultBufferSize)
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := c.conn.ReadFromUDP(buf)
	require.NoError(t, err)

	var reply map[string]any
	require.NoError(t, json.Unmarshal(buf[:n], &reply))
	return reply
}

func newTestMetrics() *metrics.Metrics {
	return metrics.NewMetrics(nil)
}
