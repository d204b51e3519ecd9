package queue

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(n byte) Request {
	return Request{
		Data:       []byte{n},
		Addr:       &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000 + int(n)},
		EnqueuedAt: time.Now(),
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		input       string
		expected    Policy
		expectError bool
	}{
		{input: "", expected: DropNewest},
		{input: "drop_newest", expected: DropNewest},
		{input: "DROP_OLDEST", expected: DropOldest},
		{input: "block", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			policy, err := ParsePolicy(tt.input)
			if tt.expectError {
				assert.ErrorContains(t, err, "unknown overflow policy")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, policy)
		})
	}

	assert.Equal(t, "drop_oldest", DropOldest.String())
	assert.Equal(t, "Unknown(7)", Policy(7).String())
}

func TestNewDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0, DropNewest).Cap())
	assert.Equal(t, 8, New(8, DropNewest).Cap())
}

func TestFIFOOrder(t *testing.T) {
	q := New(16, DropNewest)
	for i := byte(0); i < 10; i++ {
		require.True(t, q.Enqueue(request(i)))
	}
	assert.Equal(t, 10, q.Len())

	for i := byte(0); i < 10; i++ {
		req, ok := q.DequeueWithTimeout(10 * time.Millisecond)
		require.True(t, ok)
		assert.Equal(t, []byte{i}, req.Data)
	}
	assert.Equal(t, 0, q.Len())
}

func TestDequeueTimeout(t *testing.T) {
	q := New(1, DropNewest)

	start := time.Now()
	_, ok := q.DequeueWithTimeout(50 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestDequeueWakesOnEnqueue(t *testing.T) {
	q := New(1, DropNewest)

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Enqueue(request(1))
	}()

	req, ok := q.DequeueWithTimeout(2 * time.Second)
	require.True(t, ok)
	assert.Equal(t, []byte{1}, req.Data)
}

func TestDropNewest(t *testing.T) {
	q := New(2, DropNewest)
	require.True(t, q.Enqueue(request(1)))
	require.True(t, q.Enqueue(request(2)))

	assert.False(t, q.Enqueue(request(3)))
	assert.Equal(t, uint64(1), q.Dropped())

	first, _ := q.DequeueWithTimeout(time.Millisecond)
	second, _ := q.DequeueWithTimeout(time.Millisecond)
	assert.Equal(t, []byte{1}, first.Data)
	assert.Equal(t, []byte{2}, second.Data)
}

func TestDropOldest(t *testing.T) {
	q := New(2, DropOldest)
	require.True(t, q.Enqueue(request(1)))
	require.True(t, q.Enqueue(request(2)))

	assert.True(t, q.Enqueue(request(3)))
	assert.Equal(t, uint64(1), q.Dropped())
	assert.Equal(t, 2, q.Len())

	first, _ := q.DequeueWithTimeout(time.Millisecond)
	second, _ := q.DequeueWithTimeout(time.Millisecond)
	assert.Equal(t, []byte{2}, first.Data)
	assert.Equal(t, []byte{3}, second.Data)
}

func TestConcurrentConsumersReceiveEachRequestOnce(t *testing.T) {
	const total = 500
	q := New(total, DropNewest)

	var mu sync.Mutex
	seen := make(map[int]int)
	var wg sync.WaitGroup

	for i := 0; i < total; i++ {
		require.True(t, q.Enqueue(Request{Addr: &net.UDPAddr{Port: i}}))
	}

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				req, ok := q.DequeueWithTimeout(100 * time.Millisecond)
				if !ok {
					return
				}
				mu.Lock()
				seen[req.Addr.Port]++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	require.Len(t, seen, total)
	for port, count := range seen {
		assert.Equal(t, 1, count, "request %d delivered %d times", port, count)
	}
}
