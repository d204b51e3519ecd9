package worker

import (
	"net"

	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/protocol"
)

// Dictionary answers word lookups. Implementations must be safe for concurrent use.
//
//go:generate mockgen -source=ports.go -destination=mocks/mock_ports.go -package=mocks
type Dictionary interface {
	// Lookup returns the definition of word and whether it exists.
	Lookup(word string) (string, bool)
}

// Sender delivers a response datagram to a client. Failures are handled by the sender.
type Sender interface {
	// Send stamps, encodes and transmits resp to addr.
	Send(addr *net.UDPAddr, resp protocol.Response)
}
