// Package client implements a UDP lookup client for the dictionary service.
// Unanswered requests are retried with backoff since datagrams may be lost or
// dropped by an overloaded server.
package client
