// Package queue provides the bounded hand-off queue between the UDP receiver and
// the worker pool, with an explicit policy for requests arriving at a full queue.
package queue
