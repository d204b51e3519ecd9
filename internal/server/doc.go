// Package server implements the UDP listener that feeds the worker pool, the
// shared response sender and the admin HTTP API used for monitoring and
// dictionary management.
package server
