// Package worker implements the fixed-size pool that takes requests off the
// hand-off queue, validates them, queries the dictionary and hands one response
// per request to the shared sender.
package worker
