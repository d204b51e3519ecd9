// Package protocol implements the JSON datagram format of the dictionary service.
// It decodes lookup requests, builds found/not_found/error responses and
// encodes them as compact JSON with a generation timestamp.
package protocol
