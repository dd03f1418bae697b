// Package client submits programs to a code execution service and returns
// the decoded results.
//
// Every call is a single synchronous HTTP round trip bounded by the caller's
// context. The client never retries; a service at capacity is reported as
// ErrAtCapacity so callers can back off themselves.
package client
