// Package dblock serializes integration test packages that share the one
// Postgres database, so truncation in one package cannot race another.
package dblock

import (
	"net"
	"time"
)

// The lock is a listening socket rather than a file: it dies with the
// process, so a crashed test run never leaves a stale lock behind.
const lockAddr = "127.0.0.1:47533"

// Acquire blocks until this process holds the lock and returns its release.
func Acquire() func() {
	for {
		ln, err := net.Listen("tcp", lockAddr)
		if err == nil {
			return func() { ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}
