// Package taskid implements the hierarchical task identifier described in
// spec §4.1: a process-wide base62 counter prefixed by a 2-character encoding
// of the process id, with child ids appending ".N" per level. A distributed
// mode (spec §6, LOGXPY_DISTRIBUTED=1) swaps in 128-bit random UUIDs instead;
// pkg/actionctx treats whichever Generator is configured opaquely.
package taskid

import (
	"os"
	"sync/atomic"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Generator mints root task ids and child ids beneath a parent, per spec
// §4.1's contract: new_root() -> TaskId; child(parent, step) -> TaskId.
type Generator interface {
	NewRoot() string
	Child(parent string, step int) string
}

// Counter is the default, compact hierarchical generator. It never fails
// (spec §4.1 "Failure: None").
type Counter struct {
	pidPrefix string
	counter   uint64 // atomic, widens encoding on overflow rather than reset (DESIGN.md OQ1)
}

// NewCounter builds a Counter seeded from the current process id.
func NewCounter() *Counter {
	return &Counter{pidPrefix: encodePID(os.Getpid())}
}

// encodePID reduces the process id modulo 62^2 and encodes it as exactly two
// base62 characters, per spec §4.1 ("2-character base-62 encoding of the
// current process ID modulo 62^2").
func encodePID(pid int) string {
	if pid < 0 {
		pid = -pid
	}
	n := pid % (62 * 62)
	hi := n / 62
	lo := n % 62
	return string([]byte{base62Alphabet[hi], base62Alphabet[lo]})
}

// encodeBase62 renders n without padding, using at least one digit.
func encodeBase62(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [16]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = base62Alphabet[n%62]
		n /= 62
	}
	return string(buf[i:])
}

// NewRoot mints a new root task id of the form "PP.N".
func (c *Counter) NewRoot() string {
	n := atomic.AddUint64(&c.counter, 1)
	return c.pidPrefix + "." + encodeBase62(n)
}

// Child mints the id for the step-th child of parent.
func (c *Counter) Child(parent string, step int) string {
	return parent + "." + encodeBase62(uint64(step))
}
