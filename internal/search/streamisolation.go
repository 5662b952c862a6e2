package search

import (
	"strconv"
	"sync/atomic"
)

// StreamIsolator owns the one piece of global mutable state the scraping
// provider needs: a monotonically increasing SOCKS5 stream id. Distinct
// username/password pairs cause a Tor-style SOCKS5 proxy to route
// connections over independent circuits, so rotating the id changes the
// provider's apparent exit point.
type StreamIsolator struct {
	counter     atomic.Uint64
	rotateEvery int
}

// NewStreamIsolator builds an isolator that rotates proactively every
// rotateEvery requests (0 disables proactive rotation).
func NewStreamIsolator(rotateEvery int) *StreamIsolator {
	s := &StreamIsolator{rotateEvery: rotateEvery}
	s.counter.Store(1)
	return s
}

// Auth returns the current stream's SOCKS5 username and password, both
// "stream-<id>", satisfying golang.org/x/net/proxy's Auth hook shape.
func (s *StreamIsolator) Auth() (username, password string) {
	id := s.current()
	cred := streamCredential(id)
	return cred, cred
}

func (s *StreamIsolator) current() uint64 {
	return s.counter.Load()
}

// Rotate advances the stream id unconditionally, used both for the
// reactive (zero-results retry) and proactive (every-N-requests) paths.
func (s *StreamIsolator) Rotate() uint64 {
	return s.counter.Add(1)
}

// MaybeRotateProactively rotates once every rotateEvery calls, tracked by
// requestCount (the caller's running request tally). It is a no-op when
// rotateEvery <= 0.
func (s *StreamIsolator) MaybeRotateProactively(requestCount int) {
	if s.rotateEvery <= 0 {
		return
	}
	if requestCount > 0 && requestCount%s.rotateEvery == 0 {
		s.Rotate()
	}
}

func streamCredential(id uint64) string {
	return "stream-" + strconv.FormatUint(id, 10)
}
