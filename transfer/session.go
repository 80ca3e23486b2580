package transfer

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/opd-ai/sharecore/catalog"
)

// Session is the per-connection state of one worker. It is owned by the
// worker goroutine; other goroutines read only State and Position.
type Session struct {
	Conn      net.Conn
	File      catalog.FileInfo
	Offset    uint64
	Total     uint64
	StartTime time.Time

	position atomic.Uint64
	state    atomic.Uint32
}

// State returns the current protocol state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(uint32(st))
}

// Position returns the absolute byte position reached in the file.
func (s *Session) Position() uint64 {
	return s.position.Load()
}

func (s *Session) setPosition(p uint64) {
	s.position.Store(p)
}

// EstimateRemaining projects how long remaining bytes take at speed bytes
// per second.
func EstimateRemaining(remaining uint64, speed float64) time.Duration {
	if speed <= 0 || remaining == 0 {
		return 0
	}
	return time.Duration(float64(remaining) / speed * float64(time.Second))
}
