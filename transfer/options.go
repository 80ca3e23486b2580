package transfer

import (
	"net"
	"time"

	"github.com/opd-ai/sharecore/limits"
	"github.com/sirupsen/logrus"
)

// DefaultProgressInterval is the minimum spacing of progress events.
const DefaultProgressInterval = 250 * time.Millisecond

// DefaultIOTimeout bounds a single read or write on a connection.
const DefaultIOTimeout = 30 * time.Second

// Options tune worker behaviour. Zero values take defaults; a negative
// IOTimeout disables I/O deadlines.
type Options struct {
	ChunkSize        int
	ProgressInterval time.Duration
	SpeedWindow      time.Duration
	IOTimeout        time.Duration
	DialTimeout      time.Duration

	// Dialer opens client connections. Nil dials directly.
	Dialer Dialer

	// Clock drives timestamps, progress cadence and speed. Nil uses the
	// wall clock.
	Clock TimeProvider
}

// DefaultOptions returns the default worker options.
func DefaultOptions() Options {
	return Options{
		ChunkSize:        limits.DefaultChunkSize,
		ProgressInterval: DefaultProgressInterval,
		SpeedWindow:      DefaultSpeedWindow,
		IOTimeout:        DefaultIOTimeout,
		DialTimeout:      DefaultDialTimeout,
	}
}

// withDefaults fills unset fields and clamps the chunk size.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ChunkSize == 0 {
		o.ChunkSize = d.ChunkSize
	} else if err := limits.ValidateChunkSize(o.ChunkSize); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Options.withDefaults",
			"chunk_size": o.ChunkSize,
			"error":      err.Error(),
		}).Warn("Invalid chunk size, using default")
		o.ChunkSize = d.ChunkSize
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = d.ProgressInterval
	}
	if o.SpeedWindow <= 0 {
		o.SpeedWindow = d.SpeedWindow
	}
	if o.IOTimeout == 0 {
		o.IOTimeout = d.IOTimeout
	} else if o.IOTimeout < 0 {
		o.IOTimeout = 0
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = d.DialTimeout
	}
	if o.Dialer == nil {
		o.Dialer = &net.Dialer{Timeout: o.DialTimeout}
	}
	if o.Clock == nil {
		o.Clock = DefaultTimeProvider{}
	}
	return o
}
