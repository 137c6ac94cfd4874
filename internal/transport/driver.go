// Package transport defines the seam between reactorlink and the
// underlying transport treated as an external collaborator (§1): a
// unidirectional, sessioned, best-effort ordered fragment transport over
// named channels. ResourceManager, MessagePublication and
// MessageSubscription depend only on the interfaces in this file, never
// on a concrete driver package.
package transport

import (
	"context"
	"time"
)

// Offer result sentinels, mirroring the underlying transport's
// non-blocking offer semantics (spec §4.B step 3).
const (
	BackPressured       int64 = -1
	AdminAction         int64 = -2
	NotConnected        int64 = -3
	MaxPositionExceeded  int64 = -4
	Closed              int64 = -5
)

// FragmentFlags marks BEGIN/MIDDLE/END within a reassembled message,
// spec §6 "Wire fragmentation".
type FragmentFlags uint8

const (
	FlagBegin FragmentFlags = 1 << iota
	FlagEnd
)

func (f FragmentFlags) Begin() bool { return f&FlagBegin != 0 }
func (f FragmentFlags) End() bool   { return f&FlagEnd != 0 }

// Header accompanies every fragment delivered to a FragmentHandler.
type Header struct {
	SessionID int32
	StreamID  int32
	Flags     FragmentFlags
}

// FragmentHandler consumes one raw fragment. Reassembly across
// BEGIN/MIDDLE/END happens one layer up (subscription.Assembler); drivers
// only deliver raw fragments plus their header.
type FragmentHandler func(buf []byte, header Header)

// ImageHandler is invoked by the driver when a publication's image
// becomes available/unavailable to a subscription (spec §3 "Image").
type ImageHandler func(img Image)

// Image is a per-session receive state bound to a subscription.
type Image interface {
	SessionID() int32
	CorrelationID() int64
}

// Publication is the send side of a channel.
type Publication interface {
	// Offer attempts a non-blocking send of buf, tagged with the
	// BEGIN/END fragmentation flags the caller has already computed. It
	// returns a non-negative position on success, or one of the
	// sentinel negative codes above.
	Offer(buf []byte, flags FragmentFlags) (int64, error)
	SessionID() int32
	StreamID() int32
	Channel() string
	IsConnected() bool
	Close() error
}

// Subscription is the receive side of a channel.
type Subscription interface {
	// Poll delivers up to fragmentLimit fragments to handler, returning
	// the number consumed.
	Poll(handler FragmentHandler, fragmentLimit int) int
	Images() []Image
	Channel() string
	StreamID() int32
	Close() error
}

// Driver is the process-wide handle to the underlying transport: the
// embedded media driver, or a handle to an externally-running one.
type Driver interface {
	AddPublication(ctx context.Context, channelURI string, streamID int32) (Publication, error)
	AddExclusivePublication(ctx context.Context, channelURI string, streamID int32) (Publication, error)
	AddSubscription(ctx context.Context, channelURI string, streamID int32, imageLivenessTimeout time.Duration, onAvailable, onUnavailable ImageHandler) (Subscription, error)

	// Dir returns the driver's filesystem directory, created at start and
	// removed at Close unless the driver was attached externally.
	Dir() string
	Close() error
}
