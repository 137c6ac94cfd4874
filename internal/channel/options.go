package channel

import "time"

// Handler is invoked with an assembled, contiguous payload delivered by a
// Connection's inbound side. Implementations must not block: fragment
// delivery into the inbound sink must stay non-blocking (§4.D).
type Handler func(payload []byte)

// Options carries the tunables recognized in §4.H, defaulted the same way
// a Hub's registry.Option would be: a struct of defaults overridden by
// functional options.
type Options struct {
	ConnectTimeout      time.Duration
	PublicationTimeout  time.Duration
	BackpressureTimeout time.Duration
	ImageLivenessTimeout time.Duration
	SendQueueCapacity   int
	FragmentLimit       int
	MTULength           int

	// SessionRetry bounds the number of fresh-session-id attempts
	// ClientConnector makes before surfacing NOT_CONNECTED (§9 Open
	// Question, resolved).
	SessionRetry int

	// FairnessPerTick bounds how many send-queue items a single
	// MessagePublication drains per EventLoop tick (§4.B "Fairness").
	FairnessPerTick int

	// Prefetch bounds how many assembled payloads ClientInbound buffers
	// before it stops polling its subscription (§4.C).
	Prefetch int

	Handler Handler
}

// Option mutates an Options value in place; NewOptions applies defaults
// first so every Option only needs to override what it cares about.
type Option func(*Options)

// NewOptions builds an Options value with spec-mandated defaults (§4.H)
// applied before opts run.
func NewOptions(opts ...Option) Options {
	o := Options{
		ConnectTimeout:       5 * time.Second,
		PublicationTimeout:   5 * time.Second,
		BackpressureTimeout:  5 * time.Second,
		ImageLivenessTimeout: 10 * time.Second,
		SendQueueCapacity:    128,
		FragmentLimit:        8,
		MTULength:            1408, // matches typical UDP/Ethernet-safe MTU budget
		SessionRetry:         3,
		FairnessPerTick:      8,
		Prefetch:             64,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithConnectTimeout(d time.Duration) Option {
	return func(o *Options) { o.ConnectTimeout = d }
}

func WithPublicationTimeout(d time.Duration) Option {
	return func(o *Options) { o.PublicationTimeout = d }
}

func WithBackpressureTimeout(d time.Duration) Option {
	return func(o *Options) { o.BackpressureTimeout = d }
}

func WithImageLivenessTimeout(d time.Duration) Option {
	return func(o *Options) { o.ImageLivenessTimeout = d }
}

func WithSendQueueCapacity(n int) Option {
	return func(o *Options) { o.SendQueueCapacity = n }
}

func WithFragmentLimit(n int) Option {
	return func(o *Options) { o.FragmentLimit = n }
}

func WithMTULength(n int) Option {
	return func(o *Options) { o.MTULength = n }
}

func WithSessionRetry(n int) Option {
	return func(o *Options) { o.SessionRetry = n }
}

func WithPrefetch(n int) Option {
	return func(o *Options) { o.Prefetch = n }
}

func WithHandler(h Handler) Option {
	return func(o *Options) { o.Handler = h }
}
