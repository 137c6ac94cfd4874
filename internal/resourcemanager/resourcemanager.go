// Package resourcemanager implements component A, ResourceManager: the
// owner of the driver handle, the pool of N EventLoops publications and
// subscriptions are pinned to round-robin, the circuit breaker guarding
// driver calls, and the LRU-backed session-id collision tracker
// ClientConnector consults during its retry loop (§4.A).
package resourcemanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"

	"github.com/reactorlink/reactorlink/internal/channel"
	"github.com/reactorlink/reactorlink/internal/eventloop"
	"github.com/reactorlink/reactorlink/internal/publication"
	"github.com/reactorlink/reactorlink/internal/subscription"
	"github.com/reactorlink/reactorlink/internal/transport"
)

var errStopped = errors.New("resourcemanager: not running")

type runState int32

const (
	stateStopped runState = iota
	stateStarting
	stateRunning
	stateStopping
)

// LoopSnapshot is one event loop's read-only activity counter.
type LoopSnapshot struct {
	ID       int
	TickWork int64
}

// ResourceSnapshot is the read-only view served by introspection (§4.J/K),
// safe to build concurrently with normal operation — it never touches an
// EventLoop's command queue or a publication's send queue.
type ResourceSnapshot struct {
	DriverDir     string
	BreakerState  string
	KnownSessions int
	Loops         []LoopSnapshot
}

// cachedPublication is one entry of the publication-cache (§3): the
// construction is shared by (channel, streamId) but torn down only once
// every caller that was handed it has released its reference.
type cachedPublication struct {
	pub      *publication.MessagePublication
	remove   func()
	refcount int
}

type cachedSubscription struct {
	sub      *subscription.MessageSubscription
	remove   func()
	refcount int
}

// ResourceManager owns one transport.Driver and every publication/
// subscription created against it.
type ResourceManager struct {
	driver transport.Driver
	opts   channel.Options
	logger *slog.Logger

	loops []*eventloop.EventLoop
	next  atomic.Uint64

	breaker        *gobreaker.CircuitBreaker
	recentSessions *lru.Cache[int32, time.Time]

	// cacheMu guards pubCache/subCache, kept separate from mu (run state)
	// since construction can block on a driver call and must not hold up
	// Start/Stop/running checks.
	cacheMu  sync.Mutex
	pubCache map[string]*cachedPublication
	subCache map[string]*cachedSubscription

	mu       sync.Mutex
	state    runState
	refcount int
}

// New builds a ResourceManager with loopCount event loops, none started
// until the first Start call.
func New(driver transport.Driver, opts channel.Options, loopCount int, logger *slog.Logger) (*ResourceManager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if loopCount <= 0 {
		loopCount = 1
	}

	cache, err := lru.New[int32, time.Time](4096)
	if err != nil {
		return nil, fmt.Errorf("resourcemanager: building session cache: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "reactorlink-driver",
		MaxRequests: 4,
		Interval:    30 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("resourcemanager: breaker state change",
				slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})

	loops := make([]*eventloop.EventLoop, loopCount)
	for i := range loops {
		loops[i] = eventloop.New(i, logger)
	}

	return &ResourceManager{
		driver:         driver,
		opts:           opts,
		logger:         logger,
		loops:          loops,
		breaker:        breaker,
		recentSessions: cache,
		pubCache:       make(map[string]*cachedPublication),
		subCache:       make(map[string]*cachedSubscription),
	}, nil
}

// resourceCacheKey identifies a publication or subscription by the pair
// §4.A's idempotency contract names: channel and streamId.
func resourceCacheKey(channelURI string, streamID int32) string {
	return fmt.Sprintf("%s|%d", channelURI, streamID)
}

// Start is refcounted: the first call actually starts every event loop,
// and a matching Stop is required per Start before they actually shut
// down (stopped -> starting -> running, then running -> stopping ->
// stopped on the last Stop).
func (r *ResourceManager) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refcount++
	if r.refcount > 1 {
		return nil
	}

	r.state = stateStarting
	for _, l := range r.loops {
		l.Start()
	}
	r.state = stateRunning
	return nil
}

func (r *ResourceManager) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refcount == 0 {
		return nil
	}
	r.refcount--
	if r.refcount > 0 {
		return nil
	}

	r.state = stateStopping
	for _, l := range r.loops {
		l.Stop()
	}
	err := r.driver.Close()
	r.state = stateStopped
	return err
}

func (r *ResourceManager) running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateRunning
}

func (r *ResourceManager) nextLoop() *eventloop.EventLoop {
	i := r.next.Add(1) - 1
	return r.loops[i%uint64(len(r.loops))]
}

// CreatePublication is idempotent by (channel, streamId) (§4.A): a second
// call for a key already live returns the same MessagePublication instead
// of opening another one against the driver. The first call for a key
// goes through the circuit breaker and pins the result to the next event
// loop in round-robin order. Each returned func releases this caller's
// reference; the underlying publication is only unregistered from its
// loop once every reference has been released (call Dispose on it to
// close it outright).
func (r *ResourceManager) CreatePublication(ctx context.Context, channelURI string, streamID int32, exclusive bool) (*publication.MessagePublication, func(), error) {
	if !r.running() {
		return nil, nil, errStopped
	}

	key := resourceCacheKey(channelURI, streamID)

	r.cacheMu.Lock()
	if cached, ok := r.pubCache[key]; ok {
		cached.refcount++
		r.cacheMu.Unlock()
		return cached.pub, func() { r.releasePublication(key) }, nil
	}
	r.cacheMu.Unlock()

	v, err := r.breaker.Execute(func() (interface{}, error) {
		if exclusive {
			return r.driver.AddExclusivePublication(ctx, channelURI, streamID)
		}
		return r.driver.AddPublication(ctx, channelURI, streamID)
	})
	if err != nil {
		return nil, nil, err
	}

	drvPub := v.(transport.Publication)
	pub := publication.New(drvPub, r.opts, r.logger)
	loop := r.nextLoop()
	loop.AddPublication(pub)

	r.cacheMu.Lock()
	if cached, ok := r.pubCache[key]; ok {
		// Another caller raced us and won; drop the duplicate we just built.
		cached.refcount++
		r.cacheMu.Unlock()
		loop.RemovePublication(pub)
		_ = pub.Dispose(nil)
		return cached.pub, func() { r.releasePublication(key) }, nil
	}
	r.pubCache[key] = &cachedPublication{pub: pub, remove: func() { loop.RemovePublication(pub) }, refcount: 1}
	r.cacheMu.Unlock()

	return pub, func() { r.releasePublication(key) }, nil
}

func (r *ResourceManager) releasePublication(key string) {
	r.cacheMu.Lock()
	cached, ok := r.pubCache[key]
	if !ok {
		r.cacheMu.Unlock()
		return
	}
	cached.refcount--
	if cached.refcount > 0 {
		r.cacheMu.Unlock()
		return
	}
	delete(r.pubCache, key)
	r.cacheMu.Unlock()
	cached.remove()
}

// CreateSubscription is idempotent by (channel, streamId), the same as
// CreatePublication: a repeat call against a live key returns the existing
// MessageSubscription rather than registering a second one on the driver.
func (r *ResourceManager) CreateSubscription(ctx context.Context, channelURI string, streamID int32, deliver subscription.PayloadHandler, onAvailable, onUnavailable transport.ImageHandler) (*subscription.MessageSubscription, func(), error) {
	if !r.running() {
		return nil, nil, errStopped
	}

	key := resourceCacheKey(channelURI, streamID)

	r.cacheMu.Lock()
	if cached, ok := r.subCache[key]; ok {
		cached.refcount++
		r.cacheMu.Unlock()
		return cached.sub, func() { r.releaseSubscription(key) }, nil
	}
	r.cacheMu.Unlock()

	v, err := r.breaker.Execute(func() (interface{}, error) {
		return r.driver.AddSubscription(ctx, channelURI, streamID, r.opts.ImageLivenessTimeout, onAvailable, onUnavailable)
	})
	if err != nil {
		return nil, nil, err
	}

	drvSub := v.(transport.Subscription)
	sub := subscription.New(drvSub, deliver, r.logger)
	loop := r.nextLoop()
	loop.AddSubscription(sub, r.opts.FragmentLimit)

	r.cacheMu.Lock()
	if cached, ok := r.subCache[key]; ok {
		cached.refcount++
		r.cacheMu.Unlock()
		loop.RemoveSubscription(sub)
		_ = sub.Close()
		return cached.sub, func() { r.releaseSubscription(key) }, nil
	}
	r.subCache[key] = &cachedSubscription{sub: sub, remove: func() { loop.RemoveSubscription(sub) }, refcount: 1}
	r.cacheMu.Unlock()

	return sub, func() { r.releaseSubscription(key) }, nil
}

func (r *ResourceManager) releaseSubscription(key string) {
	r.cacheMu.Lock()
	cached, ok := r.subCache[key]
	if !ok {
		r.cacheMu.Unlock()
		return
	}
	cached.refcount--
	if cached.refcount > 0 {
		r.cacheMu.Unlock()
		return
	}
	delete(r.subCache, key)
	r.cacheMu.Unlock()
	cached.remove()
}

// ClaimSessionID records sessionID as in use and reports false if it was
// already claimed recently — the collision-avoidance check ClientConnector
// runs before each connect attempt (§4.F, §9 resolved Open Question).
func (r *ResourceManager) ClaimSessionID(sessionID int32) bool {
	if r.recentSessions.Contains(sessionID) {
		return false
	}
	r.recentSessions.Add(sessionID, time.Now())
	return true
}

// ReleaseSessionID lets sessionID be reclaimed immediately, used when a
// speculative claim is abandoned without ever reaching the wire (e.g. URI
// construction failed before the driver call).
func (r *ResourceManager) ReleaseSessionID(sessionID int32) {
	r.recentSessions.Remove(sessionID)
}

// FreshSessionID draws a random, not-recently-claimed session id, used by
// ClientConnector's retry loop after a SESSION_COLLISION.
func (r *ResourceManager) FreshSessionID() int32 {
	for {
		id := rand.Int32N(1<<31 - 1)
		if id == 0 {
			continue
		}
		if r.ClaimSessionID(id) {
			return id
		}
	}
}

func (r *ResourceManager) Snapshot() ResourceSnapshot {
	loops := make([]LoopSnapshot, len(r.loops))
	for i, l := range r.loops {
		loops[i] = LoopSnapshot{ID: l.ID(), TickWork: l.TickWork()}
	}
	return ResourceSnapshot{
		DriverDir:     r.driver.Dir(),
		BreakerState:  r.breaker.State().String(),
		KnownSessions: r.recentSessions.Len(),
		Loops:         loops,
	}
}
