// Package eventloop implements component D: a single goroutine per loop
// that cooperatively services every publication and subscription pinned to
// it, draining a lock-free command queue for cross-thread registration
// changes and backing off when a full pass finds no work (§4.D).
package eventloop

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/reactorlink/reactorlink/internal/publication"
	"github.com/reactorlink/reactorlink/internal/subscription"
)

const (
	idleMin = 50 * time.Microsecond
	idleMax = 2 * time.Millisecond
)

type subEntry struct {
	sub           *subscription.MessageSubscription
	fragmentLimit int
}

// EventLoop owns an exclusive set of publications and subscriptions,
// polling and ticking them from a single goroutine (invariant I2 relies on
// this: no two goroutines ever call into the same subscription/publication
// concurrently).
type EventLoop struct {
	id     int
	logger *slog.Logger

	commands chan func()
	stopCh   chan struct{}
	stopped  chan struct{}

	pubs []*publication.MessagePublication
	subs []*subEntry

	tickWork atomic.Int64
}

func New(id int, logger *slog.Logger) *EventLoop {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLoop{
		id:       id,
		logger:   logger.With(slog.Int("event_loop", id)),
		commands: make(chan func(), 256),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (l *EventLoop) ID() int { return l.id }

// TickWork returns the cumulative work count of this loop since it started
// (fragments polled plus one per publication tick that found queued work),
// a cheap liveness signal surfaced through
// ResourceManager.Snapshot.
func (l *EventLoop) TickWork() int64 { return l.tickWork.Load() }

func (l *EventLoop) Start() {
	go l.run()
}

// Stop signals the loop to exit and blocks until its goroutine has
// returned.
func (l *EventLoop) Stop() {
	select {
	case <-l.stopCh:
	default:
		close(l.stopCh)
	}
	<-l.stopped
}

// AddPublication pins pub to this loop. Safe to call from any goroutine.
func (l *EventLoop) AddPublication(pub *publication.MessagePublication) {
	l.submit(func() { l.pubs = append(l.pubs, pub) })
}

// RemovePublication unpins pub, a no-op if it is not present.
func (l *EventLoop) RemovePublication(pub *publication.MessagePublication) {
	l.submit(func() {
		for i, p := range l.pubs {
			if p == pub {
				l.pubs = append(l.pubs[:i], l.pubs[i+1:]...)
				return
			}
		}
	})
}

// AddSubscription pins sub to this loop, polled at most fragmentLimit
// fragments per tick.
func (l *EventLoop) AddSubscription(sub *subscription.MessageSubscription, fragmentLimit int) {
	if fragmentLimit <= 0 {
		fragmentLimit = 8
	}
	l.submit(func() { l.subs = append(l.subs, &subEntry{sub: sub, fragmentLimit: fragmentLimit}) })
}

func (l *EventLoop) RemoveSubscription(sub *subscription.MessageSubscription) {
	l.submit(func() {
		for i, e := range l.subs {
			if e.sub == sub {
				l.subs = append(l.subs[:i], l.subs[i+1:]...)
				return
			}
		}
	})
}

// submit enqueues fn to run on the loop's own goroutine, blocking the
// caller only if the command queue is momentarily full.
func (l *EventLoop) submit(fn func()) {
	select {
	case l.commands <- fn:
	case <-l.stopCh:
	}
}

func (l *EventLoop) run() {
	defer close(l.stopped)
	idle := idleMin

	for {
		select {
		case <-l.stopCh:
			l.drainCommands()
			return
		case cmd := <-l.commands:
			cmd()
		default:
		}

		work := l.tick()
		l.tickWork.Add(int64(work))

		if work > 0 {
			idle = idleMin
			continue
		}

		select {
		case <-l.stopCh:
			return
		case cmd := <-l.commands:
			cmd()
			idle = idleMin
		case <-time.After(idle):
			idle *= 2
			if idle > idleMax {
				idle = idleMax
			}
		}
	}
}

// tick services every subscription then every publication once, returning
// the number of fragments polled this pass plus one for each publication
// whose Tick reported queued work.
func (l *EventLoop) tick() int {
	work := 0
	for _, e := range l.subs {
		work += e.sub.Poll(e.fragmentLimit)
	}
	for _, p := range l.pubs {
		if p.Tick() {
			work++
		}
	}
	return work
}

func (l *EventLoop) drainCommands() {
	for {
		select {
		case cmd := <-l.commands:
			cmd()
		default:
			return
		}
	}
}
