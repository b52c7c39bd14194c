package pastry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Executor runs tasks one at a time. Everything a Router owns is touched
// only from tasks of its executor.
type Executor interface {
	// Post queues fn to run after the tasks already queued.
	Post(fn func())
	// AfterFunc queues fn once d has elapsed. The returned cancel reports
	// whether it stopped fn from running; after fn ran it returns false.
	AfterFunc(d time.Duration, fn func()) (cancel func() bool)
	// Now is the executor's notion of the current time.
	Now() time.Time
}

// EventLoop is an Executor backed by one goroutine.
type EventLoop struct {
	clock clock.Clock

	mu     sync.Mutex
	queue  []func()
	notify chan struct{}

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ Executor = (*EventLoop)(nil)

// NewEventLoop returns a stopped loop reading time from c.
func NewEventLoop(c clock.Clock) *EventLoop {
	if c == nil {
		c = clock.New()
	}
	return &EventLoop{
		clock:  c,
		notify: make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
}

// Start launches the loop goroutine.
func (l *EventLoop) Start() {
	l.wg.Add(1)
	go l.loop()
}

// Stop ends the loop. Queued tasks that have not started are dropped.
func (l *EventLoop) Stop() {
	l.stopOnce.Do(func() { close(l.quit) })
	l.wg.Wait()
}

func (l *EventLoop) loop() {
	defer l.wg.Done()
	for {
		select {
		case <-l.quit:
			return
		case <-l.notify:
		}
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			select {
			case <-l.quit:
				return
			default:
			}
			fn()
		}
	}
}

// Post implements Executor. It never blocks.
func (l *EventLoop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// AfterFunc implements Executor.
func (l *EventLoop) AfterFunc(d time.Duration, fn func()) func() bool {
	var done int32
	t := l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if atomic.CompareAndSwapInt32(&done, 0, 1) {
				fn()
			}
		})
	})
	return func() bool {
		t.Stop()
		return atomic.CompareAndSwapInt32(&done, 0, 1)
	}
}

// Now implements Executor.
func (l *EventLoop) Now() time.Time { return l.clock.Now() }

// Sync runs fn on the loop and waits for it. It must not be called from a
// task of the same loop.
func (l *EventLoop) Sync(fn func()) bool {
	done := make(chan struct{})
	l.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
		return true
	case <-l.quit:
		return false
	}
}
