// Package eventloop provides a run-to-completion task queue drained by a
// single goroutine. Everything that touches overlay or connection state runs
// as a task on one loop, so handlers never interleave and shared state needs
// no locking. Blocking work (dials, decodes) happens off the loop and posts
// a continuation back when it finishes.
package eventloop

import (
	"sync"
	"time"
)

// Loop is a single-goroutine task queue. Tasks posted from any goroutine are
// executed in order, one at a time, on the loop goroutine.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool

	done chan struct{}
}

// New starts a loop and returns it. Stop must be called to release the
// goroutine.
func New() *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		task, ok := l.next()
		if task != nil {
			task()
			continue
		}
		if !ok {
			return
		}
		<-l.wake
	}
}

// next pops the head task. The boolean is false once the loop is stopped and
// the queue fully drained.
func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) > 0 {
		task := l.queue[0]
		l.queue = l.queue[1:]
		return task, true
	}
	return nil, !l.stopped
}

// Post enqueues fn for execution on the loop goroutine. It returns false if
// the loop has been stopped, in which case fn will never run.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// PostWait runs fn on the loop goroutine and blocks until it has returned.
// Calling PostWait from a task already running on the loop would deadlock;
// tasks should call fn directly instead.
func (l *Loop) PostWait(fn func()) bool {
	ran := make(chan struct{})
	if !l.Post(func() {
		defer close(ran)
		fn()
	}) {
		return false
	}
	<-ran
	return true
}

// AfterFunc schedules fn to be posted onto the loop after d. The returned
// timer can be stopped to cancel delivery; a timer that fires after Stop is
// silently dropped.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() {
		l.Post(fn)
	})
}

// Stop prevents further posts, drains tasks already queued, and waits for
// the loop goroutine to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.stopped = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}
