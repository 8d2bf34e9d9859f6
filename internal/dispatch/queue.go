package dispatch

import (
	"context"
	"sync"

	"github.com/remotectl/remotectl/internal/protocol"
)

// pendingWindow bounds the number of in-flight commands per connection.
// A full window blocks the connection's read loop, which is the intended
// backpressure: a peer flooding commands stalls only itself.
const pendingWindow = 64

// Queue runs each command's dispatch as its own task while emitting
// results in submission order. Controllers that omit correlation ids rely
// on strict FIFO within a connection, so ordering is preserved even when
// a later command finishes first.
//
// Closing the queue cancels all in-flight tasks without waiting for
// capability calls to return.
type Queue struct {
	ctx    context.Context
	cancel context.CancelFunc
	slots  chan chan protocol.Result
	send   func(protocol.Result)
	wg     sync.WaitGroup
}

// NewQueue starts a queue whose results are delivered, in order, to send.
// The send func is only ever called from a single goroutine.
func NewQueue(parent context.Context, send func(protocol.Result)) *Queue {
	ctx, cancel := context.WithCancel(parent)
	q := &Queue{
		ctx:    ctx,
		cancel: cancel,
		slots:  make(chan chan protocol.Result, pendingWindow),
		send:   send,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Submit schedules fn as an independent dispatch task. Its result is sent
// after the results of all previously submitted tasks. Submissions after
// Close are dropped.
func (q *Queue) Submit(fn func(context.Context) protocol.Result) {
	slot := make(chan protocol.Result, 1)
	select {
	case q.slots <- slot:
	case <-q.ctx.Done():
		return
	}
	go func() {
		slot <- fn(q.ctx)
	}()
}

// Close cancels in-flight tasks and stops the result writer. Safe to call
// more than once.
func (q *Queue) Close() {
	q.cancel()
	q.wg.Wait()
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case slot := <-q.slots:
			select {
			case res := <-slot:
				q.send(res)
			case <-q.ctx.Done():
				return
			}
		case <-q.ctx.Done():
			return
		}
	}
}
