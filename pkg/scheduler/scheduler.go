package scheduler

import (
	"context"
	"fmt"
	"sync"
)

// Work is a unit of work run by the scheduler.
type Work[T any] func(ctx context.Context) (T, error)

type Result[T any] struct {
	Data T
	Err  error
}

// Future holds the eventual result of a Work.
type Future[T any] struct {
	c      chan Result[T]
	cancel context.CancelFunc
}

// C returns the channel receiving the result. It delivers exactly one value.
func (f *Future[T]) C() <-chan Result[T] {
	return f.c
}

// Stop cancels the context passed to the work.
func (f *Future[T]) Stop() {
	f.cancel()
}

type workRequest struct {
	fn     Work[any]
	c      chan Result[any]
	ctx    context.Context
	cancel context.CancelFunc
}

// queue is a FIFO of pending requests.
type queue []workRequest

func (q *queue) Len() int { return len(*q) }

func (q *queue) Push(r workRequest) { *q = append(*q, r) }

func (q *queue) Pop() workRequest {
	old := *q
	r := old[0]
	*q = old[1:]
	return r
}

// Scheduler runs work on a fixed number of workers. Work added while all
// workers are busy waits in a FIFO queue.
type Scheduler struct {
	idle       int
	pending    queue
	work       chan workRequest
	done       chan struct{}
	closed     chan struct{}
	stopped    chan struct{}
	inflight   sync.WaitGroup
	closeOnce  sync.Once
	mainCtx    context.Context
	mainCancel context.CancelFunc
}

func NewScheduler(nbWorkers int) *Scheduler {
	if nbWorkers < 1 {
		nbWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		idle:       nbWorkers,
		work:       make(chan workRequest),
		done:       make(chan struct{}),
		closed:     make(chan struct{}),
		stopped:    make(chan struct{}),
		mainCtx:    ctx,
		mainCancel: cancel,
	}
	go s.run()
	return s
}

// AddWork queues w. After Close the returned future resolves immediately
// with context.Canceled.
func (s *Scheduler) AddWork(w Work[any]) *Future[any] {
	c := make(chan Result[any], 1)
	ctx, cancel := context.WithCancel(s.mainCtx)
	f := &Future[any]{c: c, cancel: cancel}

	select {
	case <-s.closed:
		cancel()
		c <- Result[any]{Err: context.Canceled}
		return f
	default:
	}

	select {
	case s.work <- workRequest{fn: w, c: c, ctx: ctx, cancel: cancel}:
	case <-s.closed:
		cancel()
		c <- Result[any]{Err: context.Canceled}
	}
	return f
}

// Close cancels all work, drops queued requests and waits for running
// workers to return.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		s.mainCancel()
		close(s.closed)
		<-s.stopped
		s.inflight.Wait()
	})
}

func (s *Scheduler) run() {
	defer close(s.stopped)
	for {
		select {
		case w := <-s.work:
			s.pending.Push(w)
		case <-s.done:
			s.idle++
		case <-s.closed:
			for s.pending.Len() > 0 {
				r := s.pending.Pop()
				r.cancel()
				r.c <- Result[any]{Err: context.Canceled}
			}
			return
		}

		for s.idle > 0 && s.pending.Len() > 0 {
			s.idle--
			s.dispatch(s.pending.Pop())
		}
	}
}

func (s *Scheduler) dispatch(r workRequest) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer r.cancel()

		r.c <- call(r)

		select {
		case s.done <- struct{}{}:
		case <-s.stopped:
		}
	}()
}

func call(r workRequest) (res Result[any]) {
	defer func() {
		if p := recover(); p != nil {
			res = Result[any]{Err: fmt.Errorf("worker panicked: %v", p)}
		}
	}()
	v, err := r.fn(r.ctx)
	return Result[any]{Data: v, Err: err}
}
