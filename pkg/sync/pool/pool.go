// Package pool runs tasks on a fixed number of goroutines, and lets callers
// wait for all submitted work to finish.
package pool

import (
	"context"
	"fmt"
	goSync "sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/boxsync/pkg/errors"
)

// DefaultWorkers is the default number of tasks that run at once.
const DefaultWorkers = 4

// Task is a unit of work that runs to completion.
type Task interface {
	Run() error
}

// TaskFunc adapts a function into a Task.
type TaskFunc func() error

// Run calls f.
func (f TaskFunc) Run() error {
	return f()
}

// Result is the outcome of a task.
type Result struct {
	Task Task
	Err  error
}

// Pool runs submitted tasks on a fixed number of workers. Tasks that are
// submitted while all workers are busy are queued.
type Pool struct {
	clock clockwork.Clock
	log   log.FieldLogger

	lock goSync.Mutex
	cond *goSync.Cond

	// size is the number of workers started the next time the pool is
	// (re)started.
	size     int
	queue    []Task
	running  int
	results  []Result
	draining bool
	stopping bool
	closed   bool

	workers goSync.WaitGroup
}

// New creates a Pool with `workers` workers, and starts them.
func New(workers int, clock clockwork.Clock, logger log.FieldLogger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	p := &Pool{clock: clock, log: logger, size: workers}
	p.cond = goSync.NewCond(&p.lock)
	p.start()
	return p
}

// Submit queues the task to be run. It never blocks. ErrPoolDraining is
// returned if the pool is being drained or has been closed.
func (p *Pool) Submit(task Task) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.draining || p.closed {
		return errors.ErrPoolDraining
	}

	p.queue = append(p.queue, task)
	p.cond.Signal()
	return nil
}

// Resize changes the number of workers. The change takes effect the next
// time the pool finishes draining.
func (p *Pool) Resize(workers int) {
	if workers <= 0 {
		return
	}

	p.lock.Lock()
	p.size = workers
	p.lock.Unlock()
}

// Size returns the number of workers that will run after the next drain.
func (p *Pool) Size() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.size
}

// Draining returns whether the pool is waiting for its tasks to finish.
func (p *Pool) Draining() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.draining
}

// Pending returns the number of tasks that are queued or running.
func (p *Pool) Pending() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.queue) + p.running
}

// DrainAndWait stops accepting new tasks, and waits for all queued and
// running tasks to finish. A warning is logged every time `timeout` elapses
// while waiting, but waiting continues. A non-positive timeout disables the
// warnings. If `ctx` is cancelled, DrainAndWait returns without waiting
// further, and the outstanding tasks keep running.
//
// Once all tasks have finished, the pool is restarted so that new tasks can
// be submitted, and the results of every task run since the previous drain
// are returned.
func (p *Pool) DrainAndWait(ctx context.Context, timeout time.Duration) ([]Result, error) {
	p.lock.Lock()
	if p.draining || p.closed {
		p.lock.Unlock()
		return nil, errors.ErrPoolDraining
	}
	p.draining = true
	p.lock.Unlock()

	drained := make(chan []Result, 1)
	go func() {
		drained <- p.finishDrain()
	}()

	start := p.clock.Now()
	for {
		var timeoutC <-chan time.Time
		if timeout > 0 {
			timeoutC = p.clock.After(timeout)
		}

		select {
		case results := <-drained:
			return results, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeoutC:
			p.log.WithFields(log.Fields{
				"pending": p.Pending(),
				"waited":  p.clock.Since(start).String(),
			}).Warn("Still waiting for transfers to finish")
		}
	}
}

// finishDrain blocks until all tasks have finished, and then restarts the
// workers.
func (p *Pool) finishDrain() []Result {
	p.lock.Lock()
	for len(p.queue) != 0 || p.running != 0 {
		p.cond.Wait()
	}
	results := p.results
	p.results = nil
	p.stopping = true
	p.cond.Broadcast()
	p.lock.Unlock()

	p.workers.Wait()

	p.lock.Lock()
	defer p.lock.Unlock()
	p.stopping = false
	p.draining = false
	if !p.closed {
		p.start()
	}
	return results
}

// Close stops the workers after the queued tasks finish. Tasks can't be
// submitted after the pool is closed.
func (p *Pool) Close() {
	p.lock.Lock()
	p.closed = true
	p.stopping = true
	p.cond.Broadcast()
	p.lock.Unlock()

	p.workers.Wait()
}

// start must be called with the lock held.
func (p *Pool) start() {
	for i := 0; i < p.size; i++ {
		p.workers.Add(1)
		go p.work()
	}
}

func (p *Pool) work() {
	defer p.workers.Done()

	for {
		p.lock.Lock()
		for len(p.queue) == 0 && !p.stopping {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.lock.Unlock()
			return
		}

		task := p.queue[0]
		p.queue = p.queue[1:]
		p.running++
		p.lock.Unlock()

		err := p.run(task)

		p.lock.Lock()
		p.running--
		p.results = append(p.results, Result{Task: task, Err: err})
		p.cond.Broadcast()
		p.lock.Unlock()
	}
}

func (p *Pool) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			p.log.WithError(err).WithField("task", describe(task)).Error("Task panicked")
		}
	}()

	err = task.Run()
	if err != nil {
		p.log.WithError(err).WithField("task", describe(task)).Warn("Task failed")
	} else {
		p.log.WithField("task", describe(task)).Debug("Task finished")
	}
	return err
}

func describe(task Task) string {
	if s, ok := task.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", task)
}
