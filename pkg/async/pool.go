package async

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"
)

// Task is one unit of background work.
type Task func(context.Context) error

// WorkerPool runs tasks on a fixed set of workers. Each task gets its own
// timeout and panic recovery, so a misbehaving task never takes a worker
// down with it.
type WorkerPool struct {
	name    string
	timeout time.Duration

	tasks chan Task
	done  chan struct{}
	errs  chan error

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewWorkerPool starts workers goroutines pulling from a buffered queue.
// The name only appears in log lines.
func NewWorkerPool(ctx context.Context, workers int, name string, timeout time.Duration) *WorkerPool {
	ctx, cancel := context.WithCancel(ctx)

	p := &WorkerPool{
		name:    name,
		timeout: timeout,
		tasks:   make(chan Task, workers*2),
		done:    make(chan struct{}),
		errs:    make(chan error, workers*10),
		ctx:     ctx,
		cancel:  cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.run()
			}()
		}
		wg.Wait()
		close(p.done)
	}()

	return p
}

// Submit queues a task. It returns an error once the pool has shut down.
func (p *WorkerPool) Submit(task Task) error {
	select {
	case <-p.done:
		return fmt.Errorf("worker pool %q shut down", p.name)
	default:
	}

	// Shutdown can close the queue between the check above and the send,
	// so a send on a closed channel is survivable here.
	defer func() {
		recover()
	}()

	select {
	case p.tasks <- task:
		return nil
	case <-p.done:
		return fmt.Errorf("worker pool %q shut down", p.name)
	}
}

// Shutdown stops accepting tasks and waits up to timeout for the workers
// to drain the queue. Safe to call more than once.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var err error
	p.once.Do(func() {
		close(p.tasks)
		select {
		case <-p.done:
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool %q shutdown timed out after %v", p.name, timeout)
		}
		p.cancel()
	})
	return err
}

// Errors returns the channel task errors land on. The channel is buffered,
// when it fills further errors are logged and dropped.
func (p *WorkerPool) Errors() <-chan error {
	return p.errs
}

func (p *WorkerPool) run() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.execute(task)
		}
	}
}

func (p *WorkerPool) execute(task Task) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[async] panic in %s task: %v\n%s", p.name, r, debug.Stack())
			p.report(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := task(ctx); err != nil {
		p.report(err)
	}
}

func (p *WorkerPool) report(err error) {
	select {
	case p.errs <- err:
	default:
		log.Printf("[async] %s error channel full, dropping: %v", p.name, err)
	}
}
