package ai

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type job struct {
	ctx    context.Context
	prompt string
	done   chan result
}

type result struct {
	text string
	err  error
}

// Dispatcher runs backend calls on a fixed pool of workers and bounds each call with a timeout.
// A nil backend turns every call into ErrBackendAbsent.
type Dispatcher struct {
	backend Backend
	timeout time.Duration
	jobs    chan job
	wg      sync.WaitGroup
	once    sync.Once
	quit    chan struct{}
}

func NewDispatcher(backend Backend, workers int, timeout time.Duration) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	d := &Dispatcher{
		backend: backend,
		timeout: timeout,
		jobs:    make(chan job),
		quit:    make(chan struct{}),
	}
	if backend == nil {
		return d
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		case j := <-d.jobs:
			text, err := d.backend.Generate(j.ctx, j.prompt)
			// done is buffered so an abandoned caller never blocks the worker.
			j.done <- result{text: text, err: err}
		}
	}
}

// Generate queues the prompt and waits for a worker, the timeout or ctx, whichever comes first.
func (d *Dispatcher) Generate(ctx context.Context, prompt string) (string, error) {
	if d == nil || d.backend == nil {
		return "", ErrBackendAbsent
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	j := job{ctx: ctx, prompt: prompt, done: make(chan result, 1)}
	select {
	case d.jobs <- j:
	case <-ctx.Done():
		return "", errors.Wrap(ErrTimeout, "waiting for a free worker")
	case <-d.quit:
		return "", errors.Wrap(ErrBackendUnavailable, "dispatcher closed")
	}

	select {
	case r := <-j.done:
		if r.err != nil && ctx.Err() != nil {
			return "", errors.Wrap(ErrTimeout, r.err.Error())
		}
		return r.text, r.err
	case <-ctx.Done():
		return "", errors.Wrapf(ErrTimeout, "no answer within %s", d.timeout)
	}
}

// Close stops the workers. Calls in flight finish on their own.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		close(d.quit)
		d.wg.Wait()
	})
}
