package server

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/saker-ai/render-bridge/internal/dispatch"
	"github.com/saker-ai/render-bridge/pkg/protocol"
)

// job is one dispatched request waiting for the worker.
type job struct {
	ctx     context.Context
	command string
	params  json.RawMessage
	result  chan jobResult
}

type jobResult struct {
	res dispatch.Result
	err error
}

// queue feeds every request, from every connection, to a single worker in
// arrival order. The worker is the only goroutine touching the host.
type queue struct {
	jobs       chan *job
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func newQueue(dispatcher *dispatch.Dispatcher, logger *zap.Logger, depth int) *queue {
	if depth <= 0 {
		depth = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &queue{
		jobs:       make(chan *job, depth),
		dispatcher: dispatcher,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (q *queue) start() {
	q.wg.Add(1)
	go q.worker()
}

// stop waits for the in-flight job, including its settings restore, to end.
// Queued jobs are dropped; their submitters observe shutdown.
func (q *queue) stop() {
	q.cancel()
	q.wg.Wait()
}

// submit enqueues a request and waits for its result. When ctx expires first
// the caller gets Timeout while the worker still runs the job to completion.
func (q *queue) submit(ctx context.Context, command string, params json.RawMessage) (dispatch.Result, error) {
	j := &job{
		ctx:     ctx,
		command: command,
		params:  params,
		result:  make(chan jobResult, 1),
	}

	select {
	case q.jobs <- j:
	case <-ctx.Done():
		return dispatch.Result{}, protocol.Wrap(protocol.CodeTimeout, "request not started in time", ctx.Err())
	case <-q.ctx.Done():
		return dispatch.Result{}, protocol.NewError(protocol.CodeRenderFailed, "server is shutting down")
	}

	select {
	case r := <-j.result:
		return r.res, r.err
	case <-ctx.Done():
		return dispatch.Result{}, protocol.Wrap(protocol.CodeTimeout, "request did not complete in time", ctx.Err())
	case <-q.ctx.Done():
		return dispatch.Result{}, protocol.NewError(protocol.CodeRenderFailed, "server is shutting down")
	}
}

func (q *queue) worker() {
	defer q.wg.Done()
	q.logger.Debug("dispatch worker started")
	for {
		select {
		case <-q.ctx.Done():
			q.logger.Debug("dispatch worker stopped")
			return
		case j := <-q.jobs:
			res, err := q.dispatcher.Dispatch(j.ctx, j.command, j.params)
			j.result <- jobResult{res: res, err: err}
		}
	}
}
