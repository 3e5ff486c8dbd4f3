/*
 * Copyright 2024 caiflower Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package http1

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/caiflower/httpcore/protocol"
	"github.com/caiflower/httpcore/protocol/http1/buffer"
	"github.com/caiflower/httpcore/protocol/http1/entity"
)

var errNotClient = errors.New("http1: Execute called on a server connection")

// exchange is one client request and the head of its response.
type exchange struct {
	req   *protocol.Request
	resp  *protocol.Response
	ctx   context.Context
	state State

	once sync.Once
	done chan struct{}
	err  error
}

func newExchange(ctx context.Context, req *protocol.Request) *exchange {
	return &exchange{req: req, ctx: ctx, state: Idle, done: make(chan struct{})}
}

func (ex *exchange) finish(resp *protocol.Response, err error) {
	ex.once.Do(func() {
		ex.resp, ex.err = resp, err
		close(ex.done)
	})
}

func (ex *exchange) finished() bool {
	select {
	case <-ex.done:
		return true
	default:
		return false
	}
}

// Execute sends req and waits for the head of its final response. The body
// of the response is streamed through resp.Body and must be read to its end
// or closed. Request bodies are read by the connection without blocking when
// they are an *entity.Pipe; any other reader must not block.
//
// Requests are sent one at a time unless pipelining is enabled. A failed
// exchange returns an *ExchangeError whose RequestSent tells whether it may
// be retried.
func (d *Duplexer) Execute(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if d.role != clientRole {
		return nil, errNotClient
	}
	ex := newExchange(ctx, req)
	d.run(func() {
		if d.closed || d.noMore {
			ex.finish(nil, exchangeError("execute", Idle, notSent(protocol.ErrConnectionClosed)))
			return
		}
		d.queue = append(d.queue, ex)
	})

	select {
	case <-ex.done:
	case <-ctx.Done():
		d.run(func() {
			if ex.finished() {
				return
			}
			for i, queued := range d.queue {
				if queued == ex {
					d.queue = append(d.queue[:i], d.queue[i+1:]...)
					ex.finish(nil, exchangeError("execute", Idle, notSent(ctx.Err())))
					return
				}
			}
			// partially exchanged messages leave the connection out of sync
			d.fail(exchangeError("execute", ex.state, ctx.Err()))
		})
		<-ex.done
	}
	return ex.resp, ex.err
}

func (d *Duplexer) canSend() bool {
	if len(d.inflight) == 0 {
		return true
	}
	opts := d.cfg.options
	if !opts.Pipelining {
		return false
	}
	return opts.MaxPipelined <= 0 || len(d.inflight) < opts.MaxPipelined
}

func (d *Duplexer) writeRequests() (bool, error) {
	progress := false
	for {
		if d.sending == nil {
			if d.noMore || len(d.queue) == 0 || !d.canSend() {
				return progress, nil
			}
			ex := d.queue[0]
			d.queue = d.queue[1:]
			progress = true
			if err := ex.ctx.Err(); err != nil {
				ex.finish(nil, exchangeError("execute", Idle, notSent(err)))
				continue
			}
			if err := d.startRequest(ex); err != nil {
				ex.finish(nil, exchangeError("send request head", Idle, notSent(err)))
				continue
			}
		}

		ex := d.sending
		done, err := d.encoder.Encode()
		if err != nil {
			if buffer.IsWouldBlock(err) {
				return progress, nil
			}
			return progress, exchangeError("send request entity", RequestEntityOut, err)
		}
		if !done {
			flushed, err := d.flushOut(RequestEntityOut)
			if err != nil || !flushed {
				return progress, err
			}
			progress = true
			continue
		}

		_ = ex.req.Entity().Close()
		d.sending, d.encoder = nil, nil
		d.outState = Idle
		if ex.state == RequestEntityOut {
			ex.state = ResponseHeaderIn
		}
		progress = true
	}
}

// startRequest writes the head of ex into the output buffer. Nothing is
// buffered when it fails.
func (d *Duplexer) startRequest(ex *exchange) error {
	req := ex.req
	pctx := d.pctx
	if err := d.cfg.processor.ProcessRequest(req, &pctx); err != nil {
		return err
	}
	disc, err := d.cfg.outgoing.Determine(req, entity.Outgoing)
	if err != nil {
		return err
	}
	if err = d.reqWriter.Write(req, d.out); err != nil {
		return err
	}
	d.metrics.incrementRequests()
	d.cfg.notifier.requestHead(d, req)

	if e := req.Entity(); e != nil {
		if p, ok := e.Body.(*entity.Pipe); ok {
			p.Notify(d.wake, nil)
		}
	}
	d.encoder = entity.NewEncoder(disc, req.Entity(), d.out, d.cfg.coding, d.cfg.options.ChunkSizeHint)
	d.outState = RequestEntityOut
	ex.state = RequestEntityOut
	d.sending = ex
	d.inflight = append(d.inflight, ex)
	return nil
}

func (d *Duplexer) readResponses() (bool, error) {
	progress := false
	for {
		if d.decoder != nil {
			p, finished, err := d.pumpEntity()
			progress = progress || p
			if err != nil {
				return progress, exchangeError("receive response entity", ResponseEntityIn, err)
			}
			if finished {
				d.completeExchange(true)
				continue
			}
			if d.inPipe != nil && d.inPipe.Closed() {
				d.completeExchange(false)
				continue
			}
			return progress, nil
		}

		if len(d.inflight) == 0 {
			if d.inputEOF {
				return progress, nil
			}
			if _, err := d.in.Probe(); err != nil && !buffer.IsWouldBlock(err) {
				d.inputEOF = true
				d.noMore = true
				d.failQueued(protocol.ErrConnectionClosed)
			}
			return progress, nil
		}

		ex := d.inflight[0]
		d.inState = ResponseHeaderIn
		resp, err := d.respParser.Parse()
		if err != nil {
			if buffer.IsWouldBlock(err) {
				return progress, nil
			}
			return progress, exchangeError("receive response head", ex.state, err)
		}
		progress = true
		resp.RequestMethod = ex.req.Method
		pctx := d.pctx
		pctx.Request = ex.req
		if err = d.cfg.processor.ProcessResponse(resp, &pctx); err != nil {
			return progress, exchangeError("receive response head", ResponseHeaderIn, err)
		}
		d.cfg.notifier.responseHead(d, resp)
		if !resp.IsFinal() {
			d.inState = Idle
			continue
		}
		d.metrics.incrementResponses()

		disc := entity.NoBody
		if protocol.CanResponseHaveBody(ex.req.Method, resp.StatusCode) {
			if disc, err = d.cfg.incoming.Determine(resp, entity.Incoming); err != nil {
				return progress, exchangeError("receive response head", ResponseHeaderIn, err)
			}
		}
		ex.resp = resp
		d.decoder = entity.NewDecoder(disc, d.in, resp, d.cfg.coding, d.cfg.constraints)
		if d.decoder.Done() {
			resp.SetEntity(protocol.NewEntity(http.NoBody, 0))
			ex.finish(resp, nil)
			d.completeExchange(true)
			continue
		}
		d.inPipe = entity.NewPipe(d.cfg.options.PipeSize)
		d.inPipe.Notify(nil, d.wake)
		resp.SetEntity(incomingEntity(d.inPipe, disc))
		d.inState = ResponseEntityIn
		ex.state = ResponseEntityIn
		ex.finish(resp, nil)
	}
}

// completeExchange retires the oldest in-flight exchange. consumed is false
// when its response body was abandoned before the end.
func (d *Duplexer) completeExchange(consumed bool) {
	ex := d.inflight[0]
	d.inflight = d.inflight[1:]
	d.decoder, d.inPipe = nil, nil
	d.inState = Idle

	keep := d.cfg.reuse.KeepAlive(ex.req, ex.resp, consumed)
	d.cfg.notifier.exchangeComplete(d, ex.req, ex.resp, keep)
	if keep {
		return
	}
	d.noMore = true
	d.failQueued(protocol.ErrConnectionClosed)
	for _, rest := range d.inflight {
		rest.finish(nil, exchangeError("receive response", rest.state, protocol.ErrConnectionClosed))
	}
	d.inflight = nil
	if d.sending != nil {
		_ = d.sending.req.Entity().Close()
		d.sending, d.encoder = nil, nil
		d.outState = Idle
	}
}
