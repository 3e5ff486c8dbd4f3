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
	"fmt"
	"io"
	"net/http"

	golocalv1 "github.com/caiflower/httpcore/pkg/golocal/v1"

	"github.com/caiflower/httpcore/pkg/e"
	"github.com/caiflower/httpcore/pkg/safego"
	"github.com/caiflower/httpcore/protocol"
	"github.com/caiflower/httpcore/protocol/http1/buffer"
	"github.com/caiflower/httpcore/protocol/http1/entity"
)

// Handler produces the response to a request on a server connection. It
// runs in its own goroutine; responses are still written in request order.
// The request body must be read before Handle returns or from the body of
// the returned response. ctx is canceled when the connection closes.
type Handler interface {
	Handle(ctx context.Context, req *protocol.Request) (*protocol.Response, error)
}

type HandlerFunc func(ctx context.Context, req *protocol.Request) (*protocol.Response, error)

func (f HandlerFunc) Handle(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	return f(ctx, req)
}

// NotFoundHandler answers every request with 404.
var NotFoundHandler Handler = HandlerFunc(func(context.Context, *protocol.Request) (*protocol.Response, error) {
	return protocol.NewResponse(http.StatusNotFound), nil
})

// slot is a received request waiting for its response to be written.
type slot struct {
	req    *protocol.Request
	resp   *protocol.Response
	body   *entity.Pipe
	cancel context.CancelFunc

	expectContinue bool
	continueSent   bool
	bodyDone       bool
	closeAfter     bool
	dropped        bool
}

func (s *slot) abort(cause error) {
	s.dropped = true
	if s.cancel != nil {
		s.cancel()
	}
	if s.body != nil {
		_ = s.body.CloseWithError(cause)
	}
	if s.resp != nil {
		_ = s.resp.Entity().Close()
	}
}

func (d *Duplexer) readRequests() (bool, error) {
	progress := false
	for {
		if d.reading != nil {
			p, finished, err := d.pumpEntity()
			progress = progress || p
			if err != nil {
				return progress, exchangeError("receive request entity", RequestEntityIn, err)
			}
			if !finished {
				return progress, nil
			}
			d.reading.bodyDone = true
			d.reading, d.decoder, d.inPipe = nil, nil, nil
			d.inState = Idle
			continue
		}

		if d.noMore || d.inputEOF {
			return progress, nil
		}
		if limit := d.cfg.options.MaxPipelined; limit > 0 && len(d.slots) >= limit {
			return progress, nil
		}

		d.inState = RequestHeaderIn
		req, err := d.reqParser.Parse()
		if err != nil {
			if buffer.IsWouldBlock(err) {
				return progress, nil
			}
			d.inState = Idle
			if errors.Is(err, io.EOF) {
				d.inputEOF = true
				d.noMore = true
				return progress, nil
			}
			d.reject(err)
			return true, nil
		}
		progress = true
		d.metrics.incrementRequests()
		pctx := d.pctx
		if err = d.cfg.processor.ProcessRequest(req, &pctx); err != nil {
			d.reject(err)
			return progress, nil
		}
		d.cfg.notifier.requestHead(d, req)

		disc, err := d.cfg.incoming.Determine(req, entity.Incoming)
		if err != nil {
			d.reject(err)
			return progress, nil
		}

		s := &slot{req: req, bodyDone: true}
		if !wantsKeepAlive(req) {
			d.noMore = true
		}
		d.slots = append(d.slots, s)
		d.decoder = entity.NewDecoder(disc, d.in, req, d.cfg.coding, d.cfg.constraints)
		if d.decoder.Done() {
			d.decoder = nil
			d.inState = Idle
		} else {
			s.body = entity.NewPipe(d.cfg.options.PipeSize)
			s.body.Notify(nil, d.wake)
			s.bodyDone = false
			s.expectContinue = req.Headers().HasToken(protocol.HeaderExpect, "100-continue")
			req.SetEntity(incomingEntity(s.body, disc))
			d.inPipe = s.body
			d.reading = s
			d.inState = RequestEntityIn
		}
		d.dispatch(s)
	}
}

// wantsKeepAlive reports whether more requests may follow req.
func wantsKeepAlive(req *protocol.Request) bool {
	h := req.Headers()
	if h.HasToken(protocol.HeaderConnection, "close") {
		return false
	}
	if req.Version.LessThan(protocol.HTTP11) {
		return h.HasToken(protocol.HeaderConnection, "keep-alive")
	}
	return true
}

// reject queues an error response for a request that could not be parsed
// and stops reading. The connection closes once it is written.
func (d *Duplexer) reject(err error) {
	d.log.Warn("[%s] rejecting request from %s: %s", d.id, d.session.RemoteAddr(), err.Error())
	d.cfg.notifier.failed(d, err)

	status := http.StatusBadRequest
	if errors.Is(err, protocol.ErrMessageTooLarge) {
		status = http.StatusRequestHeaderFieldsTooLarge
	}
	resp := protocol.NewResponse(status)
	_ = resp.Headers().Set(protocol.HeaderConnection, "close")
	_ = resp.Headers().Set(protocol.HeaderContentLength, "0")
	d.slots = append(d.slots, &slot{resp: resp, bodyDone: true, closeAfter: true})
	d.noMore = true
	d.inputEOF = true
}

func (d *Duplexer) dispatch(s *slot) {
	ctx, cancel := context.WithCancel(d.ctx)
	s.cancel = cancel
	connID := d.id
	safego.Go(func() {
		golocalv1.PutConnID(connID)
		resp := d.serve(ctx, s.req)
		d.run(func() {
			if s.dropped || d.closed {
				_ = resp.Entity().Close()
				return
			}
			s.resp = resp
		})
	})
}

// serve calls the handler and turns failures into a 500 response.
func (d *Duplexer) serve(ctx context.Context, req *protocol.Request) (resp *protocol.Response) {
	var err error
	func() {
		defer e.OnErrorFunc(func(r interface{}) {
			err = fmt.Errorf("%w: panic: %v", ErrHandlerFailed, r)
		})
		resp, err = d.cfg.handler.Handle(ctx, req)
	}()
	if err == nil && resp == nil {
		err = fmt.Errorf("%w: no response", ErrHandlerFailed)
	}
	if err != nil {
		d.log.Error("[%s] %s %s: %s", d.id, req.Method, req.Target, err.Error())
		resp = protocol.NewResponse(http.StatusInternalServerError)
	}
	return resp
}

func (d *Duplexer) writeResponses() (bool, error) {
	progress := false
	for {
		if d.writing == nil {
			if len(d.slots) == 0 {
				return progress, nil
			}
			s := d.slots[0]
			if s.resp == nil {
				if s.expectContinue && !s.continueSent && !s.bodyDone {
					if err := d.respWriter.Write(protocol.NewResponse(http.StatusContinue), d.out); err != nil {
						return progress, exchangeError("send interim response", ResponseHeaderOut, err)
					}
					s.continueSent = true
					progress = true
				}
				return progress, nil
			}
			if err := d.startResponse(s); err != nil {
				return progress, err
			}
			progress = true
		}

		done, err := d.encoder.Encode()
		if err != nil {
			if buffer.IsWouldBlock(err) {
				return progress, nil
			}
			return progress, exchangeError("send response entity", ResponseEntityOut, err)
		}
		if !done {
			flushed, err := d.flushOut(ResponseEntityOut)
			if err != nil || !flushed {
				return progress, err
			}
			progress = true
			continue
		}
		d.completeResponse()
		progress = true
	}
}

func (d *Duplexer) startResponse(s *slot) error {
	resp := s.resp
	method := protocol.MethodGet
	if s.req != nil {
		method = s.req.Method
	}
	resp.RequestMethod = method
	pctx := d.pctx
	pctx.Request = s.req
	if err := d.cfg.processor.ProcessResponse(resp, &pctx); err != nil {
		return exchangeError("send response head", ResponseHeaderOut, err)
	}

	disc := entity.NoBody
	if protocol.CanResponseHaveBody(method, resp.StatusCode) {
		var err error
		if disc, err = d.cfg.outgoing.Determine(resp, entity.Outgoing); err != nil {
			return exchangeError("send response head", ResponseHeaderOut, err)
		}
		if disc.Kind == entity.None && resp.Entity() != nil {
			disc = entity.UntilCloseBody
		}
	} else if resp.Entity() != nil {
		_ = resp.Entity().Close()
		resp.SetEntity(nil)
	}
	if disc.Kind == entity.UntilClose {
		s.closeAfter = true
	}
	if s.expectContinue && !s.continueSent && !s.bodyDone {
		s.closeAfter = true
	}

	d.outState = ResponseHeaderOut
	if err := d.respWriter.Write(resp, d.out); err != nil {
		return exchangeError("send response head", ResponseHeaderOut, err)
	}
	if resp.IsFinal() {
		d.metrics.incrementResponses()
	}
	d.cfg.notifier.responseHead(d, resp)

	if ent := resp.Entity(); ent != nil {
		if p, ok := ent.Body.(*entity.Pipe); ok && p != s.body {
			p.Notify(d.wake, nil)
		}
	}
	d.encoder = entity.NewEncoder(disc, resp.Entity(), d.out, d.cfg.coding, d.cfg.options.ChunkSizeHint)
	d.outState = ResponseEntityOut
	d.writing = s
	return nil
}

func (d *Duplexer) completeResponse() {
	s := d.writing
	d.writing, d.encoder = nil, nil
	d.outState = Idle
	d.slots = d.slots[1:]

	_ = s.resp.Entity().Close()
	if s.body != nil {
		_ = s.body.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}

	keep := !s.closeAfter
	if keep && s.req != nil {
		keep = d.cfg.reuse.KeepAlive(s.req, s.resp, true)
	}
	if s.req != nil {
		d.cfg.notifier.exchangeComplete(d, s.req, s.resp, keep)
	}
	if keep {
		return
	}
	d.noMore = true
	d.inputEOF = true
	for _, rest := range d.slots {
		rest.abort(protocol.ErrConnectionClosed)
	}
	d.slots = nil
	d.reading, d.decoder, d.inPipe = nil, nil, nil
	d.inState = Idle
}
