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

package telemetry

import (
	"context"
	"sync"

	"github.com/caiflower/httpcore/pkg/env"
	golocalv1 "github.com/caiflower/httpcore/pkg/golocal/v1"
	"github.com/caiflower/httpcore/pkg/logger"
	"github.com/caiflower/httpcore/protocol"
	"github.com/caiflower/httpcore/protocol/http1"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/caiflower/httpcore/protocol/http1"

type Option func(*TracingListener)

func WithTracer(tracer trace.Tracer) Option {
	return func(l *TracingListener) {
		l.tracer = tracer
	}
}

// WithSpanKind marks spans as server or client side.
func WithSpanKind(kind trace.SpanKind) Option {
	return func(l *TracingListener) {
		l.kind = kind
	}
}

func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(l *TracingListener) {
		l.attrs = append(l.attrs, attrs...)
	}
}

// TracingListener opens one span per exchange when its request head passes
// and ends it when the exchange completes or the connection fails.
type TracingListener struct {
	tracer trace.Tracer
	kind   trace.SpanKind
	attrs  []attribute.KeyValue

	mu    sync.Mutex
	spans map[string][]trace.Span
}

var (
	_ http1.ConnectionListener = (*TracingListener)(nil)
	_ http1.StreamListener     = (*TracingListener)(nil)
)

func NewTracingListener(opts ...Option) *TracingListener {
	l := &TracingListener{
		kind:  trace.SpanKindServer,
		spans: make(map[string][]trace.Span),
		attrs: []attribute.KeyValue{attribute.String("host.ip", env.GetLocalHostIP())},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.tracer == nil {
		l.tracer = otel.Tracer(tracerName)
	}
	return l
}

func (l *TracingListener) OnConnect(http1.ConnInfo) {}

func (l *TracingListener) OnDisconnect(c http1.ConnInfo) {
	for _, span := range l.take(c.ID()) {
		span.SetStatus(codes.Error, protocol.ErrConnectionClosed.Error())
		span.End()
	}
}

func (l *TracingListener) OnError(c http1.ConnInfo, err error) {
	for _, span := range l.take(c.ID()) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
	}
}

func (l *TracingListener) OnRequestHead(c http1.ConnInfo, req *protocol.Request) {
	_, span := l.tracer.Start(context.Background(), req.Method+" "+req.Target, trace.WithSpanKind(l.kind))
	if span.IsRecording() {
		attrs := make([]attribute.KeyValue, 0, len(l.attrs)+5)
		attrs = append(attrs, l.attrs...)
		attrs = append(attrs,
			attribute.String("http.method", req.Method),
			attribute.String("http.target", req.Target),
			attribute.String("http.flavor", req.Version.String()),
			attribute.String("net.peer.addr", c.RemoteAddr().String()),
			attribute.String("http1.conn_id", c.ID()),
		)
		if id := golocalv1.GetTraceID(); id != "" {
			attrs = append(attrs, attribute.String("trace.local_id", id))
		}
		span.SetAttributes(attrs...)
	}

	l.mu.Lock()
	l.spans[c.ID()] = append(l.spans[c.ID()], span)
	l.mu.Unlock()
}

func (l *TracingListener) OnResponseHead(c http1.ConnInfo, resp *protocol.Response) {
	l.mu.Lock()
	queue := l.spans[c.ID()]
	l.mu.Unlock()
	if len(queue) == 0 {
		return
	}
	span := queue[0]
	if !resp.IsFinal() {
		span.AddEvent("interim response", trace.WithAttributes(attribute.Int("http.status_code", resp.StatusCode)))
		return
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 500 {
		span.SetStatus(codes.Error, resp.Reason)
	}
}

func (l *TracingListener) OnExchangeComplete(c http1.ConnInfo, _ *protocol.Request, _ *protocol.Response, keepAlive bool) {
	l.mu.Lock()
	queue := l.spans[c.ID()]
	if len(queue) == 0 {
		l.mu.Unlock()
		return
	}
	span := queue[0]
	if len(queue) == 1 {
		delete(l.spans, c.ID())
	} else {
		l.spans[c.ID()] = queue[1:]
	}
	l.mu.Unlock()

	span.SetAttributes(attribute.Bool("http1.keep_alive", keepAlive))
	span.End()
	logger.Trace("span %s ended", span.SpanContext().SpanID())
}

func (l *TracingListener) take(id string) []trace.Span {
	l.mu.Lock()
	defer l.mu.Unlock()
	spans := l.spans[id]
	delete(l.spans, id)
	return spans
}
