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

package main

import (
	"bytes"
	"context"
	"net/http"

	"github.com/caiflower/httpcore/monitor"
	"github.com/caiflower/httpcore/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

type handler struct {
	gatherer prometheus.Gatherer
	conns    *monitor.Registry
}

func (h *handler) Handle(_ context.Context, req *protocol.Request) (*protocol.Response, error) {
	switch req.Target {
	case "/metrics":
		return h.metrics()
	case "/connections":
		b, err := h.conns.DumpJSON()
		if err != nil {
			return nil, err
		}
		return content("application/json", b), nil
	}

	resp := protocol.NewResponse(http.StatusOK)
	if ent := req.Entity(); ent != nil {
		if ct, ok := req.Headers().Get("Content-Type"); ok {
			_ = resp.Headers().Set("Content-Type", ct)
		}
		resp.SetEntity(protocol.NewEntity(ent.Body, ent.ContentLength))
		return resp, nil
	}
	return content("text/plain", []byte(req.Method+" "+req.Target+"\n")), nil
}

func (h *handler) metrics() (*protocol.Response, error) {
	mfs, err := h.gatherer.Gather()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range mfs {
		if err = enc.Encode(mf); err != nil {
			return nil, err
		}
	}
	return content(string(expfmt.FmtText), buf.Bytes()), nil
}

func content(contentType string, b []byte) *protocol.Response {
	resp := protocol.NewResponse(http.StatusOK)
	_ = resp.Headers().Set("Content-Type", contentType)
	resp.SetEntity(protocol.NewEntity(bytes.NewReader(b), int64(len(b))))
	return resp
}
