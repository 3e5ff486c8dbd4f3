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

package processor

import (
	"net"
	"sort"

	"github.com/caiflower/httpcore/protocol"
)

// Context is what interceptors know about the connection a message travels
// on. Request is set while a response is processed.
type Context struct {
	LocalAddr  net.Addr
	RemoteAddr net.Addr
	TargetHost string
	Secure     bool
	Request    *protocol.Request
}

type RequestInterceptor interface {
	ProcessRequest(req *protocol.Request, ctx *Context) error
}

type ResponseInterceptor interface {
	ProcessResponse(resp *protocol.Response, ctx *Context) error
}

// Processor is invoked once for every outgoing and every incoming message,
// before the head is written or after it was parsed.
type Processor interface {
	RequestInterceptor
	ResponseInterceptor
}

// Item is an interceptor with its position in the chain. Interceptor must
// implement RequestInterceptor, ResponseInterceptor or both.
type Item struct {
	Interceptor interface{}
	Order       int
}

type ItemSort []Item

func (itemList ItemSort) Len() int {
	return len([]Item(itemList))
}

func (itemList ItemSort) Less(i, j int) bool {
	return itemList[i].Order < itemList[j].Order
}

func (itemList ItemSort) Swap(i, j int) {
	itemList[i], itemList[j] = itemList[j], itemList[i]
}

// Chain runs interceptors in ascending order and stops at the first error.
type Chain struct {
	items ItemSort
}

func NewChain(items ...Item) *Chain {
	c := &Chain{}
	for _, item := range items {
		c.Add(item.Interceptor, item.Order)
	}
	return c
}

func (c *Chain) Add(interceptor interface{}, order int) *Chain {
	c.items = append(c.items, Item{Interceptor: interceptor, Order: order})
	sort.Stable(c.items)
	return c
}

func (c *Chain) Len() int {
	return len(c.items)
}

func (c *Chain) ProcessRequest(req *protocol.Request, ctx *Context) error {
	for _, v := range c.items {
		if i, ok := v.Interceptor.(RequestInterceptor); ok {
			if err := i.ProcessRequest(req, ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Chain) ProcessResponse(resp *protocol.Response, ctx *Context) error {
	for _, v := range c.items {
		if i, ok := v.Interceptor.(ResponseInterceptor); ok {
			if err := i.ProcessResponse(resp, ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Nop leaves messages untouched.
var Nop Processor = NewChain()

// NewClient is the chain for outgoing requests.
func NewClient(userAgent string) *Chain {
	return NewChain(
		Item{Interceptor: RequestContent{}, Order: 10},
		Item{Interceptor: RequestTargetHost{}, Order: 20},
		Item{Interceptor: RequestUserAgent{Agent: userAgent}, Order: 30},
	)
}

// NewServer is the chain for outgoing responses.
func NewServer(serverName string) *Chain {
	return NewChain(
		Item{Interceptor: ResponseDate{}, Order: 10},
		Item{Interceptor: ResponseServer{Name: serverName}, Order: 20},
		Item{Interceptor: ResponseContent{}, Order: 30},
		Item{Interceptor: ResponseConnControl{}, Order: 40},
	)
}
