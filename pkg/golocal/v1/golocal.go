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

package v1

import (
	"sync"

	"github.com/modern-go/gls"
)

const (
	TraceID  = "X-Trace-ID"
	ConnID   = "X-Conn-ID"
	Sequence = "X-Exchange-Seq"
)

// goroutine id -> *sync.Map
var localMap sync.Map

func local(create bool) *sync.Map {
	goID := gls.GoID()
	if v, ok := localMap.Load(goID); ok {
		return v.(*sync.Map)
	}
	if !create {
		return nil
	}
	m := &sync.Map{}
	localMap.Store(goID, m)
	return m
}

func Put(key string, value interface{}) {
	local(true).Store(key, value)
}

func Get(key string) interface{} {
	m := local(false)
	if m == nil {
		return nil
	}
	v, _ := m.Load(key)
	return v
}

func PutTraceID(value string) {
	Put(TraceID, value)
}

// GetTraceID returns the trace id bound to the calling goroutine, or "" if none.
func GetTraceID() string {
	if v, ok := Get(TraceID).(string); ok {
		return v
	}
	return ""
}

func PutConnID(value string) {
	Put(ConnID, value)
}

func GetConnID() string {
	if v, ok := Get(ConnID).(string); ok {
		return v
	}
	return ""
}

// Clean must be deferred by every goroutine that called Put, otherwise the
// entry outlives the goroutine.
func Clean() {
	localMap.Delete(gls.GoID())
}
