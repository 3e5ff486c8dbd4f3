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

package limiter

import (
	"sync/atomic"
	"time"
)

// ConcurrentLimiter bounds how many tokens are held at the same time.
type ConcurrentLimiter struct {
	slots chan struct{}
	held  int64
}

func NewConcurrentLimiter(concurrent int) *ConcurrentLimiter {
	if concurrent <= 0 {
		panic("[limiter] concurrent must be positive. ")
	}
	return &ConcurrentLimiter{slots: make(chan struct{}, concurrent)}
}

func (l *ConcurrentLimiter) TakeToken() {
	l.slots <- struct{}{}
	atomic.AddInt64(&l.held, 1)
}

func (l *ConcurrentLimiter) TakeTokenNonBlocking() bool {
	select {
	case l.slots <- struct{}{}:
		atomic.AddInt64(&l.held, 1)
		return true
	default:
		return false
	}
}

func (l *ConcurrentLimiter) TakeTokenWithTimeout(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case l.slots <- struct{}{}:
		atomic.AddInt64(&l.held, 1)
		return true
	case <-timer.C:
		return false
	}
}

// ReleaseToken returns a token. Releasing more than was taken panics.
func (l *ConcurrentLimiter) ReleaseToken() {
	if atomic.AddInt64(&l.held, -1) < 0 {
		panic("[limiter] release without take. ")
	}
	<-l.slots
}

func (l *ConcurrentLimiter) Held() int {
	return int(atomic.LoadInt64(&l.held))
}

func (l *ConcurrentLimiter) Cap() int {
	return cap(l.slots)
}
