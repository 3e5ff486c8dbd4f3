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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentLimiter(t *testing.T) {
	l := NewConcurrentLimiter(2)
	assert.True(t, l.TakeTokenNonBlocking())
	assert.True(t, l.TakeTokenNonBlocking())
	assert.False(t, l.TakeTokenNonBlocking())
	assert.False(t, l.TakeTokenWithTimeout(10*time.Millisecond))
	assert.Equal(t, 2, l.Held())

	l.ReleaseToken()
	assert.True(t, l.TakeTokenWithTimeout(10*time.Millisecond))
	l.ReleaseToken()
	l.ReleaseToken()
	assert.Equal(t, 0, l.Held())
	assert.Panics(t, l.ReleaseToken)
}

func TestConcurrentLimiterBoundsHolders(t *testing.T) {
	l := NewConcurrentLimiter(3)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		current int
		peak    int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.TakeToken()
			defer l.ReleaseToken()
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			current--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak, 3)
	assert.Equal(t, 0, l.Held())
}

func TestRateLimiter(t *testing.T) {
	l := NewRateLimiter(1, 2)
	assert.True(t, l.TakeTokenNonBlocking())
	assert.True(t, l.TakeTokenNonBlocking())
	assert.False(t, l.TakeTokenNonBlocking())
	assert.False(t, l.TakeTokenWithTimeout(10*time.Millisecond))

	fast := NewRateLimiter(1000, 0)
	start := time.Now()
	for i := 0; i < 5; i++ {
		fast.TakeToken()
	}
	require.Less(t, time.Since(start), time.Second)

	var _ Limiter = l
	var _ Releaser = NewConcurrentLimiter(1)
}
