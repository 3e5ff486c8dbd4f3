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

package safego

import (
	"sync"
	"testing"

	golocalv1 "github.com/caiflower/httpcore/pkg/golocal/v1"
	"github.com/stretchr/testify/assert"
)

func TestSafeGoCarriesTraceID(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer golocalv1.Clean()
		golocalv1.PutTraceID("test")
		golocalv1.PutConnID("conn-7")

		wg := &sync.WaitGroup{}
		for i := 0; i < 100; i++ {
			wg.Add(1)
			Go(func() {
				defer wg.Done()
				assert.Equal(t, "test", golocalv1.GetTraceID())
				assert.Equal(t, "conn-7", golocalv1.GetConnID())
			})
		}
		wg.Wait()
	}()
	<-done
}

func TestSafeGoRecoversPanic(t *testing.T) {
	wg := &sync.WaitGroup{}
	wg.Add(1)
	Go(func() {
		defer wg.Done()
		panic("boom")
	})
	wg.Wait()
}
