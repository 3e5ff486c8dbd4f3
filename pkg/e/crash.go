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

package e

import (
	"fmt"
	"os"
	"runtime/debug"
	"time"
)

// OnError recovers a panic and reports it together with txt. It must be
// deferred directly.
func OnError(txt string) {
	if r := recover(); r != nil {
		report(txt, r)
	}
}

// OnErrorFunc is OnError with a callback receiving the recovered value, used
// when the caller wants the panic routed through its own logger.
func OnErrorFunc(fn func(r interface{})) {
	if r := recover(); r != nil {
		if fn == nil {
			report("", r)
			return
		}
		fn(r)
	}
}

func report(txt string, r interface{}) {
	_, _ = fmt.Fprintf(os.Stderr, "%s [ERROR] - Got a runtime error %s. %v\n%s", time.Now().Format("2006-01-02 15:04:05"), txt, r, string(debug.Stack()))
}
