/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package mhiutil

import (
	"context"
	"sync"
	"time"
)

// Blocks a variable number of waiters until Wake() is called.  Every call to
// Wake() releases all current waiters; each waiter then re-evaluates its
// condition.  A waiter registers for the next wake-up before it evaluates
// its condition, so a Wake() racing with the evaluation is never lost.
type WaitQueue struct {
	ch  chan struct{}
	mtx sync.Mutex
}

func (wq *WaitQueue) startNoLock() chan struct{} {
	if wq.ch == nil {
		wq.ch = make(chan struct{})
	}
	return wq.ch
}

func (wq *WaitQueue) next() <-chan struct{} {
	wq.mtx.Lock()
	defer wq.mtx.Unlock()

	return wq.startNoLock()
}

func (wq *WaitQueue) Wake() {
	wq.mtx.Lock()
	defer wq.mtx.Unlock()

	if wq.ch != nil {
		close(wq.ch)
		wq.ch = nil
	}
}

// Blocks until cond() reports true.  A zero timeout (or DURATION_FOREVER)
// waits indefinitely.  Returns:
//     * nil: cond() became true.
//     * *InterruptedError: ctx ended first.
//     * *XferTimeoutError: the timeout expired first.
func (wq *WaitQueue) Wait(ctx context.Context, timeout time.Duration,
	cond func() bool) error {

	if ctx == nil {
		ctx = context.Background()
	}

	var tmoCh <-chan time.Time
	if timeout > 0 && timeout != DURATION_FOREVER {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		tmoCh = timer.C
	}

	for {
		ch := wq.next()
		if cond() {
			return nil
		}

		select {
		case <-ch:
		case <-tmoCh:
			if cond() {
				return nil
			}
			return FmtXferTimeoutError("timeout after %s", timeout.String())
		case <-ctx.Done():
			return NewInterruptedError("wait interrupted: " +
				ctx.Err().Error())
		}
	}
}
