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

package task

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/mhimgr/mhixact/mhiutil"
)

// A single job that runs in the queue's loop.
type job struct {
	name string
	fn   func(ctx context.Context) error
	ch   chan error
}

// Runs device bring-up and recovery jobs one at a time.  Each job receives
// a context that is cancelled when the queue stops, so a job blocked on the
// device does not hold up shutdown.
type TaskQueue struct {
	name   string
	jobCh  chan job
	stopCh chan struct{}
	cancel context.CancelFunc
	active bool
	mtx    sync.Mutex
	wg     sync.WaitGroup

	// Kept separate from mtx: Enqueue may block on a full queue while
	// holding mtx.
	runMtx  sync.Mutex
	running string
}

func NewTaskQueue(name string) *TaskQueue {
	return &TaskQueue{
		name: name,
	}
}

var InactiveError = fmt.Errorf("inactive task queue")

// Pushes the specified job onto the queue.  When the job completes, the
// result is sent over the returned channel.
func (q *TaskQueue) Enqueue(name string,
	fn func(ctx context.Context) error) chan error {

	q.mtx.Lock()
	defer q.mtx.Unlock()

	j := job{
		name: name,
		fn:   fn,
		ch:   make(chan error, 1),
	}

	if !q.active {
		j.ch <- InactiveError
		close(j.ch)
	} else {
		q.jobCh <- j
	}

	return j.ch
}

// Enqueues the specified job and waits for it to complete.
func (q *TaskQueue) Run(name string, fn func(ctx context.Context) error) error {
	return <-q.Enqueue(name, fn)
}

func (q *TaskQueue) setRunning(name string) {
	q.runMtx.Lock()
	defer q.runMtx.Unlock()

	q.running = name
}

// Starts the queue.  A queue must be started before jobs can be enqueued to
// it.
func (q *TaskQueue) Start(depth int) error {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	if q.active {
		return fmt.Errorf("task queue started twice \"%s\"", q.name)
	}
	q.active = true

	jobCh := make(chan job, depth)
	q.jobCh = jobCh

	stopCh := make(chan struct{})
	q.stopCh = stopCh

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		for {
			select {
			case j, ok := <-jobCh:
				if ok {
					q.setRunning(j.name)
					log.Debugf("%s: running %s", q.name, j.name)

					err := j.fn(ctx)
					if err != nil {
						log.Debugf("%s: %s failed: %s", q.name, j.name,
							err.Error())
					}

					q.setRunning("")
					j.ch <- err
					close(j.ch)
				}

			case <-stopCh:
				return
			}
		}
	}()

	return nil
}

// Stops the queue.  Queued jobs fail with the specified error and the
// running job's context is cancelled.  Blocks until the loop returns, so
// calling this from within a job deadlocks; use StopNoWait there.
func (q *TaskQueue) Stop(cause error) error {
	if err := q.StopNoWait(cause); err != nil {
		return err
	}

	q.wg.Wait()
	return nil
}

// Like Stop, but does not wait for the running job to return.
func (q *TaskQueue) StopNoWait(cause error) error {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	if !q.active {
		return fmt.Errorf("task queue stopped twice \"%s\"", q.name)
	}

	if cause == nil {
		cause = mhiutil.NewInterruptedError(q.name + " stopped")
	}

	q.cancel()
	close(q.stopCh)

	// Fail the jobs that never ran.
	close(q.jobCh)
	for j := range q.jobCh {
		j.ch <- cause
		close(j.ch)
	}

	q.active = false

	return nil
}

func (q *TaskQueue) Active() bool {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	return q.active
}

// Name of the job in progress, or "" if the queue is idle.
func (q *TaskQueue) Running() string {
	q.runMtx.Lock()
	defer q.runMtx.Unlock()

	return q.running
}
