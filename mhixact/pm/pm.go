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

// Package pm tracks the host's view of an MHI device's power state and
// execution environment.  Both the firmware loader and the channel nodes
// consult it; only the loader and the error paths change it.
package pm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	. "mynewt.apache.org/mhimgr/mhixact/mhidefs"
	"mynewt.apache.org/mhimgr/mhixact/mhiutil"
)

var pmTransitions = map[PmState][]PmState{
	PM_STATE_DISABLE: {PM_STATE_POR},
	PM_STATE_POR: {
		PM_STATE_POR, PM_STATE_READY, PM_STATE_M0,
		PM_STATE_SYS_ERR_DETECT, PM_STATE_SHUTDOWN_PROCESS,
		PM_STATE_FW_DL_ERR, PM_STATE_LD_ERR_FATAL_DETECT,
	},
	PM_STATE_READY: {
		PM_STATE_M0, PM_STATE_SYS_ERR_DETECT, PM_STATE_SHUTDOWN_PROCESS,
		PM_STATE_FW_DL_ERR, PM_STATE_LD_ERR_FATAL_DETECT,
	},
	PM_STATE_M0: {
		PM_STATE_M0, PM_STATE_SYS_ERR_DETECT, PM_STATE_SHUTDOWN_PROCESS,
		PM_STATE_LD_ERR_FATAL_DETECT,
	},
	PM_STATE_SYS_ERR_DETECT: {
		PM_STATE_SYS_ERR_PROCESS, PM_STATE_SHUTDOWN_PROCESS,
		PM_STATE_LD_ERR_FATAL_DETECT,
	},
	PM_STATE_SYS_ERR_PROCESS: {
		PM_STATE_POR, PM_STATE_SHUTDOWN_PROCESS,
		PM_STATE_LD_ERR_FATAL_DETECT,
	},
	PM_STATE_SHUTDOWN_PROCESS: {
		PM_STATE_DISABLE, PM_STATE_SHUTDOWN_NO_ACCESS,
		PM_STATE_LD_ERR_FATAL_DETECT,
	},
	PM_STATE_FW_DL_ERR: {
		PM_STATE_FW_DL_ERR, PM_STATE_POR, PM_STATE_SYS_ERR_DETECT,
		PM_STATE_SHUTDOWN_PROCESS, PM_STATE_LD_ERR_FATAL_DETECT,
	},
	PM_STATE_SHUTDOWN_NO_ACCESS: {PM_STATE_DISABLE},
	PM_STATE_LD_ERR_FATAL_DETECT: {
		PM_STATE_LD_ERR_FATAL_DETECT, PM_STATE_DISABLE,
	},
}

func transitionAllowed(from PmState, to PmState) bool {
	for _, s := range pmTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type ErrorFn func(s PmState)

type PowerMgr struct {
	// Accessed atomically so that the panic path can read it without
	// taking the mutex.
	state int32
	ee    int32

	// Serializes transitions and protects the listener list.
	mtx   sync.Mutex
	errFn []ErrorFn

	// Woken on every state change and on every BHI interrupt.
	stateEvent mhiutil.WaitQueue
}

func NewPowerMgr() *PowerMgr {
	return &PowerMgr{
		state: int32(PM_STATE_DISABLE),
		ee:    int32(EE_MAX),
	}
}

func (pm *PowerMgr) State() PmState {
	return PmState(atomic.LoadInt32(&pm.state))
}

func (pm *PowerMgr) Ee() ExecEnv {
	return ExecEnv(atomic.LoadInt32(&pm.ee))
}

func (pm *PowerMgr) SetEe(ee ExecEnv) {
	prev := ExecEnv(atomic.SwapInt32(&pm.ee, int32(ee)))
	if prev != ee {
		log.Debugf("execution environment %s --> %s", prev, ee)
	}
	pm.stateEvent.Wake()
}

func (pm *PowerMgr) InError() bool {
	return pm.State().InError()
}

func (pm *PowerMgr) RegAccessValid() bool {
	return pm.State().RegAccessValid()
}

// Registers a function to call whenever the device enters an error state.
// The function is called without any power-manager lock held.
func (pm *PowerMgr) OnError(fn ErrorFn) {
	pm.mtx.Lock()
	defer pm.mtx.Unlock()

	pm.errFn = append(pm.errFn, fn)
}

// Attempts to move to the specified state.  Returns the state in effect
// after the attempt; the caller compares it with the requested state to
// determine whether the transition happened.
func (pm *PowerMgr) TrySetState(to PmState) PmState {
	pm.mtx.Lock()

	from := pm.State()
	if !transitionAllowed(from, to) {
		pm.mtx.Unlock()
		log.Debugf("pm transition %s --> %s not allowed", from, to)
		return from
	}

	atomic.StoreInt32(&pm.state, int32(to))
	var fns []ErrorFn
	if to.InError() && !from.InError() {
		fns = append(fns, pm.errFn...)
	}
	pm.mtx.Unlock()

	if from != to {
		log.Debugf("pm transition %s --> %s", from, to)
	}
	pm.stateEvent.Wake()

	for _, fn := range fns {
		fn(to)
	}

	return to
}

// Like TrySetState, but reports a disallowed transition as an error.
func (pm *PowerMgr) SetState(to PmState) error {
	if cur := pm.TrySetState(to); cur != to {
		return mhiutil.FmtPmStateError(
			"cannot move from pm state %s to %s", cur, to)
	}
	return nil
}

// Overwrites the state without consulting the transition table, taking any
// lock, or notifying anyone.  For use only on the panic path, where no other
// thread is running.
func (pm *PowerMgr) ForceState(s PmState) {
	atomic.StoreInt32(&pm.state, int32(s))
}

// Interrupt vector entry point: something in the BHI / BHIe status may have
// changed.
func (pm *PowerMgr) Wake() {
	pm.stateEvent.Wake()
}

// Blocks until cond reports true, the timeout expires, or ctx ends.  cond is
// re-evaluated on every state change and every interrupt.
func (pm *PowerMgr) WaitEvent(ctx context.Context, timeout time.Duration,
	cond func() bool) error {

	return pm.stateEvent.Wait(ctx, timeout, cond)
}
