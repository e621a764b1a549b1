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

package mhisim

import (
	"fmt"
	"sync"

	"mynewt.apache.org/mhimgr/mhixact/hw"
	. "mynewt.apache.org/mhimgr/mhixact/mhidefs"
)

// A transfer the host queued on the uplink.
type Submission struct {
	Data  []byte
	Flags XferFlags
}

type heldXfer struct {
	buf    []byte
	length int
}

// A simulated uplink / downlink channel pair.
type SimChan struct {
	sp  *SimPlatform
	cfg ChanCfg

	mtx      sync.Mutex
	drv      hw.ChanDrv
	prepared bool
	ulFree   int
	dlFree   int
	dlQueue  [][]byte
	ulHeld   []heldXfer
	holdUl   bool
	subs     []Submission
	tiocm    uint32
	wakeups  int
	prepares int

	failPrepare error
	failQueue   map[Direction]int
}

func newSimChan(sp *SimPlatform, cfg ChanCfg) *SimChan {
	if cfg.RingSize <= 0 {
		cfg.RingSize = 4
	}

	return &SimChan{
		sp:        sp,
		cfg:       cfg,
		failQueue: map[Direction]int{},
	}
}

func (sc *SimChan) Name() string {
	return sc.cfg.Name
}

func (sc *SimChan) ChanId() int {
	return sc.cfg.Id
}

func (sc *SimChan) Mtu() int {
	return sc.cfg.Mtu
}

func (sc *SimChan) FreeDescriptors(dir Direction) int {
	sc.mtx.Lock()
	defer sc.mtx.Unlock()

	if !sc.prepared {
		return 0
	}
	if dir == DIR_UL {
		return sc.ulFree
	}
	return sc.dlFree
}

func (sc *SimChan) driver() hw.ChanDrv {
	sc.mtx.Lock()
	defer sc.mtx.Unlock()

	return sc.drv
}

func (sc *SimChan) QueueTransfer(dir Direction, buf []byte, length int,
	flags XferFlags) error {

	sc.mtx.Lock()

	if !sc.prepared {
		sc.mtx.Unlock()
		return hw.ErrNotConn
	}

	if n, ok := sc.failQueue[dir]; ok {
		if n <= 0 {
			sc.mtx.Unlock()
			return fmt.Errorf("%s %s: queue transfer failed", sc.cfg.Name, dir)
		}
		sc.failQueue[dir] = n - 1
	}

	if dir == DIR_DL {
		if sc.dlFree <= 0 {
			sc.mtx.Unlock()
			return fmt.Errorf("%s dl ring full", sc.cfg.Name)
		}
		sc.dlFree--
		sc.dlQueue = append(sc.dlQueue, buf[:length])
		sc.mtx.Unlock()
		return nil
	}

	if sc.ulFree <= 0 {
		sc.mtx.Unlock()
		return fmt.Errorf("%s ul ring full", sc.cfg.Name)
	}
	sc.ulFree--
	sc.subs = append(sc.subs, Submission{
		Data:  append([]byte(nil), buf[:length]...),
		Flags: flags,
	})

	if sc.holdUl {
		sc.ulHeld = append(sc.ulHeld, heldXfer{buf, length})
		sc.mtx.Unlock()
		return nil
	}
	sc.mtx.Unlock()

	sc.completeUl(buf, length)
	return nil
}

func (sc *SimChan) completeUl(buf []byte, length int) {
	if sc.sp.cfg.Loopback {
		sc.Inject(buf[:length])
	}

	sc.mtx.Lock()
	sc.ulFree++
	drv := sc.drv
	sc.mtx.Unlock()

	if drv != nil {
		drv.UlXferCb(&hw.XferResult{
			Buf:        buf,
			BytesXferd: length,
		})
	}
}

// Delivers data on the downlink, using the oldest buffer the host queued.
func (sc *SimChan) Inject(data []byte) error {
	sc.mtx.Lock()

	if len(sc.dlQueue) == 0 {
		sc.mtx.Unlock()
		return fmt.Errorf("%s: no downlink buffer queued", sc.cfg.Name)
	}

	buf := sc.dlQueue[0]
	if len(data) > len(buf) {
		sc.mtx.Unlock()
		return fmt.Errorf("%s: %d bytes exceeds downlink buffer (%d)",
			sc.cfg.Name, len(data), len(buf))
	}

	sc.dlQueue = sc.dlQueue[1:]
	sc.dlFree++
	drv := sc.drv
	sc.mtx.Unlock()

	n := copy(buf, data)
	if drv != nil {
		drv.DlXferCb(&hw.XferResult{
			Buf:        buf,
			BytesXferd: n,
		})
	}

	return nil
}

func (sc *SimChan) PrepareForTransfer() error {
	sc.mtx.Lock()
	defer sc.mtx.Unlock()

	sc.prepares++
	if sc.failPrepare != nil {
		return sc.failPrepare
	}

	sc.prepared = true
	sc.ulFree = sc.cfg.RingSize
	sc.dlFree = sc.cfg.RingSize

	return nil
}

// Resets the channel.  Every buffer still queued is handed back to the host
// with a not-connected status.
func (sc *SimChan) UnprepareFromTransfer() {
	sc.mtx.Lock()
	sc.prepared = false
	dl := sc.dlQueue
	ul := sc.ulHeld
	sc.dlQueue = nil
	sc.ulHeld = nil
	drv := sc.drv
	sc.mtx.Unlock()

	if drv == nil {
		return
	}

	for _, buf := range dl {
		drv.DlXferCb(&hw.XferResult{Buf: buf, Status: hw.ErrNotConn})
	}
	for _, h := range ul {
		drv.UlXferCb(&hw.XferResult{Buf: h.buf, Status: hw.ErrNotConn})
	}
}

func (sc *SimChan) Ioctl(cmd uint32, arg uint32) error {
	sc.mtx.Lock()
	defer sc.mtx.Unlock()

	switch cmd {
	case TIOCMSET:
		sc.tiocm = arg
	case TIOCMBIS:
		sc.tiocm |= arg
	case TIOCMBIC:
		sc.tiocm &^= arg
	default:
		return fmt.Errorf("%s: unsupported ioctl 0x%x", sc.cfg.Name, cmd)
	}

	return nil
}

func (sc *SimChan) Tiocm() uint32 {
	sc.mtx.Lock()
	defer sc.mtx.Unlock()

	return sc.tiocm
}

func (sc *SimChan) WakeupCapable() bool {
	return sc.sp.cfg.WakeCapable
}

func (sc *SimChan) WakeupEvent() {
	sc.mtx.Lock()
	defer sc.mtx.Unlock()

	sc.wakeups++
}

func (sc *SimChan) Bind(drv hw.ChanDrv) {
	sc.mtx.Lock()
	defer sc.mtx.Unlock()

	sc.drv = drv
}

// Device-side modem line change.
func (sc *SimChan) SetTiocm(tiocm uint32) {
	sc.mtx.Lock()
	sc.tiocm = tiocm
	drv := sc.drv
	sc.mtx.Unlock()

	if drv != nil {
		drv.StatusCb(CB_DTR_SIGNAL)
	}
}

// Holds uplink completions until CompleteUl() is called.
func (sc *SimChan) HoldUl(hold bool) {
	sc.mtx.Lock()
	defer sc.mtx.Unlock()

	sc.holdUl = hold
}

// Completes up to n held uplink transfers.  Returns the number completed.
func (sc *SimChan) CompleteUl(n int) int {
	sc.mtx.Lock()
	if n > len(sc.ulHeld) {
		n = len(sc.ulHeld)
	}
	held := sc.ulHeld[:n]
	sc.ulHeld = sc.ulHeld[n:]
	sc.mtx.Unlock()

	for _, h := range held {
		sc.completeUl(h.buf, h.length)
	}

	return n
}

// Makes the next PrepareForTransfer call fail with err (nil to clear).
func (sc *SimChan) FailPrepare(err error) {
	sc.mtx.Lock()
	defer sc.mtx.Unlock()

	sc.failPrepare = err
}

// Makes queue transfers in the specified direction fail after n more
// succeed.  A negative n clears the fault.
func (sc *SimChan) FailQueue(dir Direction, n int) {
	sc.mtx.Lock()
	defer sc.mtx.Unlock()

	if n < 0 {
		delete(sc.failQueue, dir)
	} else {
		sc.failQueue[dir] = n
	}
}

// Overrides the number of free uplink descriptors.
func (sc *SimChan) SetUlFree(n int) {
	sc.mtx.Lock()
	defer sc.mtx.Unlock()

	sc.ulFree = n
}

func (sc *SimChan) Submissions() []Submission {
	sc.mtx.Lock()
	defer sc.mtx.Unlock()

	return append([]Submission(nil), sc.subs...)
}

func (sc *SimChan) DlQueued() int {
	sc.mtx.Lock()
	defer sc.mtx.Unlock()

	return len(sc.dlQueue)
}

func (sc *SimChan) Prepared() bool {
	sc.mtx.Lock()
	defer sc.mtx.Unlock()

	return sc.prepared
}

func (sc *SimChan) Prepares() int {
	sc.mtx.Lock()
	defer sc.mtx.Unlock()

	return sc.prepares
}

func (sc *SimChan) Wakeups() int {
	sc.mtx.Lock()
	defer sc.mtx.Unlock()

	return sc.wakeups
}
