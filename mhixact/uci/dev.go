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

package uci

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/mhimgr/mhixact/hw"
	. "mynewt.apache.org/mhimgr/mhixact/mhidefs"
	"mynewt.apache.org/mhimgr/mhixact/mhiutil"
)

// Data received from the device, awaiting a reader.
type uciBuf struct {
	data []byte
	len  int
}

// One direction of a node.
type uciChan struct {
	wq mhiutil.WaitQueue

	// Protects the fields below, and is held (together with the other
	// direction's lock) whenever the owning node's enabled flag changes.
	lock    sync.Mutex
	pending []*uciBuf
	cur     *uciBuf
	rxSize  int
}

func (uc *uciChan) dataAvailNoLock() bool {
	return uc.cur != nil || len(uc.pending) > 0
}

type UciDev struct {
	drv       *UciDrv
	chdev     hw.ChanDev
	name      string
	minor     int
	mtu       int
	actualMtu int
	log       *log.Entry

	// Coarse lock: reference count and enabled flag.  Taken before either
	// channel lock, never after.
	mtx      sync.Mutex
	refCount int
	freed    bool

	// Written only with mtx and both channel locks held; read with any of
	// them held.
	enabled bool

	ul uciChan
	dl uciChan

	// Serialize readers and writers respectively.
	readSem  chan struct{}
	writeSem chan struct{}

	// Protected by dl.lock.
	tiocm        uint32
	tiocmSeq     uint64
	tiocmPending bool
	pendingErr   error
}

func newUciDev(drv *UciDrv, chdev hw.ChanDev, name string, minor int,
	mtu int) *UciDev {

	return &UciDev{
		drv:       drv,
		chdev:     chdev,
		name:      name,
		minor:     minor,
		mtu:       mtu,
		actualMtu: mtu - UCI_BUF_OVERHEAD,
		log:       nodeLog(name, minor),
		enabled:   true,
		readSem:   make(chan struct{}, 1),
		writeSem:  make(chan struct{}, 1),
		tiocm:     chdev.Tiocm(),
	}
}

func (d *UciDev) Name() string {
	return d.name
}

func (d *UciDev) ChanName() string {
	return d.chdev.Name()
}

func (d *UciDev) Minor() int {
	return d.minor
}

func (d *UciDev) Mtu() int {
	return d.mtu
}

func (d *UciDev) ActualMtu() int {
	return d.actualMtu
}

func (d *UciDev) Enabled() bool {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	return d.enabled
}

func (d *UciDev) RefCount() int {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	return d.refCount
}

func (d *UciDev) xferLog() *log.Entry {
	return mhiutil.XferLog.WithFields(log.Fields{
		"node":  d.name,
		"minor": d.minor,
	})
}

func (d *UciDev) freeBuf(b []byte) {
	d.drv.alloc.Free(b)
}

// Frees every buffer waiting for a reader.  Caller must hold dl.lock.
func (d *UciDev) drainDlNoLock() {
	for _, b := range d.dl.pending {
		d.freeBuf(b.data)
	}
	d.dl.pending = nil

	if d.dl.cur != nil {
		d.freeBuf(d.dl.cur.data)
		d.dl.cur = nil
		d.dl.rxSize = 0
	}
}

func (d *UciDev) queueDl(buf []byte) error {
	return d.chdev.QueueTransfer(DIR_DL, buf[:d.actualMtu], d.actualMtu,
		XFER_FLAG_EOT)
}

// Gives the device a buffer for every free downlink descriptor.
func (d *UciDev) prefillDl() error {
	nrTre := d.chdev.FreeDescriptors(DIR_DL)
	for i := 0; i < nrTre; i++ {
		buf, err := d.drv.alloc.Alloc(d.mtu)
		if err != nil {
			return mhiutil.FmtNoMemError(
				"failed to allocate dl buffer %d/%d: %s", i, nrTre, err.Error())
		}

		if err := d.queueDl(buf); err != nil {
			d.freeBuf(buf)
			return err
		}
	}

	d.log.Debugf("queued %d dl buffers", nrTre)
	return nil
}

func (d *UciDev) open() error {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if !d.enabled {
		return mhiutil.NewNodeDisabledError(d.name + " not ready")
	}

	d.refCount++
	if d.refCount > 1 {
		return nil
	}

	d.log.Debugf("starting channel")

	if err := d.chdev.PrepareForTransfer(); err != nil {
		d.refCount--
		return err
	}

	if err := d.prefillDl(); err != nil {
		d.log.Errorf("dl prefill failed: %s", err.Error())

		// Resetting the channel hands back every queued buffer.
		d.chdev.UnprepareFromTransfer()

		d.dl.lock.Lock()
		d.drainDlNoLock()
		d.dl.lock.Unlock()

		d.refCount--
		return err
	}

	return nil
}

// Drops one reference.  The last close of a removed node releases it.
func (d *UciDev) close() {
	d.mtx.Lock()

	d.refCount--
	if d.refCount == 0 {
		if d.enabled {
			d.log.Debugf("stopping channel")
			d.chdev.UnprepareFromTransfer()
		}

		d.dl.lock.Lock()
		d.drainDlNoLock()
		d.dl.lock.Unlock()
	}

	release := d.refCount == 0 && !d.enabled && !d.freed
	if release {
		d.freed = true
	}

	d.mtx.Unlock()

	if release {
		d.drv.release(d)
	}
}

// Disables the node and wakes every waiter.  Returns true if the caller
// must release the node now (no handle is open).  Caller holds drv.mtx.
func (d *UciDev) remove() bool {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	d.dl.lock.Lock()
	d.ul.lock.Lock()
	wasEnabled := d.enabled
	d.enabled = false
	d.ul.lock.Unlock()
	d.dl.lock.Unlock()

	d.ul.wq.Wake()
	d.dl.wq.Wake()

	if wasEnabled {
		d.log.Debugf("node disabled; ref_count=%d", d.refCount)
	}

	if d.refCount > 0 {
		// The bus resets the channel when it goes away; buffers still
		// queued with the device come back through the callbacks.
		if wasEnabled {
			d.chdev.UnprepareFromTransfer()
		}
		return false
	}

	if d.freed {
		return false
	}
	d.freed = true
	return true
}

func (d *UciDev) UlXferCb(res *hw.XferResult) {
	d.xferLog().Debugf("ul xfer done; len=%d status=%v", res.BytesXferd,
		res.Status)

	d.freeBuf(res.Buf)
	if res.Status == nil {
		d.ul.wq.Wake()
	}
}

func (d *UciDev) DlXferCb(res *hw.XferResult) {
	d.xferLog().Debugf("dl xfer done; len=%d status=%v", res.BytesXferd,
		res.Status)

	if res.Status == hw.ErrNotConn {
		d.freeBuf(res.Buf)
		return
	}

	d.dl.lock.Lock()
	d.dl.pending = append(d.dl.pending, &uciBuf{
		data: res.Buf,
		len:  res.BytesXferd,
	})
	d.dl.lock.Unlock()

	if d.chdev.WakeupCapable() {
		d.chdev.WakeupEvent()
	}

	d.dl.wq.Wake()
}

func (d *UciDev) StatusCb(reason CbReason) {
	if reason != CB_DTR_SIGNAL {
		return
	}

	tiocm := d.chdev.Tiocm()

	d.dl.lock.Lock()
	d.tiocm = tiocm
	d.tiocmSeq++
	d.tiocmPending = true
	d.dl.lock.Unlock()

	d.log.Debugf("line status changed; tiocm=0x%x", tiocm)
	d.dl.wq.Wake()
}
