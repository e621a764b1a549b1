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
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	. "mynewt.apache.org/mhimgr/mhixact/mhidefs"
	"mynewt.apache.org/mhimgr/mhixact/mhiutil"
)

// An open handle on a node.
type File struct {
	dev *UciDev

	mtx    sync.Mutex
	closed bool
}

func (f *File) Dev() *UciDev {
	return f.dev
}

func (f *File) checkOpen() error {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if f.closed {
		return mhiutil.NewInvalidArgError("file already closed")
	}
	return nil
}

func acquireSem(ctx context.Context, sem chan struct{}, op string) error {
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return mhiutil.NewInterruptedError(op + " interrupted: " +
			ctx.Err().Error())
	}
}

// Reads up to len(p) bytes.  Blocks until data arrives, the node is
// disabled, a modem line changes, or ctx is done.  Short reads are normal.
func (f *File) Read(ctx context.Context, p []byte) (int, error) {
	if p == nil {
		return 0, mhiutil.NewInvalidArgError("nil read buffer")
	}
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := acquireSem(ctx, f.dev.readSem, "read"); err != nil {
		return 0, err
	}
	defer func() { <-f.dev.readSem }()

	d := f.dev
	dl := &d.dl

	dl.lock.Lock()

	if !d.enabled {
		dl.lock.Unlock()
		return 0, mhiutil.NewNodeDisabledError(d.name + " disabled")
	}
	if err := d.pendingErr; err != nil {
		d.pendingErr = nil
		dl.lock.Unlock()
		return 0, err
	}

	if !dl.dataAvailNoLock() {
		seq := d.tiocmSeq
		dl.lock.Unlock()

		d.log.Debugf("no data available; waiting")
		err := dl.wq.Wait(ctx, 0, func() bool {
			dl.lock.Lock()
			defer dl.lock.Unlock()

			return !d.enabled || dl.dataAvailNoLock() || d.tiocmSeq != seq
		})
		if err != nil {
			return 0, err
		}

		dl.lock.Lock()
		if !d.enabled {
			dl.lock.Unlock()
			return 0, mhiutil.NewNodeDisabledError(d.name + " disabled")
		}
		if !dl.dataAvailNoLock() {
			tiocm := d.tiocm
			dl.lock.Unlock()
			return 0, mhiutil.NewLineStatusError(tiocm)
		}
	}

	if dl.cur == nil {
		dl.cur = dl.pending[0]
		dl.pending = dl.pending[1:]
		dl.rxSize = dl.cur.len
	}

	buf := dl.cur
	off := buf.len - dl.rxSize
	n := mhiutil.IntMin(len(p), dl.rxSize)
	dl.lock.Unlock()

	copy(p, buf.data[off:off+n])

	dl.lock.Lock()
	if dl.cur != buf {
		// Node was closed out from under us and the buffer reclaimed.
		dl.lock.Unlock()
		return n, nil
	}

	dl.rxSize -= n
	if dl.rxSize > 0 {
		dl.lock.Unlock()
		return n, nil
	}

	dl.cur = nil
	enabled := d.enabled
	dl.lock.Unlock()

	if !enabled {
		d.freeBuf(buf.data)
		return n, nil
	}

	if err := d.queueDl(buf.data); err != nil {
		d.log.Errorf("failed to requeue dl buffer: %s", err.Error())
		d.freeBuf(buf.data)

		dl.lock.Lock()
		d.pendingErr = errors.Wrapf(err, "dl requeue")
		dl.lock.Unlock()
	}

	return n, nil
}

// Writes all of p, split into MTU-sized chunks.  Returns the number of
// bytes submitted to the device; on error, bytes already submitted stay
// submitted.
func (f *File) Write(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, mhiutil.NewInvalidArgError("zero-length write")
	}
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	// A write's chunks must not interleave with another writer's.
	if err := acquireSem(ctx, f.dev.writeSem, "write"); err != nil {
		return 0, err
	}
	defer func() { <-f.dev.writeSem }()

	d := f.dev
	ul := &d.ul

	d.dl.lock.Lock()
	if err := d.pendingErr; err != nil {
		d.pendingErr = nil
		d.dl.lock.Unlock()
		return 0, err
	}
	d.dl.lock.Unlock()

	enabled := func() bool {
		ul.lock.Lock()
		defer ul.lock.Unlock()

		return d.enabled
	}

	written := 0
	for written < len(p) {
		if !enabled() {
			return written, mhiutil.NewNodeDisabledError(d.name + " disabled")
		}

		err := ul.wq.Wait(ctx, 0, func() bool {
			return !enabled() || d.chdev.FreeDescriptors(DIR_UL) > 0
		})
		if err != nil {
			return written, err
		}

		if !enabled() {
			return written, mhiutil.NewNodeDisabledError(d.name + " disabled")
		}

		free := d.chdev.FreeDescriptors(DIR_UL)
		xferSize := mhiutil.IntMin(len(p)-written, d.mtu)

		buf, err := d.drv.alloc.Alloc(xferSize)
		if err != nil {
			return written, mhiutil.FmtNoMemError(
				"failed to allocate ul buffer: %s", err.Error())
		}
		copy(buf, p[written:written+xferSize])

		flags := XFER_FLAG_EOT
		if free > 1 && written+xferSize < len(p) {
			flags = XFER_FLAG_CHAIN
		}

		d.xferLog().Debugf("queueing ul chunk; off=%d len=%d flags=%s",
			written, xferSize, flags)

		if err := d.chdev.QueueTransfer(DIR_UL, buf, xferSize,
			flags); err != nil {

			d.freeBuf(buf)
			return written, err
		}

		written += xferSize
	}

	return written, nil
}

// Reports the node's readiness.  Never blocks.
func (f *File) Poll() PollMask {
	d := f.dev
	var mask PollMask

	d.dl.lock.Lock()
	if !d.enabled {
		d.dl.lock.Unlock()
		return POLLERR
	}
	if d.dl.dataAvailNoLock() {
		mask |= POLLIN | POLLRDNORM
	}
	if d.tiocmPending {
		mask |= POLLPRI
	}
	d.dl.lock.Unlock()

	d.ul.lock.Lock()
	enabled := d.enabled
	d.ul.lock.Unlock()

	if !enabled {
		return POLLERR
	}
	if d.chdev.FreeDescriptors(DIR_UL) > 0 {
		mask |= POLLOUT | POLLWRNORM
	}

	return mask
}

// TIOCMGET returns the cached modem lines.  Every other command is passed
// to the hardware; the modem lines are refreshed afterwards.
func (f *File) Ioctl(cmd uint32, arg uint32) (uint32, error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}

	d := f.dev

	if cmd == TIOCMGET {
		d.dl.lock.Lock()
		defer d.dl.lock.Unlock()

		d.tiocmPending = false
		return d.tiocm, nil
	}

	d.mtx.Lock()
	defer d.mtx.Unlock()

	if !d.enabled {
		return 0, mhiutil.NewNodeDisabledError(d.name + " disabled")
	}

	if err := d.chdev.Ioctl(cmd, arg); err != nil {
		return 0, err
	}

	tiocm := d.chdev.Tiocm()
	d.dl.lock.Lock()
	d.tiocm = tiocm
	d.dl.lock.Unlock()

	return 0, nil
}

// Always succeeds.  Closing an already-closed file has no effect.
func (f *File) Close() error {
	f.mtx.Lock()
	if f.closed {
		f.mtx.Unlock()
		return nil
	}
	f.closed = true
	f.mtx.Unlock()

	f.dev.close()
	return nil
}

type stream struct {
	f   *File
	ctx context.Context
}

func (s *stream) Read(p []byte) (int, error) {
	n, err := s.f.Read(s.ctx, p)
	if mhiutil.IsNodeDisabled(err) {
		return n, io.EOF
	}
	return n, err
}

func (s *stream) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return s.f.Write(s.ctx, p)
}

func (s *stream) Close() error {
	return s.f.Close()
}

// Presents the file as a byte stream bound to ctx.  A disabled node reads
// as end of file.
func (f *File) Stream(ctx context.Context) io.ReadWriteCloser {
	return &stream{f: f, ctx: ctx}
}
