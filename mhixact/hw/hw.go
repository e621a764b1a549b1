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

// Package hw declares the primitives the MHI core consumes from the bus
// and platform layers: register access, DMA memory, firmware storage and
// per-channel transfer rings.  The core never implements these itself.
package hw

import (
	"errors"
	"time"

	"mynewt.apache.org/mhimgr/mhixact/mhidefs"
)

// Completion status reported for buffers flushed by a channel reset.
var ErrNotConn = errors.New("channel not connected")

type Regs interface {
	ReadReg(base mhidefs.RegBase, off uint32) (uint32, error)
	WriteReg(base mhidefs.RegBase, off uint32, val uint32)
}

func ReadRegField(r Regs, base mhidefs.RegBase, off uint32, mask uint32,
	shift uint32) (uint32, error) {

	val, err := r.ReadReg(base, off)
	if err != nil {
		return 0, err
	}

	return (val & mask) >> shift, nil
}

func WriteRegField(r Regs, base mhidefs.RegBase, off uint32, mask uint32,
	shift uint32, val uint32) error {

	cur, err := r.ReadReg(base, off)
	if err != nil {
		return err
	}

	cur &^= mask
	cur |= (val << shift) & mask
	r.WriteReg(base, off, cur)

	return nil
}

// A DMA-capable buffer: host view plus the bus address the device uses.
type DmaBuf struct {
	Buf  []byte
	Addr uint64
}

func (b *DmaBuf) Len() int {
	return len(b.Buf)
}

type DmaAlloc interface {
	Alloc(size int) (*DmaBuf, error)
	Free(b *DmaBuf)
}

type IrqHandlers struct {
	// BHI interrupt vector; signals a change in BHI / BHIe status.
	Intvec func()

	// The device raised a system error; ee is the environment it reports.
	SysErr func(ee mhidefs.ExecEnv)
}

type Platform interface {
	Regs
	DmaAlloc

	ExecEnv() mhidefs.ExecEnv
	RequestSocReset()
	RequestSysErr()
	RequestReadyTransition() error

	// Busy-waits for the specified duration without yielding to any
	// blocking primitive.  Safe in panic context.
	Delay(d time.Duration)

	SetIrqHandlers(h IrqHandlers)
	Channels() []ChanDev
}

type FwStore interface {
	Request(name string) ([]byte, error)
}

type XferResult struct {
	Buf        []byte
	BytesXferd int
	Status     error
}

// Callbacks a channel driver registers with its hardware channel.  They run
// asynchronously with respect to everything else and must not block.
type ChanDrv interface {
	UlXferCb(res *XferResult)
	DlXferCb(res *XferResult)
	StatusCb(reason mhidefs.CbReason)
}

// One uplink / downlink hardware channel pair.
type ChanDev interface {
	Name() string
	ChanId() int
	Mtu() int

	FreeDescriptors(dir mhidefs.Direction) int
	QueueTransfer(dir mhidefs.Direction, buf []byte, length int,
		flags mhidefs.XferFlags) error

	PrepareForTransfer() error
	UnprepareFromTransfer()

	Ioctl(cmd uint32, arg uint32) error
	Tiocm() uint32

	WakeupCapable() bool
	WakeupEvent()

	Bind(drv ChanDrv)
}
