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

// Package mhisim implements a software MHI endpoint.  It models just enough
// of a device (register file, DMA memory, execution environments, doorbells
// and transfer rings) to exercise the host side without hardware.
package mhisim

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/mhimgr/mhixact/hw"
	. "mynewt.apache.org/mhimgr/mhixact/mhidefs"
)

type ChanCfg struct {
	Name     string
	Id       int
	Mtu      int
	RingSize int
}

type SimCfg struct {
	// Execution environment at power on.
	Ee ExecEnv

	Chans []ChanCfg

	// Delay before the device completes a doorbell.  Zero completes
	// synchronously.
	Latency time.Duration

	// Whether Delay() really waits.  When false, delays are only counted.
	RealDelay bool

	// The device expects its full image over BHIe after the ready
	// transition.
	Fbc bool

	WakeCapable bool
	Loopback    bool

	// Fault injection.
	FailBhi        bool
	FailBhie       bool // image downloads over BHIe end with an error status
	StallBhie      bool // image downloads over BHIe never complete
	FailReady      bool
	NeverRddm      bool
	Unreadable     bool
	FailAllocAfter int // -1 to disable
}

func NewSimCfg() SimCfg {
	return SimCfg{
		Ee:             EE_PBL,
		FailAllocAfter: -1,
	}
}

var DefaultChans = []ChanCfg{
	{Name: "LOOPBACK", Id: 0, Mtu: 0x1000, RingSize: 8},
	{Name: "SAHARA", Id: 2, Mtu: 0x8000, RingSize: 4},
	{Name: "EFS", Id: 10, Mtu: 0x1000, RingSize: 4},
	{Name: "QMI0", Id: 14, Mtu: 0x1000, RingSize: 4},
	{Name: "DUN", Id: 32, Mtu: 0x1000, RingSize: 4},
}

type SimPlatform struct {
	cfg SimCfg

	mtx      sync.Mutex
	regs     map[RegBase]map[uint32]uint32
	dma      map[uint64]*hw.DmaBuf
	nextAddr uint64
	allocs   int

	ee       ExecEnv
	devState DevState
	irq      hw.IrqHandlers
	chans    []*SimChan

	rxArmed bool
	rxSeq   uint32

	bhiImage  []byte
	bhieImage []byte

	socResets int
	sysErrs   int
	delays    int
	readies   int
}

func NewSimPlatform(cfg SimCfg) *SimPlatform {
	sp := &SimPlatform{
		cfg:      cfg,
		regs:     map[RegBase]map[uint32]uint32{},
		dma:      map[uint64]*hw.DmaBuf{},
		nextAddr: 0x10000000,
		ee:       cfg.Ee,
		devState: DEV_STATE_RESET,
	}

	for _, c := range cfg.Chans {
		sp.chans = append(sp.chans, newSimChan(sp, c))
	}

	return sp
}

func (sp *SimPlatform) Cfg() SimCfg {
	return sp.cfg
}

func (sp *SimPlatform) regNoLock(base RegBase, off uint32) uint32 {
	bank := sp.regs[base]
	if bank == nil {
		return 0
	}
	return bank[off]
}

func (sp *SimPlatform) setRegNoLock(base RegBase, off uint32, val uint32) {
	bank := sp.regs[base]
	if bank == nil {
		bank = map[uint32]uint32{}
		sp.regs[base] = bank
	}
	bank[off] = val
}

func (sp *SimPlatform) ReadReg(base RegBase, off uint32) (uint32, error) {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()

	if base == REG_BASE_BHI && off == BHI_EXECENV {
		if sp.cfg.Unreadable {
			return 0, fmt.Errorf("register read failed: %s/0x%x", base, off)
		}
		return ExecEnvToDev(sp.ee), nil
	}

	return sp.regNoLock(base, off), nil
}

func (sp *SimPlatform) WriteReg(base RegBase, off uint32, val uint32) {
	sp.mtx.Lock()
	sp.setRegNoLock(base, off, val)
	sp.mtx.Unlock()

	switch {
	case base == REG_BASE_BHI && off == BHI_IMGTXDB:
		sp.complete(sp.bhiDoorbell)

	case base == REG_BASE_BHIE && off == BHIE_TXVECDB_OFFS:
		sp.complete(sp.txVecDoorbell)

	case base == REG_BASE_BHIE && off == BHIE_RXVECDB_OFFS:
		sp.rxVecDoorbell()

	case base == REG_BASE_MHI && off == MHI_SOC_RESET_REQ_OFFSET &&
		val&MHI_SOC_RESET_REQ != 0:

		sp.socReset()
	}
}

// Runs a doorbell handler, either immediately or after the configured
// latency, then raises the BHI interrupt.
func (sp *SimPlatform) complete(fn func()) {
	done := func() {
		fn()
		sp.intvec()
	}

	if sp.cfg.Latency > 0 {
		time.AfterFunc(sp.cfg.Latency, done)
	} else {
		done()
	}
}

func (sp *SimPlatform) intvec() {
	sp.mtx.Lock()
	fn := sp.irq.Intvec
	sp.mtx.Unlock()

	if fn != nil {
		fn()
	}
}

func (sp *SimPlatform) bufAtNoLock(addr uint64, size int) []byte {
	buf := sp.dma[addr]
	if buf == nil || size > buf.Len() {
		return nil
	}
	return buf.Buf[:size]
}

func (sp *SimPlatform) bhiDoorbell() {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()

	addr := uint64(sp.regNoLock(REG_BASE_BHI, BHI_IMGADDR_HIGH))<<32 |
		uint64(sp.regNoLock(REG_BASE_BHI, BHI_IMGADDR_LOW))
	size := int(sp.regNoLock(REG_BASE_BHI, BHI_IMGSIZE))

	data := sp.bufAtNoLock(addr, size)
	if sp.cfg.FailBhi || data == nil {
		sp.setRegNoLock(REG_BASE_BHI, BHI_STATUS,
			BHI_STATUS_ERROR<<BHI_STATUS_SHIFT)
		sp.setRegNoLock(REG_BASE_BHI, BHI_ERRCODE, 0xbad0)
		sp.setRegNoLock(REG_BASE_BHI, BHI_ERRDBG1, 0xdb1)
		sp.setRegNoLock(REG_BASE_BHI, BHI_ERRDBG2, 0xdb2)
		sp.setRegNoLock(REG_BASE_BHI, BHI_ERRDBG3, 0xdb3)
		return
	}

	sp.bhiImage = append([]byte(nil), data...)
	sp.setRegNoLock(REG_BASE_BHI, BHI_STATUS,
		BHI_STATUS_SUCCESS<<BHI_STATUS_SHIFT)
	if sp.ee != EE_EDL {
		sp.ee = EE_SBL
	}
}

// Parses a vector table at the specified address.  Returns nil if the table
// or any entry does not refer to mapped memory.
func (sp *SimPlatform) vecNoLock(addr uint64, size int) [][]byte {
	tbl := sp.bufAtNoLock(addr, size)
	if tbl == nil {
		return nil
	}

	var segs [][]byte
	for off := 0; off+VECTOR_ENTRY_SIZE <= len(tbl); off += VECTOR_ENTRY_SIZE {
		segAddr := binary.LittleEndian.Uint64(tbl[off : off+8])
		segSize := int(binary.LittleEndian.Uint64(tbl[off+8 : off+16]))
		seg := sp.bufAtNoLock(segAddr, segSize)
		if seg == nil {
			return nil
		}
		segs = append(segs, seg)
	}

	return segs
}

func (sp *SimPlatform) txVecDoorbell() {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()

	addr := uint64(sp.regNoLock(REG_BASE_BHIE, BHIE_TXVECADDR_HIGH_OFF))<<32 |
		uint64(sp.regNoLock(REG_BASE_BHIE, BHIE_TXVECADDR_LOW_OFFS))
	size := int(sp.regNoLock(REG_BASE_BHIE, BHIE_TXVECSIZE_OFFS))
	seq := sp.regNoLock(REG_BASE_BHIE, BHIE_TXVECDB_OFFS) &
		BHIE_VECDB_SEQNUM_BMSK

	if sp.cfg.StallBhie {
		return
	}

	segs := sp.vecNoLock(addr, size)
	if sp.cfg.FailBhie || segs == nil {
		sp.setRegNoLock(REG_BASE_BHIE, BHIE_TXVECSTATUS_OFFS,
			BHIE_VECSTATUS_STATUS_ERROR<<BHIE_VECSTATUS_STATUS_SHFT|seq)
		return
	}

	sp.bhieImage = nil
	for _, s := range segs {
		sp.bhieImage = append(sp.bhieImage, s...)
	}

	sp.setRegNoLock(REG_BASE_BHIE, BHIE_TXVECSTATUS_OFFS,
		BHIE_VECSTATUS_STATUS_XFER_COMPL<<BHIE_VECSTATUS_STATUS_SHFT|seq)
	sp.ee = EE_AMSS
}

func (sp *SimPlatform) rxVecDoorbell() {
	sp.mtx.Lock()
	sp.rxArmed = true
	sp.rxSeq = sp.regNoLock(REG_BASE_BHIE, BHIE_RXVECDB_OFFS) &
		BHIE_VECDB_SEQNUM_BMSK
	sp.setRegNoLock(REG_BASE_BHIE, BHIE_RXVECSTATUS_OFFS, 0)
	deposit := sp.ee == EE_RDDM
	sp.mtx.Unlock()

	if deposit {
		sp.complete(sp.depositDump)
	}
}

// Content the simulated device writes into dump segment idx.
func DumpPattern(idx int, size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(idx*31 + i)
	}
	return b
}

func (sp *SimPlatform) depositDump() {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()

	if !sp.rxArmed {
		return
	}

	addr := uint64(sp.regNoLock(REG_BASE_BHIE, BHIE_RXVECADDR_HIGH_OFF))<<32 |
		uint64(sp.regNoLock(REG_BASE_BHIE, BHIE_RXVECADDR_LOW_OFFS))
	size := int(sp.regNoLock(REG_BASE_BHIE, BHIE_RXVECSIZE_OFFS))

	segs := sp.vecNoLock(addr, size)
	if segs == nil {
		sp.setRegNoLock(REG_BASE_BHIE, BHIE_RXVECSTATUS_OFFS,
			BHIE_VECSTATUS_STATUS_ERROR<<BHIE_VECSTATUS_STATUS_SHFT|sp.rxSeq)
		return
	}

	for i, s := range segs {
		copy(s, DumpPattern(i, len(s)))
	}

	sp.setRegNoLock(REG_BASE_BHIE, BHIE_RXVECSTATUS_OFFS,
		BHIE_VECSTATUS_STATUS_XFER_COMPL<<BHIE_VECSTATUS_STATUS_SHFT|sp.rxSeq)
	sp.rxArmed = false
}

// Moves the device into RDDM (unless configured never to) and deposits a
// dump if the RX vector is armed.
func (sp *SimPlatform) enterRddm() {
	sp.mtx.Lock()
	sp.devState = DEV_STATE_SYS_ERR
	if sp.cfg.NeverRddm {
		sp.mtx.Unlock()
		return
	}
	sp.ee = EE_RDDM
	sp.mtx.Unlock()

	sp.complete(sp.depositDump)
}

func (sp *SimPlatform) socReset() {
	sp.mtx.Lock()
	sp.socResets++
	sp.mtx.Unlock()

	log.Debugf("sim: soc reset requested")
	sp.enterRddm()
}

func (sp *SimPlatform) ExecEnv() ExecEnv {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()

	if sp.cfg.Unreadable {
		return EE_MAX
	}
	return sp.ee
}

func (sp *SimPlatform) RequestSocReset() {
	sp.WriteReg(REG_BASE_MHI, MHI_SOC_RESET_REQ_OFFSET, MHI_SOC_RESET_REQ)
}

func (sp *SimPlatform) RequestSysErr() {
	sp.mtx.Lock()
	sp.sysErrs++
	sp.setRegNoLock(REG_BASE_MHI, MHICTRL,
		uint32(DEV_STATE_SYS_ERR)<<MHICTRL_MHISTATE_SHIFT)
	sp.mtx.Unlock()

	sp.enterRddm()
}

func (sp *SimPlatform) RequestReadyTransition() error {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()

	sp.readies++
	if sp.cfg.FailReady {
		return fmt.Errorf("device did not reach ready state")
	}

	sp.devState = DEV_STATE_READY
	sp.setRegNoLock(REG_BASE_MHI, MHISTATUS,
		uint32(DEV_STATE_READY)<<MHISTATUS_MHISTATE_SHFT)
	if !sp.cfg.Fbc {
		sp.ee = EE_AMSS
	}

	return nil
}

func (sp *SimPlatform) Delay(d time.Duration) {
	sp.mtx.Lock()
	sp.delays++
	sp.mtx.Unlock()

	if sp.cfg.RealDelay {
		end := time.Now().Add(d)
		for time.Now().Before(end) {
		}
	}
}

func (sp *SimPlatform) SetIrqHandlers(h hw.IrqHandlers) {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()

	sp.irq = h
}

func (sp *SimPlatform) Channels() []hw.ChanDev {
	devs := make([]hw.ChanDev, len(sp.chans))
	for i, c := range sp.chans {
		devs[i] = c
	}
	return devs
}

func (sp *SimPlatform) Chan(name string) *SimChan {
	for _, c := range sp.chans {
		if c.cfg.Name == name {
			return c
		}
	}
	return nil
}

func (sp *SimPlatform) Alloc(size int) (*hw.DmaBuf, error) {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()

	sp.allocs++
	if sp.cfg.FailAllocAfter >= 0 && sp.allocs > sp.cfg.FailAllocAfter {
		return nil, fmt.Errorf("dma allocation failed: %d bytes", size)
	}

	buf := &hw.DmaBuf{
		Buf:  make([]byte, size),
		Addr: sp.nextAddr,
	}
	sp.dma[buf.Addr] = buf

	// Keep buffers 4K aligned and never overlapping.
	sp.nextAddr += uint64((size + 0xfff) &^ 0xfff)
	if size == 0 {
		sp.nextAddr += 0x1000
	}

	return buf, nil
}

func (sp *SimPlatform) Free(b *hw.DmaBuf) {
	if b == nil {
		return
	}

	sp.mtx.Lock()
	defer sp.mtx.Unlock()

	delete(sp.dma, b.Addr)
}

// Simulates a device-side fatal error: the device enters RDDM and raises a
// system error interrupt.
func (sp *SimPlatform) Crash() {
	sp.enterRddm()

	sp.mtx.Lock()
	fn := sp.irq.SysErr
	ee := sp.ee
	sp.mtx.Unlock()

	if fn != nil {
		go fn(ee)
	}
}

// Puts the device back at its power-on state.
func (sp *SimPlatform) Reset() {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()

	sp.ee = sp.cfg.Ee
	sp.devState = DEV_STATE_RESET
	sp.rxArmed = false
	sp.regs = map[RegBase]map[uint32]uint32{}
}

func (sp *SimPlatform) SetUnreadable(unreadable bool) {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()

	sp.cfg.Unreadable = unreadable
}

func (sp *SimPlatform) DevState() DevState {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()

	return sp.devState
}

func (sp *SimPlatform) BhiImage() []byte {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()

	return sp.bhiImage
}

func (sp *SimPlatform) BhieImage() []byte {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()

	return sp.bhieImage
}

func (sp *SimPlatform) SocResets() int {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()

	return sp.socResets
}

func (sp *SimPlatform) SysErrs() int {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()

	return sp.sysErrs
}

func (sp *SimPlatform) Delays() int {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()

	return sp.delays
}

func (sp *SimPlatform) ReadyRequests() int {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()

	return sp.readies
}

// Number of DMA buffers currently mapped.
func (sp *SimPlatform) DmaMapped() int {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()

	return len(sp.dma)
}
