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

// Package boot drives an MHI device from reset to a running execution
// environment and retrieves RAM dumps after a crash.
//
// A primary image is pushed through the single-shot BHI interface.  When
// first-boot-chain download is enabled, the full image is then staged in
// DMA segments and pushed through the BHIe vector interface once the
// device reaches the ready state.
package boot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/mhimgr/mhixact/hw"
	. "mynewt.apache.org/mhimgr/mhixact/mhidefs"
	"mynewt.apache.org/mhimgr/mhixact/mhiutil"
	"mynewt.apache.org/mhimgr/mhixact/pm"
)

const (
	STAGE_COPY = "copy"
	STAGE_BHI  = "bhi"
	STAGE_BHIE = "bhie"
	STAGE_RDDM = "rddm"
)

// Reports download progress to a front end.
type ProgressFn func(stage string, done int, total int)

// Notifies the owning controller of loader events (e.g., fallback image
// used).
type StatusFn func(reason CbReason)

type FwCfg struct {
	FwImage       string
	FallbackImage string
	EdlImage      string

	// Stage the full image and push it over BHIe after the ready
	// transition.
	FbcDownload bool

	// Upper bound on the number of bytes pushed over BHI.  Clamped to the
	// image size.
	SblSize int

	SegSize  int
	RddmSize int
	Timeout  time.Duration

	// Panic path: poll interval, and how long to wait for the device to
	// enter RDDM before requesting a SoC reset.
	PanicDelay       time.Duration
	RddmEnterTimeout time.Duration
}

func NewFwCfg() FwCfg {
	return FwCfg{
		SegSize:          512 * 1024,
		Timeout:          2 * time.Second,
		PanicDelay:       2 * time.Millisecond,
		RddmEnterTimeout: 200 * time.Millisecond,
	}
}

type FwLoader struct {
	cfg   FwCfg
	plat  hw.Platform
	store hw.FwStore
	pm    *pm.PowerMgr

	statusCb   StatusFn
	progressCb ProgressFn

	// Protects the staged images.
	mtx       sync.Mutex
	fbcImage  *ImageInfo
	rddmImage *ImageInfo
	rddmSeq   uint32
}

func NewFwLoader(cfg FwCfg, plat hw.Platform, store hw.FwStore,
	pmgr *pm.PowerMgr) *FwLoader {

	return &FwLoader{
		cfg:   cfg,
		plat:  plat,
		store: store,
		pm:    pmgr,
	}
}

func (l *FwLoader) SetStatusCb(cb StatusFn) {
	l.statusCb = cb
}

func (l *FwLoader) SetProgressCb(cb ProgressFn) {
	l.progressCb = cb
}

func (l *FwLoader) Cfg() FwCfg {
	return l.cfg
}

func (l *FwLoader) progress(stage string, done int, total int) {
	if l.progressCb != nil {
		l.progressCb(stage, done, total)
	}
}

func (l *FwLoader) status(reason CbReason) {
	log.Debugf("loader status: %s", reason)
	if l.statusCb != nil {
		l.statusCb(reason)
	}
}

func (l *FwLoader) logEntry() *log.Entry {
	return log.WithFields(log.Fields{
		"pm": l.pm.State().String(),
		"ee": l.pm.Ee().String(),
	})
}

// Reads the device's execution environment, or EE_MAX if registers cannot
// be accessed in the current power state.
func (l *FwLoader) execEnv() ExecEnv {
	if !l.pm.RegAccessValid() {
		return EE_MAX
	}
	return l.plat.ExecEnv()
}

func (l *FwLoader) readField(base RegBase, off uint32, mask uint32,
	shift uint32) (uint32, error) {

	if !l.pm.RegAccessValid() {
		return 0, mhiutil.FmtRegAccessError(
			"register access not allowed in pm state %s", l.pm.State())
	}
	return hw.ReadRegField(l.plat, base, off, mask, shift)
}

func (l *FwLoader) writeAddr(base RegBase, offHigh uint32, offLow uint32,
	addr uint64) {

	l.plat.WriteReg(base, offHigh, uint32(addr>>32))
	l.plat.WriteReg(base, offLow, uint32(addr))
}

// Marks the download as failed and releases anyone waiting on the state
// event.
func (l *FwLoader) fail(err error) error {
	l.pm.TrySetState(PM_STATE_FW_DL_ERR)
	l.pm.Wake()
	l.logEntry().Errorf("firmware download failed: %s", err.Error())
	return err
}

func (l *FwLoader) requestImage(ee ExecEnv) ([]byte, string, error) {
	name := l.cfg.FwImage
	if ee == EE_EDL {
		name = l.cfg.EdlImage
	}
	if name == "" {
		return nil, "", mhiutil.NewInvalidArgError("no firmware image name")
	}

	data, err := l.store.Request(name)
	if err == nil {
		return data, name, nil
	}

	if l.cfg.FallbackImage == "" {
		return nil, "", errors.Wrapf(err, "error loading firmware %s", name)
	}

	log.Warnf("error loading firmware %s (%s); trying fallback %s",
		name, err.Error(), l.cfg.FallbackImage)

	data, err = l.store.Request(l.cfg.FallbackImage)
	if err != nil {
		return nil, "", errors.Wrapf(err,
			"error loading fallback firmware %s", l.cfg.FallbackImage)
	}

	l.status(CB_FALLBACK_IMG)
	return data, l.cfg.FallbackImage, nil
}

// Brings the device from PBL to the ready state.  The device must be in
// POR.  Does nothing if the device has already left PBL.  On failure, the
// device is left in FW_DL_ERR; no retries are attempted.
func (l *FwLoader) LoadFirmware(ctx context.Context) error {
	if l.pm.InError() {
		return mhiutil.FmtPmStateError(
			"device in error state %s", l.pm.State())
	}

	ee := l.execEnv()
	l.pm.SetEe(ee)
	if ee == EE_MAX {
		return l.fail(mhiutil.NewRegAccessError(
			"unable to read execution environment"))
	}
	if !ee.InPbl() {
		log.Debugf("device not in pbl (ee=%s); skipping firmware load", ee)
		return nil
	}

	if l.cfg.FbcDownload && (l.cfg.SblSize <= 0 || l.cfg.SegSize <= 0) {
		return l.fail(mhiutil.NewInvalidArgError(
			"fbc download requires sbl size and segment size"))
	}

	data, name, err := l.requestImage(ee)
	if err != nil {
		return l.fail(err)
	}

	size := len(data)
	if l.cfg.FbcDownload {
		size = l.cfg.SblSize
		if size > len(data) {
			size = len(data)
		}
	}

	log.Debugf("loading %s over bhi: %d of %d bytes", name, size, len(data))

	if err := l.loadBhi(ctx, data[:size]); err != nil {
		return l.fail(err)
	}

	if ee == EE_EDL {
		log.Debugf("device in edl; not transitioning to ready")
		return nil
	}

	if l.cfg.FbcDownload {
		if err := l.stageFbc(data); err != nil {
			return l.fail(err)
		}
	}

	if err := l.plat.RequestReadyTransition(); err != nil {
		l.freeFbc()
		return l.fail(errors.Wrapf(err, "ready transition failed"))
	}

	l.pm.SetEe(l.execEnv())
	return nil
}

func (l *FwLoader) stageFbc(data []byte) error {
	img, err := AllocImageInfo(l.plat, len(data), l.cfg.SegSize)
	if err != nil {
		return err
	}
	if err := img.Copy(data, l.progressCb); err != nil {
		img.Free(l.plat)
		return err
	}

	l.mtx.Lock()
	defer l.mtx.Unlock()

	if l.fbcImage != nil {
		l.fbcImage.Free(l.plat)
	}
	l.fbcImage = img

	return nil
}

func (l *FwLoader) freeFbc() {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if l.fbcImage != nil {
		l.fbcImage.Free(l.plat)
		l.fbcImage = nil
	}
}

func (l *FwLoader) dumpErrRegs() map[string]uint32 {
	if !l.pm.RegAccessValid() {
		log.Debugf("skipping bhi error register dump; pm state %s",
			l.pm.State())
		return nil
	}

	regs := []struct {
		name string
		off  uint32
	}{
		{"BHI_EXECENV", BHI_EXECENV},
		{"BHI_STATUS", BHI_STATUS},
		{"BHI_ERRCODE", BHI_ERRCODE},
		{"BHI_ERRDBG1", BHI_ERRDBG1},
		{"BHI_ERRDBG2", BHI_ERRDBG2},
		{"BHI_ERRDBG3", BHI_ERRDBG3},
	}

	m := map[string]uint32{}
	for _, r := range regs {
		val, err := l.plat.ReadReg(REG_BASE_BHI, r.off)
		if err != nil {
			log.Debugf("failed to read %s: %s", r.name, err.Error())
			continue
		}
		log.Errorf("%s: 0x%08x", r.name, val)
		m[r.name] = val
	}

	return m
}

func (l *FwLoader) loadBhi(ctx context.Context, data []byte) error {
	if !l.pm.RegAccessValid() {
		return mhiutil.FmtRegAccessError(
			"bhi load not allowed in pm state %s", l.pm.State())
	}

	buf, err := l.plat.Alloc(len(data))
	if err != nil {
		return mhiutil.FmtNoMemError("failed to allocate bhi buffer: %s",
			err.Error())
	}
	defer l.plat.Free(buf)

	copy(buf.Buf, data)

	seq := mhiutil.NextSeqNum(BHI_TXDB_SEQNUM_BMSK)
	l.writeAddr(REG_BASE_BHI, BHI_IMGADDR_HIGH, BHI_IMGADDR_LOW, buf.Addr)
	l.plat.WriteReg(REG_BASE_BHI, BHI_IMGSIZE, uint32(len(data)))
	l.plat.WriteReg(REG_BASE_BHI, BHI_IMGTXDB, seq)
	l.progress(STAGE_BHI, 0, len(data))

	var status uint32
	err = l.pm.WaitEvent(ctx, l.cfg.Timeout, func() bool {
		if l.pm.InError() {
			return true
		}
		status, _ = l.readField(REG_BASE_BHI, BHI_STATUS, BHI_STATUS_MASK,
			BHI_STATUS_SHIFT)
		return status != BHI_STATUS_RESET
	})
	if err != nil {
		return errors.Wrapf(err, "bhi transfer")
	}

	if status == BHI_STATUS_ERROR {
		derr := mhiutil.FmtDevStatusError(status,
			"bhi transfer failed; status=%d", status)
		derr.ErrRegs = l.dumpErrRegs()
		return derr
	}
	if l.pm.InError() {
		return mhiutil.FmtPmStateError(
			"device entered %s during bhi transfer", l.pm.State())
	}

	l.progress(STAGE_BHI, len(data), len(data))
	return nil
}

// Programs a BHIe vector (TX or RX) and rings its doorbell.  Returns the
// sequence number written.
func (l *FwLoader) ringVec(img *ImageInfo, addrHigh uint32, addrLow uint32,
	sizeOff uint32, dbOff uint32) (uint32, error) {

	vec := img.VectorTable()
	l.writeAddr(REG_BASE_BHIE, addrHigh, addrLow, vec.Addr)
	l.plat.WriteReg(REG_BASE_BHIE, sizeOff, uint32(vec.Len()))

	seq := mhiutil.NextSeqNum(BHIE_VECDB_SEQNUM_BMSK)
	if err := hw.WriteRegField(l.plat, REG_BASE_BHIE, dbOff,
		BHIE_VECDB_SEQNUM_BMSK, BHIE_VECDB_SEQNUM_SHFT, seq); err != nil {

		return 0, err
	}

	return seq, nil
}

// Reads a BHIe vector status register.  Returns the status field, and
// whether the sequence field matches seq.
func (l *FwLoader) vecStatus(off uint32, seq uint32) (uint32, bool, error) {
	if !l.pm.RegAccessValid() {
		return 0, false, mhiutil.FmtRegAccessError(
			"register access not allowed in pm state %s", l.pm.State())
	}

	val, err := l.plat.ReadReg(REG_BASE_BHIE, off)
	if err != nil {
		return 0, false, err
	}

	status := (val & BHIE_VECSTATUS_STATUS_BMSK) >> BHIE_VECSTATUS_STATUS_SHFT
	echo := (val & BHIE_VECSTATUS_SEQNUM_BMSK) >> BHIE_VECSTATUS_SEQNUM_SHFT

	return status, echo == seq, nil
}

// Pushes the image staged during LoadFirmware over BHIe.  The staged image
// is released whether or not the transfer succeeds.
func (l *FwLoader) DownloadAmssImage(ctx context.Context) error {
	l.mtx.Lock()
	img := l.fbcImage
	l.fbcImage = nil
	l.mtx.Unlock()

	if img == nil {
		return l.fail(mhiutil.NewInvalidArgError("no staged fbc image"))
	}
	defer img.Free(l.plat)

	if err := l.loadBhie(ctx, img); err != nil {
		return l.fail(err)
	}

	l.pm.SetEe(l.execEnv())
	return nil
}

func (l *FwLoader) loadBhie(ctx context.Context, img *ImageInfo) error {
	if !l.pm.RegAccessValid() {
		return mhiutil.FmtRegAccessError(
			"bhie load not allowed in pm state %s", l.pm.State())
	}

	total := img.Capacity()
	seq, err := l.ringVec(img, BHIE_TXVECADDR_HIGH_OFF,
		BHIE_TXVECADDR_LOW_OFFS, BHIE_TXVECSIZE_OFFS, BHIE_TXVECDB_OFFS)
	if err != nil {
		return err
	}
	l.progress(STAGE_BHIE, 0, total)

	var status uint32
	var match bool
	err = l.pm.WaitEvent(ctx, l.cfg.Timeout, func() bool {
		if l.pm.InError() {
			return true
		}
		status, match, _ = l.vecStatus(BHIE_TXVECSTATUS_OFFS, seq)
		return match && status != BHIE_VECSTATUS_STATUS_RESET
	})
	if err != nil {
		return errors.Wrapf(err, "bhie transfer")
	}

	if l.pm.InError() {
		return mhiutil.FmtPmStateError(
			"device entered %s during bhie transfer", l.pm.State())
	}
	if status != BHIE_VECSTATUS_STATUS_XFER_COMPL {
		return mhiutil.FmtDevStatusError(status,
			"bhie transfer failed; status=%d", status)
	}

	l.progress(STAGE_BHIE, total, total)
	return nil
}

// Frees any staged images.  Called on teardown.
func (l *FwLoader) Close() {
	l.freeFbc()

	l.mtx.Lock()
	defer l.mtx.Unlock()

	if l.rddmImage != nil {
		l.rddmImage.Free(l.plat)
		l.rddmImage = nil
	}
}

func (l *FwLoader) String() string {
	return fmt.Sprintf("fw=%s fallback=%s edl=%s fbc=%v",
		l.cfg.FwImage, l.cfg.FallbackImage, l.cfg.EdlImage,
		l.cfg.FbcDownload)
}
