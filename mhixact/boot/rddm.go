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

package boot

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	. "mynewt.apache.org/mhimgr/mhixact/mhidefs"
	"mynewt.apache.org/mhimgr/mhixact/mhiutil"
)

// Allocates the RDDM image and programs the BHIe RX vector so that the
// device can deposit a dump as soon as it crashes.  Must be called while
// register access is valid (normally right after the device reaches M0).
func (l *FwLoader) PrepareRddm() error {
	if l.cfg.RddmSize <= 0 {
		return nil
	}

	l.mtx.Lock()
	defer l.mtx.Unlock()

	if l.rddmImage == nil {
		img, err := AllocImageInfo(l.plat, l.cfg.RddmSize, l.cfg.SegSize)
		if err != nil {
			return err
		}
		for i, seg := range img.Segs[:img.Entries()] {
			img.setEntry(i, seg.Addr, seg.Len())
		}
		l.rddmImage = img
	}

	if !l.pm.RegAccessValid() {
		return mhiutil.FmtRegAccessError(
			"cannot program rddm vector in pm state %s", l.pm.State())
	}

	seq, err := l.ringVec(l.rddmImage, BHIE_RXVECADDR_HIGH_OFF,
		BHIE_RXVECADDR_LOW_OFFS, BHIE_RXVECSIZE_OFFS, BHIE_RXVECDB_OFFS)
	if err != nil {
		return err
	}
	l.rddmSeq = seq

	log.Debugf("rddm vector programmed: %d segments, seq=0x%x",
		l.rddmImage.Entries(), seq)
	return nil
}

// Returns the RDDM image, or nil if RDDM was never prepared.  The image
// remains owned by the loader.
func (l *FwLoader) RddmImage() *ImageInfo {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	return l.rddmImage
}

// Waits for the device to finish depositing a RAM dump.  If inPanic is set,
// the wait is performed by busy-polling; see downloadRddmInPanic.
func (l *FwLoader) DownloadRddmImage(ctx context.Context, inPanic bool) error {
	l.mtx.Lock()
	img := l.rddmImage
	seq := l.rddmSeq
	l.mtx.Unlock()

	if img == nil {
		return mhiutil.NewInvalidArgError("rddm not prepared")
	}

	if inPanic {
		return l.downloadRddmInPanic(seq)
	}

	total := img.Capacity()
	l.progress(STAGE_RDDM, 0, total)

	var status uint32
	var match bool
	err := l.pm.WaitEvent(ctx, l.cfg.Timeout, func() bool {
		var err error
		status, match, err = l.vecStatus(BHIE_RXVECSTATUS_OFFS, seq)
		return err != nil ||
			(match && status != BHIE_VECSTATUS_STATUS_RESET)
	})
	if err != nil {
		return errors.Wrapf(err, "rddm download")
	}

	if !match {
		return mhiutil.FmtRegAccessError(
			"rddm status unreadable in pm state %s", l.pm.State())
	}
	if status != BHIE_VECSTATUS_STATUS_XFER_COMPL {
		return mhiutil.FmtDevStatusError(status,
			"rddm download failed; status=%d", status)
	}

	l.progress(STAGE_RDDM, total, total)
	return nil
}

// Panic-context variant of DownloadRddmImage.  Must not be called from a
// context where blocking primitives are available: it takes no locks, never
// sleeps on a channel, and assumes no other goroutine touches the device.
// Every loop is bounded, so it always returns to the caller.
func (l *FwLoader) downloadRddmInPanic(seq uint32) error {
	delay := l.cfg.PanicDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	rddmRetries := int(l.cfg.RddmEnterTimeout / delay)
	xferRetries := int(l.cfg.Timeout / delay)

	l.pm.ForceState(PM_STATE_LD_ERR_FATAL_DETECT)

	ee := l.plat.ExecEnv()
	if ee == EE_MAX {
		log.Errorf("rddm: execution environment unreadable")
		return mhiutil.NewRegAccessError("rddm: ee unreadable")
	}

	if ee != EE_RDDM {
		log.Debugf("rddm: forcing sys_err from ee=%s", ee)
		l.plat.RequestSysErr()

		for i := 0; i < rddmRetries; i++ {
			ee = l.plat.ExecEnv()
			if ee == EE_RDDM {
				break
			}
			l.plat.Delay(delay)
		}

		if ee != EE_RDDM {
			log.Debugf("rddm: device did not enter rddm; requesting soc reset")
			l.plat.RequestSocReset()
			l.plat.Delay(delay)
		}

		ee = l.plat.ExecEnv()
	}

	log.Debugf("rddm: waiting for dump; ee=%s", ee)

	var val uint32
	for i := 0; i < xferRetries; i++ {
		var err error
		val, err = l.plat.ReadReg(REG_BASE_BHIE, BHIE_RXVECSTATUS_OFFS)
		if err != nil {
			return err
		}

		status := (val & BHIE_VECSTATUS_STATUS_BMSK) >>
			BHIE_VECSTATUS_STATUS_SHFT
		echo := (val & BHIE_VECSTATUS_SEQNUM_BMSK) >>
			BHIE_VECSTATUS_SEQNUM_SHFT
		if echo == seq && status == BHIE_VECSTATUS_STATUS_XFER_COMPL {
			return nil
		}

		l.plat.Delay(delay)
	}

	log.Errorf("rddm: dump not received; ee=%s rx_status=0x%08x",
		l.plat.ExecEnv(), val)
	return mhiutil.FmtXferTimeoutError(
		"rddm: no dump after %d polls", xferRetries)
}

// Collects the dump contents from the RDDM image.
func (l *FwLoader) RddmData() ([][]byte, error) {
	img := l.RddmImage()
	if img == nil {
		return nil, mhiutil.NewInvalidArgError("rddm not prepared")
	}

	segs := make([][]byte, img.Entries())
	for i, seg := range img.Segs[:img.Entries()] {
		segs[i] = append([]byte(nil), seg.Buf...)
	}

	return segs, nil
}
