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

package mhictrl

import (
	"bytes"
	"context"
	"testing"
	"time"

	"mynewt.apache.org/mhimgr/mhixact/hw"
	. "mynewt.apache.org/mhimgr/mhixact/mhidefs"
	"mynewt.apache.org/mhimgr/mhixact/mhisim"
	"mynewt.apache.org/mhimgr/mhixact/mhiutil"
	"mynewt.apache.org/mhimgr/mhixact/task"
)

type statusLog struct {
	ch chan CbReason
}

func newStatusLog() *statusLog {
	return &statusLog{ch: make(chan CbReason, 16)}
}

func (s *statusLog) record(reason CbReason) {
	select {
	case s.ch <- reason:
	default:
	}
}

func (s *statusLog) waitFor(t *testing.T, reason CbReason) {
	timer := time.After(time.Second)
	for {
		select {
		case r := <-s.ch:
			if r == reason {
				return
			}
		case <-timer:
			t.Fatalf("timeout waiting for status %s", reason)
		}
	}
}

type testCntrl struct {
	sp     *mhisim.SimPlatform
	store  *mhisim.SimFwStore
	c      *Cntrl
	status *statusLog
}

func newTestCntrl(t *testing.T, scfg mhisim.SimCfg, ccfg CntrlCfg) *testCntrl {
	if scfg.Chans == nil {
		scfg.Chans = mhisim.DefaultChans
	}

	tc := &testCntrl{
		sp:     mhisim.NewSimPlatform(scfg),
		store:  mhisim.NewSimFwStore(),
		status: newStatusLog(),
	}
	tc.store.Add("fw.mbn", mhisim.FwPattern(0x5a, 20000))

	tc.c = NewCntrl(ccfg, tc.sp, tc.store, hw.NewHeapAlloc())
	tc.c.ListenStatus(tc.status.record)

	if err := tc.c.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	return tc
}

func testCntrlCfg() CntrlCfg {
	cfg := NewCntrlCfg()
	cfg.Fw.FwImage = "fw.mbn"
	cfg.Fw.SegSize = 4096
	cfg.Fw.Timeout = time.Second
	return cfg
}

func TestNodeName(t *testing.T) {
	cfg := NewCntrlCfg()
	cfg.DevId = 0x305
	cfg.Domain = 1
	cfg.Bus = 2
	cfg.Slot = 3

	name := NodeName(cfg, 14)
	if name != "mhi_0305_01.02.03_pipe_14" {
		t.Fatalf("unexpected node name: %s", name)
	}
}

func TestPowerUp(t *testing.T) {
	tc := newTestCntrl(t, mhisim.NewSimCfg(), testCntrlCfg())
	defer tc.c.Stop()

	if err := tc.c.PowerUp(context.Background()); err != nil {
		t.Fatalf("power up failed: %v", err)
	}

	if tc.c.Pm().State() != PM_STATE_M0 {
		t.Fatalf("unexpected pm state: %s", tc.c.Pm().State())
	}
	if tc.c.Pm().Ee() != EE_AMSS {
		t.Fatalf("unexpected ee: %s", tc.c.Pm().Ee())
	}
	tc.status.waitFor(t, CB_EE_MISSION_MODE)

	devs := tc.c.Uci().List()
	if len(devs) != len(mhisim.DefaultChans) {
		t.Fatalf("expected %d nodes; got %d",
			len(mhisim.DefaultChans), len(devs))
	}
	for i, d := range devs {
		want := NodeName(tc.c.Cfg(), mhisim.DefaultChans[i].Id)
		if d.Name() != want {
			t.Fatalf("node %d: expected %s; got %s", i, want, d.Name())
		}
	}

	f, err := tc.c.Uci().OpenName("LOOPBACK")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	f.Close()
}

func TestPowerUpFbc(t *testing.T) {
	scfg := mhisim.NewSimCfg()
	scfg.Fbc = true

	ccfg := testCntrlCfg()
	ccfg.Fw.FbcDownload = true
	ccfg.Fw.SblSize = 4096

	tc := newTestCntrl(t, scfg, ccfg)
	defer tc.c.Stop()

	if err := tc.c.PowerUp(context.Background()); err != nil {
		t.Fatalf("power up failed: %v", err)
	}
	if tc.c.Pm().Ee() != EE_AMSS {
		t.Fatalf("unexpected ee: %s", tc.c.Pm().Ee())
	}

	fw, _ := tc.store.Request("fw.mbn")
	if !bytes.Equal(tc.sp.BhieImage(), fw) {
		t.Fatalf("full image not delivered over bhie")
	}
}

func TestPowerUpRetryAfterFailure(t *testing.T) {
	ccfg := testCntrlCfg()
	ccfg.Fw.FwImage = "missing.mbn"

	tc := newTestCntrl(t, mhisim.NewSimCfg(), ccfg)
	defer tc.c.Stop()

	if err := tc.c.PowerUp(context.Background()); err == nil {
		t.Fatalf("power up succeeded without firmware")
	}
	if tc.c.Pm().State() != PM_STATE_FW_DL_ERR {
		t.Fatalf("unexpected pm state: %s", tc.c.Pm().State())
	}
	tc.status.waitFor(t, CB_FATAL_ERROR)

	tc.store.Add("missing.mbn", mhisim.FwPattern(1, 5000))
	if err := tc.c.PowerUp(context.Background()); err != nil {
		t.Fatalf("second power up failed: %v", err)
	}
	if tc.c.Pm().State() != PM_STATE_M0 {
		t.Fatalf("unexpected pm state: %s", tc.c.Pm().State())
	}
}

func TestFatalErrorRemovesNodes(t *testing.T) {
	tc := newTestCntrl(t, mhisim.NewSimCfg(), testCntrlCfg())
	defer tc.c.Stop()

	if err := tc.c.PowerUp(context.Background()); err != nil {
		t.Fatalf("power up failed: %v", err)
	}

	f, err := tc.c.Uci().OpenName("LOOPBACK")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer f.Close()

	readErr := make(chan error, 1)
	go func() {
		_, err := f.Read(context.Background(), make([]byte, 16))
		readErr <- err
	}()

	time.Sleep(10 * time.Millisecond)
	tc.c.Pm().SetState(PM_STATE_LD_ERR_FATAL_DETECT)

	select {
	case err := <-readErr:
		if !mhiutil.IsNodeDisabled(err) {
			t.Fatalf("unexpected read error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("blocked reader not woken")
	}

	if len(tc.c.Uci().List()) != 0 {
		t.Fatalf("nodes survived fatal error")
	}
	if _, err := tc.c.Uci().OpenName("EFS"); !mhiutil.IsNoDev(err) {
		t.Fatalf("expected no-dev error; got %v", err)
	}
}

func TestSysErrRddm(t *testing.T) {
	ccfg := testCntrlCfg()
	ccfg.RddmSupported = true
	ccfg.Fw.RddmSize = 8192

	tc := newTestCntrl(t, mhisim.NewSimCfg(), ccfg)
	defer tc.c.Stop()

	if err := tc.c.PowerUp(context.Background()); err != nil {
		t.Fatalf("power up failed: %v", err)
	}

	tc.sp.Crash()
	tc.status.waitFor(t, CB_EE_RDDM)

	if tc.c.Pm().State() != PM_STATE_SYS_ERR_DETECT {
		t.Fatalf("unexpected pm state: %s", tc.c.Pm().State())
	}
	if len(tc.c.Uci().List()) != 0 {
		t.Fatalf("nodes survived system error")
	}

	dump, err := tc.c.DownloadRddm(context.Background(), false)
	if err != nil {
		t.Fatalf("rddm download failed: %v", err)
	}
	if dump.Hdr.Ee != EE_RDDM.String() {
		t.Fatalf("unexpected dump ee: %s", dump.Hdr.Ee)
	}
	if len(dump.Segs) != 2 {
		t.Fatalf("expected 2 dump segments; got %d", len(dump.Segs))
	}
	for i, s := range dump.Segs {
		if !bytes.Equal(s, mhisim.DumpPattern(i, len(s))) {
			t.Fatalf("dump segment %d corrupt", i)
		}
	}
}

func TestRddmUnsupported(t *testing.T) {
	tc := newTestCntrl(t, mhisim.NewSimCfg(), testCntrlCfg())
	defer tc.c.Stop()

	_, err := tc.c.DownloadRddm(context.Background(), true)
	if !mhiutil.IsInvalidArg(err) {
		t.Fatalf("expected invalid-arg error; got %v", err)
	}
}

func TestPowerDown(t *testing.T) {
	ccfg := testCntrlCfg()
	ccfg.RddmSupported = true
	ccfg.Fw.RddmSize = 8192

	tc := newTestCntrl(t, mhisim.NewSimCfg(), ccfg)

	if err := tc.c.PowerUp(context.Background()); err != nil {
		t.Fatalf("power up failed: %v", err)
	}
	if tc.sp.DmaMapped() == 0 {
		t.Fatalf("rddm image not allocated")
	}

	if err := tc.c.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if tc.c.Pm().State() != PM_STATE_DISABLE {
		t.Fatalf("unexpected pm state: %s", tc.c.Pm().State())
	}
	if len(tc.c.Uci().List()) != 0 {
		t.Fatalf("nodes survived power down")
	}
	if tc.sp.DmaMapped() != 0 {
		t.Fatalf("%d dma buffers leaked", tc.sp.DmaMapped())
	}

	err := tc.c.PowerUp(context.Background())
	if err != task.InactiveError {
		t.Fatalf("expected inactive queue; got %v", err)
	}
}
