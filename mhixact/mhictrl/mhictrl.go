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

// Package mhictrl owns one MHI device: its power state, its firmware loader
// and its channel nodes.
package mhictrl

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/mhimgr/mhixact/boot"
	"mynewt.apache.org/mhimgr/mhixact/hw"
	. "mynewt.apache.org/mhimgr/mhixact/mhidefs"
	"mynewt.apache.org/mhimgr/mhixact/mhiutil"
	"mynewt.apache.org/mhimgr/mhixact/pm"
	"mynewt.apache.org/mhimgr/mhixact/task"
	"mynewt.apache.org/mhimgr/mhixact/uci"
)

type CntrlCfg struct {
	Name   string
	DevId  int
	Domain int
	Bus    int
	Slot   int

	Fw            boot.FwCfg
	RddmSupported bool
}

func NewCntrlCfg() CntrlCfg {
	return CntrlCfg{
		Name:  "mhi0",
		DevId: 0x0306,
		Bus:   1,
		Fw:    boot.NewFwCfg(),
	}
}

type StatusFn func(reason CbReason)

type Cntrl struct {
	cfg    CntrlCfg
	plat   hw.Platform
	pm     *pm.PowerMgr
	loader *boot.FwLoader
	uci    *uci.UciDrv
	tq     *task.TaskQueue

	mtx       sync.Mutex
	listeners []StatusFn
}

func NewCntrl(cfg CntrlCfg, plat hw.Platform, store hw.FwStore,
	alloc hw.BufAlloc) *Cntrl {

	pmgr := pm.NewPowerMgr()

	c := &Cntrl{
		cfg:    cfg,
		plat:   plat,
		pm:     pmgr,
		loader: boot.NewFwLoader(cfg.Fw, plat, store, pmgr),
		uci:    uci.NewUciDrv(alloc),
		tq:     task.NewTaskQueue(cfg.Name),
	}

	c.loader.SetStatusCb(c.notify)
	pmgr.OnError(c.onPmError)

	return c
}

// Name of the node for the specified uplink channel.
func NodeName(cfg CntrlCfg, chanId int) string {
	return fmt.Sprintf("mhi_%04x_%02d.%02d.%02d_pipe_%d",
		cfg.DevId, cfg.Domain, cfg.Bus, cfg.Slot, chanId)
}

func (c *Cntrl) Start() error {
	if err := c.tq.Start(8); err != nil {
		return err
	}

	c.plat.SetIrqHandlers(hw.IrqHandlers{
		Intvec: c.pm.Wake,
		SysErr: c.HandleSysErr,
	})

	return nil
}

func (c *Cntrl) Stop() error {
	c.PowerDown()
	c.plat.SetIrqHandlers(hw.IrqHandlers{})

	return c.tq.Stop(nil)
}

func (c *Cntrl) Cfg() CntrlCfg {
	return c.cfg
}

func (c *Cntrl) Uci() *uci.UciDrv {
	return c.uci
}

func (c *Cntrl) Pm() *pm.PowerMgr {
	return c.pm
}

func (c *Cntrl) Loader() *boot.FwLoader {
	return c.loader
}

func (c *Cntrl) Platform() hw.Platform {
	return c.plat
}

func (c *Cntrl) ListenStatus(fn StatusFn) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.listeners = append(c.listeners, fn)
}

func (c *Cntrl) notify(reason CbReason) {
	c.mtx.Lock()
	fns := append([]StatusFn(nil), c.listeners...)
	c.mtx.Unlock()

	for _, fn := range fns {
		fn(reason)
	}
}

// A device in an error state is treated as if every channel disappeared.
func (c *Cntrl) onPmError(s PmState) {
	log.Warnf("%s: device entered %s; removing channels", c.cfg.Name, s)
	c.uci.RemoveAll()
	c.notify(CB_FATAL_ERROR)
}

// Moves the power state to POR from wherever the last power cycle left
// it.
func (c *Cntrl) enterPor() error {
	switch c.pm.State() {
	case PM_STATE_SYS_ERR_DETECT:
		if err := c.pm.SetState(PM_STATE_SYS_ERR_PROCESS); err != nil {
			return err
		}
	case PM_STATE_SHUTDOWN_PROCESS, PM_STATE_SHUTDOWN_NO_ACCESS,
		PM_STATE_LD_ERR_FATAL_DETECT:

		if err := c.pm.SetState(PM_STATE_DISABLE); err != nil {
			return err
		}
	}

	return c.pm.SetState(PM_STATE_POR)
}

func (c *Cntrl) powerUp(ctx context.Context) error {
	if err := c.enterPor(); err != nil {
		return err
	}

	if err := c.loader.LoadFirmware(ctx); err != nil {
		return err
	}

	switch ee := c.pm.Ee(); ee {
	case EE_EDL:
		log.Infof("%s: device in emergency download mode", c.cfg.Name)
		return nil
	case EE_RDDM:
		return mhiutil.NewPmStateError("device in rddm; reset required")
	}

	if c.cfg.Fw.FbcDownload {
		if err := c.loader.DownloadAmssImage(ctx); err != nil {
			return err
		}
	}

	if err := c.pm.SetState(PM_STATE_READY); err != nil {
		return err
	}
	if err := c.pm.SetState(PM_STATE_M0); err != nil {
		return err
	}

	if c.pm.Ee() == EE_AMSS {
		c.notify(CB_EE_MISSION_MODE)
	}

	if c.cfg.RddmSupported {
		if err := c.loader.PrepareRddm(); err != nil {
			log.Warnf("%s: rddm unavailable: %s", c.cfg.Name, err.Error())
		}
	}

	return c.probeChannels()
}

func (c *Cntrl) probeChannels() error {
	for _, ch := range c.plat.Channels() {
		if _, ok := uci.LookupCatalog(ch.Name()); !ok {
			continue
		}

		name := NodeName(c.cfg, ch.ChanId())
		if _, err := c.uci.Probe(ch, name); err != nil {
			return errors.Wrapf(err, "failed to create node for %s",
				ch.Name())
		}
	}

	return nil
}

// Brings the device up: firmware download, then one node per catalogued
// channel.  Runs on the controller's task queue.
func (c *Cntrl) PowerUp(ctx context.Context) error {
	return c.tq.Run("power-up", func(jctx context.Context) error {
		jctx, cancel := context.WithCancel(jctx)
		defer cancel()

		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-jctx.Done():
			}
		}()

		return c.powerUp(jctx)
	})
}

// System error interrupt handler.
func (c *Cntrl) HandleSysErr(ee ExecEnv) {
	log.Warnf("%s: system error; ee=%s", c.cfg.Name, ee)

	c.pm.SetEe(ee)
	c.pm.TrySetState(PM_STATE_SYS_ERR_DETECT)
	c.uci.RemoveAll()

	if ee == EE_RDDM {
		c.notify(CB_EE_RDDM)
	} else {
		c.notify(CB_SYS_ERROR)
	}
}

// Collects a RAM dump.  With inPanic set, the collection busy-polls and
// never blocks; the caller must guarantee nothing else is using the device.
func (c *Cntrl) DownloadRddm(ctx context.Context,
	inPanic bool) (*boot.Dump, error) {

	if !c.cfg.RddmSupported {
		return nil, mhiutil.NewInvalidArgError("rddm not supported")
	}

	if err := c.loader.DownloadRddmImage(ctx, inPanic); err != nil {
		return nil, err
	}

	segs, err := c.loader.RddmData()
	if err != nil {
		return nil, err
	}

	return boot.NewDump(c.cfg.Name, c.plat.ExecEnv().String(), segs), nil
}

// Removes every node and releases device resources.
func (c *Cntrl) PowerDown() {
	c.uci.RemoveAll()

	c.pm.TrySetState(PM_STATE_SHUTDOWN_PROCESS)
	c.loader.Close()
	c.pm.TrySetState(PM_STATE_DISABLE)
}
