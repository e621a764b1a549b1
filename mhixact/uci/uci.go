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

// Package uci exposes MHI channel pairs as byte-stream nodes supporting
// open, read, write, poll, ioctl and close.
package uci

import (
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/mhimgr/mhixact/hw"
	"mynewt.apache.org/mhimgr/mhixact/mhiutil"
)

const MAX_UCI_DEVICES = 64

// Bytes reserved at the tail of every channel buffer for bookkeeping.
const UCI_BUF_OVERHEAD = 32

type UciCatalogEntry struct {
	Chan   string
	MaxMtu int
}

// Channels that get a node, and the largest MTU each may use.
var UciCatalog = []UciCatalogEntry{
	{"LOOPBACK", 0x1000},
	{"SAHARA", 0x8000},
	{"EFS", 0x1000},
	{"QMI0", 0x1000},
	{"QMI1", 0x1000},
	{"TF", 0x1000},
	{"DUN", 0x1000},
}

func LookupCatalog(chanName string) (UciCatalogEntry, bool) {
	for _, e := range UciCatalog {
		if e.Chan == chanName {
			return e, true
		}
	}
	return UciCatalogEntry{}, false
}

// The channel registry: owns the minor number table and every node.
type UciDrv struct {
	alloc hw.BufAlloc

	// Protects everything below.  Acquired before any node's mutex.
	mtx    sync.Mutex
	devs   map[int]*UciDev
	minors [MAX_UCI_DEVICES]bool

	freeHook func(dev *UciDev)
}

func NewUciDrv(alloc hw.BufAlloc) *UciDrv {
	if alloc == nil {
		alloc = hw.NewHeapAlloc()
	}

	return &UciDrv{
		alloc: alloc,
		devs:  map[int]*UciDev{},
	}
}

// Registers a function to call each time a node is released.  Used for
// diagnostics.
func (drv *UciDrv) SetFreeHook(fn func(dev *UciDev)) {
	drv.mtx.Lock()
	defer drv.mtx.Unlock()

	drv.freeHook = fn
}

func (drv *UciDrv) allocMinorNoLock() (int, error) {
	for i, used := range drv.minors {
		if !used {
			drv.minors[i] = true
			return i, nil
		}
	}

	return 0, mhiutil.NewNoSpaceError("no free minor numbers")
}

// Creates a node for a hardware channel pair.  The channel must appear in
// the catalog.
func (drv *UciDrv) Probe(chdev hw.ChanDev, name string) (*UciDev, error) {
	entry, ok := LookupCatalog(chdev.Name())
	if !ok {
		return nil, mhiutil.NewInvalidArgError(fmt.Sprintf(
			"channel %s not in catalog", chdev.Name()))
	}

	mtu := mhiutil.IntMin(entry.MaxMtu, chdev.Mtu())
	if mtu <= UCI_BUF_OVERHEAD {
		return nil, mhiutil.NewInvalidArgError(fmt.Sprintf(
			"channel %s mtu too small: %d", chdev.Name(), mtu))
	}

	drv.mtx.Lock()
	defer drv.mtx.Unlock()

	minor, err := drv.allocMinorNoLock()
	if err != nil {
		return nil, err
	}

	dev := newUciDev(drv, chdev, name, minor, mtu)
	drv.devs[minor] = dev
	chdev.Bind(dev)

	dev.log.Debugf("node created; mtu=%d actual_mtu=%d", dev.mtu,
		dev.actualMtu)

	return dev, nil
}

// Handles removal of a node's hardware channel.  The node disappears
// immediately; its memory is released now or at its last close.
func (drv *UciDrv) Remove(dev *UciDev) {
	drv.mtx.Lock()
	defer drv.mtx.Unlock()

	if drv.devs[dev.minor] == dev {
		delete(drv.devs, dev.minor)
	}

	if dev.remove() {
		drv.releaseNoLock(dev)
	}
}

// Removes every node.
func (drv *UciDrv) RemoveAll() {
	for _, dev := range drv.List() {
		drv.Remove(dev)
	}
}

func (drv *UciDrv) releaseNoLock(dev *UciDev) {
	drv.minors[dev.minor] = false
	dev.log.Debugf("node released")

	if drv.freeHook != nil {
		drv.freeHook(dev)
	}
}

func (drv *UciDrv) release(dev *UciDev) {
	drv.mtx.Lock()
	defer drv.mtx.Unlock()

	drv.releaseNoLock(dev)
}

func (drv *UciDrv) Open(minor int) (*File, error) {
	if minor < 0 || minor >= MAX_UCI_DEVICES {
		return nil, mhiutil.NewNoDevError(fmt.Sprintf(
			"invalid minor number: %d", minor))
	}

	drv.mtx.Lock()
	defer drv.mtx.Unlock()

	dev := drv.devs[minor]
	if dev == nil {
		return nil, mhiutil.NewNoDevError(fmt.Sprintf(
			"no node with minor %d", minor))
	}

	if err := dev.open(); err != nil {
		return nil, err
	}

	return &File{dev: dev}, nil
}

func (drv *UciDrv) OpenName(name string) (*File, error) {
	dev, err := drv.Lookup(name)
	if err != nil {
		return nil, err
	}

	return drv.Open(dev.minor)
}

// Finds a node by its full name or by its channel name.
func (drv *UciDrv) Lookup(name string) (*UciDev, error) {
	drv.mtx.Lock()
	defer drv.mtx.Unlock()

	for _, dev := range drv.devs {
		if dev.name == name || dev.chdev.Name() == name {
			return dev, nil
		}
	}

	return nil, mhiutil.NewNoDevError("no such node: " + name)
}

func (drv *UciDrv) List() []*UciDev {
	drv.mtx.Lock()
	defer drv.mtx.Unlock()

	devs := make([]*UciDev, 0, len(drv.devs))
	for _, dev := range drv.devs {
		devs = append(devs, dev)
	}

	sort.Slice(devs, func(i int, j int) bool {
		return devs[i].minor < devs[j].minor
	})

	return devs
}

func (drv *UciDrv) Alloc() hw.BufAlloc {
	return drv.alloc
}

func nodeLog(name string, minor int) *log.Entry {
	return log.WithFields(log.Fields{
		"node":  name,
		"minor": minor,
	})
}
