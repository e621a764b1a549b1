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


package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"

	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"

	"mynewt.apache.org/mhimgr/mhimgr/mgrutil"
	"mynewt.apache.org/newt/util"
)

const DEV_STORE_VERSION = 1

// A named device.  Only the settings that differ from a default simulated
// device are kept.
type DevEntry struct {
	Name       string `codec:"name"`
	ConnString string `codec:"connstring"`
}

// Parses the entry's settings into a device configuration whose controller
// carries the entry's name.
func (e *DevEntry) Cfg() (*SimConnCfg, error) {
	sc, err := ParseSimConnString(e.ConnString)
	if err != nil {
		return nil, err
	}
	sc.Cntrl.Name = e.Name

	return sc, nil
}

type devStoreFile struct {
	Version int         `codec:"version"`
	Devices []*DevEntry `codec:"devices"`
}

// Persists named devices in a JSON file.
type DevStore struct {
	path    string
	entries map[string]*DevEntry
}

var devStoreHandle = &codec.JsonHandle{Indent: 4}

func NewDevStore(path string) *DevStore {
	return &DevStore{
		path:    path,
		entries: map[string]*DevEntry{},
	}
}

func DefaultDevStorePath() (string, error) {
	dir, err := homedir.Dir()
	if err != nil {
		return "", util.ChildNewtError(err)
	}

	return filepath.Join(dir, mgrutil.ToolInfo.CfgFilename), nil
}

func (ds *DevStore) Path() string {
	return ds.path
}

// Reads the store file.  A missing file is an empty store.  Entries whose
// settings no longer parse are kept so that they can be deleted, but a
// warning is logged.
func (ds *DevStore) Load() error {
	blob, err := ioutil.ReadFile(ds.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return util.ChildNewtError(err)
	}

	var f devStoreFile
	if err := codec.NewDecoderBytes(blob, devStoreHandle).Decode(&f); err != nil {
		return util.FmtNewtError("error reading device store (%s): %s",
			ds.path, err.Error())
	}
	if f.Version != DEV_STORE_VERSION {
		return util.FmtNewtError("device store %s has version %d; "+
			"expected %d", ds.path, f.Version, DEV_STORE_VERSION)
	}

	entries := make(map[string]*DevEntry, len(f.Devices))
	for _, e := range f.Devices {
		if _, err := e.Cfg(); err != nil {
			log.Warnf("device %s: %s", e.Name, err.Error())
		}
		entries[e.Name] = e
	}
	ds.entries = entries

	log.Debugf("Loaded %d devices from %s", len(entries), ds.path)
	return nil
}

func (ds *DevStore) save() error {
	f := devStoreFile{
		Version: DEV_STORE_VERSION,
		Devices: ds.List(),
	}

	var b []byte
	if err := codec.NewEncoderBytes(&b, devStoreHandle).Encode(f); err != nil {
		return util.ChildNewtError(err)
	}

	tmp := ds.path + ".tmp"
	if err := ioutil.WriteFile(tmp, b, 0644); err != nil {
		return util.ChildNewtError(err)
	}
	if err := os.Rename(tmp, ds.path); err != nil {
		os.Remove(tmp)
		return util.ChildNewtError(err)
	}

	return nil
}

// Returns the entries sorted by name.
func (ds *DevStore) List() []*DevEntry {
	list := make([]*DevEntry, 0, len(ds.entries))
	for _, e := range ds.entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i int, j int) bool {
		return list[i].Name < list[j].Name
	})

	return list
}

func (ds *DevStore) Get(name string) (*DevEntry, error) {
	e := ds.entries[name]
	if e == nil {
		return nil, util.FmtNewtError("device \"%s\" doesn't exist", name)
	}

	return e, nil
}

// Adds or replaces a device.  The settings are stored in canonical form.
// A device may not share its location with another stored device, since
// their channel nodes would have the same names.
func (ds *DevStore) Add(name string, connString string) (*SimConnCfg, error) {
	if name == "" {
		return nil, util.NewNewtError("device name required")
	}

	sc, err := ParseSimConnString(connString)
	if err != nil {
		return nil, err
	}
	sc.Cntrl.Name = name

	for _, e := range ds.entries {
		if e.Name == name {
			continue
		}
		other, err := e.Cfg()
		if err != nil {
			continue
		}
		if sc.SameLocation(other) {
			return nil, util.FmtNewtError(
				"device \"%s\" is already at this location", e.Name)
		}
	}

	ds.entries[name] = &DevEntry{
		Name:       name,
		ConnString: FormatSimConnString(sc),
	}
	if err := ds.save(); err != nil {
		return nil, err
	}

	return sc, nil
}

func (ds *DevStore) Delete(name string) error {
	if ds.entries[name] == nil {
		return util.FmtNewtError("device \"%s\" doesn't exist", name)
	}

	delete(ds.entries, name)
	return ds.save()
}

// Builds the configuration of the device to drive.  An empty name selects
// a default simulated device.  A non-empty connString replaces the stored
// settings; extra is appended to them, so its keys take precedence.
func (ds *DevStore) Resolve(name string, connString string,
	extra string) (*SimConnCfg, error) {

	cs := connString
	if name != "" && cs == "" {
		e, err := ds.Get(name)
		if err != nil {
			return nil, err
		}
		cs = e.ConnString
	}

	if extra != "" {
		if cs != "" {
			cs += ","
		}
		cs += extra
	}

	sc, err := ParseSimConnString(cs)
	if err != nil {
		return nil, err
	}
	if name != "" {
		sc.Cntrl.Name = name
	}

	return sc, nil
}

var globalDevStore *DevStore

func GlobalDevStore() *DevStore {
	if globalDevStore == nil {
		panic("device store not initialized")
	}
	return globalDevStore
}

func InitGlobalDevStore() error {
	if globalDevStore != nil {
		return util.NewNewtError("device store initialized twice")
	}

	path, err := DefaultDevStorePath()
	if err != nil {
		return err
	}

	ds := NewDevStore(path)
	if err := ds.Load(); err != nil {
		return err
	}

	globalDevStore = ds
	return nil
}
