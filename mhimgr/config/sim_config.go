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
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"

	"mynewt.apache.org/mhimgr/mhixact/hw"
	"mynewt.apache.org/mhimgr/mhixact/mhictrl"
	"mynewt.apache.org/mhimgr/mhixact/mhidefs"
	"mynewt.apache.org/mhimgr/mhixact/mhisim"
	"mynewt.apache.org/mhimgr/mhixact/uci"
	"mynewt.apache.org/newt/util"
)

// Size of the images a simulated device is given when no firmware
// directory is configured.
const SIM_IMAGE_SIZE = 64 * 1024

type SimConnCfg struct {
	Cntrl mhictrl.CntrlCfg
	Sim   mhisim.SimCfg
	FwDir string
}

func NewSimConnCfg() *SimConnCfg {
	sc := &SimConnCfg{
		Cntrl: mhictrl.NewCntrlCfg(),
		Sim:   mhisim.NewSimCfg(),
	}
	sc.Cntrl.Fw.FwImage = "amss.mbn"
	sc.Sim.Chans = mhisim.DefaultChans
	sc.Sim.RealDelay = true

	return sc
}

func einvalSimConnString(f string, args ...interface{}) error {
	suffix := fmt.Sprintf(f, args...)
	return util.FmtNewtError("Invalid sim connstring; %s", suffix)
}

// Parses NAME:MTU:RING[|NAME:MTU:RING...].  Channel IDs are assigned in
// order, uplink channels taking the even numbers.
func parseChans(v string) ([]mhisim.ChanCfg, error) {
	var chans []mhisim.ChanCfg

	for i, def := range strings.Split(v, "|") {
		parts := strings.Split(def, ":")
		if len(parts) != 3 {
			return nil, einvalSimConnString("Invalid channel: %s", def)
		}

		mtu, err := cast.ToIntE(parts[1])
		if err != nil {
			return nil, einvalSimConnString("Invalid channel mtu: %s", def)
		}
		ring, err := cast.ToIntE(parts[2])
		if err != nil || ring <= 0 {
			return nil, einvalSimConnString("Invalid ring size: %s", def)
		}

		chans = append(chans, mhisim.ChanCfg{
			Name:     parts[0],
			Id:       i * 2,
			Mtu:      mtu,
			RingSize: ring,
		})
	}

	return chans, nil
}

func ParseSimConnString(cs string) (*SimConnCfg, error) {
	sc := NewSimConnCfg()
	fw := &sc.Cntrl.Fw

	if strings.TrimSpace(cs) == "" {
		return sc, nil
	}

	for _, p := range strings.Split(cs, ",") {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, einvalSimConnString("Expected key=value: %s", p)
		}

		k := kv[0]
		v := kv[1]

		var err error
		switch k {
		case "devid":
			sc.Cntrl.DevId, err = cast.ToIntE(v)

		case "domain":
			sc.Cntrl.Domain, err = cast.ToIntE(v)

		case "bus":
			sc.Cntrl.Bus, err = cast.ToIntE(v)

		case "slot":
			sc.Cntrl.Slot, err = cast.ToIntE(v)

		case "fw":
			fw.FwImage = v

		case "fallback":
			fw.FallbackImage = v

		case "edl":
			fw.EdlImage = v

		case "fwdir":
			sc.FwDir = v

		case "fbc":
			fw.FbcDownload, err = cast.ToBoolE(v)
			sc.Sim.Fbc = fw.FbcDownload

		case "sbl_size":
			fw.SblSize, err = cast.ToIntE(v)

		case "seg_size":
			fw.SegSize, err = cast.ToIntE(v)

		case "timeout_ms":
			var ms int
			ms, err = cast.ToIntE(v)
			fw.Timeout = time.Duration(ms) * time.Millisecond

		case "rddm_size":
			fw.RddmSize, err = cast.ToIntE(v)
			sc.Cntrl.RddmSupported = fw.RddmSize > 0

		case "ee":
			sc.Sim.Ee, err = mhidefs.ExecEnvFromString(strings.ToUpper(v))

		case "chans":
			sc.Sim.Chans, err = parseChans(v)
			if err != nil {
				return nil, err
			}

		case "latency_ms":
			var ms int
			ms, err = cast.ToIntE(v)
			sc.Sim.Latency = time.Duration(ms) * time.Millisecond

		case "wake":
			sc.Sim.WakeCapable, err = cast.ToBoolE(v)

		case "loopback":
			sc.Sim.Loopback, err = cast.ToBoolE(v)

		default:
			return nil, einvalSimConnString("Unrecognized key: %s", k)
		}

		if err != nil {
			return nil, einvalSimConnString("Invalid %s: %s", k, v)
		}
	}

	if fw.FbcDownload && fw.SblSize <= 0 {
		return nil, einvalSimConnString("fbc requires sbl_size")
	}

	return sc, nil
}

func chansEqual(a []mhisim.ChanCfg, b []mhisim.ChanCfg) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func formatChans(chans []mhisim.ChanCfg) string {
	defs := make([]string, len(chans))
	for i, c := range chans {
		defs[i] = fmt.Sprintf("%s:%d:%d", c.Name, c.Mtu, c.RingSize)
	}
	return strings.Join(defs, "|")
}

// Renders the settings that differ from a default simulated device, in a
// fixed key order.  ParseSimConnString accepts the result.
func FormatSimConnString(sc *SimConnCfg) string {
	def := NewSimConnCfg()
	fw := sc.Cntrl.Fw
	dfw := def.Cntrl.Fw

	var kvs []string
	add := func(cond bool, k string, v interface{}) {
		if cond {
			kvs = append(kvs, fmt.Sprintf("%s=%v", k, v))
		}
	}

	add(sc.Cntrl.DevId != def.Cntrl.DevId, "devid",
		fmt.Sprintf("0x%x", sc.Cntrl.DevId))
	add(sc.Cntrl.Domain != def.Cntrl.Domain, "domain", sc.Cntrl.Domain)
	add(sc.Cntrl.Bus != def.Cntrl.Bus, "bus", sc.Cntrl.Bus)
	add(sc.Cntrl.Slot != def.Cntrl.Slot, "slot", sc.Cntrl.Slot)
	add(fw.FwImage != dfw.FwImage, "fw", fw.FwImage)
	add(fw.FallbackImage != dfw.FallbackImage, "fallback", fw.FallbackImage)
	add(fw.EdlImage != dfw.EdlImage, "edl", fw.EdlImage)
	add(sc.FwDir != def.FwDir, "fwdir", sc.FwDir)
	add(fw.FbcDownload != dfw.FbcDownload, "fbc", fw.FbcDownload)
	add(fw.SblSize != dfw.SblSize, "sbl_size", fw.SblSize)
	add(fw.SegSize != dfw.SegSize, "seg_size", fw.SegSize)
	add(fw.Timeout != dfw.Timeout, "timeout_ms",
		int64(fw.Timeout/time.Millisecond))
	add(fw.RddmSize != dfw.RddmSize, "rddm_size", fw.RddmSize)
	add(sc.Sim.Ee != def.Sim.Ee, "ee", strings.ToLower(sc.Sim.Ee.String()))
	add(!chansEqual(sc.Sim.Chans, def.Sim.Chans), "chans",
		formatChans(sc.Sim.Chans))
	add(sc.Sim.Latency != def.Sim.Latency, "latency_ms",
		int64(sc.Sim.Latency/time.Millisecond))
	add(sc.Sim.WakeCapable != def.Sim.WakeCapable, "wake",
		sc.Sim.WakeCapable)
	add(sc.Sim.Loopback != def.Sim.Loopback, "loopback", sc.Sim.Loopback)

	return strings.Join(kvs, ",")
}

// Names of the channel nodes the device will get once powered up.
func (sc *SimConnCfg) NodeNames() []string {
	var names []string
	for _, c := range sc.Sim.Chans {
		if _, ok := uci.LookupCatalog(c.Name); ok {
			names = append(names, mhictrl.NodeName(sc.Cntrl, c.Id))
		}
	}
	return names
}

// Two devices at the same location would produce the same node names.
func (sc *SimConnCfg) SameLocation(other *SimConnCfg) bool {
	a := sc.Cntrl
	b := other.Cntrl
	return a.DevId == b.DevId && a.Domain == b.Domain &&
		a.Bus == b.Bus && a.Slot == b.Slot
}

func buildSimFwStore(sc *SimConnCfg) hw.FwStore {
	if sc.FwDir != "" {
		return hw.NewDirFwStore(sc.FwDir)
	}

	store := mhisim.NewSimFwStore()
	names := []string{
		sc.Cntrl.Fw.FwImage,
		sc.Cntrl.Fw.FallbackImage,
		sc.Cntrl.Fw.EdlImage,
	}
	for i, name := range names {
		if name != "" {
			store.Add(name, mhisim.FwPattern(byte(i+1), SIM_IMAGE_SIZE))
		}
	}

	return store
}

// Builds a controller driving a simulated endpoint.  The controller is not
// started.
func BuildSimDevice(sc *SimConnCfg) (*mhictrl.Cntrl, *mhisim.SimPlatform) {
	sp := mhisim.NewSimPlatform(sc.Sim)
	c := mhictrl.NewCntrl(sc.Cntrl, sp, buildSimFwStore(sc), hw.NewHeapAlloc())

	return c, sp
}
