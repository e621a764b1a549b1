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

package mhidefs

import (
	"fmt"
)

// Host-side power management state of an MHI device.
type PmState int

const (
	PM_STATE_DISABLE PmState = iota
	PM_STATE_POR
	PM_STATE_READY
	PM_STATE_M0
	PM_STATE_SYS_ERR_DETECT
	PM_STATE_SYS_ERR_PROCESS
	PM_STATE_SHUTDOWN_PROCESS
	PM_STATE_FW_DL_ERR
	PM_STATE_SHUTDOWN_NO_ACCESS
	PM_STATE_LD_ERR_FATAL_DETECT
)

var pmStateNameMap = map[PmState]string{
	PM_STATE_DISABLE:             "DISABLE",
	PM_STATE_POR:                 "RESET",
	PM_STATE_READY:               "READY",
	PM_STATE_M0:                  "M0",
	PM_STATE_SYS_ERR_DETECT:      "SYS_ERR_DETECT",
	PM_STATE_SYS_ERR_PROCESS:     "SYS_ERR_PROCESS",
	PM_STATE_SHUTDOWN_PROCESS:    "SHUTDOWN_PROCESS",
	PM_STATE_FW_DL_ERR:           "FW_DL_ERR",
	PM_STATE_SHUTDOWN_NO_ACCESS:  "SHUTDOWN_NO_ACCESS",
	PM_STATE_LD_ERR_FATAL_DETECT: "LD_ERR_FATAL_DETECT",
}

func (s PmState) String() string {
	if name, ok := pmStateNameMap[s]; ok {
		return name
	}
	return fmt.Sprintf("PM_STATE(%d)", int(s))
}

// Once a device is in an error state, only a reset transition brings it
// back.
func (s PmState) InError() bool {
	return s >= PM_STATE_FW_DL_ERR
}

func (s PmState) RegAccessValid() bool {
	return s >= PM_STATE_POR && s <= PM_STATE_FW_DL_ERR
}

func (s PmState) IsSysErr() bool {
	return s == PM_STATE_SYS_ERR_DETECT || s == PM_STATE_SYS_ERR_PROCESS
}

// Execution environment reported by the device.
type ExecEnv int

const (
	EE_PBL ExecEnv = iota
	EE_SBL
	EE_AMSS
	EE_RDDM
	EE_WFW
	EE_PTHRU
	EE_EDL
	EE_MAX
	EE_NOT_SUPPORTED
)

var execEnvNameMap = map[ExecEnv]string{
	EE_PBL:           "PBL",
	EE_SBL:           "SBL",
	EE_AMSS:          "AMSS",
	EE_RDDM:          "RDDM",
	EE_WFW:           "WFW",
	EE_PTHRU:         "PASS THRU",
	EE_EDL:           "EDL",
	EE_MAX:           "INVALID_EE",
	EE_NOT_SUPPORTED: "NOT SUPPORTED",
}

func (ee ExecEnv) String() string {
	if name, ok := execEnvNameMap[ee]; ok {
		return name
	}
	return fmt.Sprintf("EE(%d)", int(ee))
}

func ExecEnvFromString(s string) (ExecEnv, error) {
	for k, v := range execEnvNameMap {
		if s == v {
			return k, nil
		}
	}

	return EE_MAX, fmt.Errorf("invalid execution environment: %s", s)
}

// Indicates whether the device is still in its primary boot loader and
// therefore expects an image over BHI.
func (ee ExecEnv) InPbl() bool {
	return ee == EE_PBL || ee == EE_PTHRU || ee == EE_EDL
}

// MHI state as seen in the device's MHISTATUS register.
type DevState int

const (
	DEV_STATE_RESET   DevState = 0x0
	DEV_STATE_READY   DevState = 0x1
	DEV_STATE_M0      DevState = 0x2
	DEV_STATE_SYS_ERR DevState = 0xff
)

var devStateNameMap = map[DevState]string{
	DEV_STATE_RESET:   "RESET",
	DEV_STATE_READY:   "READY",
	DEV_STATE_M0:      "M0",
	DEV_STATE_SYS_ERR: "SYS_ERR",
}

func (s DevState) String() string {
	if name, ok := devStateNameMap[s]; ok {
		return name
	}
	return fmt.Sprintf("DEV_STATE(%d)", int(s))
}

// Reasons passed to status callbacks.
type CbReason int

const (
	CB_FALLBACK_IMG CbReason = iota
	CB_EE_RDDM
	CB_EE_MISSION_MODE
	CB_SYS_ERROR
	CB_FATAL_ERROR
	CB_DTR_SIGNAL
)

var cbReasonNameMap = map[CbReason]string{
	CB_FALLBACK_IMG:    "fallback-img",
	CB_EE_RDDM:         "ee-rddm",
	CB_EE_MISSION_MODE: "ee-mission-mode",
	CB_SYS_ERROR:       "sys-error",
	CB_FATAL_ERROR:     "fatal-error",
	CB_DTR_SIGNAL:      "dtr-signal",
}

func (r CbReason) String() string {
	if name, ok := cbReasonNameMap[r]; ok {
		return name
	}
	return fmt.Sprintf("CB(%d)", int(r))
}

// Transfer direction of one half of a channel pair.
type Direction int

const (
	DIR_UL Direction = iota // host to device
	DIR_DL                  // device to host
)

func (d Direction) String() string {
	if d == DIR_UL {
		return "ul"
	}
	return "dl"
}

type XferFlags int

const (
	XFER_FLAG_EOT XferFlags = iota
	XFER_FLAG_CHAIN
)

func (f XferFlags) String() string {
	if f == XFER_FLAG_CHAIN {
		return "chain"
	}
	return "eot"
}
