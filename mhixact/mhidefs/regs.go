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

// Register banks exposed by an MHI device.
type RegBase int

const (
	REG_BASE_MHI RegBase = iota
	REG_BASE_BHI
	REG_BASE_BHIE
)

func (b RegBase) String() string {
	switch b {
	case REG_BASE_MHI:
		return "mhi"
	case REG_BASE_BHI:
		return "bhi"
	case REG_BASE_BHIE:
		return "bhie"
	default:
		return "???"
	}
}

// MHI control registers.
const (
	MHICTRL                 = 0x38
	MHICTRL_MHISTATE_MASK   = 0x0000ff00
	MHICTRL_MHISTATE_SHIFT  = 8
	MHISTATUS               = 0x48
	MHISTATUS_MHISTATE_MASK = 0x0000ff00
	MHISTATUS_MHISTATE_SHFT = 8

	MHI_SOC_RESET_REQ_OFFSET = 0xb0
	MHI_SOC_RESET_REQ        = 1 << 0
)

// BHI registers.
const (
	BHI_BHIVERSION_MINOR = 0x00
	BHI_BHIVERSION_MAJOR = 0x04
	BHI_IMGADDR_LOW      = 0x08
	BHI_IMGADDR_HIGH     = 0x0c
	BHI_IMGSIZE          = 0x10
	BHI_IMGTXDB          = 0x18
	BHI_INTVEC           = 0x20
	BHI_EXECENV          = 0x28
	BHI_STATUS           = 0x2c
	BHI_ERRCODE          = 0x34
	BHI_ERRDBG1          = 0x38
	BHI_ERRDBG2          = 0x3c
	BHI_ERRDBG3          = 0x40
	BHI_SERIALNU         = 0x44

	BHI_TXDB_SEQNUM_BMSK = 0x3fffffff
	BHI_TXDB_SEQNUM_SHFT = 0

	BHI_STATUS_MASK    = 0xc0000000
	BHI_STATUS_SHIFT   = 30
	BHI_STATUS_RESET   = 0
	BHI_STATUS_SUCCESS = 2
	BHI_STATUS_ERROR   = 3
)

// BHIe registers.
const (
	BHIE_MSMSOCID_OFFS      = 0x00
	BHIE_TXVECADDR_LOW_OFFS = 0x2c
	BHIE_TXVECADDR_HIGH_OFF = 0x30
	BHIE_TXVECSIZE_OFFS     = 0x34
	BHIE_TXVECDB_OFFS       = 0x3c
	BHIE_TXVECSTATUS_OFFS   = 0x44
	BHIE_RXVECADDR_LOW_OFFS = 0x60
	BHIE_RXVECADDR_HIGH_OFF = 0x64
	BHIE_RXVECSIZE_OFFS     = 0x68
	BHIE_RXVECDB_OFFS       = 0x70
	BHIE_RXVECSTATUS_OFFS   = 0x78

	// TX and RX vector doorbell / status registers share one layout.
	BHIE_VECDB_SEQNUM_BMSK     = 0x3fffffff
	BHIE_VECDB_SEQNUM_SHFT     = 0
	BHIE_VECSTATUS_SEQNUM_BMSK = 0x3fffffff
	BHIE_VECSTATUS_SEQNUM_SHFT = 0
	BHIE_VECSTATUS_STATUS_BMSK = 0xc0000000
	BHIE_VECSTATUS_STATUS_SHFT = 30

	BHIE_VECSTATUS_STATUS_RESET      = 0
	BHIE_VECSTATUS_STATUS_XFER_COMPL = 2
	BHIE_VECSTATUS_STATUS_ERROR      = 3
)

// Size of one BHIe vector table entry: little-endian u64 bus address
// followed by little-endian u64 length.
const VECTOR_ENTRY_SIZE = 16

// Encoding of BHI_EXECENV values.  The device reports these raw numbers;
// ExecEnv is the host's view.
var ExecEnvDevMap = map[uint32]ExecEnv{
	0x0: EE_PBL,
	0x1: EE_SBL,
	0x2: EE_AMSS,
	0x3: EE_RDDM,
	0x4: EE_WFW,
	0x5: EE_PTHRU,
	0x6: EE_EDL,
}

func ExecEnvFromDev(raw uint32) ExecEnv {
	if ee, ok := ExecEnvDevMap[raw]; ok {
		return ee
	}
	return EE_NOT_SUPPORTED
}

func ExecEnvToDev(ee ExecEnv) uint32 {
	for k, v := range ExecEnvDevMap {
		if v == ee {
			return k
		}
	}
	return 0xffffffff
}
