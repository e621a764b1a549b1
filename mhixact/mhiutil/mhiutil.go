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

package mhiutil

import (
	"math"
	"math/rand"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const DURATION_FOREVER time.Duration = math.MaxInt64

var Debug bool

var logFormatter = log.TextFormatter{
	FullTimestamp:   true,
	TimestampFormat: "2006-01-02 15:04:05.999",
	ForceColors:     true,
}

// Verbose per-transfer tracing.  Kept separate from the standard logger so
// that it can be enabled without flooding the main log.
var XferLog = &log.Logger{
	Out:       os.Stderr,
	Formatter: &logFormatter,
	Hooks:     make(log.LevelHooks),
	Level:     log.InfoLevel,
}

func SetLogLevel(level log.Level) {
	log.SetLevel(level)
	log.SetFormatter(&logFormatter)
	XferLog.SetLevel(level)
}

func Assert(cond bool) {
	if Debug && !cond {
		panic("Failed assertion")
	}
}

var seqRand = rand.New(rand.NewSource(time.Now().UnixNano()))
var seqMutex sync.Mutex

// Generates a doorbell sequence number within the specified mask.  The
// result is never zero: the device treats zero as "no transfer".
func NextSeqNum(mask uint32) uint32 {
	if mask == 0 {
		panic("NextSeqNum with empty mask")
	}

	seqMutex.Lock()
	defer seqMutex.Unlock()

	for {
		val := seqRand.Uint32() & mask
		if val != 0 {
			return val
		}
	}
}

func IntMin(a int, b int) int {
	if a < b {
		return a
	} else {
		return b
	}
}
