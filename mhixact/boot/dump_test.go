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
	"bytes"
	"testing"

	"mynewt.apache.org/mhimgr/mhixact/mhisim"
)

func TestDumpFile(t *testing.T) {
	segs := [][]byte{
		mhisim.DumpPattern(0, 4096),
		mhisim.DumpPattern(1, 4096),
		mhisim.DumpPattern(2, 100),
	}
	d := NewDump("mhi_0306_00.01.00", "RDDM", segs)

	var buf bytes.Buffer
	if err := WriteDump(&buf, d); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	rd, err := ReadDump(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	if rd.Hdr.DevName != d.Hdr.DevName || rd.Hdr.Ee != "RDDM" {
		t.Fatalf("header mismatch: %+v", rd.Hdr)
	}
	if rd.Size() != 4096+4096+100 {
		t.Fatalf("unexpected dump size: %d", rd.Size())
	}
	for i := range segs {
		if !bytes.Equal(rd.Segs[i], segs[i]) {
			t.Fatalf("segment %d differs", i)
		}
	}
}

func TestDumpFileCorrupt(t *testing.T) {
	d := NewDump("dev", "RDDM", [][]byte{mhisim.DumpPattern(0, 512)})

	var buf bytes.Buffer
	if err := WriteDump(&buf, d); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	b := buf.Bytes()
	b[len(b)-1] ^= 0xff

	if _, err := ReadDump(bytes.NewReader(b)); err == nil {
		t.Fatalf("corrupt segment not detected")
	}

	if _, err := ReadDump(bytes.NewReader([]byte("garbage!"))); err == nil {
		t.Fatalf("bad magic not detected")
	}
}
