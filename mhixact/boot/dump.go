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
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/joaojeronimo/go-crc16"
	"github.com/pkg/errors"
	"github.com/ugorji/go/codec"
)

// RAM dump file layout:
//     [4 bytes]  DUMP_MAGIC
//     [4 bytes]  header length, big endian
//     [N bytes]  CBOR-encoded DumpHeader
//     [...]      segment data, in header order
const DUMP_MAGIC = 0x4d484944 // "MHID"
const DUMP_VERSION = 1

type DumpSeg struct {
	Len int    `codec:"len"`
	Crc uint16 `codec:"crc"`
}

type DumpHeader struct {
	Version int       `codec:"version"`
	Ee      string    `codec:"ee"`
	DevName string    `codec:"dev"`
	Time    int64     `codec:"time"`
	Segs    []DumpSeg `codec:"segs"`
}

type Dump struct {
	Hdr  DumpHeader
	Segs [][]byte
}

func NewDump(devName string, ee string, segs [][]byte) *Dump {
	d := &Dump{
		Hdr: DumpHeader{
			Version: DUMP_VERSION,
			Ee:      ee,
			DevName: devName,
			Time:    time.Now().Unix(),
		},
		Segs: segs,
	}

	for _, s := range segs {
		d.Hdr.Segs = append(d.Hdr.Segs, DumpSeg{
			Len: len(s),
			Crc: crc16.Crc16(s),
		})
	}

	return d
}

func (d *Dump) Size() int {
	total := 0
	for _, s := range d.Segs {
		total += len(s)
	}
	return total
}

func WriteDump(w io.Writer, d *Dump) error {
	var hdr []byte
	enc := codec.NewEncoderBytes(&hdr, new(codec.CborHandle))
	if err := enc.Encode(d.Hdr); err != nil {
		return errors.Wrapf(err, "failed to encode dump header")
	}

	pfx := make([]byte, 8)
	binary.BigEndian.PutUint32(pfx[0:4], DUMP_MAGIC)
	binary.BigEndian.PutUint32(pfx[4:8], uint32(len(hdr)))

	if _, err := w.Write(pfx); err != nil {
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	for _, s := range d.Segs {
		if _, err := w.Write(s); err != nil {
			return err
		}
	}

	return nil
}

// Parses a dump file and verifies every segment's CRC.
func ReadDump(r io.Reader) (*Dump, error) {
	pfx := make([]byte, 8)
	if _, err := io.ReadFull(r, pfx); err != nil {
		return nil, errors.Wrapf(err, "failed to read dump prefix")
	}

	if magic := binary.BigEndian.Uint32(pfx[0:4]); magic != DUMP_MAGIC {
		return nil, fmt.Errorf("invalid dump magic: 0x%08x", magic)
	}

	hdrLen := binary.BigEndian.Uint32(pfx[4:8])
	hdr := make([]byte, hdrLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, errors.Wrapf(err, "failed to read dump header")
	}

	d := &Dump{}
	dec := codec.NewDecoder(bytes.NewReader(hdr), new(codec.CborHandle))
	if err := dec.Decode(&d.Hdr); err != nil {
		return nil, errors.Wrapf(err, "failed to decode dump header")
	}

	for i, ds := range d.Hdr.Segs {
		s := make([]byte, ds.Len)
		if _, err := io.ReadFull(r, s); err != nil {
			return nil, errors.Wrapf(err, "failed to read dump segment %d", i)
		}
		if crc := crc16.Crc16(s); crc != ds.Crc {
			return nil, fmt.Errorf(
				"dump segment %d crc mismatch: have=0x%04x want=0x%04x",
				i, crc, ds.Crc)
		}
		d.Segs = append(d.Segs, s)
	}

	return d, nil
}
