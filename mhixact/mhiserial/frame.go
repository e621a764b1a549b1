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

package mhiserial

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/joaojeronimo/go-crc16"
	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/mhimgr/mhixact/mhiutil"
)

var (
	FRAME_START = []byte{6, 9}
	FRAME_CONT  = []byte{4, 20}
)

// Largest base64 payload carried on one line.  A multiple of 4; together
// with the two-byte designator and the line terminator, every line fits in
// 128 bytes.
const FRAME_LINE_MAX = 124

// Splits a packet into serial lines.  Each returned line includes its
// designator and trailing newline.
func EncodeFrame(data []byte) [][]byte {
	pkt := make([]byte, 2, len(data)+4)
	binary.BigEndian.PutUint16(pkt, uint16(len(data)+2))
	pkt = append(pkt, data...)

	crc := make([]byte, 2)
	binary.BigEndian.PutUint16(crc, crc16.Crc16(data))
	pkt = append(pkt, crc...)

	enc := make([]byte, base64.StdEncoding.EncodedLen(len(pkt)))
	base64.StdEncoding.Encode(enc, pkt)

	var lines [][]byte
	for written := 0; written < len(enc); {
		var line []byte
		if written == 0 {
			line = append(line, FRAME_START...)
		} else {
			line = append(line, FRAME_CONT...)
		}

		n := mhiutil.IntMin(FRAME_LINE_MAX, len(enc)-written)
		line = append(line, enc[written:written+n]...)
		line = append(line, '\n')

		lines = append(lines, line)
		written += n
	}

	return lines
}

// Reassembles packets from serial lines.
type FrameDecoder struct {
	maxLen int
	pkt    []byte
	want   int
}

// maxLen bounds the accepted packet size; 0 means no limit.
func NewFrameDecoder(maxLen int) *FrameDecoder {
	return &FrameDecoder{
		maxLen: maxLen,
	}
}

// Consumes one line (without its newline).  Returns a packet once the line
// completing it arrives, or nil.  Lines without a frame designator are
// console noise and are ignored.
func (fd *FrameDecoder) Feed(line []byte) ([]byte, error) {
	for len(line) > 1 && line[0] == '\r' {
		line = line[1:]
	}

	if len(line) < 2 {
		return nil, nil
	}

	start := line[0] == FRAME_START[0] && line[1] == FRAME_START[1]
	cont := line[0] == FRAME_CONT[0] && line[1] == FRAME_CONT[1]
	if !start && !cont {
		return nil, nil
	}

	data, err := base64.StdEncoding.DecodeString(string(line[2:]))
	if err != nil {
		fd.pkt = nil
		return nil, fmt.Errorf("Couldn't decode base64 string: %s\n"+
			"Packet hex dump:\n%s", line[2:], hex.Dump(line))
	}

	if start {
		if len(data) < 2 {
			fd.pkt = nil
			return nil, nil
		}

		want := int(binary.BigEndian.Uint16(data[0:2]))
		if want < 2 || (fd.maxLen > 0 && want-2 > fd.maxLen) {
			fd.pkt = nil
			return nil, fmt.Errorf("invalid frame length: %d", want)
		}

		fd.pkt = make([]byte, 0, want)
		fd.want = want
		data = data[2:]
	}

	if fd.pkt == nil {
		return nil, nil
	}

	fd.pkt = append(fd.pkt, data...)
	if len(fd.pkt) < fd.want {
		return nil, nil
	}

	pkt := fd.pkt
	fd.pkt = nil

	if len(pkt) > fd.want {
		return nil, fmt.Errorf("frame overrun: have=%d want=%d",
			len(pkt), fd.want)
	}
	if crc16.Crc16(pkt) != 0 {
		return nil, fmt.Errorf("CRC error")
	}

	pkt = pkt[:len(pkt)-2]
	log.Debugf("Decoded input:\n%s", hex.Dump(pkt))

	return pkt, nil
}
