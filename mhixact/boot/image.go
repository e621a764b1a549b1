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
	"encoding/binary"
	"fmt"

	"mynewt.apache.org/mhimgr/mhixact/hw"
	"mynewt.apache.org/mhimgr/mhixact/mhidefs"
	"mynewt.apache.org/mhimgr/mhixact/mhiutil"
)

// Number of DMA segments needed to stage an image of imgLen bytes in
// segSize-byte pieces: one per data chunk plus one for the vector table.
func ComputeSegments(imgLen int, segSize int) int {
	return (imgLen+segSize-1)/segSize + 1
}

// A segmented image staged in DMA memory.  The final segment holds the
// BHIe vector table; it has one entry per preceding data segment.
type ImageInfo struct {
	Segs []*hw.DmaBuf
}

// Allocates the segments for an image of imgLen bytes.  On failure, any
// segments already allocated are freed.
func AllocImageInfo(dma hw.DmaAlloc, imgLen int,
	segSize int) (*ImageInfo, error) {

	if imgLen <= 0 || segSize <= 0 {
		return nil, mhiutil.NewInvalidArgError(fmt.Sprintf(
			"invalid image geometry: len=%d seg_size=%d", imgLen, segSize))
	}

	numSegs := ComputeSegments(imgLen, segSize)
	img := &ImageInfo{
		Segs: make([]*hw.DmaBuf, 0, numSegs),
	}

	for i := 0; i < numSegs; i++ {
		size := segSize
		if i == numSegs-1 {
			size = i * mhidefs.VECTOR_ENTRY_SIZE
		}

		buf, err := dma.Alloc(size)
		if err != nil {
			img.Free(dma)
			return nil, mhiutil.FmtNoMemError(
				"failed to allocate image segment %d/%d (%d bytes): %s",
				i, numSegs, size, err.Error())
		}
		img.Segs = append(img.Segs, buf)
	}

	return img, nil
}

func (img *ImageInfo) Entries() int {
	return len(img.Segs) - 1
}

func (img *ImageInfo) VectorTable() *hw.DmaBuf {
	return img.Segs[len(img.Segs)-1]
}

// Capacity of the data segments, in bytes.
func (img *ImageInfo) Capacity() int {
	total := 0
	for _, seg := range img.Segs[:img.Entries()] {
		total += seg.Len()
	}
	return total
}

func (img *ImageInfo) setEntry(idx int, addr uint64, size int) {
	vec := img.VectorTable().Buf[idx*mhidefs.VECTOR_ENTRY_SIZE:]
	binary.LittleEndian.PutUint64(vec[0:8], addr)
	binary.LittleEndian.PutUint64(vec[8:16], uint64(size))
}

// Returns the bus address and size recorded in the specified vector entry.
func (img *ImageInfo) Entry(idx int) (uint64, int) {
	vec := img.VectorTable().Buf[idx*mhidefs.VECTOR_ENTRY_SIZE:]
	return binary.LittleEndian.Uint64(vec[0:8]),
		int(binary.LittleEndian.Uint64(vec[8:16]))
}

// Copies data into the data segments and fills in the vector table.
// Segments past the end of the data get zero-length entries.
func (img *ImageInfo) Copy(data []byte, progress ProgressFn) error {
	if len(data) > img.Capacity() {
		return mhiutil.NewInvalidArgError(fmt.Sprintf(
			"image too large for staging area: len=%d cap=%d",
			len(data), img.Capacity()))
	}

	off := 0
	for i, seg := range img.Segs[:img.Entries()] {
		chunk := mhiutil.IntMin(len(data)-off, seg.Len())
		copy(seg.Buf, data[off:off+chunk])
		img.setEntry(i, seg.Addr, chunk)
		off += chunk

		if progress != nil {
			progress(STAGE_COPY, off, len(data))
		}
	}

	return nil
}

// Places every byte described by the vector table into a single slice, in
// entry order.
func (img *ImageInfo) Gather() []byte {
	var data []byte
	for i, seg := range img.Segs[:img.Entries()] {
		_, size := img.Entry(i)
		data = append(data, seg.Buf[:mhiutil.IntMin(size, seg.Len())]...)
	}

	return data
}

func (img *ImageInfo) Free(dma hw.DmaAlloc) {
	for _, seg := range img.Segs {
		dma.Free(seg)
	}
	img.Segs = nil
}
