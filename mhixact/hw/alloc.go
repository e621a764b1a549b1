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

package hw

import (
	"io/ioutil"
	"path/filepath"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Host memory for channel payloads.
type BufAlloc interface {
	Alloc(n int) ([]byte, error)
	Free(b []byte)
}

// Plain Go heap allocator.  Keeps a count of outstanding buffers so leaks
// show up in diagnostics.
type HeapAlloc struct {
	outstanding int64
}

func NewHeapAlloc() *HeapAlloc {
	return &HeapAlloc{}
}

func (a *HeapAlloc) Alloc(n int) ([]byte, error) {
	atomic.AddInt64(&a.outstanding, 1)
	return make([]byte, n), nil
}

func (a *HeapAlloc) Free(b []byte) {
	if b != nil {
		atomic.AddInt64(&a.outstanding, -1)
	}
}

func (a *HeapAlloc) Outstanding() int {
	return int(atomic.LoadInt64(&a.outstanding))
}

// Loads firmware images from a directory.
type DirFwStore struct {
	Dir string
}

func NewDirFwStore(dir string) *DirFwStore {
	return &DirFwStore{Dir: dir}
}

func (s *DirFwStore) Request(name string) ([]byte, error) {
	path := filepath.Join(s.Dir, name)
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load firmware %s", path)
	}

	return data, nil
}
