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

package mhisim

import (
	"fmt"
	"sync"
)

// In-memory firmware store.  Records every request so that tests can check
// which images were loaded.
type SimFwStore struct {
	mtx      sync.Mutex
	images   map[string][]byte
	failures map[string]error
	requests []string
}

func NewSimFwStore() *SimFwStore {
	return &SimFwStore{
		images:   map[string][]byte{},
		failures: map[string]error{},
	}
}

func (s *SimFwStore) Add(name string, data []byte) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.images[name] = data
}

// Makes every request for the named image fail with err.
func (s *SimFwStore) Fail(name string, err error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.failures[name] = err
}

func (s *SimFwStore) Request(name string) ([]byte, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.requests = append(s.requests, name)

	if err := s.failures[name]; err != nil {
		return nil, err
	}

	data, ok := s.images[name]
	if !ok {
		return nil, fmt.Errorf("firmware %s not found", name)
	}

	return data, nil
}

func (s *SimFwStore) Requests() []string {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return append([]string(nil), s.requests...)
}

// Generates a recognizable firmware image of the specified size.
func FwPattern(seed byte, size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = seed ^ byte(i) ^ byte(i>>8)
	}
	return b
}
