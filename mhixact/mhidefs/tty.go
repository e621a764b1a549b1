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

// Modem control line bits, as carried in TIOCM* ioctls.
const (
	TIOCM_LE  = 0x001
	TIOCM_DTR = 0x002
	TIOCM_RTS = 0x004
	TIOCM_ST  = 0x008
	TIOCM_SR  = 0x010
	TIOCM_CTS = 0x020
	TIOCM_CD  = 0x040
	TIOCM_RI  = 0x080
	TIOCM_DSR = 0x100
)

// ioctl numbers understood by channel nodes.
const (
	TIOCMGET = 0x5415
	TIOCMBIS = 0x5416
	TIOCMBIC = 0x5417
	TIOCMSET = 0x5418
)

// Poll readiness bits.
type PollMask uint32

const (
	POLLIN     PollMask = 0x0001
	POLLPRI    PollMask = 0x0002
	POLLOUT    PollMask = 0x0004
	POLLERR    PollMask = 0x0008
	POLLRDNORM PollMask = 0x0040
	POLLWRNORM PollMask = 0x0100
)

func (m PollMask) Readable() bool {
	return m&POLLIN != 0
}

func (m PollMask) Writable() bool {
	return m&POLLOUT != 0
}

func (m PollMask) Priority() bool {
	return m&POLLPRI != 0
}

func (m PollMask) Error() bool {
	return m&POLLERR != 0
}

func (m PollMask) String() string {
	s := ""
	add := func(set bool, name string) {
		if set {
			if s != "" {
				s += "|"
			}
			s += name
		}
	}
	add(m.Readable(), "in")
	add(m.Priority(), "pri")
	add(m.Writable(), "out")
	add(m.Error(), "err")
	if s == "" {
		s = "none"
	}
	return s
}
