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
	"fmt"
	"syscall"

	"github.com/pkg/errors"
)

// Represents an expired wait for a device-side transfer (BHI, BHIe or RDDM);
// the doorbell was rung, but the device never reported completion.
type XferTimeoutError struct {
	Text string
}

func NewXferTimeoutError(text string) *XferTimeoutError {
	return &XferTimeoutError{
		Text: text,
	}
}

func FmtXferTimeoutError(format string, args ...interface{}) *XferTimeoutError {
	return NewXferTimeoutError(fmt.Sprintf(format, args...))
}

func (e *XferTimeoutError) Error() string {
	return e.Text
}

func IsXferTimeout(err error) bool {
	_, ok := errors.Cause(err).(*XferTimeoutError)
	return ok
}

// The device explicitly reported an error status.
type DevStatusError struct {
	Text   string
	Status uint32

	// Contents of the device's error / debug registers, if they could be
	// read safely.
	ErrRegs map[string]uint32
}

func NewDevStatusError(status uint32, text string) *DevStatusError {
	return &DevStatusError{
		Status: status,
		Text:   text,
	}
}

func FmtDevStatusError(status uint32, format string,
	args ...interface{}) *DevStatusError {

	return NewDevStatusError(status, fmt.Sprintf(format, args...))
}

func (e *DevStatusError) Error() string {
	return e.Text
}

func IsDevStatus(err error) bool {
	_, ok := errors.Cause(err).(*DevStatusError)
	return ok
}

func ToDevStatus(err error) *DevStatusError {
	if derr, ok := errors.Cause(err).(*DevStatusError); ok {
		return derr
	} else {
		return nil
	}
}

// The channel node is not (or no longer) enabled: the hardware channel was
// removed or the device entered an error state.
type NodeDisabledError struct {
	Text string
}

func NewNodeDisabledError(text string) *NodeDisabledError {
	return &NodeDisabledError{text}
}

func (e *NodeDisabledError) Error() string {
	return e.Text
}

func IsNodeDisabled(err error) bool {
	if err == nil {
		return false
	}

	_, ok := errors.Cause(err).(*NodeDisabledError)
	return ok
}

type NoDevError struct {
	Text string
}

func NewNoDevError(text string) *NoDevError {
	return &NoDevError{text}
}

func (e *NoDevError) Error() string {
	return e.Text
}

func IsNoDev(err error) bool {
	_, ok := errors.Cause(err).(*NoDevError)
	return ok
}

// A blocking wait was abandoned because the caller's context ended.
type InterruptedError struct {
	Text string
}

func NewInterruptedError(text string) *InterruptedError {
	return &InterruptedError{text}
}

func (e *InterruptedError) Error() string {
	return e.Text
}

func IsInterrupted(err error) bool {
	_, ok := errors.Cause(err).(*InterruptedError)
	return ok
}

type InvalidArgError struct {
	Text string
}

func NewInvalidArgError(text string) *InvalidArgError {
	return &InvalidArgError{text}
}

func (e *InvalidArgError) Error() string {
	return e.Text
}

func IsInvalidArg(err error) bool {
	_, ok := errors.Cause(err).(*InvalidArgError)
	return ok
}

type NoMemError struct {
	Text string
}

func NewNoMemError(text string) *NoMemError {
	return &NoMemError{text}
}

func FmtNoMemError(format string, args ...interface{}) *NoMemError {
	return NewNoMemError(fmt.Sprintf(format, args...))
}

func (e *NoMemError) Error() string {
	return e.Text
}

func IsNoMem(err error) bool {
	_, ok := errors.Cause(err).(*NoMemError)
	return ok
}

type NoSpaceError struct {
	Text string
}

func NewNoSpaceError(text string) *NoSpaceError {
	return &NoSpaceError{text}
}

func (e *NoSpaceError) Error() string {
	return e.Text
}

func IsNoSpace(err error) bool {
	_, ok := errors.Cause(err).(*NoSpaceError)
	return ok
}

// A blocked read was woken by a modem line-status change rather than by
// data.  The caller should consult poll / TIOCMGET.
type LineStatusError struct {
	Text  string
	Tiocm uint32
}

func NewLineStatusError(tiocm uint32) *LineStatusError {
	return &LineStatusError{
		Text:  fmt.Sprintf("line status changed; tiocm=0x%x", tiocm),
		Tiocm: tiocm,
	}
}

func (e *LineStatusError) Error() string {
	return e.Text
}

func IsLineStatus(err error) bool {
	_, ok := errors.Cause(err).(*LineStatusError)
	return ok
}

// Register access was refused because the power state does not allow it.
type RegAccessError struct {
	Text string
}

func NewRegAccessError(text string) *RegAccessError {
	return &RegAccessError{text}
}

func FmtRegAccessError(format string, args ...interface{}) *RegAccessError {
	return NewRegAccessError(fmt.Sprintf(format, args...))
}

func (e *RegAccessError) Error() string {
	return e.Text
}

func IsRegAccess(err error) bool {
	_, ok := errors.Cause(err).(*RegAccessError)
	return ok
}

// Indicates an illegal power-state transition, or an operation attempted
// while the device is in an error state.
type PmStateError struct {
	Text string
}

func NewPmStateError(text string) *PmStateError {
	return &PmStateError{text}
}

func FmtPmStateError(format string, args ...interface{}) *PmStateError {
	return NewPmStateError(fmt.Sprintf(format, args...))
}

func (e *PmStateError) Error() string {
	return e.Text
}

func IsPmState(err error) bool {
	if err == nil {
		return false
	}

	_, ok := errors.Cause(err).(*PmStateError)
	return ok
}

// Maps an error onto the errno a character-device user would see.
// Unclassified errors map to EIO.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}

	switch errors.Cause(err).(type) {
	case *XferTimeoutError:
		return syscall.ETIMEDOUT
	case *DevStatusError, *NodeDisabledError, *RegAccessError,
		*PmStateError, *LineStatusError:
		return syscall.EIO
	case *NoDevError:
		return syscall.ENODEV
	case *InterruptedError:
		return syscall.EINTR
	case *InvalidArgError:
		return syscall.EINVAL
	case *NoMemError:
		return syscall.ENOMEM
	case *NoSpaceError:
		return syscall.ENOSPC
	default:
		return syscall.EIO
	}
}
