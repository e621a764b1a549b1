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

// Package mhiserial exposes a channel node on a serial port, framing each
// channel packet as base64 lines with a length prefix and CRC16 trailer.
package mhiserial

import (
	"bufio"
	"context"
	"encoding/hex"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"

	"mynewt.apache.org/mhimgr/mhixact/mhiutil"
	"mynewt.apache.org/mhimgr/mhixact/uci"
)

type XportCfg struct {
	DevPath     string
	Baud        int
	Mtu         int
	ReadTimeout time.Duration

	// Pause between continuation lines.  Slow consoles have very small
	// receive buffers.
	LineGap time.Duration
}

func NewXportCfg() *XportCfg {
	return &XportCfg{
		Baud:        115200,
		Mtu:         512,
		ReadTimeout: 10 * time.Second,
		LineGap:     20 * time.Millisecond,
	}
}

type PortOpener func(cfg *XportCfg) (io.ReadWriteCloser, error)

func openSerial(cfg *XportCfg) (io.ReadWriteCloser, error) {
	c := &serial.Config{
		Name:        cfg.DevPath,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	}

	port, err := serial.OpenPort(c)
	if err != nil {
		return nil, err
	}

	if err := port.Flush(); err != nil {
		port.Close()
		return nil, err
	}

	return port, nil
}

// Pumps packets between a serial port and an open node until either side
// fails or the context is done.
type Bridge struct {
	cfg  *XportCfg
	f    *uci.File
	open PortOpener
}

func NewBridge(cfg *XportCfg, f *uci.File) *Bridge {
	return &Bridge{
		cfg:  cfg,
		f:    f,
		open: openSerial,
	}
}

// Replaces the serial port with another byte stream.
func (b *Bridge) SetPortOpener(open PortOpener) {
	b.open = open
}

func (b *Bridge) txRaw(port io.Writer, bytes []byte) error {
	log.Debugf("Tx serial\n%s", hex.Dump(bytes))

	_, err := port.Write(bytes)
	return err
}

func (b *Bridge) tx(port io.Writer, pkt []byte) error {
	for i, line := range EncodeFrame(pkt) {
		if i > 0 && b.cfg.LineGap > 0 {
			time.Sleep(b.cfg.LineGap)
		}
		if err := b.txRaw(port, line); err != nil {
			return err
		}
	}

	return nil
}

// Channel to tty.
func (b *Bridge) uplink(ctx context.Context, port io.Writer) error {
	buf := make([]byte, b.cfg.Mtu)

	for {
		n, err := b.f.Read(ctx, buf)
		if err != nil {
			return err
		}

		if err := b.tx(port, buf[:n]); err != nil {
			return err
		}
	}
}

// Tty to channel.
func (b *Bridge) downlink(ctx context.Context, port io.Reader) error {
	dec := NewFrameDecoder(b.cfg.Mtu)
	scanner := bufio.NewScanner(port)

	for {
		for scanner.Scan() {
			pkt, err := dec.Feed(scanner.Bytes())
			if err != nil {
				log.Debugf("dropping serial frame: %s", err.Error())
				continue
			}
			if pkt == nil {
				continue
			}

			if _, err := b.f.Write(ctx, pkt); err != nil {
				return err
			}
		}

		if err := scanner.Err(); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		// EOF here means a read timeout; keep listening.
		scanner = bufio.NewScanner(port)
	}
}

func (b *Bridge) Run(ctx context.Context) error {
	port, err := b.open(b.cfg)
	if err != nil {
		return err
	}

	log.Debugf("bridging %s to %s", b.f.Dev().Name(), b.cfg.DevPath)

	bctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- b.uplink(bctx, port)
	}()
	go func() {
		errCh <- b.downlink(bctx, port)
	}()

	err = <-errCh

	cancel()
	port.Close()
	<-errCh

	if ctx.Err() != nil && (err == nil || mhiutil.IsInterrupted(err)) {
		return nil
	}
	return err
}
