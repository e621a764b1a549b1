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

package uci

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"syscall"
	"testing"
	"time"

	"mynewt.apache.org/mhimgr/mhixact/hw"
	. "mynewt.apache.org/mhimgr/mhixact/mhidefs"
	"mynewt.apache.org/mhimgr/mhixact/mhisim"
	"mynewt.apache.org/mhimgr/mhixact/mhiutil"
)

type testNode struct {
	sp    *mhisim.SimPlatform
	sc    *mhisim.SimChan
	alloc *hw.HeapAlloc
	drv   *UciDrv
	dev   *UciDev
}

func newTestNodeCfg(t *testing.T, scfg mhisim.SimCfg,
	ccfg mhisim.ChanCfg) *testNode {

	scfg.Chans = []mhisim.ChanCfg{ccfg}

	tn := &testNode{
		sp:    mhisim.NewSimPlatform(scfg),
		alloc: hw.NewHeapAlloc(),
	}
	tn.sc = tn.sp.Chan(ccfg.Name)
	tn.drv = NewUciDrv(tn.alloc)

	dev, err := tn.drv.Probe(tn.sc, "mhi_test_pipe_"+ccfg.Name)
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	tn.dev = dev

	return tn
}

func newTestNode(t *testing.T, mtu int, ring int) *testNode {
	return newTestNodeCfg(t, mhisim.NewSimCfg(), mhisim.ChanCfg{
		Name:     "LOOPBACK",
		Mtu:      mtu,
		RingSize: ring,
	})
}

func (tn *testNode) open(t *testing.T) *File {
	f, err := tn.drv.Open(tn.dev.Minor())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	return f
}

func payload(seed int, size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(seed*7 + i)
	}
	return b
}

func waitErr(t *testing.T, ch <-chan error, what string) error {
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("%s did not return", what)
		return nil
	}
}

func TestFifoOrder(t *testing.T) {
	tn := newTestNode(t, 0x1000, 8)
	f := tn.open(t)
	defer f.Close()

	var sent []byte
	for i, size := range []int{10, 4064, 1, 333, 2000} {
		p := payload(i, size)
		if err := tn.sc.Inject(p); err != nil {
			t.Fatalf("inject failed: %v", err)
		}
		sent = append(sent, p...)
	}

	for _, chunk := range []int{1, 7, 100, 4096} {
		tn2 := newTestNode(t, 0x1000, 8)
		f2 := tn2.open(t)

		var want []byte
		for i, size := range []int{10, 4064, 1, 333, 2000} {
			p := payload(i, size)
			tn2.sc.Inject(p)
			want = append(want, p...)
		}

		var got []byte
		buf := make([]byte, chunk)
		for len(got) < len(want) {
			n, err := f2.Read(context.Background(), buf)
			if err != nil {
				t.Fatalf("read failed: %v", err)
			}
			got = append(got, buf[:n]...)
		}

		if !bytes.Equal(got, want) {
			t.Fatalf("data mismatch with read size %d", chunk)
		}
		f2.Close()
	}

	// One buffer per read when the reader's buffer is large enough.
	buf := make([]byte, 8192)
	off := 0
	for i, size := range []int{10, 4064, 1, 333, 2000} {
		n, err := f.Read(context.Background(), buf)
		if err != nil {
			t.Fatalf("read %d failed: %v", i, err)
		}
		if n != size {
			t.Fatalf("read %d returned %d bytes; want %d", i, n, size)
		}
		if !bytes.Equal(buf[:n], sent[off:off+n]) {
			t.Fatalf("read %d data mismatch", i)
		}
		off += n
	}
}

func TestPartialReadAccounting(t *testing.T) {
	tests := []struct {
		l     int
		reads []int
	}{
		{100, []int{100}},
		{100, []int{1, 99}},
		{100, []int{30, 30, 30, 30}},
		{4064, []int{4000, 4000}},
		{1, []int{5}},
		{2048, []int{1024, 512, 256, 256}},
	}

	for i, test := range tests {
		tn := newTestNode(t, 0x1000, 4)
		f := tn.open(t)

		data := payload(i, test.l)
		if err := tn.sc.Inject(data); err != nil {
			t.Fatalf("[%d] inject failed: %v", i, err)
		}
		if q := tn.sc.DlQueued(); q != 3 {
			t.Fatalf("[%d] unexpected dl queue depth: %d", i, q)
		}

		var got []byte
		for j, r := range test.reads {
			if len(got) == test.l {
				break
			}

			buf := make([]byte, r)
			n, err := f.Read(context.Background(), buf)
			if err != nil {
				t.Fatalf("[%d] read %d failed: %v", i, j, err)
			}
			got = append(got, buf[:n]...)

			want := 3
			if len(got) == test.l {
				want = 4
			}
			if q := tn.sc.DlQueued(); q != want {
				t.Fatalf("[%d] read %d: dl queue depth %d; want %d",
					i, j, q, want)
			}
		}

		if !bytes.Equal(got, data) {
			t.Fatalf("[%d] data mismatch: have=%d bytes want=%d",
				i, len(got), test.l)
		}

		f.Close()
		if n := tn.alloc.Outstanding(); n != 0 {
			t.Fatalf("[%d] %d buffers leaked", i, n)
		}
	}
}

func TestWriteChunking(t *testing.T) {
	mtus := []int{64, 100, 0x1000}
	lens := []int{1, 63, 64, 65, 1000, 10000}

	for _, mtu := range mtus {
		for _, w := range lens {
			tn := newTestNode(t, mtu, 256)
			f := tn.open(t)

			data := payload(w, w)
			n, err := f.Write(context.Background(), data)
			if err != nil {
				t.Fatalf("mtu=%d len=%d: write failed: %v", mtu, w, err)
			}
			if n != w {
				t.Fatalf("mtu=%d len=%d: wrote %d", mtu, w, n)
			}

			subs := tn.sc.Submissions()
			var got []byte
			for i, s := range subs {
				if len(s.Data) > mtu {
					t.Fatalf("mtu=%d len=%d: chunk %d too large: %d",
						mtu, w, i, len(s.Data))
				}
				last := i == len(subs)-1
				if last != (s.Flags == XFER_FLAG_EOT) {
					t.Fatalf("mtu=%d len=%d: chunk %d has flags %s",
						mtu, w, i, s.Flags)
				}
				got = append(got, s.Data...)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("mtu=%d len=%d: submitted data differs", mtu, w)
			}

			f.Close()
			if n := tn.alloc.Outstanding(); n != 0 {
				t.Fatalf("mtu=%d len=%d: %d buffers leaked", mtu, w, n)
			}
		}
	}
}

func TestWriteSplitTwoDescriptors(t *testing.T) {
	tn := newTestNode(t, 4096, 2)
	tn.sc.HoldUl(true)
	f := tn.open(t)
	defer f.Close()

	n, err := f.Write(context.Background(), payload(0, 6000))
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if n != 6000 {
		t.Fatalf("write returned %d; want 6000", n)
	}

	subs := tn.sc.Submissions()
	if len(subs) != 2 {
		t.Fatalf("%d chunks submitted; want 2", len(subs))
	}
	if len(subs[0].Data) != 4096 || subs[0].Flags != XFER_FLAG_CHAIN {
		t.Fatalf("chunk 1: len=%d flags=%s", len(subs[0].Data),
			subs[0].Flags)
	}
	if len(subs[1].Data) != 1904 || subs[1].Flags != XFER_FLAG_EOT {
		t.Fatalf("chunk 2: len=%d flags=%s", len(subs[1].Data),
			subs[1].Flags)
	}
}

func TestWriteBlocksForDescriptor(t *testing.T) {
	tn := newTestNode(t, 4096, 1)
	tn.sc.HoldUl(true)
	f := tn.open(t)
	defer f.Close()

	done := make(chan error, 1)
	go func() {
		_, err := f.Write(context.Background(), payload(1, 5000))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if len(tn.sc.Submissions()) != 1 {
		t.Fatalf("writer did not block on full ring")
	}

	tn.sc.CompleteUl(1)
	if err := waitErr(t, done, "write"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if len(tn.sc.Submissions()) != 2 {
		t.Fatalf("second chunk not submitted")
	}
}

func waitSubmissions(t *testing.T, tn *testNode, n int) {
	deadline := time.Now().Add(time.Second)
	for len(tn.sc.Submissions()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("%d chunks submitted; want %d",
				len(tn.sc.Submissions()), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWritersDoNotInterleave(t *testing.T) {
	tn := newTestNode(t, 4096, 1)
	tn.sc.HoldUl(true)
	f := tn.open(t)
	defer f.Close()

	first := payload(1, 5000)
	second := payload(2, 100)

	done1 := make(chan error, 1)
	go func() {
		_, err := f.Write(context.Background(), first)
		done1 <- err
	}()
	waitSubmissions(t, tn, 1)

	done2 := make(chan error, 1)
	go func() {
		_, err := f.Write(context.Background(), second)
		done2 <- err
	}()
	time.Sleep(20 * time.Millisecond)

	// One descriptor frees up; only the first writer may take it.
	tn.sc.CompleteUl(1)
	if err := waitErr(t, done1, "first write"); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if len(tn.sc.Submissions()) != 2 {
		t.Fatalf("%d chunks submitted; want 2", len(tn.sc.Submissions()))
	}

	tn.sc.CompleteUl(1)
	if err := waitErr(t, done2, "second write"); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	subs := tn.sc.Submissions()
	if len(subs) != 3 {
		t.Fatalf("%d chunks submitted; want 3", len(subs))
	}
	got := append(append([]byte(nil), subs[0].Data...), subs[1].Data...)
	if !bytes.Equal(got, first) {
		t.Fatalf("first write's chunks interleaved")
	}
	if !bytes.Equal(subs[2].Data, second) {
		t.Fatalf("second write's data misplaced")
	}
}

func TestWriteInterruptedWaitingForWriter(t *testing.T) {
	tn := newTestNode(t, 4096, 1)
	tn.sc.HoldUl(true)
	f := tn.open(t)
	defer f.Close()

	// Fill the ring, then block a writer on it.
	if _, err := f.Write(context.Background(), payload(1, 10)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	blocked := make(chan error, 1)
	go func() {
		_, err := f.Write(context.Background(), payload(2, 10))
		blocked <- err
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(),
		20*time.Millisecond)
	defer cancel()
	if _, err := f.Write(ctx, payload(3, 10)); !mhiutil.IsInterrupted(err) {
		t.Fatalf("expected interrupted write; got %v", err)
	}

	tn.sc.CompleteUl(1)
	if err := waitErr(t, blocked, "write"); err != nil {
		t.Fatalf("blocked write failed: %v", err)
	}
}

func TestDisableWakesAll(t *testing.T) {
	tn := newTestNode(t, 4096, 1)
	tn.sc.HoldUl(true)
	f := tn.open(t)
	defer f.Close()

	rdone := make(chan error, 1)
	go func() {
		_, err := f.Read(context.Background(), make([]byte, 100))
		rdone <- err
	}()

	var written int
	wdone := make(chan error, 1)
	go func() {
		var err error
		written, err = f.Write(context.Background(), payload(2, 8192))
		wdone <- err
	}()

	time.Sleep(20 * time.Millisecond)
	tn.drv.Remove(tn.dev)

	if err := waitErr(t, rdone, "read"); !mhiutil.IsNodeDisabled(err) {
		t.Fatalf("reader: expected disabled error; got %v", err)
	}
	if err := waitErr(t, wdone, "write"); !mhiutil.IsNodeDisabled(err) {
		t.Fatalf("writer: expected disabled error; got %v", err)
	}
	if written != 4096 {
		t.Fatalf("writer reported %d bytes; want 4096", written)
	}
}

func TestCloseRemoveRace(t *testing.T) {
	scfg := mhisim.NewSimCfg()
	scfg.Chans = []mhisim.ChanCfg{{Name: "DUN", Mtu: 0x1000, RingSize: 2}}
	sp := mhisim.NewSimPlatform(scfg)
	sc := sp.Chan("DUN")
	alloc := hw.NewHeapAlloc()
	drv := NewUciDrv(alloc)

	var mtx sync.Mutex
	frees := map[*UciDev]int{}
	drv.SetFreeHook(func(dev *UciDev) {
		mtx.Lock()
		frees[dev]++
		mtx.Unlock()
	})

	const iters = 200
	for i := 0; i < iters; i++ {
		dev, err := drv.Probe(sc, "mhi_dun")
		if err != nil {
			t.Fatalf("[%d] probe failed: %v", i, err)
		}
		f, err := drv.Open(dev.Minor())
		if err != nil {
			t.Fatalf("[%d] open failed: %v", i, err)
		}

		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			<-start
			f.Close()
			wg.Done()
		}()
		go func() {
			<-start
			drv.Remove(dev)
			wg.Done()
		}()
		close(start)
		wg.Wait()
	}

	if len(frees) != iters {
		t.Fatalf("%d nodes released; want %d", len(frees), iters)
	}
	for dev, n := range frees {
		if n != 1 {
			t.Fatalf("node %s released %d times", dev.Name(), n)
		}
	}
	if n := alloc.Outstanding(); n != 0 {
		t.Fatalf("%d buffers leaked", n)
	}
}

func TestReleaseOrder(t *testing.T) {
	// Removal first: the last close releases.
	tn := newTestNode(t, 0x1000, 2)
	frees := 0
	tn.drv.SetFreeHook(func(dev *UciDev) { frees++ })

	f := tn.open(t)
	tn.drv.Remove(tn.dev)
	if frees != 0 {
		t.Fatalf("node released with an open handle")
	}
	if _, err := tn.drv.Open(tn.dev.Minor()); !mhiutil.IsNoDev(err) {
		t.Fatalf("removed node opened; err=%v", err)
	}
	f.Close()
	if frees != 1 {
		t.Fatalf("last close did not release node")
	}
	f.Close()
	if frees != 1 {
		t.Fatalf("second close released node again")
	}

	// Close first: removal releases.
	tn = newTestNode(t, 0x1000, 2)
	frees = 0
	tn.drv.SetFreeHook(func(dev *UciDev) { frees++ })

	f = tn.open(t)
	f.Close()
	if frees != 0 {
		t.Fatalf("enabled node released on close")
	}
	tn.drv.Remove(tn.dev)
	if frees != 1 {
		t.Fatalf("removal did not release node")
	}
	tn.drv.Remove(tn.dev)
	if frees != 1 {
		t.Fatalf("second removal released node again")
	}
}

func TestOpenErrors(t *testing.T) {
	tn := newTestNode(t, 0x1000, 2)

	if _, err := tn.drv.Open(MAX_UCI_DEVICES); !mhiutil.IsNoDev(err) {
		t.Fatalf("out-of-range minor: %v", err)
	}
	if _, err := tn.drv.Open(tn.dev.Minor() + 1); !mhiutil.IsNoDev(err) {
		t.Fatalf("unused minor: %v", err)
	}
	if _, err := tn.drv.OpenName("nonexistent"); !mhiutil.IsNoDev(err) {
		t.Fatalf("unknown name: %v", err)
	}

	f, err := tn.drv.OpenName("LOOPBACK")
	if err != nil {
		t.Fatalf("open by channel name failed: %v", err)
	}
	f.Close()

	tn.drv.Remove(tn.dev)
	if err := tn.dev.open(); !mhiutil.IsNodeDisabled(err) {
		t.Fatalf("disabled node opened; err=%v", err)
	}
}

func TestPrefill(t *testing.T) {
	tn := newTestNode(t, 0x1000, 6)
	f := tn.open(t)

	if q := tn.sc.DlQueued(); q != 6 {
		t.Fatalf("%d dl buffers queued; want 6", q)
	}

	// A second open shares the prepared channel.
	f2 := tn.open(t)
	if tn.sc.Prepares() != 1 {
		t.Fatalf("channel prepared %d times", tn.sc.Prepares())
	}

	f.Close()
	if !tn.sc.Prepared() {
		t.Fatalf("channel stopped with an open handle")
	}
	f2.Close()
	if tn.sc.Prepared() {
		t.Fatalf("channel not stopped at last close")
	}
	if n := tn.alloc.Outstanding(); n != 0 {
		t.Fatalf("%d buffers leaked", n)
	}
}

func TestPrefillQueueFailure(t *testing.T) {
	tn := newTestNode(t, 0x1000, 4)
	tn.sc.FailQueue(DIR_DL, 2)

	if _, err := tn.drv.Open(tn.dev.Minor()); err == nil {
		t.Fatalf("open succeeded despite queue failure")
	}
	if tn.dev.RefCount() != 0 {
		t.Fatalf("ref count not unwound: %d", tn.dev.RefCount())
	}
	if tn.sc.Prepared() {
		t.Fatalf("channel left prepared")
	}
	if n := tn.alloc.Outstanding(); n != 0 {
		t.Fatalf("%d buffers leaked", n)
	}

	tn.sc.FailQueue(DIR_DL, -1)
	f := tn.open(t)
	f.Close()
}

type failAlloc struct {
	hw.HeapAlloc
	remaining int
}

func (a *failAlloc) Alloc(n int) ([]byte, error) {
	if a.remaining <= 0 {
		return nil, fmt.Errorf("out of memory")
	}
	a.remaining--
	return a.HeapAlloc.Alloc(n)
}

func TestPrefillAllocFailure(t *testing.T) {
	scfg := mhisim.NewSimCfg()
	scfg.Chans = []mhisim.ChanCfg{{Name: "EFS", Mtu: 0x1000, RingSize: 4}}
	sp := mhisim.NewSimPlatform(scfg)
	alloc := &failAlloc{remaining: 3}
	drv := NewUciDrv(alloc)

	dev, err := drv.Probe(sp.Chan("EFS"), "mhi_efs")
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}

	if _, err := drv.Open(dev.Minor()); !mhiutil.IsNoMem(err) {
		t.Fatalf("expected nomem; got %v", err)
	}
	if dev.RefCount() != 0 {
		t.Fatalf("ref count not unwound")
	}
	if n := alloc.Outstanding(); n != 0 {
		t.Fatalf("%d buffers leaked", n)
	}
}

func TestPrepareFailure(t *testing.T) {
	tn := newTestNode(t, 0x1000, 4)
	perr := fmt.Errorf("channel start failed")
	tn.sc.FailPrepare(perr)

	if _, err := tn.drv.Open(tn.dev.Minor()); err != perr {
		t.Fatalf("prepare error not returned verbatim: %v", err)
	}
	if tn.dev.RefCount() != 0 {
		t.Fatalf("ref count not unwound")
	}
}

func TestDeferredRequeueError(t *testing.T) {
	tn := newTestNode(t, 0x1000, 2)
	f := tn.open(t)
	defer f.Close()

	tn.sc.Inject(payload(3, 50))
	tn.sc.FailQueue(DIR_DL, 0)

	buf := make([]byte, 100)
	n, err := f.Read(context.Background(), buf)
	if err != nil || n != 50 {
		t.Fatalf("drained read: n=%d err=%v", n, err)
	}

	if _, err := f.Read(context.Background(), buf); err == nil {
		t.Fatalf("requeue failure not reported")
	}

	tn.sc.FailQueue(DIR_DL, -1)
	tn.sc.Inject(payload(4, 10))
	n, err = f.Read(context.Background(), buf)
	if err != nil || n != 10 {
		t.Fatalf("read after deferred error: n=%d err=%v", n, err)
	}
}

func TestDeferredRequeueErrorOnWrite(t *testing.T) {
	tn := newTestNode(t, 0x1000, 2)
	f := tn.open(t)
	defer f.Close()

	tn.sc.Inject(payload(5, 20))
	tn.sc.FailQueue(DIR_DL, 0)

	if _, err := f.Read(context.Background(), make([]byte, 20)); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if _, err := f.Write(context.Background(), []byte("x")); err == nil {
		t.Fatalf("requeue failure not reported on write")
	}
	if _, err := f.Write(context.Background(), []byte("x")); err != nil {
		t.Fatalf("deferred error reported twice: %v", err)
	}
}

func TestReadRemovedDuringRequeue(t *testing.T) {
	tn := newTestNode(t, 0x1000, 2)
	f := tn.open(t)

	tn.sc.Inject(payload(6, 64))
	buf := make([]byte, 32)
	if _, err := f.Read(context.Background(), buf); err != nil {
		t.Fatalf("read failed: %v", err)
	}

	tn.drv.Remove(tn.dev)
	if _, err := f.Read(context.Background(), buf); !mhiutil.IsNodeDisabled(err) {
		t.Fatalf("read on removed node: %v", err)
	}

	f.Close()
	if n := tn.alloc.Outstanding(); n != 0 {
		t.Fatalf("%d buffers leaked", n)
	}
}

func TestPoll(t *testing.T) {
	tn := newTestNode(t, 0x1000, 2)
	f := tn.open(t)
	defer f.Close()

	if m := f.Poll(); m != POLLOUT|POLLWRNORM {
		t.Fatalf("idle poll: %s", m)
	}

	tn.sc.Inject(payload(7, 10))
	if m := f.Poll(); !m.Readable() || !m.Writable() {
		t.Fatalf("poll with data: %s", m)
	}

	tn.sc.SetTiocm(TIOCM_DSR | TIOCM_CD)
	if m := f.Poll(); !m.Priority() {
		t.Fatalf("line change not reported: %s", m)
	}

	tiocm, err := f.Ioctl(TIOCMGET, 0)
	if err != nil {
		t.Fatalf("TIOCMGET failed: %v", err)
	}
	if tiocm != TIOCM_DSR|TIOCM_CD {
		t.Fatalf("unexpected tiocm: 0x%x", tiocm)
	}
	if m := f.Poll(); m.Priority() {
		t.Fatalf("line change still pending after TIOCMGET: %s", m)
	}

	tn.sc.SetUlFree(0)
	if m := f.Poll(); m.Writable() {
		t.Fatalf("writable with full ring: %s", m)
	}

	tn.drv.Remove(tn.dev)
	if m := f.Poll(); m != POLLERR {
		t.Fatalf("poll on removed node: %s", m)
	}
}

func TestReadLineStatus(t *testing.T) {
	tn := newTestNode(t, 0x1000, 2)
	f := tn.open(t)
	defer f.Close()

	done := make(chan error, 1)
	go func() {
		_, err := f.Read(context.Background(), make([]byte, 10))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	tn.sc.SetTiocm(TIOCM_RI)

	err := waitErr(t, done, "read")
	if !mhiutil.IsLineStatus(err) {
		t.Fatalf("expected line status error; got %v", err)
	}
	if mhiutil.IsNodeDisabled(err) {
		t.Fatalf("line change reported as disabled")
	}
	if mhiutil.Errno(err) != syscall.EIO {
		t.Fatalf("unexpected errno: %v", mhiutil.Errno(err))
	}
}

func TestReadInterrupted(t *testing.T) {
	tn := newTestNode(t, 0x1000, 2)
	f := tn.open(t)
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.Read(ctx, make([]byte, 10))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	err := waitErr(t, done, "read")
	if !mhiutil.IsInterrupted(err) {
		t.Fatalf("expected interrupted error; got %v", err)
	}
	if mhiutil.IsNodeDisabled(err) {
		t.Fatalf("interruption reported as disabled")
	}
}

func TestIoctlPassthrough(t *testing.T) {
	tn := newTestNode(t, 0x1000, 2)
	f := tn.open(t)
	defer f.Close()

	if _, err := f.Ioctl(TIOCMSET, TIOCM_DTR|TIOCM_RTS); err != nil {
		t.Fatalf("TIOCMSET failed: %v", err)
	}
	tiocm, _ := f.Ioctl(TIOCMGET, 0)
	if tiocm != TIOCM_DTR|TIOCM_RTS {
		t.Fatalf("tiocm not refreshed: 0x%x", tiocm)
	}

	if _, err := f.Ioctl(0x1234, 0); err == nil {
		t.Fatalf("unsupported ioctl succeeded")
	}

	tn.drv.Remove(tn.dev)
	if _, err := f.Ioctl(TIOCMBIS, TIOCM_DTR); !mhiutil.IsNodeDisabled(err) {
		t.Fatalf("ioctl on removed node: %v", err)
	}
	if _, err := f.Ioctl(TIOCMGET, 0); err != nil {
		t.Fatalf("TIOCMGET on removed node failed: %v", err)
	}
}

func TestParamErrors(t *testing.T) {
	tn := newTestNode(t, 0x1000, 2)
	f := tn.open(t)

	if _, err := f.Write(context.Background(), nil); !mhiutil.IsInvalidArg(err) {
		t.Fatalf("zero-length write: %v", err)
	}
	if _, err := f.Read(context.Background(), nil); !mhiutil.IsInvalidArg(err) {
		t.Fatalf("nil read: %v", err)
	}
	if len(tn.sc.Submissions()) != 0 {
		t.Fatalf("hardware touched by invalid write")
	}

	f.Close()
	if _, err := f.Read(context.Background(), make([]byte, 1)); err == nil {
		t.Fatalf("read on closed file succeeded")
	}
}

func TestCloseFreesPending(t *testing.T) {
	tn := newTestNode(t, 0x1000, 4)
	f := tn.open(t)

	tn.sc.Inject(payload(8, 100))
	tn.sc.Inject(payload(9, 100))
	if _, err := f.Read(context.Background(), make([]byte, 10)); err != nil {
		t.Fatalf("read failed: %v", err)
	}

	f.Close()
	if n := tn.alloc.Outstanding(); n != 0 {
		t.Fatalf("%d buffers leaked", n)
	}
}

func TestWakeupEvent(t *testing.T) {
	scfg := mhisim.NewSimCfg()
	scfg.WakeCapable = true
	tn := newTestNodeCfg(t, scfg, mhisim.ChanCfg{
		Name: "QMI0", Mtu: 0x1000, RingSize: 2,
	})
	f := tn.open(t)
	defer f.Close()

	tn.sc.Inject(payload(10, 5))
	if tn.sc.Wakeups() != 1 {
		t.Fatalf("wakeup not asserted")
	}
}

func TestLoopbackStream(t *testing.T) {
	scfg := mhisim.NewSimCfg()
	scfg.Loopback = true
	tn := newTestNodeCfg(t, scfg, mhisim.ChanCfg{
		Name: "LOOPBACK", Mtu: 0x1000, RingSize: 4,
	})
	f := tn.open(t)

	s := f.Stream(context.Background())
	if _, err := s.Write([]byte("hello")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	buf := make([]byte, 16)
	n, err := s.Read(buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("loopback mismatch: %q", buf[:n])
	}

	tn.drv.Remove(tn.dev)
	if _, err := s.Read(buf); err == nil || err.Error() != "EOF" {
		t.Fatalf("expected EOF from removed node; got %v", err)
	}
	s.Close()
}

func TestProbe(t *testing.T) {
	scfg := mhisim.NewSimCfg()
	scfg.Chans = []mhisim.ChanCfg{
		{Name: "SAHARA", Mtu: 0x10000, RingSize: 2},
		{Name: "IPCR", Mtu: 0x1000, RingSize: 2},
		{Name: "DUN", Mtu: 0x800, RingSize: 2},
	}
	sp := mhisim.NewSimPlatform(scfg)
	drv := NewUciDrv(nil)

	dev, err := drv.Probe(sp.Chan("SAHARA"), "mhi_sahara")
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if dev.Mtu() != 0x8000 || dev.ActualMtu() != 0x8000-UCI_BUF_OVERHEAD {
		t.Fatalf("mtu not clamped to catalog: %d/%d", dev.Mtu(),
			dev.ActualMtu())
	}

	dev, err = drv.Probe(sp.Chan("DUN"), "mhi_dun")
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if dev.Mtu() != 0x800 {
		t.Fatalf("mtu not clamped to channel: %d", dev.Mtu())
	}

	if _, err := drv.Probe(sp.Chan("IPCR"), "mhi_ipcr"); !mhiutil.IsInvalidArg(err) {
		t.Fatalf("channel outside catalog probed; err=%v", err)
	}

	for i := 2; i < MAX_UCI_DEVICES; i++ {
		if _, err := drv.Probe(sp.Chan("DUN"), "mhi_dun"); err != nil {
			t.Fatalf("probe %d failed: %v", i, err)
		}
	}
	if _, err := drv.Probe(sp.Chan("DUN"), "mhi_dun"); !mhiutil.IsNoSpace(err) {
		t.Fatalf("minor table overflow not detected; err=%v", err)
	}

	devs := drv.List()
	if len(devs) != MAX_UCI_DEVICES {
		t.Fatalf("list returned %d nodes", len(devs))
	}
	for i, d := range devs {
		if d.Minor() != i {
			t.Fatalf("list not sorted by minor")
		}
	}
}
