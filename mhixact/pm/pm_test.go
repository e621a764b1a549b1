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

package pm

import (
	"context"
	"testing"
	"time"

	. "mynewt.apache.org/mhimgr/mhixact/mhidefs"
	"mynewt.apache.org/mhimgr/mhixact/mhiutil"
)

func TestTransitions(t *testing.T) {
	pm := NewPowerMgr()

	if s := pm.TrySetState(PM_STATE_M0); s != PM_STATE_DISABLE {
		t.Fatalf("DISABLE --> M0 allowed; state=%s", s)
	}

	steps := []PmState{
		PM_STATE_POR,
		PM_STATE_READY,
		PM_STATE_M0,
		PM_STATE_SYS_ERR_DETECT,
		PM_STATE_SYS_ERR_PROCESS,
		PM_STATE_POR,
	}
	for _, s := range steps {
		if err := pm.SetState(s); err != nil {
			t.Fatalf("transition to %s failed: %v", s, err)
		}
	}

	if err := pm.SetState(PM_STATE_DISABLE); !mhiutil.IsPmState(err) {
		t.Fatalf("POR --> DISABLE allowed")
	}
}

func TestErrorListenerOnce(t *testing.T) {
	pm := NewPowerMgr()
	pm.SetState(PM_STATE_POR)

	calls := 0
	pm.OnError(func(s PmState) {
		calls++
		if s != PM_STATE_FW_DL_ERR {
			t.Errorf("unexpected error state %s", s)
		}
	})

	pm.SetState(PM_STATE_FW_DL_ERR)
	pm.SetState(PM_STATE_FW_DL_ERR)

	if calls != 1 {
		t.Fatalf("error listener called %d times; want 1", calls)
	}
	if !pm.InError() {
		t.Fatalf("FW_DL_ERR not reported as error state")
	}
	if !pm.RegAccessValid() {
		t.Fatalf("register access refused in FW_DL_ERR")
	}
}

func TestRegAccessInFatal(t *testing.T) {
	pm := NewPowerMgr()
	pm.SetState(PM_STATE_POR)
	pm.SetState(PM_STATE_LD_ERR_FATAL_DETECT)

	if pm.RegAccessValid() {
		t.Fatalf("register access allowed in LD_ERR_FATAL_DETECT")
	}
}

func TestWaitEventWokenByState(t *testing.T) {
	pm := NewPowerMgr()
	pm.SetState(PM_STATE_POR)

	go func() {
		time.Sleep(10 * time.Millisecond)
		pm.SetState(PM_STATE_FW_DL_ERR)
	}()

	err := pm.WaitEvent(context.Background(), time.Second, pm.InError)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
}
