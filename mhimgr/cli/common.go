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

package cli

import (
	"context"
	"fmt"

	"mynewt.apache.org/mhimgr/mhimgr/config"
	"mynewt.apache.org/mhimgr/mhimgr/mgrutil"
	"mynewt.apache.org/mhimgr/mhixact/mhictrl"
	"mynewt.apache.org/mhimgr/mhixact/mhisim"
	"mynewt.apache.org/newt/util"
)

var globalCntrl *mhictrl.Cntrl
var globalSim *mhisim.SimPlatform
var globalPoweredUp bool

func GetCntrl() (*mhictrl.Cntrl, error) {
	if globalCntrl != nil {
		return globalCntrl, nil
	}

	sc, err := config.GlobalDevStore().Resolve(mgrutil.DevName,
		mgrutil.ConnString, mgrutil.ConnExtra)
	if err != nil {
		return nil, err
	}

	globalCntrl, globalSim = config.BuildSimDevice(sc)

	if err := globalCntrl.Start(); err != nil {
		return nil, util.ChildNewtError(err)
	}

	return globalCntrl, nil
}

func GetCntrlIfOpen() (*mhictrl.Cntrl, error) {
	if globalCntrl == nil {
		return nil, fmt.Errorf("device not initialized")
	}

	return globalCntrl, nil
}

func GetSim() (*mhisim.SimPlatform, error) {
	if _, err := GetCntrl(); err != nil {
		return nil, err
	}
	if globalSim == nil {
		return nil, util.NewNewtError("device is not simulated")
	}

	return globalSim, nil
}

func cmdCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), mgrutil.TxTimeout())
}

// Returns a controller whose device has been brought up and whose channel
// nodes exist.
func GetPoweredCntrl() (*mhictrl.Cntrl, error) {
	c, err := GetCntrl()
	if err != nil {
		return nil, err
	}

	if !globalPoweredUp {
		ctx, cancel := cmdCtx()
		defer cancel()

		if err := c.PowerUp(ctx); err != nil {
			return nil, util.ChildNewtError(err)
		}
		globalPoweredUp = true
	}

	return c, nil
}
