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
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/cheggaaa/pb.v1"

	"mynewt.apache.org/mhimgr/mhimgr/mgrutil"
	. "mynewt.apache.org/mhimgr/mhixact/mhidefs"
	"mynewt.apache.org/newt/util"
)

// Renders loader progress, one bar per download stage.
type bootProgress struct {
	stage string
	bar   *pb.ProgressBar
}

func (bp *bootProgress) update(stage string, done int, total int) {
	if bp.bar == nil || stage != bp.stage {
		bp.finish()

		bp.stage = stage
		bp.bar = pb.New(total).SetUnits(pb.U_BYTES).Prefix(stage + " ")
		bp.bar.Start()
	}

	bp.bar.Set(done)
}

func (bp *bootProgress) finish() {
	if bp.bar != nil {
		bp.bar.Finish()
		bp.bar = nil
	}
}

func printNodes() {
	c, err := GetCntrlIfOpen()
	if err != nil {
		return
	}

	devs := c.Uci().List()
	if len(devs) == 0 {
		fmt.Printf("No channel nodes\n")
		return
	}

	fmt.Printf("Channel nodes:\n")
	for _, d := range devs {
		fmt.Printf("  %2d %-28s chan=%-8s mtu=%d\n",
			d.Minor(), d.Name(), d.ChanName(), d.Mtu())
	}
}

func bootRunCmd(cmd *cobra.Command, args []string) {
	c, err := GetCntrl()
	if err != nil {
		mgrUsage(nil, err)
	}

	bp := &bootProgress{}
	c.Loader().SetProgressCb(bp.update)
	c.ListenStatus(func(reason CbReason) {
		if reason == CB_FALLBACK_IMG {
			fmt.Printf("Primary image unavailable; using fallback\n")
		}
	})

	_, err = GetPoweredCntrl()
	bp.finish()
	if err != nil {
		mgrUsage(nil, err)
	}

	fmt.Printf("Device up: ee=%s state=%s\n", c.Pm().Ee(), c.Pm().State())
	printNodes()
}

func bootCmd() *cobra.Command {
	bootEx := "  " + mgrutil.ToolInfo.ExeName + " -d sim1 boot\n"

	bootCmd := &cobra.Command{
		Use:     "boot",
		Short:   "Download firmware and bring a device up",
		Example: bootEx,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				mgrUsage(cmd, util.NewNewtError("boot takes no arguments"))
			}
			bootRunCmd(cmd, args)
		},
	}

	return bootCmd
}
