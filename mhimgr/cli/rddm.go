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
	"os"
	"time"

	"github.com/spf13/cobra"

	"mynewt.apache.org/mhimgr/mhimgr/mgrutil"
	"mynewt.apache.org/mhimgr/mhixact/boot"
	. "mynewt.apache.org/mhimgr/mhixact/mhidefs"
	"mynewt.apache.org/newt/util"
)

var rddmPanic bool

func rddmDownloadCmd(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		mgrUsage(cmd, util.NewNewtError("Need to specify dump file"))
	}

	c, err := GetPoweredCntrl()
	if err != nil {
		mgrUsage(nil, err)
	}
	if !c.Cfg().RddmSupported {
		mgrUsage(nil, util.NewNewtError(
			"device does not enable rddm (set rddm_size)"))
	}

	sp, err := GetSim()
	if err != nil {
		mgrUsage(nil, err)
	}

	ctx, cancel := cmdCtx()
	defer cancel()

	var dump *boot.Dump
	if rddmPanic {
		// The panic path triggers the crash itself.
		dump, err = c.DownloadRddm(ctx, true)
	} else {
		rddmCh := make(chan struct{}, 1)
		c.ListenStatus(func(reason CbReason) {
			if reason == CB_EE_RDDM {
				select {
				case rddmCh <- struct{}{}:
				default:
				}
			}
		})

		sp.Crash()

		select {
		case <-rddmCh:
		case <-ctx.Done():
			mgrUsage(nil, util.NewNewtError("device never entered rddm"))
		}

		dump, err = c.DownloadRddm(ctx, false)
	}
	if err != nil {
		mgrUsage(nil, util.ChildNewtError(err))
	}

	f, err := os.Create(args[0])
	if err != nil {
		mgrUsage(nil, util.ChildNewtError(err))
	}
	defer f.Close()

	if err := boot.WriteDump(f, dump); err != nil {
		mgrUsage(nil, util.ChildNewtError(err))
	}

	fmt.Printf("Wrote %d segments (%d bytes) to %s\n",
		len(dump.Segs), dump.Size(), args[0])
}

func rddmInspectCmd(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		mgrUsage(cmd, util.NewNewtError("Need to specify dump file"))
	}

	f, err := os.Open(args[0])
	if err != nil {
		mgrUsage(nil, util.ChildNewtError(err))
	}
	defer f.Close()

	dump, err := boot.ReadDump(f)
	if err != nil {
		mgrUsage(nil, util.ChildNewtError(err))
	}

	hdr := dump.Hdr
	fmt.Printf("Dump version %d\n", hdr.Version)
	fmt.Printf("    device: %s\n", hdr.DevName)
	fmt.Printf("        ee: %s\n", hdr.Ee)
	fmt.Printf("      time: %s\n",
		time.Unix(hdr.Time, 0).Format(time.RFC3339))
	fmt.Printf("  segments: %d (%d bytes)\n", len(hdr.Segs), dump.Size())

	for i, s := range hdr.Segs {
		fmt.Printf("    %3d: len=%d crc=0x%04x\n", i, s.Len, s.Crc)
	}
}

func rddmCmd() *cobra.Command {
	rddmCmd := &cobra.Command{
		Use:   "rddm",
		Short: "Collect and inspect RAM dumps",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	dlEx := "  " + mgrutil.ToolInfo.ExeName + " -d sim1 rddm download " +
		"modem.dump\n"
	dlEx += "  " + mgrutil.ToolInfo.ExeName + " -d sim1 rddm download " +
		"--panic modem.dump\n"

	downloadCmd := &cobra.Command{
		Use:     "download <dump-file>",
		Short:   "Crash the device and save its RAM dump",
		Example: dlEx,
		Run:     rddmDownloadCmd,
	}
	downloadCmd.PersistentFlags().BoolVar(&rddmPanic, "panic", false,
		"Collect the dump with the busy-polling panic-path procedure")
	rddmCmd.AddCommand(downloadCmd)

	inspectCmd := &cobra.Command{
		Use:   "inspect <dump-file>",
		Short: "Verify and describe a saved RAM dump",
		Run:   rddmInspectCmd,
	}
	rddmCmd.AddCommand(inspectCmd)

	return rddmCmd
}
