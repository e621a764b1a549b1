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
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"mynewt.apache.org/mhimgr/mhimgr/mgrutil"
	"mynewt.apache.org/mhimgr/mhixact/mhiserial"
	"mynewt.apache.org/mhimgr/mhixact/mhiutil"
	"mynewt.apache.org/mhimgr/mhixact/uci"
	"mynewt.apache.org/newt/util"
)

var catMaxBytes int
var catHex bool
var writeEcho bool
var bridgeBaud int

func openChan(name string) *uci.File {
	c, err := GetPoweredCntrl()
	if err != nil {
		mgrUsage(nil, err)
	}

	f, err := c.Uci().OpenName(name)
	if err != nil {
		mgrUsage(nil, util.ChildNewtError(err))
	}

	return f
}

func printData(data []byte) {
	if catHex {
		fmt.Printf("%s", hex.Dump(data))
	} else {
		os.Stdout.Write(data)
	}
}

func chanListCmd(cmd *cobra.Command, args []string) {
	if _, err := GetPoweredCntrl(); err != nil {
		mgrUsage(nil, err)
	}

	printNodes()
}

func chanCatCmd(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		mgrUsage(cmd, util.NewNewtError("Need to specify channel"))
	}

	f := openChan(args[0])
	defer f.Close()

	ctx, cancel := cmdCtx()
	defer cancel()

	buf := make([]byte, f.Dev().Mtu())
	total := 0
	for catMaxBytes <= 0 || total < catMaxBytes {
		n, err := f.Read(ctx, buf)
		if err != nil {
			if mhiutil.IsInterrupted(err) {
				break
			}
			mgrUsage(nil, util.ChildNewtError(err))
		}

		if catMaxBytes > 0 && total+n > catMaxBytes {
			n = catMaxBytes - total
		}
		printData(buf[:n])
		total += n
	}
}

func chanWriteCmd(cmd *cobra.Command, args []string) {
	if len(args) != 2 {
		mgrUsage(cmd, util.NewNewtError("Need to specify channel and data"))
	}

	f := openChan(args[0])
	defer f.Close()

	ctx, cancel := cmdCtx()
	defer cancel()

	data := []byte(args[1])
	n, err := f.Write(ctx, data)
	if err != nil {
		mgrUsage(nil, util.ChildNewtError(err))
	}
	fmt.Printf("Wrote %d bytes\n", n)

	if writeEcho {
		buf := make([]byte, len(data))
		got := 0
		for got < len(data) {
			n, err := f.Read(ctx, buf[got:])
			if err != nil {
				mgrUsage(nil, util.ChildNewtError(err))
			}
			got += n
		}
		fmt.Printf("Echo: ")
		printData(buf)
		fmt.Printf("\n")
	}
}

func chanPollCmd(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		mgrUsage(cmd, util.NewNewtError("Need to specify channel"))
	}

	f := openChan(args[0])
	defer f.Close()

	fmt.Printf("%s: %s\n", f.Dev().Name(), f.Poll())
}

func chanBridgeCmd(cmd *cobra.Command, args []string) {
	if len(args) != 2 {
		mgrUsage(cmd, util.NewNewtError("Need to specify channel and tty"))
	}

	f := openChan(args[0])
	defer f.Close()

	cfg := mhiserial.NewXportCfg()
	cfg.DevPath = args[1]
	cfg.Baud = bridgeBaud
	cfg.Mtu = f.Dev().Mtu()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Printf("Bridging %s to %s; interrupt to stop\n",
		f.Dev().Name(), cfg.DevPath)

	if err := mhiserial.NewBridge(cfg, f).Run(ctx); err != nil {
		mgrUsage(nil, util.ChildNewtError(err))
	}
}

func chanCmd() *cobra.Command {
	chanCmd := &cobra.Command{
		Use:   "chan",
		Short: "Access a device's logical channels",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List channel nodes",
		Run:   chanListCmd,
	}
	chanCmd.AddCommand(listCmd)

	catCmd := &cobra.Command{
		Use:   "cat <channel>",
		Short: "Print data received on a channel until the timeout expires",
		Run:   chanCatCmd,
	}
	catCmd.PersistentFlags().IntVarP(&catMaxBytes, "num", "n", 0,
		"Stop after this many bytes")
	catCmd.PersistentFlags().BoolVarP(&catHex, "hex", "x", false,
		"Print a hex dump")
	chanCmd.AddCommand(catCmd)

	writeEx := "  " + mgrutil.ToolInfo.ExeName +
		" --connextra loopback=true chan write LOOPBACK hello --echo\n"

	writeCmd := &cobra.Command{
		Use:     "write <channel> <text>",
		Short:   "Send text on a channel",
		Example: writeEx,
		Run:     chanWriteCmd,
	}
	writeCmd.PersistentFlags().BoolVar(&writeEcho, "echo", false,
		"Read back as many bytes as were written")
	writeCmd.PersistentFlags().BoolVarP(&catHex, "hex", "x", false,
		"Print the echo as a hex dump")
	chanCmd.AddCommand(writeCmd)

	pollCmd := &cobra.Command{
		Use:   "poll <channel>",
		Short: "Show a channel's readiness",
		Run:   chanPollCmd,
	}
	chanCmd.AddCommand(pollCmd)

	bridgeCmd := &cobra.Command{
		Use:   "bridge <channel> <tty>",
		Short: "Expose a channel on a serial port",
		Run:   chanBridgeCmd,
	}
	bridgeCmd.PersistentFlags().IntVar(&bridgeBaud, "baud", 115200,
		"Serial baud rate")
	chanCmd.AddCommand(bridgeCmd)

	return chanCmd
}
