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
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"gopkg.in/abiosoft/ishell.v2"

	"mynewt.apache.org/mhimgr/mhimgr/mgrutil"
	. "mynewt.apache.org/mhimgr/mhixact/mhidefs"
	"mynewt.apache.org/mhimgr/mhixact/uci"
)

// Files opened from the shell, by the name they were opened with.
var shellFiles = map[string]*uci.File{}

func shellFile(c *ishell.Context) (*uci.File, bool) {
	if len(c.Args) < 1 {
		c.Println("channel name required")
		return nil, false
	}

	f := shellFiles[c.Args[0]]
	if f == nil {
		c.Printf("%s is not open\n", c.Args[0])
		return nil, false
	}

	return f, true
}

func shellListCmd(c *ishell.Context) {
	cntrl, err := GetCntrlIfOpen()
	if err != nil {
		c.Println("Error:", err.Error())
		return
	}

	c.Printf("ee=%s state=%s\n", cntrl.Pm().Ee(), cntrl.Pm().State())
	for _, d := range cntrl.Uci().List() {
		c.Printf("  %2d %-28s chan=%-8s mtu=%-6d refs=%d\n",
			d.Minor(), d.Name(), d.ChanName(), d.Mtu(), d.RefCount())
	}

	names := make([]string, 0, len(shellFiles))
	for name := range shellFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 0 {
		c.Printf("open: %s\n", strings.Join(names, " "))
	}
}

func shellOpenCmd(c *ishell.Context) {
	if len(c.Args) != 1 {
		c.Println("usage: open <channel>")
		return
	}

	cntrl, err := GetCntrlIfOpen()
	if err != nil {
		c.Println("Error:", err.Error())
		return
	}

	if shellFiles[c.Args[0]] != nil {
		c.Printf("%s already open\n", c.Args[0])
		return
	}

	f, err := cntrl.Uci().OpenName(c.Args[0])
	if err != nil {
		c.Println("Error:", err.Error())
		return
	}

	shellFiles[c.Args[0]] = f
	c.Printf("opened %s\n", f.Dev().Name())
}

func shellCloseCmd(c *ishell.Context) {
	f, ok := shellFile(c)
	if !ok {
		return
	}

	f.Close()
	delete(shellFiles, c.Args[0])
}

func shellReadCmd(c *ishell.Context) {
	f, ok := shellFile(c)
	if !ok {
		return
	}

	size := f.Dev().Mtu()
	if len(c.Args) > 1 {
		var err error
		size, err = cast.ToIntE(c.Args[1])
		if err != nil || size <= 0 {
			c.Printf("invalid size: %s\n", c.Args[1])
			return
		}
	}

	ctx, cancel := cmdCtx()
	defer cancel()

	buf := make([]byte, size)
	n, err := f.Read(ctx, buf)
	if err != nil {
		c.Println("Error:", err.Error())
		return
	}

	c.Printf("%s", hex.Dump(buf[:n]))
}

func shellWriteCmd(c *ishell.Context) {
	f, ok := shellFile(c)
	if !ok {
		return
	}
	if len(c.Args) < 2 {
		c.Println("usage: write <channel> <text...>")
		return
	}

	ctx, cancel := cmdCtx()
	defer cancel()

	n, err := f.Write(ctx, []byte(strings.Join(c.Args[1:], " ")))
	if err != nil {
		c.Println("Error:", err.Error())
	}
	c.Printf("wrote %d bytes\n", n)
}

func shellPollCmd(c *ishell.Context) {
	f, ok := shellFile(c)
	if !ok {
		return
	}

	c.Println(f.Poll().String())
}

func shellTiocmCmd(c *ishell.Context) {
	f, ok := shellFile(c)
	if !ok {
		return
	}

	tiocm, err := f.Ioctl(TIOCMGET, 0)
	if err != nil {
		c.Println("Error:", err.Error())
		return
	}

	c.Printf("0x%03x dtr=%v rts=%v cd=%v ri=%v\n", tiocm,
		tiocm&TIOCM_DTR != 0, tiocm&TIOCM_RTS != 0,
		tiocm&TIOCM_CD != 0, tiocm&TIOCM_RI != 0)
}

func shellSetCmd(c *ishell.Context) {
	f, ok := shellFile(c)
	if !ok {
		return
	}
	if len(c.Args) != 2 {
		c.Println("usage: set <channel> <tiocm-bits>")
		return
	}

	bits, err := cast.ToUint32E(c.Args[1])
	if err != nil {
		c.Printf("invalid bits: %s\n", c.Args[1])
		return
	}

	if _, err := f.Ioctl(TIOCMSET, bits); err != nil {
		c.Println("Error:", err.Error())
	}
}

func shellInjectCmd(c *ishell.Context) {
	if len(c.Args) < 2 {
		c.Println("usage: inject <channel> <text...>")
		return
	}

	sp, err := GetSim()
	if err != nil {
		c.Println("Error:", err.Error())
		return
	}

	sc := sp.Chan(c.Args[0])
	if sc == nil {
		c.Printf("no channel %s\n", c.Args[0])
		return
	}

	if err := sc.Inject([]byte(strings.Join(c.Args[1:], " "))); err != nil {
		c.Println("Error:", err.Error())
	}
}

func shellCrashCmd(c *ishell.Context) {
	sp, err := GetSim()
	if err != nil {
		c.Println("Error:", err.Error())
		return
	}

	sp.Crash()
	c.Println("device crashed; channel nodes will be removed")
}

func startShell(cmd *cobra.Command, args []string) {
	cntrl, err := GetPoweredCntrl()
	if err != nil {
		mgrUsage(nil, err)
	}

	cntrl.ListenStatus(func(reason CbReason) {
		fmt.Printf("\n[status: %s]\n", reason)
	})

	shell := ishell.New()
	shell.SetPrompt("> ")

	shell.Println()
	shell.Println(" " + mgrutil.ToolInfo.LongName + " channel shell")
	shell.Println("	Device: ", cntrl.Cfg().Name)
	shell.Println()

	cmds := []*ishell.Cmd{
		{Name: "list", Help: "List channel nodes: list", Func: shellListCmd},
		{Name: "open", Help: "Open a node: open <chan>", Func: shellOpenCmd},
		{Name: "close", Help: "Close a node: close <chan>", Func: shellCloseCmd},
		{Name: "read", Help: "Read once: read <chan> [size]", Func: shellReadCmd},
		{Name: "write", Help: "Write text: write <chan> <text>", Func: shellWriteCmd},
		{Name: "poll", Help: "Show readiness: poll <chan>", Func: shellPollCmd},
		{Name: "tiocm", Help: "Show modem lines: tiocm <chan>", Func: shellTiocmCmd},
		{Name: "set", Help: "Set modem lines: set <chan> <bits>", Func: shellSetCmd},
		{Name: "inject", Help: "Deliver downlink data: inject <chan> <text>",
			Func: shellInjectCmd},
		{Name: "crash", Help: "Crash the device: crash", Func: shellCrashCmd},
	}
	for _, c := range cmds {
		shell.AddCmd(c)
	}

	shell.Run()
	shell.Close()

	for name, f := range shellFiles {
		f.Close()
		delete(shellFiles, name)
	}
}

func shellCmd() *cobra.Command {
	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Run " + mgrutil.ToolInfo.ShortName + " interactive channel shell",
		Run:   startShell,
	}

	return shellCmd
}
