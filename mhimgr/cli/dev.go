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
	"sort"
	"strings"

	"github.com/fatih/structs"
	"github.com/spf13/cobra"

	"mynewt.apache.org/mhimgr/mhimgr/config"
	"mynewt.apache.org/mhimgr/mhimgr/mgrutil"
	"mynewt.apache.org/newt/util"
)

// Prints a struct map one field per line in name order, indenting nested
// structs.
func printFields(indent string, m map[string]interface{}) {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, k := range names {
		if sub, ok := m[k].(map[string]interface{}); ok {
			fmt.Printf("%s%s:\n", indent, k)
			printFields(indent+"    ", sub)
		} else {
			fmt.Printf("%s%s: %v\n", indent, k, m[k])
		}
	}
}

func printDevNodes(sc *config.SimConnCfg) {
	names := sc.NodeNames()
	if len(names) == 0 {
		fmt.Printf("  no channel nodes\n")
		return
	}
	for _, name := range names {
		fmt.Printf("  %s\n", name)
	}
}

func devAddCmd(cmd *cobra.Command, args []string) {
	if len(args) == 0 {
		mgrUsage(cmd, util.NewNewtError("Need device name"))
	}

	for _, kv := range args[1:] {
		if !strings.Contains(kv, "=") {
			mgrUsage(cmd, util.NewNewtError("Expected key=value: "+kv))
		}
	}

	sc, err := config.GlobalDevStore().Add(args[0],
		strings.Join(args[1:], ","))
	if err != nil {
		mgrUsage(nil, err)
	}

	fmt.Printf("Device %s added; channel nodes:\n", args[0])
	printDevNodes(sc)
}

func devListCmd(cmd *cobra.Command, args []string) {
	entries := config.GlobalDevStore().List()
	if len(entries) == 0 {
		fmt.Printf("No devices stored in %s\n",
			config.GlobalDevStore().Path())
		return
	}

	for _, e := range entries {
		cs := e.ConnString
		if cs == "" {
			cs = "(defaults)"
		}
		fmt.Printf("  %-16s %s\n", e.Name, cs)
	}
}

func devShowCmd(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		mgrUsage(cmd, util.NewNewtError("Need device name"))
	}

	e, err := config.GlobalDevStore().Get(args[0])
	if err != nil {
		mgrUsage(nil, err)
	}

	sc, err := e.Cfg()
	if err != nil {
		mgrUsage(nil, err)
	}

	fmt.Printf("%s: %s\n", e.Name, e.ConnString)
	printFields("  ", structs.Map(sc))
	fmt.Printf("Channel nodes:\n")
	printDevNodes(sc)
}

func devDeleteCmd(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		mgrUsage(cmd, util.NewNewtError("Need device name"))
	}

	if err := config.GlobalDevStore().Delete(args[0]); err != nil {
		mgrUsage(nil, err)
	}

	fmt.Printf("Device %s deleted\n", args[0])
}

func devCmd() *cobra.Command {
	devCmd := &cobra.Command{
		Use:   "dev",
		Short: "Manage stored devices",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	addEx := "  " + mgrutil.ToolInfo.ExeName +
		" dev add sim1 fbc=true sbl_size=16384 rddm_size=65536 slot=1\n"

	addCmd := &cobra.Command{
		Use:     "add <name> [key=value ...]",
		Short:   "Store a device, replacing any device of the same name",
		Example: addEx,
		Run:     devAddCmd,
	}
	devCmd.AddCommand(addCmd)

	devCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored devices",
		Run:   devListCmd,
	})

	devCmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Show a stored device's configuration and node names",
		Run:   devShowCmd,
	})

	devCmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a stored device",
		Run:   devDeleteCmd,
	})

	return devCmd
}
