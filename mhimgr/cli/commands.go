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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mynewt.apache.org/mhimgr/mhimgr/mgrutil"
	"mynewt.apache.org/mhimgr/mhixact/mhiutil"
	"mynewt.apache.org/newt/util"
)

var MhimgrLogLevel log.Level

func Commands() *cobra.Command {
	logLevelStr := ""
	mgrCmd := &cobra.Command{
		Use:   mgrutil.ToolInfo.ExeName,
		Short: mgrutil.ToolInfo.ShortName + " drives MHI devices",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			var err error
			MhimgrLogLevel, err = log.ParseLevel(logLevelStr)
			if err != nil {
				mgrUsage(nil, util.ChildNewtError(err))
			}

			err = util.Init(MhimgrLogLevel, "", util.VERBOSITY_DEFAULT)
			if err != nil {
				mgrUsage(nil, err)
			}
			mhiutil.SetLogLevel(MhimgrLogLevel)
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	mgrCmd.PersistentFlags().StringVarP(&mgrutil.DevName, "device", "d",
		"", "stored device to use; a default simulated device if unset")

	mgrCmd.PersistentFlags().Float64VarP(&mgrutil.Timeout, "timeout", "t",
		10.0, "timeout in seconds (partial seconds allowed)")

	mgrCmd.PersistentFlags().StringVarP(&logLevelStr, "loglevel", "l", "info",
		"log level to use")

	mgrCmd.PersistentFlags().StringVar(&mgrutil.ConnString, "connstring", "",
		"Device key-value pairs to use instead of the stored settings")

	mgrCmd.PersistentFlags().StringVar(&mgrutil.ConnExtra, "connextra", "",
		"Additional key-value pair to append to the connstring")

	versCmd := &cobra.Command{
		Use:     "version",
		Short:   "Display the " + mgrutil.ToolInfo.ShortName + " version number",
		Example: "  " + mgrutil.ToolInfo.ExeName + " version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n",
				mgrutil.ToolInfo.LongName,
				mgrutil.ToolInfo.VersionString)
		},
	}
	mgrCmd.AddCommand(versCmd)

	mgrCmd.AddCommand(bootCmd())
	mgrCmd.AddCommand(rddmCmd())
	mgrCmd.AddCommand(chanCmd())
	mgrCmd.AddCommand(shellCmd())
	mgrCmd.AddCommand(devCmd())

	return mgrCmd
}
