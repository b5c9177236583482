/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebook/timesync/config"
	"github.com/facebook/timesync/lifecycle"
	"github.com/facebook/timesync/resync"
)

// cli vars
var cfgFile string
var serviceFlag string
var pollIntervalFlag time.Duration
var waitTimeoutFlag time.Duration
var resyncCmdFlag string

var okString = color.GreenString("[ OK ]")
var failString = color.RedString("[FAIL]")
var skipString = color.YellowString("[SKIP]")

func init() {
	RootCmd.AddCommand(restartCmd)
	restartCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "path to yaml config file")
	restartCmd.Flags().StringVarP(&serviceFlag, "service", "s", "", "systemd unit to restart")
	restartCmd.Flags().DurationVarP(&pollIntervalFlag, "poll-interval", "p", 0, "how often to poll the unit state")
	restartCmd.Flags().DurationVarP(&waitTimeoutFlag, "wait-timeout", "w", 0, "how long to wait for the unit to change state")
	restartCmd.Flags().StringVarP(&resyncCmdFlag, "resync-cmd", "r", "", "command that forces the resync, whitespace-separated")
}

// prepareConfig merges the config file (if any) with whatever flags were set.
// Flags win.
func prepareConfig() (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		var err error
		cfg, err = config.ReadConfig(cfgFile)
		if err != nil {
			return nil, err
		}
	}
	if serviceFlag != "" {
		cfg.Service = serviceFlag
	}
	if pollIntervalFlag > 0 {
		cfg.PollInterval = pollIntervalFlag
	}
	if waitTimeoutFlag > 0 {
		cfg.WaitTimeout = waitTimeoutFlag
	}
	if resyncCmdFlag != "" {
		cfg.ResyncCommand = strings.Fields(resyncCmdFlag)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// exit codes, so automation around the tool can tell the phases apart
func exitCode(out lifecycle.Outcome) int {
	switch out.Result {
	case lifecycle.Success:
		return 0
	case lifecycle.StopFailed:
		return 1
	case lifecycle.StartFailed:
		return 2
	case lifecycle.ResyncFailed:
		if errors.Is(out.Err, resync.ErrNotInvoked) {
			return 4
		}
		return 3
	}
	return 1
}

func phaseRow(p lifecycle.PhaseResult) []string {
	result := okString
	detail := ""
	if p.Err != nil {
		result = failString
		detail = p.Err.Error()
	}
	return []string{p.Phase.String(), result, p.Elapsed.Round(time.Millisecond).String(), detail}
}

func printSummary(out lifecycle.Outcome) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"PHASE", "RESULT", "DURATION", "DETAIL"})
	executed := map[lifecycle.Phase]bool{}
	for _, p := range out.Phases {
		executed[p.Phase] = true
		table.Append(phaseRow(p))
	}
	for _, p := range []lifecycle.Phase{lifecycle.PhaseStop, lifecycle.PhaseStart, lifecycle.PhaseResync} {
		if !executed[p] {
			table.Append([]string{p.String(), skipString, "", "skipped after earlier failure"})
		}
	}
	table.Render()
	if out.Result == lifecycle.Success {
		fmt.Printf("%s time service restarted and resync triggered\n", okString)
	} else {
		fmt.Printf("%s %s: %v\n", failString, out.Result, out.Err)
	}
}

func runRestart() int {
	cfg, err := prepareConfig()
	if err != nil {
		log.Errorf("bad configuration: %v", err)
		return 1
	}
	log.Infof("restarting %s", cfg.Service)
	out := cfg.Controller().Restart(context.Background(), cfg.Trigger().Run)
	printSummary(out)
	return exitCode(out)
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Stop the time service, start it again and trigger a resync",
	Long: `Stop the configured time service, wait until it terminates, start it again,
wait until it runs, then invoke the resync command. Exit codes: 0 success,
1 stop failed, 2 start failed, 3 resync command failed, 4 resync command
could not be invoked.`,
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		os.Exit(runRestart())
	},
}
