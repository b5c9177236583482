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
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/facebook/timesync/config"
	"github.com/facebook/timesync/service"
)

const (
	timeOK = iota
	timeIns
	timeDel
	timeOOP
	timeWait
	timeError
)

// man 2 adjtimex
var timexToDesc = map[int]string{
	timeOK:    "TIME_OK                Clock synchronized, no leap second adjustment pending.",
	timeIns:   "TIME_INS      Indicates that a leap second will be added at the end of the UTC day.",
	timeDel:   "TIME_DEL      Indicates that a leap second will be deleted at the end of the UTC day.",
	timeOOP:   "TIME_OOP      Insertion of a leap second is in progress.",
	timeWait:  "TIME_WAIT    A leap-second insertion or deletion has been completed.",
	timeError: "TIME_ERROR  The system clock is not synchronized to a reliable server.",
}

func stateString(st service.State) string {
	switch st {
	case service.StateRunning:
		return color.GreenString(string(st))
	case service.StateStartPending, service.StateStopPending:
		return color.YellowString(string(st))
	}
	return color.RedString(string(st))
}

// unitStatus prints the current state of the managed unit
func unitStatus(unit string) error {
	scope, err := service.Open(unit)
	if err != nil {
		return err
	}
	defer scope.Close()
	st, err := scope.State()
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", unit, stateString(st))
	if pid, err := scope.MainPID(); err == nil && pid != 0 {
		fmt.Printf("main PID: %d\n", pid)
	}
	return nil
}

// clockState reports system clock state via adjtimex syscall
func clockState() {
	if state, err := unix.Adjtimex(&unix.Timex{}); err != nil {
		fmt.Printf("Error calling adjtimex(2): %s", err)
	} else {
		if desc, ok := timexToDesc[state]; ok {
			fmt.Println(desc)
		} else {
			fmt.Printf("Error: %v state is not recognized\n", state)
		}
	}
}

var statusService string

func init() {
	RootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusService, "service", "s", config.DefaultService, "systemd unit to query")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the time service state and the kernel clock sync state.",
	Long: `Print the current state of the time service unit and the kernel clock state.
Useful for checking whether a restart is needed at all. Uses adjtimex(2) for the clock state.`,
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := unitStatus(statusService); err != nil {
			fmt.Println(err)
		}
		clockState()
	},
}
