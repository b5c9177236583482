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

package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/facebook/timesync/lifecycle"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	require.Equal(t, DefaultService, c.Service)
	require.Equal(t, lifecycle.DefaultPollInterval, c.PollInterval)
	require.Equal(t, lifecycle.DefaultWaitTimeout, c.WaitTimeout)
	require.NotEmpty(t, c.ResyncCommand)
}

func TestReadConfig(t *testing.T) {
	f, err := os.CreateTemp("", "timesynctest")
	require.NoError(t, err)
	defer os.Remove(f.Name())
	// durations are integer nanoseconds in the file
	content := `service: ntpd.service
pollinterval: 100000000
waittimeout: 10000000000
resynccommand: ["ntpdate", "-u", "pool.ntp.org"]
`
	_, err = f.WriteString(content)
	require.NoError(t, err)
	c, err := ReadConfig(f.Name())
	require.NoError(t, err)
	require.Equal(t, "ntpd.service", c.Service)
	require.Equal(t, 100*time.Millisecond, c.PollInterval)
	require.Equal(t, 10*time.Second, c.WaitTimeout)
	require.Equal(t, []string{"ntpdate", "-u", "pool.ntp.org"}, c.ResyncCommand)
	// untouched fields keep their defaults
	require.Equal(t, Default().ResyncTimeout, c.ResyncTimeout)
}

func TestReadConfigMissingFile(t *testing.T) {
	_, err := ReadConfig("/does/not/exist/for/sure")
	require.Error(t, err)
}

func TestReadConfigInvalid(t *testing.T) {
	f, err := os.CreateTemp("", "timesynctest")
	require.NoError(t, err)
	defer os.Remove(f.Name())
	_, err = f.WriteString("service: \"\"\n")
	require.NoError(t, err)
	_, err = ReadConfig(f.Name())
	require.ErrorContains(t, err, "service name must be set")
}

func TestValidate(t *testing.T) {
	c := Default()
	c.PollInterval = 0
	require.ErrorContains(t, c.Validate(), "poll interval")

	c = Default()
	c.WaitTimeout = c.PollInterval / 2
	require.ErrorContains(t, c.Validate(), "wait timeout")

	c = Default()
	c.ResyncCommand = nil
	require.ErrorContains(t, c.Validate(), "resync command")

	c = Default()
	c.ResyncTimeout = -time.Second
	require.ErrorContains(t, c.Validate(), "resync timeout")
}

func TestControllerFromConfig(t *testing.T) {
	c := Default()
	c.Service = "ntpd.service"
	c.PollInterval = 10 * time.Millisecond
	c.WaitTimeout = time.Second
	ctrl := c.Controller()
	require.Equal(t, "ntpd.service", ctrl.Service)
	require.Equal(t, 10*time.Millisecond, ctrl.PollInterval)
	require.Equal(t, time.Second, ctrl.WaitTimeout)
}

func TestTriggerFromConfig(t *testing.T) {
	c := Default()
	tr := c.Trigger()
	require.Equal(t, c.ResyncCommand, tr.Command)
	// the trigger must own its own copy of the command
	tr.Command[0] = "mutated"
	require.NotEqual(t, "mutated", c.ResyncCommand[0])
}
