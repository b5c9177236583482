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

// Package config holds the knobs of the restart tool: which unit to
// manage, how patiently to wait for it, and what command forces the resync.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/facebook/timesync/lifecycle"
	"github.com/facebook/timesync/resync"
)

// DefaultService is the systemd unit we manage unless told otherwise.
const DefaultService = "chronyd.service"

// Config specifies timesync run options
type Config struct {
	Service       string
	PollInterval  time.Duration
	WaitTimeout   time.Duration
	ResyncCommand []string
	ResyncTimeout time.Duration
}

// Default returns a Config with all defaults filled in.
func Default() *Config {
	return &Config{
		Service:       DefaultService,
		PollInterval:  lifecycle.DefaultPollInterval,
		WaitTimeout:   lifecycle.DefaultWaitTimeout,
		ResyncCommand: append([]string{}, resync.DefaultCommand...),
		ResyncTimeout: resync.DefaultTimeout,
	}
}

// ReadConfig reads config from the file on top of the defaults.
func ReadConfig(path string) (*Config, error) {
	c := Default()
	cData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(cData, c)
	if err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that the config describes something we can actually run.
func (c *Config) Validate() error {
	if c.Service == "" {
		return errors.New("service name must be set")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval %v must be positive", c.PollInterval)
	}
	if c.WaitTimeout < c.PollInterval {
		return fmt.Errorf("wait timeout %v must be at least the poll interval %v", c.WaitTimeout, c.PollInterval)
	}
	if len(c.ResyncCommand) == 0 {
		return errors.New("resync command must be set")
	}
	if c.ResyncTimeout <= 0 {
		return fmt.Errorf("resync timeout %v must be positive", c.ResyncTimeout)
	}
	return nil
}

// Controller builds a lifecycle controller from the config.
func (c *Config) Controller() *lifecycle.Controller {
	ctrl := lifecycle.NewController(c.Service)
	ctrl.PollInterval = c.PollInterval
	ctrl.WaitTimeout = c.WaitTimeout
	return ctrl
}

// Trigger builds a resync trigger from the config.
func (c *Config) Trigger() *resync.Trigger {
	return &resync.Trigger{
		Command: append([]string{}, c.ResyncCommand...),
		Timeout: c.ResyncTimeout,
	}
}
