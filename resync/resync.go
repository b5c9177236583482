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

// Package resync invokes the external command that forces an immediate
// time sync attempt. The command is opaque to us: exit status zero is
// success, anything else is failure, and there are no retries.
package resync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrNotInvoked means the command never ran at all.
	ErrNotInvoked = errors.New("resync command could not be invoked")
	// ErrCommandFailed means the command ran and returned nonzero.
	ErrCommandFailed = errors.New("resync command failed")
)

// DefaultCommand asks chrony for a burst of measurements and steps the
// clock. chronyc returns without waiting for the sync to complete.
var DefaultCommand = []string{"chronyc", "-m", "burst 4/4", "makestep"}

// DefaultTimeout bounds how long we let the resync command run.
const DefaultTimeout = 30 * time.Second

// Trigger runs the configured resync command.
type Trigger struct {
	Command []string
	Timeout time.Duration
}

// New returns a Trigger with the default command and timeout.
func New() *Trigger {
	return &Trigger{
		Command: append([]string{}, DefaultCommand...),
		Timeout: DefaultTimeout,
	}
}

// Run executes the command and reports its outcome. Errors are
// distinguishable with errors.Is: ErrNotInvoked when the command couldn't
// be spawned, ErrCommandFailed when it exited nonzero (with captured
// stderr attached for diagnostics).
func (t *Trigger) Run(ctx context.Context) error {
	if len(t.Command) == 0 {
		return fmt.Errorf("%w: no command configured", ErrNotInvoked)
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.Command[0], t.Command[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	log.Infof("running %q", strings.Join(t.Command, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %w", ErrNotInvoked, err)
	}
	err := cmd.Wait()
	if out := strings.TrimSpace(stdout.String()); out != "" {
		log.Debugf("resync command output: %s", out)
	}
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%w: exit status %d: %s", ErrCommandFailed, exitErr.ExitCode(), msg)
	}
	return fmt.Errorf("%w: %w", ErrNotInvoked, err)
}
