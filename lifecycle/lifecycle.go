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

/*
Package lifecycle drives the stop and start of the time service and the
bounded wait for the asynchronous state transitions in between. A service
doesn't stop or start instantly, so both operations poll the manager at a
fixed cadence until the unit reaches the target state or the wait times out.
*/
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/process"
	log "github.com/sirupsen/logrus"

	"github.com/facebook/timesync/service"
)

// Defaults for the polling loop. Both can be overridden on the Controller,
// which tests use to avoid real 30s waits.
const (
	DefaultPollInterval = 250 * time.Millisecond
	DefaultWaitTimeout  = 30 * time.Second
)

// ErrTimeout means the unit never reached the target state within the wait budget.
var ErrTimeout = errors.New("timed out waiting for service state")

// Phase identifies one step of the restart sequence.
type Phase int

// Phases in sequence order.
const (
	PhaseStop Phase = iota
	PhaseStart
	PhaseResync
)

func (p Phase) String() string {
	switch p {
	case PhaseStop:
		return "stop"
	case PhaseStart:
		return "start"
	case PhaseResync:
		return "resync"
	}
	return "unknown"
}

// Result is the terminal outcome of a whole restart sequence.
type Result int

// Possible terminal outcomes.
const (
	Success Result = iota
	StopFailed
	StartFailed
	ResyncFailed
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case StopFailed:
		return "stop failed"
	case StartFailed:
		return "start failed"
	case ResyncFailed:
		return "resync failed"
	}
	return "unknown"
}

// Handle is what the controller needs from an open service scope.
// *service.Scope implements it.
type Handle interface {
	State() (service.State, error)
	Stop() error
	Start() error
	MainPID() (int, error)
	Close()
}

// OpenFunc opens a scope for one stop or start phase. Each phase opens
// its own scope and releases it before the next phase begins.
type OpenFunc func(unit string) (Handle, error)

// PhaseResult records how one executed phase went.
type PhaseResult struct {
	Phase   Phase
	Err     error
	Elapsed time.Duration
}

// Outcome is the result of Restart: the terminal Result, the error of the
// failing phase (nil on success) and a record per executed phase. Phases
// after the first failure are never attempted and don't appear.
type Outcome struct {
	Result Result
	Err    error
	Phases []PhaseResult
}

// ResyncFunc triggers the external resync once the service is confirmed running.
type ResyncFunc func(ctx context.Context) error

// Controller restarts a single named service.
type Controller struct {
	// Service is the unit to manage, e.g. "chronyd.service".
	Service      string
	PollInterval time.Duration
	WaitTimeout  time.Duration

	open OpenFunc
}

// NewController returns a Controller for the given unit with default timings.
func NewController(unit string) *Controller {
	return &Controller{
		Service:      unit,
		PollInterval: DefaultPollInterval,
		WaitTimeout:  DefaultWaitTimeout,
		open: func(unit string) (Handle, error) {
			return service.Open(unit)
		},
	}
}

// waitForState polls the unit until it reports target. Every poll issues a
// fresh status query; a query failure is fatal right away, only the outer
// loop retries. The timeout is measured from entry on the monotonic clock
// and is not reset by transient states.
func (c *Controller) waitForState(ctx context.Context, h Handle, target service.State) error {
	start := time.Now()
	for {
		st, err := h.State()
		if err != nil {
			return fmt.Errorf("status query failed: %w", err)
		}
		if st == target {
			return nil
		}
		if time.Since(start) >= c.WaitTimeout {
			return fmt.Errorf("%w: %s is %q, wanted %q after %v",
				ErrTimeout, c.Service, st, target, c.WaitTimeout)
		}
		log.Debugf("%s is %q, waiting for %q", c.Service, st, target)
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %q aborted: %w", target, ctx.Err())
		case <-time.After(c.PollInterval):
		}
	}
}

// StopService stops the unit and waits until it reports stopped.
// A unit that was not running to begin with counts as success and only
// costs the single query that confirms the stopped state.
func (c *Controller) StopService(ctx context.Context) error {
	h, err := c.open(c.Service)
	if err != nil {
		return err
	}
	defer h.Close()
	if err := h.Stop(); err != nil {
		if !errors.Is(err, service.ErrNotActive) {
			return fmt.Errorf("stop request rejected: %w", err)
		}
		log.Infof("%s is not active, nothing to stop", c.Service)
	} else {
		log.Infof("stop request sent, waiting for %s to terminate", c.Service)
	}
	return c.waitForState(ctx, h, service.StateStopped)
}

// StartService starts the unit and waits until it reports running.
// A unit that is already running counts as success and skips the wait
// entirely, there is no point polling for a state we're already in.
func (c *Controller) StartService(ctx context.Context) error {
	h, err := c.open(c.Service)
	if err != nil {
		return err
	}
	defer h.Close()
	if err := h.Start(); err != nil {
		if errors.Is(err, service.ErrAlreadyRunning) {
			log.Infof("%s is already running", c.Service)
			return nil
		}
		return fmt.Errorf("start request rejected: %w", err)
	}
	log.Infof("start request sent, waiting for %s to run", c.Service)
	if err := c.waitForState(ctx, h, service.StateRunning); err != nil {
		return err
	}
	c.checkMainPID(h)
	return nil
}

// checkMainPID is a best-effort check that the freshly started unit has a
// live main process. Only logs, never fails the phase.
func (c *Controller) checkMainPID(h Handle) {
	pid, err := h.MainPID()
	if err != nil || pid == 0 {
		log.Debugf("no main PID reported for %s", c.Service)
		return
	}
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		log.Debugf("cannot check PID %d of %s: %v", pid, c.Service, err)
		return
	}
	if !alive {
		log.Warningf("%s reports main PID %d but no such process is running", c.Service, pid)
		return
	}
	log.Infof("%s is running with main PID %d", c.Service, pid)
}

// Restart runs the full stop -> start -> resync sequence. The first failing
// phase short-circuits everything after it; a resync failure does not roll
// back the already-completed restart.
func (c *Controller) Restart(ctx context.Context, resync ResyncFunc) Outcome {
	out := Outcome{Result: Success}
	run := func(p Phase, failure Result, f func(context.Context) error) bool {
		begin := time.Now()
		err := f(ctx)
		out.Phases = append(out.Phases, PhaseResult{Phase: p, Err: err, Elapsed: time.Since(begin)})
		if err != nil {
			log.Errorf("%s phase failed: %v", p, err)
			out.Result = failure
			out.Err = err
			return false
		}
		return true
	}
	if !run(PhaseStop, StopFailed, c.StopService) {
		return out
	}
	if !run(PhaseStart, StartFailed, c.StartService) {
		return out
	}
	run(PhaseResync, ResyncFailed, func(ctx context.Context) error { return resync(ctx) })
	return out
}
