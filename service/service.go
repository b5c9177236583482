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

package service

import (
	"errors"
	"fmt"

	sd "github.com/coreos/go-systemd/dbus"
)

// State is a snapshot of a unit's ActiveState as reported by systemd.
// It is queried fresh on every call and never cached.
type State string

// Unit states we care about. Anything else ("failed", "reloading")
// simply counts as "not at the target state yet".
const (
	StateRunning      State = "active"
	StateStopped      State = "inactive"
	StateStartPending State = "activating"
	StateStopPending  State = "deactivating"
	StateFailed       State = "failed"
)

var (
	// ErrConnection means we couldn't reach the service control subsystem at all.
	ErrConnection = errors.New("cannot connect to service manager")
	// ErrUnavailable means the named unit doesn't exist or we are not allowed to see it.
	ErrUnavailable = errors.New("service unavailable")
	// ErrNotActive reports a stop request against a unit that is not running.
	// Callers are expected to treat it as success.
	ErrNotActive = errors.New("service is not active")
	// ErrAlreadyRunning reports a start request against a unit that is already up.
	// Callers are expected to treat it as success.
	ErrAlreadyRunning = errors.New("service is already running")
)

// jobModeReplace makes our job replace any queued job for the unit.
const jobModeReplace = "replace"

// Scope is an open connection to the service manager bound to one unit.
// It is owned by a single stop or start operation and must be released
// with Close when the operation ends, on every exit path.
type Scope struct {
	conn *sd.Conn
	unit string
}

// Open connects to the service manager and binds the scope to unit.
// The unit must be known to the manager; asking for a unit that doesn't
// exist is an error here rather than later, when we'd be halfway through
// a restart.
func Open(unit string) (*Scope, error) {
	conn, err := sd.New()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	s := &Scope{conn: conn, unit: unit}
	load, err := s.property("LoadState")
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: unit %s: %w", ErrUnavailable, unit, err)
	}
	if load != "loaded" {
		s.Close()
		return nil, fmt.Errorf("%w: unit %s has load state %q", ErrUnavailable, unit, load)
	}
	return s, nil
}

// Close releases the connection. Safe to call more than once.
func (s *Scope) Close() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Unit returns the unit name this scope is bound to.
func (s *Scope) Unit() string {
	return s.unit
}

func (s *Scope) property(name string) (string, error) {
	p, err := s.conn.GetUnitProperty(s.unit, name)
	if err != nil {
		return "", err
	}
	v, ok := p.Value.Value().(string)
	if !ok {
		return "", fmt.Errorf("unexpected type %T for unit property %s", p.Value.Value(), name)
	}
	return v, nil
}

// State queries the unit's current ActiveState.
func (s *Scope) State() (State, error) {
	v, err := s.property("ActiveState")
	if err != nil {
		return "", err
	}
	return State(v), nil
}

// isStopped tells whether a stop request against a unit in state st
// would have nothing to do.
func isStopped(st State) bool {
	return st == StateStopped || st == StateFailed
}

// Stop asks the service manager to stop the unit. If the unit is not
// running in the first place it returns ErrNotActive; a unit sitting in
// the failed state additionally gets its failed marker reset so that it
// reads as stopped afterwards.
func (s *Scope) Stop() error {
	st, err := s.State()
	if err != nil {
		return err
	}
	if isStopped(st) {
		if st == StateFailed {
			if err := s.conn.ResetFailedUnit(s.unit); err != nil {
				return err
			}
		}
		return fmt.Errorf("%w: %s", ErrNotActive, s.unit)
	}
	if _, err := s.conn.StopUnit(s.unit, jobModeReplace, nil); err != nil {
		return err
	}
	return nil
}

// Start asks the service manager to start the unit. If the unit is
// already running it returns ErrAlreadyRunning and the caller can skip
// waiting for a state it has already reached.
func (s *Scope) Start() error {
	st, err := s.State()
	if err != nil {
		return err
	}
	if st == StateRunning {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, s.unit)
	}
	if _, err := s.conn.StartUnit(s.unit, jobModeReplace, nil); err != nil {
		return err
	}
	return nil
}

// MainPID returns the unit's main process ID, 0 if the unit has none.
func (s *Scope) MainPID() (int, error) {
	p, err := s.conn.GetUnitTypeProperty(s.unit, "Service", "MainPID")
	if err != nil {
		return 0, err
	}
	pid, ok := p.Value.Value().(uint32)
	if !ok {
		return 0, fmt.Errorf("unexpected type %T for MainPID", p.Value.Value())
	}
	return int(pid), nil
}
