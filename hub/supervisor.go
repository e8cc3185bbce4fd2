// Copyright 2025-2026 The streamhub Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hub

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/printfarm/streamhub/common"
)

// TimeoutSupervisor drives the connection liveness sweeps of one hub
// instance.
//
// The first deadline after arming fires after the auth grace period so
// never-authenticated connections get evicted promptly. Each sweep reports
// back how many connections remain; while any remain the supervisor re-arms
// itself at the longer heartbeat interval, and once the instance is empty it
// disarms until a new connection arms it again.
type TimeoutSupervisor struct {
	common.Component
	timer             common.IntervalTimer
	authTimeout       time.Duration
	heartbeatInterval time.Duration
	sweep             func() int
	lock              sync.Mutex
	armed             bool
	armGeneration     uint64
}

// GetTimeoutSupervisor define a new timeout supervisor.
//
// sweep is invoked on every deadline and must return the number of
// connections still attached to the instance afterward.
func GetTimeoutSupervisor(
	tenantID string,
	authTimeout, heartbeatInterval time.Duration,
	sweep func() int,
	rootCtxt context.Context,
	wg *sync.WaitGroup,
) (*TimeoutSupervisor, error) {
	logTags := log.Fields{
		"module": "hub", "component": "timeout-supervisor", "tenant": tenantID,
	}
	timer, err := common.GetIntervalTimerInstance(
		"timeout-supervisor-"+tenantID, rootCtxt, wg,
	)
	if err != nil {
		return nil, err
	}
	return &TimeoutSupervisor{
		Component:         common.Component{LogTags: logTags},
		timer:             timer,
		authTimeout:       authTimeout,
		heartbeatInterval: heartbeatInterval,
		sweep:             sweep,
	}, nil
}

// Arm start the supervision cycle if not already running.
//
// Called whenever a connection attaches. Re-arming while already armed is a
// no-op so in-flight deadlines are never pushed back by new arrivals.
func (s *TimeoutSupervisor) Arm() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	// Every arm request advances the generation, even a no-op one; a sweep
	// concluding "no connections remain" is stale if the generation moved
	// while it ran.
	s.armGeneration++
	if s.armed {
		return nil
	}
	if err := s.timer.Start(s.authTimeout, s.onDeadline, true); err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Unable to arm supervision timer")
		return err
	}
	s.armed = true
	log.WithFields(s.LogTags).Debugf("Armed with %s auth deadline", s.authTimeout)
	return nil
}

// Disarm stop the supervision cycle
func (s *TimeoutSupervisor) Disarm() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.armed {
		return
	}
	if err := s.timer.Stop(); err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Unable to stop supervision timer")
	}
	s.armed = false
}

func (s *TimeoutSupervisor) onDeadline() error {
	s.lock.Lock()
	genAtSweep := s.armGeneration
	s.lock.Unlock()
	remaining := s.sweep()
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.armed {
		return nil
	}
	if remaining <= 0 && s.armGeneration == genAtSweep {
		s.armed = false
		log.WithFields(s.LogTags).Debug("No connections remain, supervision idle")
		return nil
	}
	interval := s.heartbeatInterval
	if remaining <= 0 {
		// A connection attached while the sweep ran; it gets the full auth
		// grace period.
		interval = s.authTimeout
	}
	if err := s.timer.Start(interval, s.onDeadline, true); err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Unable to re-arm supervision timer")
		s.armed = false
		return err
	}
	log.WithFields(s.LogTags).Debugf(
		"Re-armed with %s deadline, %d connections remain", interval, remaining,
	)
	return nil
}
