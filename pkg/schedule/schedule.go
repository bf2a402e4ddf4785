/*
Copyright 2026 The Trendboard Authors.

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

// Package schedule wraps robfig/cron with the two background jobs of
// the service: the Jenkins poller on a configurable interval and the
// bug updater at 02:00 daily. Schedule updates remove and re-add the
// entry under a lock so concurrent updates converge to one
// registration.
package schedule

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	cron "gopkg.in/robfig/cron.v2" // using v2 api, doc at https://godoc.org/gopkg.in/robfig/cron.v2
)

// Job names as they appear in status payloads.
const (
	PollerJobName     = "jenkins_poller"
	BugUpdaterJobName = "bug_updater"

	bugUpdaterSpec = "0 2 * * *"
)

// jobStatus is a cache layer for tracking registered cron jobs.
type jobStatus struct {
	// entryID is the unique identifier the cron agent assigned.
	entryID cron.EntryID
	// spec is the schedule the entry was registered with. The entry
	// is regenerated when the spec changes.
	spec string
	// running guards against overlapping ticks; a still-running prior
	// tick causes the next trigger to be skipped.
	running bool
}

// Scheduler is a wrapper for cron.Cron.
type Scheduler struct {
	cronAgent *cron.Cron
	jobs      map[string]*jobStatus
	logger    *logrus.Entry
	lock      sync.Mutex
	started   bool
}

// New makes a new Scheduler.
func New(logger *logrus.Entry) *Scheduler {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{
		cronAgent: cron.New(),
		jobs:      map[string]*jobStatus{},
		logger:    logger.WithField("client", "cron"),
	}
}

// Start kicks off the cron agent.
func (s *Scheduler) Start() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.cronAgent.Start()
	s.started = true
}

// Stop pauses the cron agent.
func (s *Scheduler) Stop() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.cronAgent.Stop()
	s.started = false
}

// AddPoller registers the poller job with the given interval. An
// existing registration with a different interval is replaced.
func (s *Scheduler) AddPoller(intervalHours float64, run func()) error {
	spec := fmt.Sprintf("@every %s", intervalDuration(intervalHours))
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.addJob(PollerJobName, spec, run)
}

// AddBugUpdater registers the bug updater at 02:00 daily.
func (s *Scheduler) AddBugUpdater(run func()) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.addJob(BugUpdaterJobName, bugUpdaterSpec, run)
}

// UpdatePollingSchedule re-registers or removes the poller entry
// atomically.
func (s *Scheduler) UpdatePollingSchedule(enabled bool, intervalHours float64, run func()) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !enabled {
		if _, ok := s.jobs[PollerJobName]; !ok {
			return nil
		}
		return s.removeJob(PollerJobName)
	}
	spec := fmt.Sprintf("@every %s", intervalDuration(intervalHours))
	return s.addJob(PollerJobName, spec, run)
}

// Status reports the poller registration for the admin surface.
type Status struct {
	Running    bool       `json:"running"`
	JobEnabled bool       `json:"jobEnabled"`
	NextRun    *time.Time `json:"nextRun"`
	JobName    string     `json:"jobName"`
}

// PollerStatus returns the current poller schedule status.
func (s *Scheduler) PollerStatus() Status {
	s.lock.Lock()
	defer s.lock.Unlock()
	st := Status{JobName: PollerJobName, Running: s.started}
	job, ok := s.jobs[PollerJobName]
	if !ok {
		return st
	}
	st.JobEnabled = true
	entry := s.cronAgent.Entry(job.entryID)
	if !entry.Next.IsZero() {
		next := entry.Next
		st.NextRun = &next
	}
	return st
}

// HasJob returns whether a job is registered.
func (s *Scheduler) HasJob(name string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, ok := s.jobs[name]
	return ok
}

// addJob registers an entry, replacing a same-named one whose spec
// changed. Callers hold the lock.
func (s *Scheduler) addJob(name, spec string, run func()) error {
	if job, ok := s.jobs[name]; ok {
		if job.spec == spec {
			return nil
		}
		if err := s.removeJob(name); err != nil {
			return err
		}
	}
	id, err := s.cronAgent.AddFunc(spec, func() {
		if !s.tryBegin(name) {
			s.logger.Warnf("Skipping tick of %s: previous run still in progress.", name)
			return
		}
		defer s.end(name)
		s.logger.Infof("Triggering cron job %s.", name)
		run()
	})
	if err != nil {
		return fmt.Errorf("cronAgent fails to add job %s with spec %s: %v", name, spec, err)
	}
	s.jobs[name] = &jobStatus{entryID: id, spec: spec}
	s.logger.Infof("Added cron job %s with trigger %s.", name, spec)
	return nil
}

// removeJob removes the job from the cron agent. Callers hold the
// lock.
func (s *Scheduler) removeJob(name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("job %s has not been added to cronAgent yet", name)
	}
	s.cronAgent.Remove(job.entryID)
	delete(s.jobs, name)
	s.logger.Infof("Removed previous cron job %s.", name)
	return nil
}

func (s *Scheduler) tryBegin(name string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	job, ok := s.jobs[name]
	if !ok || job.running {
		return false
	}
	job.running = true
	return true
}

func (s *Scheduler) end(name string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if job, ok := s.jobs[name]; ok {
		job.running = false
	}
}

func intervalDuration(hours float64) time.Duration {
	if hours <= 0 {
		hours = 1
	}
	return time.Duration(hours * float64(time.Hour)).Round(time.Second)
}
