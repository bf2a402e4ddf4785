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

package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dataplane-ci/trendboard/pkg/ingest"
	"github.com/dataplane-ci/trendboard/pkg/jobtrack"
	"github.com/dataplane-ci/trendboard/pkg/store"
)

type discoverRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) handleDiscoverJobs(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	poller, err := s.newPoller()
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	builds, err := poller.DiscoverJobs(req.Limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, builds)
}

type downloadRequest struct {
	Selections []ingest.Selection `json:"selections"`
}

// handleDownloadSelected starts a background ingestion of the selected
// builds and returns the tracker job id. Progress streams over the SSE
// endpoint.
func (s *Server) handleDownloadSelected(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Selections) == 0 {
		writeError(w, http.StatusBadRequest, "selections must not be empty")
		return
	}
	poller, err := s.newPoller()
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	jobID := s.tracker.NewJob("download-selected")
	go func() {
		s.tracker.SetStatus(jobID, jobtrack.StatusRunning)
		logf := func(format string, args ...interface{}) {
			s.tracker.PushLog(jobID, fmt.Sprintf(format, args...))
		}
		imported, err := poller.DownloadSelected(req.Selections, logf)
		s.tracker.SetProgress(jobID, imported, imported)
		if err != nil {
			s.tracker.SetError(jobID, err.Error())
			return
		}
		s.tracker.SetStatus(jobID, jobtrack.StatusCompleted)
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) handleDownloadStream(w http.ResponseWriter, r *http.Request) {
	s.streamer.Stream(w, r, mux.Vars(r)["jobId"])
}

// settingsPayload is the settings document the API exchanges.
type settingsPayload struct {
	AutoUpdateEnabled         *bool    `json:"auto_update_enabled,omitempty"`
	PollingIntervalHours      *float64 `json:"polling_interval_hours,omitempty"`
	MetadataSyncEnabled       *bool    `json:"metadata_sync_enabled,omitempty"`
	MetadataSyncIntervalHours *float64 `json:"metadata_sync_interval_hours,omitempty"`
	CleanupArtifacts          *bool    `json:"cleanup_artifacts_after_import,omitempty"`
	SSEDrainTimeoutSeconds    *float64 `json:"sse_drain_timeout_seconds,omitempty"`
	SSEDrainPollInterval      *float64 `json:"sse_drain_poll_interval,omitempty"`
	FlakyDetectionJobWindow   *int     `json:"flaky_detection_job_window,omitempty"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	b := func(key string, def bool) *bool {
		v := s.store.BoolSetting(key, def)
		return &v
	}
	f := func(key string, def float64) *float64 {
		v := s.store.FloatSetting(key, def)
		return &v
	}
	window := s.store.IntSetting(store.SettingFlakyDetectionJobWindow, 5)
	writeJSON(w, http.StatusOK, settingsPayload{
		AutoUpdateEnabled:         b(store.SettingAutoUpdateEnabled, false),
		PollingIntervalHours:      f(store.SettingPollingIntervalHours, 6),
		MetadataSyncEnabled:       b(store.SettingMetadataSyncEnabled, false),
		MetadataSyncIntervalHours: f(store.SettingMetadataSyncInterval, 24),
		CleanupArtifacts:          b(store.SettingCleanupArtifacts, true),
		SSEDrainTimeoutSeconds:    f(store.SettingSSEDrainTimeoutSeconds, 1),
		SSEDrainPollInterval:      f(store.SettingSSEDrainPollInterval, 0.05),
		FlakyDetectionJobWindow:   &window,
	})
}

// handlePutSettings updates the supplied keys only. A polling interval
// or enable change reconfigures the scheduler in the same request.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	set := func(key string, value interface{}) bool {
		if err := s.store.SetSetting(key, value, ""); err != nil {
			s.fail(w, err)
			return false
		}
		return true
	}
	if req.AutoUpdateEnabled != nil && !set(store.SettingAutoUpdateEnabled, *req.AutoUpdateEnabled) {
		return
	}
	if req.PollingIntervalHours != nil {
		if *req.PollingIntervalHours <= 0 {
			writeError(w, http.StatusBadRequest, "polling_interval_hours must be positive")
			return
		}
		if !set(store.SettingPollingIntervalHours, *req.PollingIntervalHours) {
			return
		}
	}
	if req.MetadataSyncEnabled != nil && !set(store.SettingMetadataSyncEnabled, *req.MetadataSyncEnabled) {
		return
	}
	if req.MetadataSyncIntervalHours != nil && !set(store.SettingMetadataSyncInterval, *req.MetadataSyncIntervalHours) {
		return
	}
	if req.CleanupArtifacts != nil && !set(store.SettingCleanupArtifacts, *req.CleanupArtifacts) {
		return
	}
	if req.SSEDrainTimeoutSeconds != nil && !set(store.SettingSSEDrainTimeoutSeconds, *req.SSEDrainTimeoutSeconds) {
		return
	}
	if req.SSEDrainPollInterval != nil && !set(store.SettingSSEDrainPollInterval, *req.SSEDrainPollInterval) {
		return
	}
	if req.FlakyDetectionJobWindow != nil && !set(store.SettingFlakyDetectionJobWindow, *req.FlakyDetectionJobWindow) {
		return
	}

	if s.scheduler != nil && (req.AutoUpdateEnabled != nil || req.PollingIntervalHours != nil) {
		enabled := s.store.BoolSetting(store.SettingAutoUpdateEnabled, false)
		interval := s.store.FloatSetting(store.SettingPollingIntervalHours, 6)
		if err := s.scheduler.UpdatePollingSchedule(enabled, interval, s.runScheduledPoll); err != nil {
			s.fail(w, err)
			return
		}
	}
	s.handleGetSettings(w, r)
}

// runScheduledPoll is the scheduler callback for auto-update ticks.
func (s *Server) runScheduledPoll() {
	poller, err := s.newPoller()
	if err != nil {
		s.logger.WithError(err).Error("Cannot build poller.")
		return
	}
	if _, err := poller.PollOnce(); err != nil {
		s.logger.WithError(err).Error("Scheduled poll failed.")
	}
}

func (s *Server) handlePollingStatus(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler is not running")
		return
	}
	writeJSON(w, http.StatusOK, s.scheduler.PollerStatus())
}

func (s *Server) handlePollingLogs(w http.ResponseWriter, r *http.Request) {
	skip := intParam(r, "skip", 0)
	limit := intParam(r, "limit", 50)
	logs, total, err := s.store.PollingLogs(limit, skip)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paginate(logs, total, skip, limit))
}

// handlePollingTrigger runs one poll cycle in the background and
// returns a tracker job id for progress.
func (s *Server) handlePollingTrigger(w http.ResponseWriter, r *http.Request) {
	poller, err := s.newPoller()
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	jobID := s.tracker.NewJob("manual-poll")
	go func() {
		s.tracker.SetStatus(jobID, jobtrack.StatusRunning)
		res, err := poller.PollOnce()
		if err != nil {
			s.tracker.SetError(jobID, err.Error())
			return
		}
		s.tracker.PushLog(jobID, fmt.Sprintf("Imported %d jobs from %d builds.", res.JobsImported, res.BuildsFound))
		s.tracker.SetStatus(jobID, jobtrack.StatusCompleted)
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// handleDeleteRelease removes a release and everything under it. The
// artifact tree on disk is untouched.
func (s *Server) handleDeleteRelease(w http.ResponseWriter, r *http.Request) {
	vars, ok := pathParams(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteRelease(vars["release"]); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleMetadataSyncLogs(w http.ResponseWriter, r *http.Request) {
	skip := intParam(r, "skip", 0)
	limit := intParam(r, "limit", 50)
	logs, total, err := s.store.MetadataSyncLogs(limit, skip)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paginate(logs, total, skip, limit))
}

// handleBugRefresh runs one bug feed update in the background and
// returns a tracker job id for progress.
func (s *Server) handleBugRefresh(w http.ResponseWriter, r *http.Request) {
	if s.bugUpdater == nil {
		writeError(w, http.StatusServiceUnavailable, "bug feed is not configured")
		return
	}
	jobID := s.tracker.NewJob("bug-refresh")
	go func() {
		s.tracker.SetStatus(jobID, jobtrack.StatusRunning)
		if err := s.bugUpdater(); err != nil {
			s.tracker.SetError(jobID, err.Error())
			return
		}
		s.tracker.PushLog(jobID, "Bug metadata refreshed.")
		s.tracker.SetStatus(jobID, jobtrack.StatusCompleted)
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}
