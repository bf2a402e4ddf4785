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

// Package server exposes the analytics and ingestion API over HTTP.
// Handlers translate query parameters into engine calls; everything
// stateful lives behind the store, the tracker or the scheduler.
package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"

	"github.com/NYTimes/gziphandler"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dataplane-ci/trendboard/pkg/analytics"
	"github.com/dataplane-ci/trendboard/pkg/ingest"
	"github.com/dataplane-ci/trendboard/pkg/jobtrack"
	"github.com/dataplane-ci/trendboard/pkg/schedule"
	"github.com/dataplane-ci/trendboard/pkg/sse"
	"github.com/dataplane-ci/trendboard/pkg/store"
)

var (
	releasePathRE = regexp.MustCompile(`^\d+\.\d+$`)
	modulePathRE  = regexp.MustCompile(`^[a-z0-9_]+$`)
	jobPathRE     = regexp.MustCompile(`^\d+$`)
)

// Valid values for status and priority query parameters.
var (
	validStatuses   = map[string]bool{"PASSED": true, "FAILED": true, "SKIPPED": true}
	validPriorities = map[string]bool{"P0": true, "P1": true, "P2": true, "P3": true, "UNKNOWN": true}
)

// PollerFunc builds an ingestion poller on demand. CI credentials are
// read from the environment at call time, never persisted, so
// construction can fail when they are absent.
type PollerFunc func() (*ingest.Poller, error)

// Server carries the dependencies of the HTTP surface.
type Server struct {
	store     *store.Store
	engine    *analytics.Engine
	tracker   *jobtrack.Tracker
	streamer  *sse.Streamer
	scheduler *schedule.Scheduler
	newPoller PollerFunc
	// bugUpdater runs one bug feed refresh. Nil when no feed is
	// configured.
	bugUpdater func() error
	logger     *logrus.Entry

	// adminPINHash is the SHA-256 hex digest of the admin PIN. Empty
	// disables the admin surface.
	adminPINHash string
}

// Options configures a Server.
type Options struct {
	Store        *store.Store
	Engine       *analytics.Engine
	Tracker      *jobtrack.Tracker
	Streamer     *sse.Streamer
	Scheduler    *schedule.Scheduler
	NewPoller    PollerFunc
	BugUpdater   func() error
	AdminPINHash string
	Logger       *logrus.Entry
}

// New makes a Server.
func New(o Options) *Server {
	logger := o.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		store:        o.Store,
		engine:       o.Engine,
		tracker:      o.Tracker,
		streamer:     o.Streamer,
		scheduler:    o.Scheduler,
		newPoller:    o.NewPoller,
		bugUpdater:   o.BugUpdater,
		adminPINHash: o.AdminPINHash,
		logger:       logger.WithField("component", "server"),
	}
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/releases", s.handleReleases).Methods(http.MethodGet)
	api.HandleFunc("/releases/{release}", s.admin(s.handleDeleteRelease)).Methods(http.MethodDelete)
	api.HandleFunc("/modules/{release}", s.handleModules).Methods(http.MethodGet)
	api.HandleFunc("/versions/{release}", s.handleVersions).Methods(http.MethodGet)
	api.HandleFunc("/parent-jobs/{release}/{module}", s.handleParentJobs).Methods(http.MethodGet)
	api.HandleFunc("/summary/{release}/{module}", s.handleSummary).Methods(http.MethodGet)
	api.HandleFunc("/summary/{release}", s.handleAllModules).Methods(http.MethodGet)
	api.HandleFunc("/priority-stats/{release}/{module}/{job}", s.handlePriorityStats).Methods(http.MethodGet)
	api.HandleFunc("/trends/{release}/{module}", s.handleTrends).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{release}/{module}/{job}/tests", s.handleJobTests).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{release}/{module}/{job}/failures/clustered", s.handleClusteredFailures).Methods(http.MethodGet)
	api.HandleFunc("/bug-breakdown", s.handleBugBreakdown).Methods(http.MethodGet)
	api.HandleFunc("/bug-details", s.handleBugDetails).Methods(http.MethodGet)
	api.HandleFunc("/bug-affected-tests", s.handleBugAffectedTests).Methods(http.MethodGet)
	api.HandleFunc("/search/testcases", s.handleSearchTestcases).Methods(http.MethodGet)
	api.HandleFunc("/search/autocomplete", s.handleAutocomplete).Methods(http.MethodGet)
	api.HandleFunc("/search/statistics", s.handleSearchStatistics).Methods(http.MethodGet)
	api.HandleFunc("/search/filtered-testcases", s.handleFilteredTestcases).Methods(http.MethodGet)
	api.HandleFunc("/search/testcases/{name}", s.handleGetTestcase).Methods(http.MethodGet)
	api.HandleFunc("/jenkins/discover-jobs", s.admin(s.handleDiscoverJobs)).Methods(http.MethodPost)
	api.HandleFunc("/jenkins/download-selected", s.admin(s.handleDownloadSelected)).Methods(http.MethodPost)
	api.HandleFunc("/jenkins/download-selected/{jobId}", s.handleDownloadStream).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.admin(s.handlePutSettings)).Methods(http.MethodPut)
	api.HandleFunc("/polling/status", s.handlePollingStatus).Methods(http.MethodGet)
	api.HandleFunc("/polling/logs", s.handlePollingLogs).Methods(http.MethodGet)
	api.HandleFunc("/polling/trigger", s.admin(s.handlePollingTrigger)).Methods(http.MethodPost)
	api.HandleFunc("/metadata/sync-logs", s.handleMetadataSyncLogs).Methods(http.MethodGet)
	api.HandleFunc("/bugs/refresh", s.admin(s.handleBugRefresh)).Methods(http.MethodPost)

	return gziphandler.GzipHandler(r)
}

// admin gates a handler behind the hashed-PIN header. The stored value
// and the digest of the presented PIN are compared in constant time.
func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminPINHash == "" {
			writeError(w, http.StatusForbidden, "admin operations are disabled")
			return
		}
		pin := r.Header.Get("X-Admin-PIN")
		if pin == "" {
			writeError(w, http.StatusUnauthorized, "missing X-Admin-PIN header")
			return
		}
		sum := sha256.Sum256([]byte(pin))
		digest := hex.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(digest), []byte(s.adminPINHash)) != 1 {
			writeError(w, http.StatusForbidden, "invalid PIN")
			return
		}
		next(w, r)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// fail maps engine errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.logger.WithError(err).Error("Request failed.")
	writeError(w, http.StatusInternalServerError, "internal error")
}

// pathParams validates {release} and, when present, {module} and
// {job}. Pattern misses are a 422, per contract.
func pathParams(w http.ResponseWriter, r *http.Request) (map[string]string, bool) {
	vars := mux.Vars(r)
	if release, ok := vars["release"]; ok && !releasePathRE.MatchString(release) {
		writeError(w, http.StatusUnprocessableEntity, "release must look like 6.4")
		return nil, false
	}
	if module, ok := vars["module"]; ok && !modulePathRE.MatchString(module) {
		writeError(w, http.StatusUnprocessableEntity, "module must be lowercase snake_case")
		return nil, false
	}
	if job, ok := vars["job"]; ok && !jobPathRE.MatchString(job) {
		writeError(w, http.StatusUnprocessableEntity, "job id must be numeric")
		return nil, false
	}
	return vars, true
}

// csvParam splits a comma-separated query parameter, validating each
// value against allowed. Invalid values are a 400.
func csvParam(w http.ResponseWriter, r *http.Request, name string, allowed map[string]bool) ([]string, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			v := raw[start:i]
			if v != "" {
				if !allowed[v] {
					writeError(w, http.StatusBadRequest, "invalid "+name+" value: "+v)
					return nil, false
				}
				out = append(out, v)
			}
			start = i + 1
		}
	}
	return out, true
}

func boolParam(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	return v == "true" || v == "1"
}

func intParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// page is the pagination envelope of list endpoints.
type page struct {
	Items       interface{} `json:"items"`
	Total       int         `json:"total"`
	Skip        int         `json:"skip"`
	Limit       int         `json:"limit"`
	HasNext     bool        `json:"has_next"`
	HasPrevious bool        `json:"has_previous"`
}

func paginate(items interface{}, total, skip, limit int) page {
	return page{
		Items:       items,
		Total:       total,
		Skip:        skip,
		Limit:       limit,
		HasNext:     limit > 0 && skip+limit < total,
		HasPrevious: skip > 0,
	}
}
