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

// Package ingest discovers new parent builds on the unified Jenkins
// job, routes each module sub-job to its release by version, and imports
// the parsed artifacts. Modules of one build download in parallel;
// builds process strictly oldest-first.
package ingest

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/sirupsen/logrus"

	"github.com/dataplane-ci/trendboard/pkg/importer"
	"github.com/dataplane-ci/trendboard/pkg/jenkins"
	"github.com/dataplane-ci/trendboard/pkg/logparse"
	"github.com/dataplane-ci/trendboard/pkg/model"
	"github.com/dataplane-ci/trendboard/pkg/store"
)

// Bound on concurrent module downloads within one parent build.
const defaultWorkerLimit = 5

// versionRE extracts the build version from a module job displayName,
// e.g. "#144 VER: 6.4.2.0".
var versionRE = regexp.MustCompile(`VER:\s*(\d+\.\d+\.\d+\.\d+)`)

// releaseRE recognizes a value already in release form.
var releaseRE = regexp.MustCompile(`^\d+\.\d+$`)

// MapVersionToRelease reduces a build version to its release line:
// "6.4.2.0" routes to "6.4". Values already in release form pass
// through; anything else returns "".
func MapVersionToRelease(version string) string {
	version = strings.TrimSpace(version)
	if version == "" {
		return ""
	}
	if releaseRE.MatchString(version) {
		return version
	}
	parts := strings.Split(version, ".")
	if len(parts) < 2 {
		return ""
	}
	return parts[0] + "." + parts[1]
}

// ExtractVersion pulls the "VER: X.Y.Z.W" version out of a
// displayName, or "".
func ExtractVersion(displayName string) string {
	m := versionRE.FindStringSubmatch(displayName)
	if m == nil {
		return ""
	}
	return m[1]
}

// ModuleRef points at one module sub-job of a parent build.
type ModuleRef struct {
	// Name is the normalized module name ("business_policy").
	Name string
	// JobName is the Jenkins job name ("BUSINESS-POLICY-ESXI").
	JobName string
	// JobID is the sub-job build number.
	JobID int
	// URL is the module build URL.
	URL string
}

// NormalizeModuleName lower-cases a manifest job name and strips the
// esxi/module suffixes: "BUSINESS_POLICY_ESXI" -> "business_policy".
func NormalizeModuleName(jobName string) string {
	name := strings.ToLower(jobName)
	name = strings.ReplaceAll(name, "-", "_")
	for _, suffix := range []string{"_module_esxi", "_module", "_esxi"} {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}
	return name
}

// jenkinsRoot strips the /job/... tail off a build URL, leaving the
// master base URL.
func jenkinsRoot(buildURL string) string {
	if i := strings.Index(buildURL, "/job/"); i >= 0 {
		return buildURL[:i]
	}
	return strings.TrimSuffix(buildURL, "/")
}

// ParseBuildMap converts a parent build manifest into module refs. The
// manifest maps Jenkins job names to sub-job build numbers; job URLs
// are rebuilt against the master the parent build lives on.
func ParseBuildMap(buildMap map[string]int, buildURL string) map[string]ModuleRef {
	base := jenkinsRoot(buildURL)
	refs := make(map[string]ModuleRef, len(buildMap))
	for jobName, jobID := range buildMap {
		jenkinsName := strings.ReplaceAll(jobName, "_", "-")
		ref := ModuleRef{
			Name:    NormalizeModuleName(jobName),
			JobName: jenkinsName,
			JobID:   jobID,
			URL:     fmt.Sprintf("%s/job/%s/%d/", base, jenkinsName, jobID),
		}
		refs[ref.Name] = ref
	}
	return refs
}

// Config wires the poller.
type Config struct {
	// ParentJobURL is the unified parent job every active release
	// shares.
	ParentJobURL string
	// LogsBase is the artifact root on disk.
	LogsBase string
	// WorkerLimit bounds concurrent module downloads. Zero means the
	// default of 5.
	WorkerLimit int
}

// Poller drives the scheduled ingestion path.
type Poller struct {
	config   Config
	store    *store.Store
	client   *jenkins.Client
	importer *importer.Importer
	metrics  *jenkins.Metrics
	logger   *logrus.Entry
}

// NewPoller makes a Poller. A nil logger falls back to the standard
// logger; metrics may be nil.
func NewPoller(config Config, st *store.Store, client *jenkins.Client, metrics *jenkins.Metrics, logger *logrus.Entry) *Poller {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if config.WorkerLimit <= 0 {
		config.WorkerLimit = defaultWorkerLimit
	}
	return &Poller{
		config:   config,
		store:    st,
		client:   client,
		importer: importer.New(logger),
		metrics:  metrics,
		logger:   logger.WithField("component", "poller"),
	}
}

// Result summarizes one polling cycle.
type Result struct {
	BuildsFound   int
	JobsImported  int
	LastBuildSeen int
}

// PollOnce runs one discovery cycle: list parent builds newer than the
// lowest release watermark, process them oldest-first, and advance the
// watermark past every fully processed build. A build that lost a
// module holds the watermark so the module retries next cycle, and the
// cycle is recorded as failed. Logging a cycle row per active release
// keeps the audit trail per release even though the parent job is
// shared.
func (p *Poller) PollOnce() (*Result, error) {
	start := time.Now()
	if p.metrics != nil {
		defer func() {
			p.metrics.PollCycle.Observe(time.Since(start).Seconds())
		}()
	}

	releases, err := p.store.ActiveReleases()
	if err != nil {
		return nil, err
	}
	if len(releases) == 0 {
		p.logger.Info("No active releases, nothing to poll.")
		return &Result{}, nil
	}

	minBuild := releases[0].LastProcessedBuild
	for _, r := range releases[1:] {
		if r.LastProcessedBuild < minBuild {
			minBuild = r.LastProcessedBuild
		}
	}

	res := &Result{}
	builds, err := p.client.GetJobBuilds(p.config.ParentJobURL, minBuild)
	if err != nil {
		p.recordCycle(releases, res, err)
		return res, err
	}
	res.BuildsFound = len(builds)

	// Builds arrive descending; process oldest first so the watermark
	// only ever moves forward over fully processed builds.
	advance := true
	var moduleErrs []string
	for i := len(builds) - 1; i >= 0; i-- {
		build := builds[i]
		imported, failures, err := p.processParentBuild(build)
		if err != nil {
			p.logger.WithError(err).Errorf("Parent build %d failed.", build)
			p.recordCycle(releases, res, err)
			return res, err
		}
		res.JobsImported += imported
		res.LastBuildSeen = build
		if len(failures) > 0 {
			moduleErrs = append(moduleErrs, failures...)
			advance = false
		}
		if !advance {
			continue
		}
		if err := store.AdvanceWatermark(p.store.DB(), build); err != nil {
			p.recordCycle(releases, res, err)
			return res, err
		}
	}

	if len(moduleErrs) > 0 {
		err := fmt.Errorf("%d module jobs failed: %s", len(moduleErrs), strings.Join(moduleErrs, "; "))
		p.recordCycle(releases, res, err)
		return res, err
	}
	p.recordCycle(releases, res, nil)
	return res, nil
}

// recordCycle writes one polling audit row per active release.
func (p *Poller) recordCycle(releases []model.Release, res *Result, cycleErr error) {
	status := "success"
	var msg *string
	if cycleErr != nil {
		status = "failed"
		s := cycleErr.Error()
		msg = &s
	}
	now := time.Now()
	for _, r := range releases {
		log := &model.JenkinsPollingLog{
			ReleaseName:   r.Name,
			Status:        status,
			BuildsFound:   res.BuildsFound,
			JobsImported:  res.JobsImported,
			ErrorMessage:  msg,
			CompletedAt:   &now,
			LastBuildSeen: res.LastBuildSeen,
		}
		if err := p.store.RecordPollingLog(log); err != nil {
			p.logger.WithError(err).Error("Cannot record polling log.")
		}
	}
}

// processParentBuild downloads the manifest of one parent build and
// fans its modules out to the worker pool. Returns the number of
// module jobs imported and a description per failed module.
func (p *Poller) processParentBuild(build int) (int, []string, error) {
	buildURL := fmt.Sprintf("%s/%d/", strings.TrimSuffix(p.config.ParentJobURL, "/"), build)
	logger := p.logger.WithField("parent", build)

	buildMap, err := p.client.DownloadBuildMap(buildURL)
	if err != nil {
		return 0, nil, err
	}
	if buildMap == nil {
		logger.Info("Parent build has no manifest, skipping.")
		return 0, nil, nil
	}
	refs := ParseBuildMap(buildMap, buildURL)

	// Parent version is the fallback for modules whose displayName
	// carries none.
	fallbackVersion := ""
	if info, err := p.client.GetJobInfo(buildURL); err == nil {
		fallbackVersion = ExtractVersion(info.DisplayName)
	} else {
		logger.WithError(err).Warn("Cannot read parent build info.")
	}

	parentID := strconv.Itoa(build)
	imported := 0
	var failures []string
	var mu sync.Mutex

	sem := make(chan struct{}, p.config.WorkerLimit)
	var wg sync.WaitGroup
	for _, ref := range refs {
		wg.Add(1)
		go func(ref ModuleRef) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			ok, err := p.processModule(ref, parentID, fallbackVersion)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Module failures are isolated; the build keeps going
				// and the cycle reports them.
				logger.WithError(err).Errorf("Module %s failed.", ref.Name)
				failures = append(failures, fmt.Sprintf("%s/%d: %v", ref.Name, ref.JobID, err))
				return
			}
			if ok {
				imported++
			}
		}(ref)
	}
	wg.Wait()
	sort.Strings(failures)
	return imported, failures, nil
}

// processModule downloads, parses and imports one module sub-job.
// Each call owns its own transaction; committing per module keeps
// progress crash-tolerant. Returns whether a job was imported.
func (p *Poller) processModule(ref ModuleRef, parentID, fallbackVersion string) (bool, error) {
	logger := p.logger.WithFields(logrus.Fields{"module": ref.Name, "job": ref.JobID})

	info, err := p.client.GetJobInfo(ref.URL)
	if err != nil {
		return false, err
	}
	version := ExtractVersion(info.DisplayName)
	if version == "" {
		version = fallbackVersion
	}
	releaseName := MapVersionToRelease(version)
	if version == "" || releaseName == "" {
		logger.Warnf("Cannot route module %s: no version on %q.", ref.Name, info.DisplayName)
		return false, nil
	}

	jobID := strconv.Itoa(ref.JobID)
	imported := false
	jobRowID := 0
	err = p.store.Transaction(func(tx *gorm.DB) error {
		release, err := store.GetOrCreateRelease(tx, releaseName)
		if err != nil {
			return err
		}
		mod, err := store.GetOrCreateModule(tx, release.ID, ref.Name)
		if err != nil {
			return err
		}
		if existing, err := store.FindJob(tx, mod.ID, jobID); err == nil && existing.Total > 0 {
			logger.Info("Job already imported, skipping.")
			return nil
		} else if err != nil && err != store.ErrNotFound {
			return err
		}

		jobDir, err := DownloadArtifacts(p.client, ref.URL, p.config.LogsBase, releaseName, ref.Name, jobID)
		if err != nil {
			return err
		}
		results, err := logparse.ParseJobDirectory(jobDir, logger)
		if err != nil {
			return err
		}
		job, count, err := p.importer.ImportJob(tx, importer.Request{
			ReleaseName:  releaseName,
			ModuleName:   ref.Name,
			JobID:        jobID,
			ParentJobID:  parentID,
			JenkinsURL:   ref.URL,
			Version:      version,
			ExecutedAt:   info.ExecutedAt(),
			Results:      results,
			SkipIfExists: true,
		})
		if err != nil {
			return err
		}
		jobRowID = job.ID
		logger.Infof("Imported %d test results.", count)
		imported = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if imported {
		// Re-imports racing artifact repair can leave doubled rows;
		// keep the newest.
		if _, err := p.store.DeleteDuplicateResults(jobRowID); err != nil {
			logger.WithError(err).Warn("Duplicate cleanup failed.")
		}
		if p.metrics != nil {
			p.metrics.JobsImported.Inc()
		}
		if p.store.BoolSetting(store.SettingCleanupArtifacts, false) {
			if err := CleanupArtifacts(p.config.LogsBase, releaseName, ref.Name, jobID); err != nil {
				logger.WithError(err).Warn("Artifact cleanup failed.")
			}
		}
	}
	return imported, nil
}
