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

package ingest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// LogFunc receives human-readable progress lines from an on-demand
// run. Workers call it concurrently.
type LogFunc func(format string, args ...interface{})

// ParentBuild describes one discovered parent build and its module
// sub-jobs.
type ParentBuild struct {
	Build   int         `json:"build"`
	URL     string      `json:"url"`
	Version string      `json:"version"`
	Modules []ModuleRef `json:"modules"`
}

// DiscoverJobs lists the newest parent builds (up to limit) with their
// module manifests, for interactive selection.
func (p *Poller) DiscoverJobs(limit int) ([]ParentBuild, error) {
	builds, err := p.client.GetJobBuilds(p.config.ParentJobURL, 0)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(builds) > limit {
		builds = builds[:limit]
	}
	var out []ParentBuild
	for _, build := range builds {
		buildURL := fmt.Sprintf("%s/%d/", strings.TrimSuffix(p.config.ParentJobURL, "/"), build)
		pb := ParentBuild{Build: build, URL: buildURL}
		if info, err := p.client.GetJobInfo(buildURL); err == nil {
			pb.Version = ExtractVersion(info.DisplayName)
		}
		buildMap, err := p.client.DownloadBuildMap(buildURL)
		if err != nil {
			p.logger.WithError(err).Warnf("Cannot read manifest of build %d.", build)
		}
		if buildMap != nil {
			refs := ParseBuildMap(buildMap, buildURL)
			for _, ref := range refs {
				pb.Modules = append(pb.Modules, ref)
			}
			sort.Slice(pb.Modules, func(i, j int) bool { return pb.Modules[i].Name < pb.Modules[j].Name })
		}
		out = append(out, pb)
	}
	return out, nil
}

// Selection names a parent build and, optionally, the subset of its
// modules to ingest. An empty module list means every module.
type Selection struct {
	Build   int      `json:"build"`
	Modules []string `json:"modules"`
}

// DownloadSelected ingests the selected parent builds, streaming
// progress through logf. Module failures are isolated per module, like
// the scheduled path; the first manifest-level error aborts.
func (p *Poller) DownloadSelected(selections []Selection, logf LogFunc) (int, error) {
	if logf == nil {
		logf = func(format string, args ...interface{}) {}
	}
	total := 0
	for _, sel := range selections {
		imported, err := p.downloadSelectedBuild(sel, logf)
		total += imported
		if err != nil {
			logf("Build %d failed: %v", sel.Build, err)
			return total, err
		}
	}
	logf("Done: imported %d module jobs.", total)
	return total, nil
}

func (p *Poller) downloadSelectedBuild(sel Selection, logf LogFunc) (int, error) {
	buildURL := fmt.Sprintf("%s/%d/", strings.TrimSuffix(p.config.ParentJobURL, "/"), sel.Build)
	logf("Discovering modules of build %d...", sel.Build)

	buildMap, err := p.client.DownloadBuildMap(buildURL)
	if err != nil {
		return 0, err
	}
	if buildMap == nil {
		logf("Build %d has no manifest, skipping.", sel.Build)
		return 0, nil
	}
	refs := ParseBuildMap(buildMap, buildURL)

	wanted := map[string]bool{}
	for _, m := range sel.Modules {
		wanted[NormalizeModuleName(m)] = true
	}

	fallbackVersion := ""
	if info, err := p.client.GetJobInfo(buildURL); err == nil {
		fallbackVersion = ExtractVersion(info.DisplayName)
	}

	parentID := strconv.Itoa(sel.Build)
	imported := 0
	var mu sync.Mutex

	sem := make(chan struct{}, p.config.WorkerLimit)
	var wg sync.WaitGroup
	for _, ref := range refs {
		if len(wanted) > 0 && !wanted[ref.Name] {
			continue
		}
		wg.Add(1)
		go func(ref ModuleRef) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			logf("Downloading %s (job %d)...", ref.Name, ref.JobID)
			ok, err := p.processModule(ref, parentID, fallbackVersion)
			if err != nil {
				logf("Module %s failed: %v", ref.Name, err)
				return
			}
			if ok {
				logf("Imported %s (job %d).", ref.Name, ref.JobID)
				mu.Lock()
				imported++
				mu.Unlock()
			} else {
				logf("Skipped %s (job %d): already imported or unroutable.", ref.Name, ref.JobID)
			}
		}(ref)
	}
	wg.Wait()
	return imported, nil
}
