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
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dataplane-ci/trendboard/pkg/jenkins"
	"github.com/dataplane-ci/trendboard/pkg/model"
	"github.com/dataplane-ci/trendboard/pkg/store"
)

func TestMapVersionToRelease(t *testing.T) {
	tests := []struct {
		version string
		want    string
	}{
		{"6.4.0.1", "6.4"},
		{"6.4.2.0", "6.4"},
		{"5.2.0.0", "5.2"},
		{"6.4", "6.4"},
		{" 6.4.0.1 ", "6.4"},
		{"6", ""},
		{"", ""},
	}
	for _, tc := range tests {
		if got := MapVersionToRelease(tc.version); got != tc.want {
			t.Errorf("MapVersionToRelease(%q) = %q, want %q", tc.version, got, tc.want)
		}
	}
}

func TestExtractVersion(t *testing.T) {
	tests := []struct {
		displayName string
		want        string
	}{
		{"#144 VER: 6.4.2.0", "6.4.2.0"},
		{"#144 VER:6.4.2.0", "6.4.2.0"},
		{"nightly VER: 5.2.0.0 (rerun)", "5.2.0.0"},
		{"#144", ""},
		{"VER: 6.4", ""},
	}
	for _, tc := range tests {
		if got := ExtractVersion(tc.displayName); got != tc.want {
			t.Errorf("ExtractVersion(%q) = %q, want %q", tc.displayName, got, tc.want)
		}
	}
}

func TestNormalizeModuleName(t *testing.T) {
	tests := []struct {
		jobName string
		want    string
	}{
		{"BUSINESS_POLICY_ESXI", "business_policy"},
		{"ROUTING-MODULE-ESXI", "routing"},
		{"FIREWALL_MODULE", "firewall"},
		{"QOS", "qos"},
	}
	for _, tc := range tests {
		if got := NormalizeModuleName(tc.jobName); got != tc.want {
			t.Errorf("NormalizeModuleName(%q) = %q, want %q", tc.jobName, got, tc.want)
		}
	}
}

func TestParseBuildMap(t *testing.T) {
	buildMap := map[string]int{
		"ROUTING_ESXI":         7,
		"BUSINESS_POLICY_ESXI": 9,
	}
	refs := ParseBuildMap(buildMap, "https://ci.example.com/job/DP-PARENT/5/")

	want := map[string]ModuleRef{
		"routing": {
			Name:    "routing",
			JobName: "ROUTING-ESXI",
			JobID:   7,
			URL:     "https://ci.example.com/job/ROUTING-ESXI/7/",
		},
		"business_policy": {
			Name:    "business_policy",
			JobName: "BUSINESS-POLICY-ESXI",
			JobID:   9,
			URL:     "https://ci.example.com/job/BUSINESS-POLICY-ESXI/9/",
		},
	}
	if diff := cmp.Diff(want, refs); diff != "" {
		t.Errorf("ParseBuildMap mismatch (-want +got):\n%s", diff)
	}
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	config := model.SQLiteConfig{File: ":memory:"}
	db, err := config.CreateDatabase()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return store.New(db, nil)
}

// fakeJenkins serves a parent job with one new build and the given
// manifest. Only the routing sub-job has routes; any other manifest
// entry 404s.
func fakeJenkins(t *testing.T, manifest string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/job/DP-PARENT/api/json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"builds":[{"number":5}]}`)
	})
	mux.HandleFunc("/job/DP-PARENT/5/artifact/build_map.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, manifest)
	})
	mux.HandleFunc("/job/DP-PARENT/5/api/json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"displayName":"#5 VER: 6.4.0.1","number":5,"timestamp":1700000000000}`)
	})
	// One document serves both the build info and the artifact list;
	// decoding ignores the fields it does not ask for.
	mux.HandleFunc("/job/ROUTING-ESXI/7/api/json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"displayName":"#7 VER: 6.4.0.1",
			"number":7,
			"timestamp":1700000100000,
			"artifacts":[
				{"relativePath":"hapy/1700000000_rt_5s.order.txt"},
				{"relativePath":"hapy/reports/junit/5s/report.xml"},
				{"relativePath":"hapy/console.log"}
			]
		}`)
	})
	mux.HandleFunc("/job/ROUTING-ESXI/7/artifact/hapy/1700000000_rt_5s.order.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[10.0.0.1] PASSED a.py::T::t1\n[10.0.0.1] FAILED a.py::T::t2\n")
	})
	mux.HandleFunc("/job/ROUTING-ESXI/7/artifact/hapy/reports/junit/5s/report.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0"?>
<testsuite tests="2" failures="1">
  <testcase classname="pkg.T" name="t2" file="a.py">
    <failure message="AssertionError: boom"/>
  </testcase>
</testsuite>`)
	})
	return httptest.NewServer(mux)
}

func TestPollOnce(t *testing.T) {
	server := fakeJenkins(t, `{"ROUTING_ESXI": 7}`)
	defer server.Close()

	s := testStore(t)
	if _, err := store.GetOrCreateRelease(s.DB(), "6.4"); err != nil {
		t.Fatal(err)
	}

	logsBase, err := ioutil.TempDir("", "ingest")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(logsBase)

	auth := &jenkins.BasicAuthConfig{User: "tester", GetToken: func() []byte { return []byte("token") }}
	client := jenkins.NewClient(auth, nil, nil)
	poller := NewPoller(Config{
		ParentJobURL: server.URL + "/job/DP-PARENT/",
		LogsBase:     logsBase,
		WorkerLimit:  2,
	}, s, client, nil, nil)

	res, err := poller.PollOnce()
	if err != nil {
		t.Fatal(err)
	}
	if res.BuildsFound != 1 || res.JobsImported != 1 || res.LastBuildSeen != 5 {
		t.Errorf("unexpected result: %+v", res)
	}

	release, err := s.FindRelease("6.4")
	if err != nil {
		t.Fatal(err)
	}
	if release.LastProcessedBuild != 5 {
		t.Errorf("watermark = %d, want 5", release.LastProcessedBuild)
	}

	var job model.Job
	if err := s.DB().Where("job_id = ?", "7").First(&job).Error; err != nil {
		t.Fatalf("module job not imported: %v", err)
	}
	if job.ParentJobID == nil || *job.ParentJobID != "5" {
		t.Errorf("parent job id = %v, want 5", job.ParentJobID)
	}
	if job.Version != "6.4.0.1" {
		t.Errorf("version = %q, want 6.4.0.1", job.Version)
	}
	if job.Total != 2 || job.Passed != 1 || job.Failed != 1 {
		t.Errorf("job stats: %+v", job)
	}

	var failed model.TestResult
	if err := s.DB().Where("test_name = ?", "t2").First(&failed).Error; err != nil {
		t.Fatal(err)
	}
	if failed.FailureMessage == nil || *failed.FailureMessage != "AssertionError: boom" {
		t.Errorf("failure message = %v", failed.FailureMessage)
	}

	var logs []model.JenkinsPollingLog
	if err := s.DB().Find(&logs).Error; err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Status != "success" || logs[0].ReleaseName != "6.4" {
		t.Errorf("polling logs: %+v", logs)
	}

	// A second cycle sees no builds past the watermark.
	res, err = poller.PollOnce()
	if err != nil {
		t.Fatal(err)
	}
	if res.BuildsFound != 0 || res.JobsImported != 0 {
		t.Errorf("second cycle should be empty, got %+v", res)
	}
}

func TestPollOnceModuleFailureHoldsWatermark(t *testing.T) {
	// The business_policy sub-job has no routes, so fetching it 404s.
	server := fakeJenkins(t, `{"ROUTING_ESXI": 7, "BUSINESS_POLICY_ESXI": 9}`)
	defer server.Close()

	s := testStore(t)
	if _, err := store.GetOrCreateRelease(s.DB(), "6.4"); err != nil {
		t.Fatal(err)
	}

	logsBase, err := ioutil.TempDir("", "ingest")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(logsBase)

	auth := &jenkins.BasicAuthConfig{User: "tester", GetToken: func() []byte { return []byte("token") }}
	client := jenkins.NewClient(auth, nil, nil)
	poller := NewPoller(Config{
		ParentJobURL: server.URL + "/job/DP-PARENT/",
		LogsBase:     logsBase,
		WorkerLimit:  2,
	}, s, client, nil, nil)

	res, err := poller.PollOnce()
	if err == nil {
		t.Fatal("cycle with a lost module should fail")
	}
	if !strings.Contains(err.Error(), "business_policy") {
		t.Errorf("error should name the failed module: %v", err)
	}
	if res.JobsImported != 1 {
		t.Errorf("imported = %d, want 1", res.JobsImported)
	}

	// The healthy module still lands.
	var job model.Job
	if err := s.DB().Where("job_id = ?", "7").First(&job).Error; err != nil {
		t.Fatalf("routing job not imported: %v", err)
	}

	// The watermark holds so the failed module retries next cycle.
	release, err := s.FindRelease("6.4")
	if err != nil {
		t.Fatal(err)
	}
	if release.LastProcessedBuild != 0 {
		t.Errorf("watermark = %d, want 0", release.LastProcessedBuild)
	}

	var logs []model.JenkinsPollingLog
	if err := s.DB().Find(&logs).Error; err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Status != "failed" {
		t.Fatalf("polling logs: %+v", logs)
	}
	if logs[0].ErrorMessage == nil || !strings.Contains(*logs[0].ErrorMessage, "business_policy") {
		t.Errorf("error message = %v", logs[0].ErrorMessage)
	}
}
