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

package logparse

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseLogLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want *TestResult
	}{
		{
			name: "passed",
			line: "[10.0.0.1]  PASSED data_plane/tests/routing/test_bgp.py::TestBGP::test_advertise",
			want: &TestResult{
				SetupIP:   "10.0.0.1",
				Status:    StatusPassed,
				FilePath:  "data_plane/tests/routing/test_bgp.py",
				ClassName: "TestBGP",
				TestName:  "test_advertise",
				Topology:  "5s",
			},
		},
		{
			name: "parameterized failed",
			line: "[10.1.2.3] FAILED a/b.py::TestX::test_case[ipv6-tcp]",
			want: &TestResult{
				SetupIP:   "10.1.2.3",
				Status:    StatusFailed,
				FilePath:  "a/b.py",
				ClassName: "TestX",
				TestName:  "test_case[ipv6-tcp]",
				Topology:  "5s",
			},
		},
		{
			name: "error status",
			line: "[10.0.0.9] ERROR a/b.py::TestX::test_boom",
			want: &TestResult{
				SetupIP:   "10.0.0.9",
				Status:    StatusError,
				FilePath:  "a/b.py",
				ClassName: "TestX",
				TestName:  "test_boom",
				Topology:  "5s",
			},
		},
		{
			name: "garbage",
			line: "some random log output",
			want: nil,
		},
		{
			name: "missing class separator",
			line: "[10.0.0.1] PASSED a/b.py::test_only",
			want: nil,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseLogLine(tc.line, "5s")
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ParseLogLine mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractTopology(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"1700000000_bp_5s.order.txt", "5s"},
		{"re_run_bp_5s.order.txt", "5s"},
		{"1700000000_bp_1s1h.order.txt", "1s1h"},
		{"re_run_bp_1s1h.order.txt", "1s1h"},
		{"weird.order.txt", "unknown"},
		{"a_b.order.txt", "unknown"},
		{"re_run_bp.order.txt", "unknown"},
	}
	for _, tc := range tests {
		if got := ExtractTopology(tc.filename); got != tc.want {
			t.Errorf("ExtractTopology(%q) = %q, want %q", tc.filename, got, tc.want)
		}
	}
}

func result(file, class, test, status string) *TestResult {
	return &TestResult{FilePath: file, ClassName: class, TestName: test, Status: status, Topology: "5s"}
}

func TestMerge(t *testing.T) {
	main := []*TestResult{
		result("a.py", "T", "t1", StatusPassed),
		result("a.py", "T", "t2", StatusFailed),
		result("a.py", "T", "t3", StatusFailed),
	}
	main[0].OrderIndex = 0
	main[1].OrderIndex = 1
	main[2].OrderIndex = 2
	rerun := []*TestResult{
		result("a.py", "T", "t2", StatusPassed),
		result("a.py", "T", "t3", StatusError),
	}

	merged := Merge(main, rerun)
	if len(merged) != 3 {
		t.Fatalf("expected 3 merged results, got %d", len(merged))
	}

	byKey := map[string]*TestResult{}
	for _, r := range merged {
		byKey[r.TestKey()] = r
	}
	t1 := byKey["a.py::T::t1"]
	if t1.WasRerun || t1.Status != StatusPassed {
		t.Errorf("t1 should be untouched, got %+v", t1)
	}
	t2 := byKey["a.py::T::t2"]
	if !t2.WasRerun || t2.RerunStillFailed || t2.Status != StatusPassed {
		t.Errorf("t2 should be a recovered rerun, got %+v", t2)
	}
	if t2.OrderIndex != 1 {
		t.Errorf("t2 should inherit order index 1, got %d", t2.OrderIndex)
	}
	t3 := byKey["a.py::T::t3"]
	if !t3.WasRerun || !t3.RerunStillFailed {
		t.Errorf("t3 should be a still-failed rerun, got %+v", t3)
	}

	// Order of untouched entries is preserved.
	if merged[0].TestName != "t1" || merged[1].TestName != "t2" || merged[2].TestName != "t3" {
		t.Errorf("merge should preserve main order, got %v %v %v",
			merged[0].TestName, merged[1].TestName, merged[2].TestName)
	}
}

func TestMergeIdempotent(t *testing.T) {
	main := []*TestResult{
		result("a.py", "T", "t1", StatusFailed),
		result("a.py", "T", "t2", StatusPassed),
	}
	rerun := []*TestResult{
		result("a.py", "T", "t1", StatusFailed),
	}
	once := Merge(main, rerun)
	twice := Merge(once, rerun)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("merge is not idempotent (-once +twice):\n%s", diff)
	}
}

func TestSummarize(t *testing.T) {
	results := []*TestResult{
		result("a.py", "T", "t1", StatusPassed),
		result("a.py", "T", "t2", StatusPassed),
		result("a.py", "T", "t3", StatusFailed),
		result("a.py", "T", "t4", StatusSkipped),
	}
	s := Summarize(results)
	if s.Total != 4 || s.Passed != 2 || s.Failed != 1 || s.Skipped != 1 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	// The parser-level pass rate excludes skips from the denominator.
	if s.Executed != 3 {
		t.Errorf("executed = %d, want 3", s.Executed)
	}
	want := 100 * 2.0 / 3.0
	if s.PassRate < want-0.01 || s.PassRate > want+0.01 {
		t.Errorf("pass rate = %v, want about %v", s.PassRate, want)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestParseJobDirectory(t *testing.T) {
	dir, err := ioutil.TempDir("", "logparse")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	writeFile(t, filepath.Join(dir, "1700000000_bp_5s.order.txt"),
		"[10.0.0.1] PASSED a.py::T::t1\n"+
			"[10.0.0.1] FAILED a.py::T::t2\n"+
			"noise line\n")
	writeFile(t, filepath.Join(dir, "re_run_bp_5s.order.txt"),
		"[10.0.0.1] PASSED a.py::T::t2\n")
	writeFile(t, filepath.Join(dir, "1700000000_bp_1s.order.txt"),
		"[10.0.0.2] FAILED b.py::U::t9\n")
	writeFile(t, filepath.Join(dir, "junit", "1s", "report.xml"), `<?xml version="1.0"?>
<testsuite tests="1" failures="1">
  <testcase classname="pkg.mod.U" name="t9" file="b.py">
    <failure message="AssertionError: boom"><![CDATA[trace line]]></failure>
  </testcase>
</testsuite>`)

	results, err := ParseJobDirectory(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	byKey := map[string]*TestResult{}
	for _, r := range results {
		byKey[r.Topology+"/"+r.TestKey()] = r
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	t2 := byKey["5s/a.py::T::t2"]
	if t2 == nil || !t2.WasRerun || t2.Status != StatusPassed {
		t.Errorf("rerun should be merged into the 5s topology, got %+v", t2)
	}
	t9 := byKey["1s/b.py::U::t9"]
	if t9 == nil || t9.Failure == nil {
		t.Fatalf("t9 should carry junit failure info, got %+v", t9)
	}
	if t9.Failure.Message != "AssertionError: boom" {
		t.Errorf("failure message = %q", t9.Failure.Message)
	}
}
