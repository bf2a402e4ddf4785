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

package jenkins

import (
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testClient(handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	auth := &BasicAuthConfig{
		User:     "tester",
		GetToken: func() []byte { return []byte("token") },
	}
	return NewClient(auth, nil, nil), server
}

func TestGetJobBuilds(t *testing.T) {
	client, server := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/job/dp/api/json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "tester" || pass != "token" {
			t.Errorf("bad basic auth %q %q", user, pass)
		}
		w.Write([]byte(`{"builds":[{"number":101},{"number":99},{"number":103}]}`))
	}))
	defer server.Close()

	builds, err := client.GetJobBuilds(server.URL+"/job/dp/", 99)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{103, 101}, builds); diff != "" {
		t.Errorf("builds mismatch (-want +got):\n%s", diff)
	}
}

func TestGetJobInfo(t *testing.T) {
	client, server := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"displayName":"#100 VER: 6.4.0.1","number":100,"url":"u","timestamp":1700000000000,"result":"SUCCESS"}`))
	}))
	defer server.Close()

	info, err := client.GetJobInfo(server.URL + "/job/dp/100")
	if err != nil {
		t.Fatal(err)
	}
	if info.DisplayName != "#100 VER: 6.4.0.1" || info.Number != 100 {
		t.Errorf("unexpected info %+v", info)
	}
	at := info.ExecutedAt()
	if at == nil || at.Unix() != 1700000000 {
		t.Errorf("executed at = %v", at)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		code  int
		check func(error) bool
		name  string
	}{
		{http.StatusUnauthorized, IsAuthError, "auth 401"},
		{http.StatusForbidden, IsAuthError, "auth 403"},
		{http.StatusNotFound, IsNotFound, "not found"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client, server := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
			}))
			defer server.Close()
			_, err := client.GetJobInfo(server.URL + "/job/dp")
			if err == nil || !tc.check(err) {
				t.Errorf("expected mapped error for %d, got %v", tc.code, err)
			}
		})
	}
}

func TestDownloadBuildMap(t *testing.T) {
	client, server := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/job/dp/100/artifact/build_map.json" {
			w.Write([]byte(`{"ROUTING_MODULE_ESXI": 42}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	m, err := client.DownloadBuildMap(server.URL + "/job/dp/100/")
	if err != nil {
		t.Fatal(err)
	}
	if m["ROUTING_MODULE_ESXI"] != 42 {
		t.Errorf("build map = %v", m)
	}

	// Missing manifest is not an error; callers skip the build.
	m, err = client.DownloadBuildMap(server.URL + "/job/dp/101/")
	if err != nil {
		t.Fatalf("missing manifest should not error, got %v", err)
	}
	if m != nil {
		t.Errorf("missing manifest should be nil, got %v", m)
	}
}

func TestDownloadArtifact(t *testing.T) {
	client, server := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/job/dp/100/artifact/hapy/x.order.txt" {
			w.Write([]byte("content"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dir, err := ioutil.TempDir("", "jenkins")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	dest := filepath.Join(dir, "nested", "x.order.txt")

	if err := client.DownloadArtifact(server.URL+"/job/dp/100", "hapy/x.order.txt", dest); err != nil {
		t.Fatal(err)
	}
	data, err := ioutil.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "content" {
		t.Errorf("artifact content = %q", data)
	}

	if err := client.DownloadArtifact(server.URL+"/job/dp/100", "missing.txt", dest); !IsNotFound(err) {
		t.Errorf("missing artifact should map to NotFoundError, got %v", err)
	}
}
