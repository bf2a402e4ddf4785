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

// Package jenkins is a typed client for the upstream CI. All reads go
// through the api/json endpoints of a job URL; artifact downloads
// stream to disk.
package jenkins

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// Maximum attempts for a request to Jenkins.
	// Retries on transport failures and 5xx.
	maxRetries = 3
	// Backoff delay used after a request retry.
	// Doubles on every retry.
	retryDelay = 1 * time.Second
	// Name of the build manifest artifact on parent builds.
	buildMapArtifact = "build_map.json"
)

// NotFoundError is returned when a job or artifact does not exist in
// Jenkins. Not retried.
type NotFoundError struct {
	e error
}

func (e NotFoundError) Error() string {
	return e.e.Error()
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(e error) NotFoundError {
	return NotFoundError{e: e}
}

// IsNotFound tells whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// AuthError is returned on 401/403 responses. Not retried.
type AuthError struct {
	e error
}

func (e AuthError) Error() string {
	return e.e.Error()
}

// IsAuthError tells whether err is an AuthError.
func IsAuthError(err error) bool {
	var ae AuthError
	return errors.As(err, &ae)
}

// RequestError is returned once retries are exhausted.
type RequestError struct {
	e error
}

func (e RequestError) Error() string {
	return e.e.Error()
}

// BasicAuthConfig authenticates with jenkins using user/token.
type BasicAuthConfig struct {
	User     string
	GetToken func() []byte
}

// BuildInfo holds the api/json metadata of one build.
type BuildInfo struct {
	DisplayName string `json:"displayName"`
	Number      int    `json:"number"`
	URL         string `json:"url"`
	// Timestamp is Unix milliseconds.
	Timestamp int64   `json:"timestamp"`
	Result    *string `json:"result"`
}

// ExecutedAt converts the build timestamp to wall time. Zero timestamps
// return nil.
func (b *BuildInfo) ExecutedAt() *time.Time {
	if b.Timestamp == 0 {
		return nil
	}
	t := time.Unix(0, b.Timestamp*int64(time.Millisecond)).UTC()
	return &t
}

// Artifact is one entry of a build's artifact list.
type Artifact struct {
	RelativePath string `json:"relativePath"`
}

// Client can interact with jenkins to discover builds and fetch
// artifacts.
type Client struct {
	logger *logrus.Entry

	client *http.Client
	auth   *BasicAuthConfig

	metrics *ClientMetrics
}

// NewClient instantiates a client. logger creates a standard logger if
// nil; metrics gathers prometheus metrics for the client if set.
func NewClient(auth *BasicAuthConfig, logger *logrus.Entry, metrics *ClientMetrics) *Client {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		logger: logger.WithField("client", "jenkins"),
		auth:   auth,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		metrics: metrics,
	}
}

// measure records metrics about the provided method, path, and code.
// start needs to be recorded before doing the request.
func (c *Client) measure(method, path string, code int, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.RequestLatency.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	c.metrics.Requests.WithLabelValues(method, path, fmt.Sprintf("%d", code)).Inc()
}

// Get fetches the data found at the provided absolute URL. It returns
// the content of the response or any errors that occurred during the
// request or http errors.
func (c *Client) Get(url string) ([]byte, error) {
	resp, err := c.request(http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	return readResp(resp)
}

func readResp(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == 401 || resp.StatusCode == 403:
		return nil, AuthError{errors.New(resp.Status)}
	case resp.StatusCode == 404:
		return nil, NewNotFoundError(errors.New(resp.Status))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, RequestError{fmt.Errorf("response not 2XX: %s", resp.Status)}
	}
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// request executes a request with the provided method and url.
// It retries on transport failures and 5xx with doubling backoff.
func (c *Client) request(method, url string) (*http.Response, error) {
	var resp *http.Response
	var err error
	backoff := retryDelay

	start := time.Now()
	for retries := 0; retries < maxRetries; retries++ {
		resp, err = c.doRequest(method, url)
		if err == nil && resp.StatusCode < 500 {
			break
		} else if err == nil && retries+1 < maxRetries {
			resp.Body.Close()
		}
		if c.metrics != nil {
			c.metrics.RequestRetries.Inc()
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	if err != nil {
		return nil, RequestError{err}
	}
	if resp != nil {
		c.measure(method, url, resp.StatusCode, start)
	}
	return resp, nil
}

// doRequest executes a request exactly once, setting up basic auth
// when configured. It's up to callers to build retries and error
// handling.
func (c *Client) doRequest(method, url string) (*http.Response, error) {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, err
	}
	if c.auth != nil {
		req.SetBasicAuth(c.auth.User, string(c.auth.GetToken()))
	}
	return c.client.Do(req)
}

// apiURL appends the api/json suffix to a job or build URL.
func apiURL(jobURL, tree string) string {
	url := strings.TrimSuffix(jobURL, "/") + "/api/json"
	if tree != "" {
		url += "?tree=" + tree
	}
	return url
}

// GetJobBuilds lists build numbers of the job newer than minBuild, in
// descending order.
func (c *Client) GetJobBuilds(jobURL string, minBuild int) ([]int, error) {
	c.logger.Debugf("GetJobBuilds(%s, %d)", jobURL, minBuild)

	data, err := c.Get(apiURL(jobURL, "builds[number]"))
	if err != nil {
		return nil, fmt.Errorf("cannot list builds for %q: %w", jobURL, err)
	}
	page := struct {
		Builds []struct {
			Number int `json:"number"`
		} `json:"builds"`
	}{}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("cannot unmarshal builds for %q: %w", jobURL, err)
	}
	var numbers []int
	for _, b := range page.Builds {
		if b.Number > minBuild {
			numbers = append(numbers, b.Number)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(numbers)))
	return numbers, nil
}

// GetJobInfo fetches displayName, number, url, timestamp and result of
// a job or build URL.
func (c *Client) GetJobInfo(jobURL string) (*BuildInfo, error) {
	c.logger.Debugf("GetJobInfo(%s)", jobURL)

	data, err := c.Get(apiURL(jobURL, ""))
	if err != nil {
		return nil, err
	}
	var info BuildInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("cannot unmarshal job info for %q: %w", jobURL, err)
	}
	return &info, nil
}

// GetArtifactsList returns the relative paths of every artifact of a
// build.
func (c *Client) GetArtifactsList(jobURL string) ([]string, error) {
	c.logger.Debugf("GetArtifactsList(%s)", jobURL)

	data, err := c.Get(apiURL(jobURL, "artifacts[relativePath]"))
	if err != nil {
		return nil, err
	}
	page := struct {
		Artifacts []Artifact `json:"artifacts"`
	}{}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("cannot unmarshal artifacts for %q: %w", jobURL, err)
	}
	paths := make([]string, 0, len(page.Artifacts))
	for _, a := range page.Artifacts {
		paths = append(paths, a.RelativePath)
	}
	return paths, nil
}

// DownloadArtifact streams one artifact of a build to destPath,
// creating parent directories as needed.
func (c *Client) DownloadArtifact(jobURL, relPath, destPath string) error {
	url := strings.TrimSuffix(jobURL, "/") + "/artifact/" + relPath
	resp, err := c.request(http.MethodGet, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == 401 || resp.StatusCode == 403:
		return AuthError{errors.New(resp.Status)}
	case resp.StatusCode == 404:
		return NewNotFoundError(errors.New(resp.Status))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return RequestError{fmt.Errorf("response not 2XX: %s", resp.Status)}
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return err
	}
	f, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, resp.Body)
	return err
}

// DownloadBuildMap fetches and decodes the build manifest of a parent
// build. Returns nil with no error when the build has no manifest,
// which callers treat as "skip this build".
func (c *Client) DownloadBuildMap(jobURL string) (map[string]int, error) {
	url := strings.TrimSuffix(jobURL, "/") + "/artifact/" + buildMapArtifact
	data, err := c.Get(url)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	buildMap := map[string]int{}
	if err := json.Unmarshal(data, &buildMap); err != nil {
		return nil, fmt.Errorf("cannot unmarshal build map for %q: %w", jobURL, err)
	}
	return buildMap, nil
}
