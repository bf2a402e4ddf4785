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

// Package jobtrack keeps in-memory state for background jobs and a
// FIFO log queue per job. This is the only shared in-process state
// outside the database.
package jobtrack

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job states.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Job is the tracked state of one background operation.
type Job struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	// Progress counters maintained by the worker.
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Terminal reports whether the job reached a final status.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// logQueue is an unbounded FIFO with blocking pop. A buffered notify
// channel wakes at most one waiter per push.
type logQueue struct {
	mu     sync.Mutex
	items  []string
	notify chan struct{}
}

func newLogQueue() *logQueue {
	return &logQueue{notify: make(chan struct{}, 1)}
}

func (q *logQueue) push(msg string) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *logQueue) tryPop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	msg := q.items[0]
	q.items = q.items[1:]
	return msg, true
}

// pop waits up to timeout for a message. Returns ok=false on timeout.
// timeout<=0 polls without blocking.
func (q *logQueue) pop(timeout time.Duration) (string, bool) {
	if msg, ok := q.tryPop(); ok {
		return msg, true
	}
	if timeout <= 0 {
		return "", false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.notify:
			if msg, ok := q.tryPop(); ok {
				return msg, true
			}
		case <-timer.C:
			return "", false
		}
	}
}

// Tracker is the process-wide job registry.
type Tracker struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	logs map[string]*logQueue
}

// New makes an empty Tracker.
func New() *Tracker {
	return &Tracker{
		jobs: map[string]*Job{},
		logs: map[string]*logQueue{},
	}
}

// NewJob registers a pending job of the given type and returns its id.
func (t *Tracker) NewJob(jobType string) string {
	id := uuid.New().String()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[id] = &Job{
		ID:        id,
		Type:      jobType,
		Status:    StatusPending,
		StartedAt: time.Now(),
	}
	t.logs[id] = newLogQueue()
	return id
}

// Get returns a snapshot of the job, or nil if unknown.
func (t *Tracker) Get(id string) *Job {
	t.mu.RLock()
	defer t.mu.RUnlock()
	j, ok := t.jobs[id]
	if !ok {
		return nil
	}
	snapshot := *j
	return &snapshot
}

// SetStatus transitions the job. Terminal transitions stamp
// CompletedAt.
func (t *Tracker) SetStatus(id, status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok {
		return
	}
	j.Status = status
	if status == StatusCompleted || status == StatusFailed {
		now := time.Now()
		j.CompletedAt = &now
	}
}

// SetError marks the job failed with a message.
func (t *Tracker) SetError(id, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok {
		return
	}
	j.Status = StatusFailed
	j.Error = msg
	now := time.Now()
	j.CompletedAt = &now
}

// SetProgress updates the done/total counters.
func (t *Tracker) SetProgress(id string, done, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if j, ok := t.jobs[id]; ok {
		j.Done = done
		j.Total = total
	}
}

// PushLog appends a message to the job's log queue. Unknown ids are
// dropped; workers may outlive a removed stream.
func (t *Tracker) PushLog(id, msg string) {
	t.mu.RLock()
	q := t.logs[id]
	t.mu.RUnlock()
	if q != nil {
		q.push(msg)
	}
}

// PopLog waits up to timeout for the next log message of the job.
func (t *Tracker) PopLog(id string, timeout time.Duration) (string, bool) {
	t.mu.RLock()
	q := t.logs[id]
	t.mu.RUnlock()
	if q == nil {
		return "", false
	}
	return q.pop(timeout)
}

// Remove drops the job's log queue after a stream completes. The job
// record stays for later status polls.
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.logs, id)
}
