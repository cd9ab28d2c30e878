/*
Copyright 2024 Alexandre Mahdhaoui

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
package runner

import (
	"time"

	"github.com/alexandremahdhaoui/virtmig/pkg/migration"
	"github.com/alexandremahdhaoui/virtmig/pkg/registry"
)

// ReportVersion is bumped whenever the Result layout changes.
const ReportVersion = "v1"

// Result is everything known about one scenario run.
type Result struct {
	Version   string        `json:"version"`
	RunID     string        `json:"runID"`
	Scenario  ScenarioInfo  `json:"scenario"`
	Execution ExecutionInfo `json:"execution"`
	Verdict   VerdictInfo   `json:"verdict"`
	Job       *JobReport    `json:"job,omitempty"`
	Events    []Event       `json:"events"`
	// TeardownFailures never change the verdict.
	TeardownFailures []TeardownFailure `json:"teardownFailures,omitempty"`

	// Err is the error that decided a failed verdict, if any.
	Err error `json:"-"`
	// TeardownErr combines TeardownFailures and wraps migration.ErrTeardown.
	TeardownErr error `json:"-"`
}

// Passed reports whether the scenario verdict is a pass.
func (r *Result) Passed() bool {
	return r.Verdict.Passed
}

// ScenarioInfo contains scenario metadata
type ScenarioInfo struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	File          string   `json:"file,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Domain        string   `json:"domain"`
	Destination   string   `json:"destination"`
	ExpectFailure bool     `json:"expectFailure"`
}

// ExecutionInfo contains run timing
type ExecutionInfo struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Duration  float64   `json:"duration"` // seconds
	Status    string    `json:"status"`   // passed, failed
}

const (
	StatusPassed = "passed"
	StatusFailed = "failed"
)

// VerdictInfo is the single pass/fail decision of the run.
type VerdictInfo struct {
	Passed bool            `json:"passed"`
	Phase  migration.Phase `json:"phase,omitempty"`
	Reason string          `json:"reason"`
}

// JobReport describes the migration job.
type JobReport struct {
	Command   []string           `json:"command"`
	Phase     migration.Phase    `json:"phase"`
	ExitCode  int                `json:"exitCode"`
	Stdout    string             `json:"stdout,omitempty"`
	Stderr    string             `json:"stderr,omitempty"`
	Error     string             `json:"error,omitempty"`
	Duration  float64            `json:"duration"` // seconds
	LastInfo  *migration.JobInfo `json:"lastInfo,omitempty"`
	Snapshots []Snapshot         `json:"snapshots,omitempty"`
}

// Snapshot is a job statistics sample taken by the runner.
type Snapshot struct {
	Timestamp time.Time         `json:"timestamp"`
	Info      migration.JobInfo `json:"info"`
}

// Event is one timeline entry.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	Details   map[string]any `json:"details,omitempty"`
}

// Timeline event names.
const (
	EventSetupStarted       = "setup_started"
	EventSetupFailed        = "setup_failed"
	EventJobLaunched        = "job_launched"
	EventJobRunning         = "job_running"
	EventJobEnded           = "job_ended"
	EventTuned              = "tuned"
	EventIntervention       = "intervention"
	EventInterventionFailed = "intervention_failed"
	EventPartitionHealed    = "partition_healed"
	EventCheck              = "check"
	EventTeardown           = "teardown"
)

// TeardownFailure is a resource whose release failed.
type TeardownFailure struct {
	Kind  registry.Kind `json:"kind"`
	Name  string        `json:"name"`
	Error string        `json:"error"`
}
