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

// Package migration launches a live migration job, tracks it through its
// lifecycle and classifies how it ended.
package migration

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/alexandremahdhaoui/virtmig/pkg/command"
)

// Phase is the lifecycle state of a migration job.
type Phase string

const (
	PhaseIdle      Phase = "IDLE"
	PhaseLaunching Phase = "LAUNCHING"
	PhaseRunning   Phase = "RUNNING"
	PhaseCompleted Phase = "COMPLETED"
	PhaseFailed    Phase = "FAILED"
	PhaseCancelled Phase = "CANCELLED"
	PhaseAborted   Phase = "ABORTED"
	PhaseTimedOut  Phase = "TIMED_OUT"
)

// Terminal reports whether no further transition can happen from p.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseCancelled, PhaseAborted, PhaseTimedOut:
		return true
	default:
		return false
	}
}

// Request is the immutable input of a migration job.
type Request struct {
	Domain         string
	DestinationURI string
	// DestName renames the guest on the destination.
	DestName string

	Live           bool
	Persistent     bool
	Unsafe         bool
	UndefineSource bool
	Verbose        bool
	P2P            bool
	Tunnelled      bool
	Compressed     bool
	AutoConverge   bool
	PostCopy       bool
	CopyStorageAll bool
	CopyStorageInc bool
	Offline        bool
	AbortOnError   bool

	// Bandwidth in MiB/s. Zero leaves the daemon default.
	Bandwidth uint64
	// MaxDowntime is rounded to milliseconds. Zero leaves the daemon default.
	MaxDowntime time.Duration
	// CompressionCache in bytes. Zero leaves the daemon default.
	CompressionCache uint64

	// ExtraArgs are appended verbatim to the migrate command.
	ExtraArgs []string

	// OutputPattern must match the stdout of a job that exits cleanly for it
	// to be COMPLETED. Nil skips the check.
	OutputPattern *regexp.Regexp

	// Background runs the job as a child process observed by polling.
	Background bool
	// Timeout is measured from the moment the job is observed. Zero disables it.
	Timeout time.Duration
}

// TargetName is the name the guest carries on the destination.
func (r Request) TargetName() string {
	if r.DestName != "" {
		return r.DestName
	}
	return r.Domain
}

func (r Request) Validate() error {
	var errs []error
	if r.Domain == "" {
		errs = append(errs, errors.New("domain is required"))
	}
	if r.DestinationURI == "" {
		errs = append(errs, errors.New("destination URI is required"))
	}
	if r.CopyStorageAll && r.CopyStorageInc {
		errs = append(errs, errors.New("copy-storage-all and copy-storage-inc are mutually exclusive"))
	}
	if r.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", r.Timeout))
	}
	if len(errs) > 0 {
		return errors.Join(append(errs, errInvalidRequest)...)
	}
	return nil
}

// JobType is the daemon-reported type of the job attached to a domain.
type JobType string

const (
	JobNone      JobType = "None"
	JobBounded   JobType = "Bounded"
	JobUnbounded JobType = "Unbounded"
	JobCompleted JobType = "Completed"
	JobFailed    JobType = "Failed"
	JobCancelled JobType = "Cancelled"
)

// Active reports whether the daemon is currently running the job.
func (t JobType) Active() bool {
	return t == JobBounded || t == JobUnbounded
}

// JobInfo is one snapshot of the daemon's job statistics.
type JobInfo struct {
	Type          JobType       `json:"type"`
	Operation     string        `json:"operation,omitempty"`
	TimeElapsed   time.Duration `json:"timeElapsed"`
	DataTotal     uint64        `json:"dataTotal"`
	DataProcessed uint64        `json:"dataProcessed"`
	DataRemaining uint64        `json:"dataRemaining"`
}

// JobQuerier returns the job statistics of a domain.
type JobQuerier interface {
	JobInfo(ctx context.Context, domain string) (*JobInfo, error)
}

// JobControl drives the daemon-side job of a domain.
type JobControl interface {
	AbortJob(ctx context.Context, domain string) error
	SetMaxSpeed(ctx context.Context, domain string, mibps uint64) error
	SetMaxDowntime(ctx context.Context, domain string, downtime time.Duration) error
	SetCompressionCache(ctx context.Context, domain string, size uint64) error
	CompressionCache(ctx context.Context, domain string) (uint64, error)
}

// CommandBuilder renders a Request into the command line that runs it.
type CommandBuilder interface {
	MigrateCommand(req Request) (name string, args []string)
}

// Outcome is how a job ended.
type Outcome struct {
	Phase Phase
	// Result is the captured output of the job command.
	Result command.Result
	// Err explains a failure-family phase, when the controller knows why.
	Err      error
	Duration time.Duration
	LastInfo *JobInfo
}

// JobHandle is a snapshot of a migration attempt.
type JobHandle struct {
	Request Request
	// Process is nil for foreground jobs.
	Process    command.Process
	StartedAt  time.Time
	ObservedAt time.Time
	Phase      Phase
	LastInfo   *JobInfo
	Outcome    *Outcome

	// abortsInFlight counts AbortJob calls that have not returned yet.
	abortsInFlight int
	abortAcked     bool
	canceled       bool
	timedOut       bool
	terminated     bool
}
