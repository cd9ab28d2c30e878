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

package vmm

import (
	"context"
	"errors"
	"time"

	"github.com/alexandremahdhaoui/virtmig/pkg/migration"
	"libvirt.org/go/libvirt"
)

var (
	errGetJobStats         = errors.New("failed to get domain job stats")
	errAbortJob            = errors.New("failed to abort domain job")
	errSetMaxSpeed         = errors.New("failed to set migration max speed")
	errSetMaxDowntime      = errors.New("failed to set migration max downtime")
	errSetCompressionCache = errors.New("failed to set migration compression cache")
	errGetCompressionCache = errors.New("failed to get migration compression cache")
	errGetDomainState      = errors.New("failed to get domain state")
)

var jobTypes = map[libvirt.DomainJobType]migration.JobType{
	libvirt.DOMAIN_JOB_NONE:      migration.JobNone,
	libvirt.DOMAIN_JOB_BOUNDED:   migration.JobBounded,
	libvirt.DOMAIN_JOB_UNBOUNDED: migration.JobUnbounded,
	libvirt.DOMAIN_JOB_COMPLETED: migration.JobCompleted,
	libvirt.DOMAIN_JOB_FAILED:    migration.JobFailed,
	libvirt.DOMAIN_JOB_CANCELLED: migration.JobCancelled,
}

var jobOperations = map[libvirt.DomainJobOperationType]string{
	libvirt.DOMAIN_JOB_OPERATION_MIGRATION_IN:  "Incoming migration",
	libvirt.DOMAIN_JOB_OPERATION_MIGRATION_OUT: "Outgoing migration",
	libvirt.DOMAIN_JOB_OPERATION_SAVE:          "Save",
	libvirt.DOMAIN_JOB_OPERATION_DUMP:          "Dump",
}

var domainStates = map[libvirt.DomainState]string{
	libvirt.DOMAIN_NOSTATE:     "nostate",
	libvirt.DOMAIN_RUNNING:     "running",
	libvirt.DOMAIN_BLOCKED:     "blocked",
	libvirt.DOMAIN_PAUSED:      "paused",
	libvirt.DOMAIN_SHUTDOWN:    "shutdown",
	libvirt.DOMAIN_SHUTOFF:     "shut off",
	libvirt.DOMAIN_CRASHED:     "crashed",
	libvirt.DOMAIN_PMSUSPENDED: "pmsuspended",
}

// JobInfo implements migration.JobQuerier.
func (v *VMM) JobInfo(_ context.Context, name string) (*migration.JobInfo, error) {
	var info *migration.JobInfo
	err := v.withDomain(name, func(dom domain) error {
		stats, err := dom.GetJobStats(0)
		if err != nil {
			return errors.Join(err, errGetJobStats)
		}
		info = convertJobInfo(stats)
		return nil
	})
	return info, err
}

func convertJobInfo(stats *libvirt.DomainJobInfo) *migration.JobInfo {
	info := &migration.JobInfo{Type: migration.JobNone}
	if t, ok := jobTypes[stats.Type]; ok {
		info.Type = t
	}
	if stats.OperationSet {
		info.Operation = jobOperations[stats.Operation]
	}
	if stats.TimeElapsedSet {
		info.TimeElapsed = time.Duration(stats.TimeElapsed) * time.Millisecond
	}
	if stats.DataTotalSet {
		info.DataTotal = stats.DataTotal
	}
	if stats.DataProcessedSet {
		info.DataProcessed = stats.DataProcessed
	}
	if stats.DataRemainingSet {
		info.DataRemaining = stats.DataRemaining
	}
	return info
}

// AbortJob implements migration.JobControl.
func (v *VMM) AbortJob(_ context.Context, name string) error {
	return v.withDomain(name, func(dom domain) error {
		if err := dom.AbortJob(); err != nil {
			return errors.Join(err, errAbortJob)
		}
		return nil
	})
}

// SetMaxSpeed implements migration.JobControl.
func (v *VMM) SetMaxSpeed(_ context.Context, name string, mibps uint64) error {
	return v.withDomain(name, func(dom domain) error {
		if err := dom.MigrateSetMaxSpeed(mibps, 0); err != nil {
			return errors.Join(err, errSetMaxSpeed)
		}
		return nil
	})
}

// SetMaxDowntime implements migration.JobControl.
func (v *VMM) SetMaxDowntime(_ context.Context, name string, downtime time.Duration) error {
	return v.withDomain(name, func(dom domain) error {
		if err := dom.MigrateSetMaxDowntime(uint64(downtime.Milliseconds()), 0); err != nil {
			return errors.Join(err, errSetMaxDowntime)
		}
		return nil
	})
}

// SetCompressionCache implements migration.JobControl.
func (v *VMM) SetCompressionCache(_ context.Context, name string, size uint64) error {
	return v.withDomain(name, func(dom domain) error {
		if err := dom.MigrateSetCompressionCache(size, 0); err != nil {
			return errors.Join(err, errSetCompressionCache)
		}
		return nil
	})
}

// CompressionCache implements migration.JobControl.
func (v *VMM) CompressionCache(_ context.Context, name string) (uint64, error) {
	var size uint64
	err := v.withDomain(name, func(dom domain) error {
		var err error
		size, err = dom.MigrateGetCompressionCache(0)
		if err != nil {
			return errors.Join(err, errGetCompressionCache)
		}
		return nil
	})
	return size, err
}

// DomainState returns the state of name using virsh wording, e.g. "running".
func (v *VMM) DomainState(_ context.Context, name string) (string, error) {
	var state string
	err := v.withDomain(name, func(dom domain) error {
		s, _, err := dom.GetState()
		if err != nil {
			return errors.Join(err, errGetDomainState)
		}
		state = domainStates[s]
		return nil
	})
	return state, err
}
