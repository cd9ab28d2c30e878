//go:build unit

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
	"testing"
	"time"

	"github.com/alexandremahdhaoui/virtmig/pkg/migration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"libvirt.org/go/libvirt"
)

type fakeDomain struct {
	stats    *libvirt.DomainJobInfo
	err      error
	state    libvirt.DomainState
	aborted  bool
	speed    uint64
	downtime uint64
	cache    uint64
	freed    int
}

func (d *fakeDomain) GetJobStats(libvirt.DomainGetJobStatsFlags) (*libvirt.DomainJobInfo, error) {
	return d.stats, d.err
}

func (d *fakeDomain) AbortJob() error {
	d.aborted = true
	return d.err
}

func (d *fakeDomain) MigrateSetMaxSpeed(speed uint64, _ uint32) error {
	d.speed = speed
	return d.err
}

func (d *fakeDomain) MigrateSetMaxDowntime(downtime uint64, _ uint32) error {
	d.downtime = downtime
	return d.err
}

func (d *fakeDomain) MigrateSetCompressionCache(size uint64, _ uint32) error {
	d.cache = size
	return d.err
}

func (d *fakeDomain) MigrateGetCompressionCache(uint32) (uint64, error) {
	return d.cache, d.err
}

func (d *fakeDomain) GetState() (libvirt.DomainState, int, error) {
	return d.state, 0, d.err
}

func (d *fakeDomain) Free() error {
	d.freed++
	return nil
}

func newTestVMM(dom *fakeDomain) *VMM {
	return &VMM{
		uri: DefaultURI,
		lookup: func(name string) (domain, error) {
			if name != "vm1" {
				return nil, errors.New("Domain not found: no domain with matching name")
			}
			return dom, nil
		},
	}
}

func TestVMM_JobInfo(t *testing.T) {
	dom := &fakeDomain{stats: &libvirt.DomainJobInfo{
		Type:             libvirt.DOMAIN_JOB_UNBOUNDED,
		OperationSet:     true,
		Operation:        libvirt.DOMAIN_JOB_OPERATION_MIGRATION_OUT,
		TimeElapsedSet:   true,
		TimeElapsed:      1521,
		DataRemainingSet: true,
		DataRemaining:    32479827777,
	}}
	v := newTestVMM(dom)

	info, err := v.JobInfo(context.Background(), "vm1")
	require.NoError(t, err)
	assert.Equal(t, migration.JobUnbounded, info.Type)
	assert.Equal(t, "Outgoing migration", info.Operation)
	assert.Equal(t, 1521*time.Millisecond, info.TimeElapsed)
	assert.Equal(t, uint64(32479827777), info.DataRemaining)
	assert.Zero(t, info.DataTotal, "unset fields stay zero")
	assert.Equal(t, 1, dom.freed)

	_, err = v.JobInfo(context.Background(), "vm2")
	assert.ErrorIs(t, err, errLookupDomain)
}

func TestVMM_JobControl(t *testing.T) {
	ctx := context.Background()
	dom := &fakeDomain{}
	v := newTestVMM(dom)

	require.NoError(t, v.AbortJob(ctx, "vm1"))
	require.NoError(t, v.SetMaxSpeed(ctx, "vm1", 100))
	require.NoError(t, v.SetMaxDowntime(ctx, "vm1", 2*time.Second))
	require.NoError(t, v.SetCompressionCache(ctx, "vm1", 64<<20))

	size, err := v.CompressionCache(ctx, "vm1")
	require.NoError(t, err)

	assert.True(t, dom.aborted)
	assert.Equal(t, uint64(100), dom.speed)
	assert.Equal(t, uint64(2000), dom.downtime)
	assert.Equal(t, uint64(64<<20), size)
	assert.Equal(t, 5, dom.freed)

	dom.err = errors.New("Requested operation is not valid: no job is active on the domain")
	assert.ErrorIs(t, v.AbortJob(ctx, "vm1"), errAbortJob)
	assert.ErrorIs(t, v.SetMaxSpeed(ctx, "vm1", 1), errSetMaxSpeed)
}

func TestVMM_DomainState(t *testing.T) {
	v := newTestVMM(&fakeDomain{state: libvirt.DOMAIN_SHUTOFF})

	state, err := v.DomainState(context.Background(), "vm1")
	require.NoError(t, err)
	assert.Equal(t, "shut off", state)
}

func TestVMM_NotInitialized(t *testing.T) {
	_, err := (&VMM{}).JobInfo(context.Background(), "vm1")
	assert.ErrorIs(t, err, errLibvirtNotInitialized)
}
