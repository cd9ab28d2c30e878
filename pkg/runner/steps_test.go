//go:build unit

package runner

import (
	"testing"
	"time"

	"github.com/alexandremahdhaoui/virtmig/pkg/fixture"
	"github.com/alexandremahdhaoui/virtmig/pkg/scenario"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSteps_Order(t *testing.T) {
	h := newHarness(newFakeProcess())
	s := baseScenario()
	s.Transport = "tls"
	s.TLS = &scenario.TLSSpec{Generate: true, Validity: "2h"}
	s.Setup = scenario.SetupSpec{
		SELinux:   []scenario.SELinuxSpec{{Host: scenario.HostDestination, Mode: "Permissive"}},
		Processes: []scenario.ProcessSpec{{Host: scenario.HostSource, Command: "stress-ng --vm 1"}},
	}

	r := &run{e: h.executor(t), scenario: s, dest: &Destination{Host: h.dest, Domains: h.destDomains, Address: "192.0.2.20"}}
	steps, err := r.steps()
	require.NoError(t, err)
	require.Len(t, steps, 4)

	pki, ok := steps[0].(*fixture.GeneratedPKI)
	require.True(t, ok)
	assert.Equal(t, []string{"192.0.2.20", "host2"}, pki.ServerNames)
	assert.Equal(t, 2*time.Hour, pki.Validity)
	assert.Same(t, h.dest, pki.Dest)

	tunnel, ok := steps[1].(*fixture.Tunnel)
	require.True(t, ok)
	assert.Equal(t, fixture.TransportTLS, tunnel.Transport)
	assert.Empty(t, tunnel.Certs)

	assert.IsType(t, &fixture.SecurityMode{}, steps[2])
	proc, ok := steps[3].(*fixture.Process)
	require.True(t, ok)
	assert.Equal(t, []string{"stress-ng", "--vm", "1"}, proc.Command)
}

func TestSteps_GuestDefinition(t *testing.T) {
	h := newHarness(newFakeProcess())
	s := baseScenario()
	s.Migration.CopyStorageAll = true
	s.Migration.CreateTargetImages = true
	s.Setup.GuestXML = &scenario.GuestXMLSpec{
		DiskCache:  "none",
		CPU:        &scenario.CPUSpec{Baseline: true},
		SoundModel: "ich6",
	}

	r := &run{e: h.executor(t), scenario: s, dest: &Destination{Host: h.dest, Domains: h.destDomains, Address: "192.0.2.20"}}
	steps, err := r.steps()
	require.NoError(t, err)
	require.Len(t, steps, 3)

	images, ok := steps[1].(*fixture.DestinationImages)
	require.True(t, ok)
	assert.Equal(t, "vm1", images.Domain)
	assert.Same(t, h.source, images.Source)
	assert.Same(t, h.dest, images.Dest)

	guest, ok := steps[2].(*fixture.GuestXML)
	require.True(t, ok)
	assert.Equal(t, "none", guest.Options.DiskCache)
	require.NotNil(t, guest.Options.Sound)
	assert.Equal(t, "ich6", guest.Options.Sound.Model)
	assert.Nil(t, guest.Options.CPU)
	require.NotNil(t, guest.Baseline)
	assert.Equal(t, []fixture.Host{h.source, h.dest}, guest.Baseline.Hosts)
}

func TestSteps_UnknownHost(t *testing.T) {
	h := newHarness(newFakeProcess())
	s := baseScenario()
	s.Setup.Mounts = []scenario.MountSpec{{Host: "elsewhere", Source: "nfs:/export", Target: "/mnt"}}

	r := &run{e: h.executor(t), scenario: s, dest: &Destination{Host: h.dest}}
	_, err := r.steps()
	assert.ErrorIs(t, err, errUnknownHost)
}

func TestServerNames(t *testing.T) {
	assert.Equal(t, []string{"host2"}, serverNames("host2", "qemu+tls://host2/system"))
	assert.Equal(t, []string{"10.0.0.2", "host2"}, serverNames("10.0.0.2", "qemu+tls://host2/system"))
	assert.Equal(t, []string{"host2"}, serverNames("", "qemu+tls://host2/system"))
	assert.Empty(t, serverNames("", "qemu:///system"))
}
