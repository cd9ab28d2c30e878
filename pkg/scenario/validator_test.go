//go:build unit

package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validScenario() *Scenario {
	return &Scenario{
		Name:        "valid",
		Description: "valid scenario",
		Domain:      "vm1",
		Destination: DestinationSpec{URI: "qemu+ssh://host2/system"},
		Migration:   MigrationSpec{Live: true, Background: true},
	}
}

func fields(t *testing.T, err error) []string {
	t.Helper()
	require.Error(t, err)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	out := make([]string, 0, len(verrs))
	for _, e := range verrs {
		out = append(out, e.Field)
	}
	return out
}

func TestValidate_Valid(t *testing.T) {
	assert.NoError(t, Validate(validScenario()))
}

func TestValidate_TLSGenerate(t *testing.T) {
	s := validScenario()
	s.Transport = "tls"
	s.TLS = &TLSSpec{Generate: true, Validity: "2h"}
	assert.NoError(t, Validate(s))
}

func TestValidate_MissingRequired(t *testing.T) {
	err := Validate(&Scenario{})
	assert.Equal(t, []string{"name", "description", "domain", "destination.uri"}, fields(t, err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(s *Scenario)
		wantField string
	}{
		{
			name:      "invalid uri",
			mutate:    func(s *Scenario) { s.Destination.URI = "host2" },
			wantField: "destination.uri",
		},
		{
			name:      "unknown transport",
			mutate:    func(s *Scenario) { s.Transport = "rdma" },
			wantField: "transport",
		},
		{
			name: "tls generate with certs",
			mutate: func(s *Scenario) {
				s.Transport = "tls"
				s.TLS = &TLSSpec{Generate: true, Certs: []CertSpec{{Local: "a", Remote: "b"}}}
			},
			wantField: "tls.generate",
		},
		{
			name: "tls invalid validity",
			mutate: func(s *Scenario) {
				s.Transport = "tls"
				s.TLS = &TLSSpec{Generate: true, Validity: "forever"}
			},
			wantField: "tls.validity",
		},
		{
			name:      "tls without certs",
			mutate:    func(s *Scenario) { s.Transport = "tls" },
			wantField: "tls.certs",
		},
		{
			name: "copy storage modes are exclusive",
			mutate: func(s *Scenario) {
				s.Migration.CopyStorageAll = true
				s.Migration.CopyStorageInc = true
			},
			wantField: "migration",
		},
		{
			name: "tunables need background",
			mutate: func(s *Scenario) {
				s.Migration.Background = false
				s.Migration.MaxDowntime = "300ms"
			},
			wantField: "migration",
		},
		{
			name:      "bad timeout",
			mutate:    func(s *Scenario) { s.Migration.Timeout = "ten minutes" },
			wantField: "migration.timeout",
		},
		{
			name:      "negative timeout",
			mutate:    func(s *Scenario) { s.Migration.Timeout = "-1s" },
			wantField: "migration.timeout",
		},
		{
			name:      "bad compression cache",
			mutate:    func(s *Scenario) { s.Migration.CompressionCache = "lots" },
			wantField: "migration.compressionCache",
		},
		{
			name:      "unbalanced quotes in extra",
			mutate:    func(s *Scenario) { s.Migration.Extra = `--dname "vm1` },
			wantField: "migration.extra",
		},
		{
			name:      "output pattern does not compile",
			mutate:    func(s *Scenario) { s.Migration.OutputPattern = `100\s(%` },
			wantField: "migration.outputPattern",
		},
		{
			name:      "target images without storage copy",
			mutate:    func(s *Scenario) { s.Migration.CreateTargetImages = true },
			wantField: "migration.createTargetImages",
		},
		{
			name: "cpu baseline with a model",
			mutate: func(s *Scenario) {
				s.Setup.GuestXML = &GuestXMLSpec{CPU: &CPUSpec{Baseline: true, Model: "Penryn"}}
			},
			wantField: "setup.guestXML.cpu",
		},
		{
			name: "cpu model without vendor",
			mutate: func(s *Scenario) {
				s.Setup.GuestXML = &GuestXMLSpec{CPU: &CPUSpec{Model: "Penryn"}}
			},
			wantField: "setup.guestXML.cpu",
		},
		{
			name: "cpu feature policy",
			mutate: func(s *Scenario) {
				s.Setup.GuestXML = &GuestXMLSpec{CPU: &CPUSpec{
					Model: "Penryn", Vendor: "Intel", Features: map[string]string{"vmx": "maybe"},
				}}
			},
			wantField: "setup.guestXML.cpu.features.vmx",
		},
		{
			name: "watchdog without model",
			mutate: func(s *Scenario) {
				s.Setup.GuestXML = &GuestXMLSpec{Watchdog: &WatchdogSpec{Action: "reset"}}
			},
			wantField: "setup.guestXML.watchdog.model",
		},
		{
			name: "smartcard mode",
			mutate: func(s *Scenario) {
				s.Setup.GuestXML = &GuestXMLSpec{Smartcard: &SmartcardSpec{Mode: "host-certificates"}}
			},
			wantField: "setup.guestXML.smartcard.mode",
		},
		{
			name: "smartcard passthrough type",
			mutate: func(s *Scenario) {
				s.Setup.GuestXML = &GuestXMLSpec{Smartcard: &SmartcardSpec{Mode: SmartcardPassthrough, Type: "tcp"}}
			},
			wantField: "setup.guestXML.smartcard.type",
		},
		{
			name: "interface address",
			mutate: func(s *Scenario) {
				s.Setup.GuestXML = &GuestXMLSpec{Interface: &InterfaceSpec{Address: "bus=0x00"}}
			},
			wantField: "setup.guestXML.interface.address",
		},
		{
			name: "empty interface",
			mutate: func(s *Scenario) {
				s.Setup.GuestXML = &GuestXMLSpec{Interface: &InterfaceSpec{}}
			},
			wantField: "setup.guestXML.interface",
		},
		{
			name: "unknown fixture host",
			mutate: func(s *Scenario) {
				s.Setup.Mounts = []MountSpec{{Host: "host3", Source: "nfs:/x", Target: "/mnt"}}
			},
			wantField: "setup.mounts[0].host",
		},
		{
			name: "selinux mode",
			mutate: func(s *Scenario) {
				s.Setup.SELinux = []SELinuxSpec{{Host: HostSource, Mode: "Disabled"}}
			},
			wantField: "setup.selinux[0].mode",
		},
		{
			name: "disk image without size",
			mutate: func(s *Scenario) {
				s.Setup.DiskImages = []DiskImageSpec{{Host: HostDestination, Path: "/img.qcow2"}}
			},
			wantField: "setup.diskImages[0].size",
		},
		{
			name: "duplicate attach target",
			mutate: func(s *Scenario) {
				s.Setup.AttachDisks = []AttachDiskSpec{
					{Path: "/a.qcow2", Target: "vdb"},
					{Path: "/b.qcow2", Target: "vdb"},
				}
			},
			wantField: "setup.attachDisks[1].target",
		},
		{
			name: "empty process command",
			mutate: func(s *Scenario) {
				s.Setup.Processes = []ProcessSpec{{Host: HostSource, Command: "  "}}
			},
			wantField: "setup.processes[0].command",
		},
		{
			name: "unknown action",
			mutate: func(s *Scenario) {
				s.Interventions = []InterventionSpec{{Action: "pause"}}
			},
			wantField: "interventions[0].action",
		},
		{
			name: "interventions need background",
			mutate: func(s *Scenario) {
				s.Migration.Background = false
				s.Interventions = []InterventionSpec{{Action: ActionCancel}}
			},
			wantField: "interventions[0].action",
		},
		{
			name: "setspeed value",
			mutate: func(s *Scenario) {
				s.Interventions = []InterventionSpec{{Action: ActionSetSpeed, Value: "fast"}}
			},
			wantField: "interventions[0].value",
		},
		{
			name: "setcompcache value",
			mutate: func(s *Scenario) {
				s.Interventions = []InterventionSpec{{Action: ActionSetCompCache, Value: "0"}}
			},
			wantField: "interventions[0].value",
		},
		{
			name: "partition address",
			mutate: func(s *Scenario) {
				s.Interventions = []InterventionSpec{{Action: ActionPartition, Address: "host2"}}
			},
			wantField: "interventions[0].address",
		},
		{
			name:      "unknown check",
			mutate:    func(s *Scenario) { s.Checks = []string{"guestPings"} },
			wantField: "checks[0]",
		},
		{
			name:      "sourceUndefined needs undefineSource",
			mutate:    func(s *Scenario) { s.Checks = []string{CheckSourceUndefined} },
			wantField: "checks[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validScenario()
			tt.mutate(s)
			assert.Contains(t, fields(t, Validate(s)), tt.wantField)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "name", Message: "name is required"},
		{Message: "broken"},
	}
	assert.Equal(t, "validation error in field 'name': name is required; validation error: broken", errs.Error())
	assert.Equal(t, "no validation errors", ValidationErrors{}.Error())
}
