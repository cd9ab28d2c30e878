package scenario

import "time"

// Scenario is one migration test case loaded from YAML.
type Scenario struct {
	// Name is the unique scenario name, used in reports and artifact paths
	Name string `yaml:"name"`

	// Description explains what the scenario exercises
	Description string `yaml:"description"`

	// Tags are labels for filtering scenarios
	Tags []string `yaml:"tags,omitempty"`

	// Domain is the guest to migrate
	Domain string `yaml:"domain"`

	// Destination describes where the guest goes
	Destination DestinationSpec `yaml:"destination"`

	// Transport is ssh (default), tcp or tls
	Transport string `yaml:"transport,omitempty"`

	// TLS lists the certificates installed on the destination for the tls transport
	TLS *TLSSpec `yaml:"tls,omitempty"`

	// Migration holds the migrate command options
	Migration MigrationSpec `yaml:"migration"`

	// Setup lists the fixtures acquired before the migration starts
	Setup SetupSpec `yaml:"setup,omitempty"`

	// Interventions are applied to the running job
	Interventions []InterventionSpec `yaml:"interventions,omitempty"`

	// Checks run after a completed migration
	Checks []string `yaml:"checks,omitempty"`

	// ExpectFailure marks scenarios whose job is supposed to end in a failure phase
	ExpectFailure bool `yaml:"expectFailure,omitempty"`
}

// DestinationSpec defines the destination hypervisor.
type DestinationSpec struct {
	// URI is the libvirt connection URI passed to the migrate command
	URI string `yaml:"uri"`

	// Host overrides the SSH host used for destination fixtures; defaults to the URI host
	Host string `yaml:"host,omitempty"`
}

// TLSSpec defines the certificates for the tls transport.
type TLSSpec struct {
	Certs []CertSpec `yaml:"certs,omitempty"`

	// Generate issues a throwaway CA and key pairs instead of copying Certs
	Generate bool `yaml:"generate,omitempty"`

	// Validity of the generated certificates, e.g. "2h"; defaults to 24h
	Validity DurationString `yaml:"validity,omitempty"`
}

// CertSpec maps a local certificate file to its path on the destination.
type CertSpec struct {
	Local  string `yaml:"local"`
	Remote string `yaml:"remote"`
}

// MigrationSpec defines the migrate command.
type MigrationSpec struct {
	Live           bool `yaml:"live,omitempty"`
	Offline        bool `yaml:"offline,omitempty"`
	P2P            bool `yaml:"p2p,omitempty"`
	Tunnelled      bool `yaml:"tunnelled,omitempty"`
	Persistent     bool `yaml:"persistent,omitempty"`
	UndefineSource bool `yaml:"undefineSource,omitempty"`
	Unsafe         bool `yaml:"unsafe,omitempty"`
	Verbose        bool `yaml:"verbose,omitempty"`
	Compressed     bool `yaml:"compressed,omitempty"`
	AutoConverge   bool `yaml:"autoConverge,omitempty"`
	PostCopy       bool `yaml:"postCopy,omitempty"`
	CopyStorageAll bool `yaml:"copyStorageAll,omitempty"`
	CopyStorageInc bool `yaml:"copyStorageInc,omitempty"`
	AbortOnError   bool `yaml:"abortOnError,omitempty"`

	// Bandwidth is in MiB/s
	Bandwidth uint64 `yaml:"bandwidth,omitempty"`

	// MaxDowntime is applied once the job runs (format: "300ms")
	MaxDowntime DurationString `yaml:"maxDowntime,omitempty"`

	// CompressionCache is applied once the job runs (format: "64MiB")
	CompressionCache ByteSize `yaml:"compressionCache,omitempty"`

	// Extra is a shell-quoted string appended to the migrate command
	Extra string `yaml:"extra,omitempty"`

	// DestName renames the guest on the destination
	DestName string `yaml:"dname,omitempty"`

	// OutputPattern is a regular expression the stdout of a successful job
	// must match. Defaults to DefaultOutputPattern when verbose is set.
	OutputPattern string `yaml:"outputPattern,omitempty"`

	// CreateTargetImages creates empty images on the destination for every
	// guest disk before a copy-storage migration
	CreateTargetImages bool `yaml:"createTargetImages,omitempty"`

	// Background runs the job as a monitored child process
	Background bool `yaml:"background,omitempty"`

	// Timeout bounds the job, measured from the moment it is observed
	Timeout DurationString `yaml:"timeout,omitempty"`
}

// SetupSpec defines the fixtures of a scenario. They are acquired in field
// order and released in reverse.
type SetupSpec struct {
	SELinux     []SELinuxSpec    `yaml:"selinux,omitempty"`
	ConfigEdits []ConfigEditSpec `yaml:"configEdits,omitempty"`
	Mounts      []MountSpec      `yaml:"mounts,omitempty"`
	DiskImages  []DiskImageSpec  `yaml:"diskImages,omitempty"`
	GuestXML    *GuestXMLSpec    `yaml:"guestXML,omitempty"`
	AttachDisks []AttachDiskSpec `yaml:"attachDisks,omitempty"`
	Processes   []ProcessSpec    `yaml:"processes,omitempty"`
}

// Host names used by fixtures.
const (
	HostSource      = "source"
	HostDestination = "destination"
)

// SELinuxSpec switches SELinux on a host for the scenario.
type SELinuxSpec struct {
	Host string `yaml:"host"`
	// Mode is Enforcing or Permissive
	Mode string `yaml:"mode"`
}

// ConfigEditSpec sets keys in a daemon configuration file.
type ConfigEditSpec struct {
	Host     string            `yaml:"host"`
	Path     string            `yaml:"path"`
	Settings map[string]string `yaml:"settings"`
	// Service is restarted after the edit and after the restore
	Service string `yaml:"service,omitempty"`
}

// MountSpec mounts shared storage.
type MountSpec struct {
	Host    string   `yaml:"host"`
	Source  string   `yaml:"source"`
	Target  string   `yaml:"target"`
	FSType  string   `yaml:"fsType,omitempty"`
	Options []string `yaml:"options,omitempty"`
}

// DiskImageSpec creates a disk image.
type DiskImageSpec struct {
	Host   string   `yaml:"host"`
	Path   string   `yaml:"path"`
	Format string   `yaml:"format,omitempty"`
	Size   ByteSize `yaml:"size"`
	// BackingFile creates an overlay on top of an existing image
	BackingFile string `yaml:"backingFile,omitempty"`
}

// GuestXMLSpec rewrites the guest definition before migrating.
type GuestXMLSpec struct {
	// DiskCache is applied to every disk (e.g. "none")
	DiskCache string `yaml:"diskCache,omitempty"`

	CPU *CPUSpec `yaml:"cpu,omitempty"`

	// RemoveVideo drops video and graphics devices
	RemoveVideo bool `yaml:"removeVideo,omitempty"`

	// SoundModel replaces every sound device with one of this model
	SoundModel string `yaml:"soundModel,omitempty"`

	Watchdog  *WatchdogSpec  `yaml:"watchdog,omitempty"`
	Smartcard *SmartcardSpec `yaml:"smartcard,omitempty"`
	Interface *InterfaceSpec `yaml:"interface,omitempty"`
}

// CPUSpec replaces the guest CPU. Either Baseline is set or Model and
// Vendor are.
type CPUSpec struct {
	// Baseline computes the model from the CPUs of both hosts
	Baseline bool `yaml:"baseline,omitempty"`

	Model  string `yaml:"model,omitempty"`
	Vendor string `yaml:"vendor,omitempty"`
	// Mode defaults to custom
	Mode string `yaml:"mode,omitempty"`
	// Match defaults to exact
	Match string `yaml:"match,omitempty"`
	// Fallback defaults to allow
	Fallback string `yaml:"fallback,omitempty"`
	// Features maps a feature name to its policy (e.g. vmx: require)
	Features map[string]string `yaml:"features,omitempty"`
}

// WatchdogSpec replaces the guest watchdogs.
type WatchdogSpec struct {
	Model string `yaml:"model"`
	// Action defaults to none
	Action string `yaml:"action,omitempty"`
}

// Smartcard modes and passthrough types.
const (
	SmartcardHost        = "host"
	SmartcardPassthrough = "passthrough"
	SmartcardSpiceVMC    = "spicevmc"
)

// DefaultOutputPattern matches the final progress line printed by
// "virsh migrate --verbose".
const DefaultOutputPattern = `100\s*%`

// SmartcardSpec replaces the guest smartcards.
type SmartcardSpec struct {
	// Mode is host or passthrough
	Mode string `yaml:"mode"`
	// Type is the passthrough channel, only spicevmc is supported
	Type string `yaml:"type,omitempty"`
}

// InterfaceSpec updates the first guest interface.
type InterfaceSpec struct {
	Model string `yaml:"model,omitempty"`
	// Address is a PCI address, e.g. "type=pci,domain=0x0000,bus=0x00,slot=0x0b,function=0x0"
	Address string `yaml:"address,omitempty"`
}

// AttachDiskSpec hot-plugs a disk into the guest.
type AttachDiskSpec struct {
	Path   string `yaml:"path"`
	Target string `yaml:"target"`
	Bus    string `yaml:"bus,omitempty"`
	Format string `yaml:"format,omitempty"`
	Cache  string `yaml:"cache,omitempty"`
	Device string `yaml:"device,omitempty"`
}

// ProcessSpec spawns a helper for the duration of the scenario.
type ProcessSpec struct {
	Host string `yaml:"host"`
	// Command is shell-quoted
	Command string `yaml:"command"`
}

// Intervention actions.
const (
	ActionCancel         = "cancel"
	ActionAbort          = "abort"
	ActionSetSpeed       = "setspeed"
	ActionSetMaxDowntime = "setmaxdowntime"
	ActionSetCompCache   = "setcompcache"
	ActionGetCompCache   = "getcompcache"
	ActionPartition      = "partition"
)

// InterventionSpec acts on the running job.
type InterventionSpec struct {
	Action string `yaml:"action"`

	// After is measured from the moment the job runs
	After DurationString `yaml:"after,omitempty"`

	// Value is the argument of setspeed (MiB/s), setmaxdowntime (duration)
	// and setcompcache (size)
	Value string `yaml:"value,omitempty"`

	// Address is the partition target; defaults to the destination host
	Address string `yaml:"address,omitempty"`

	// Duration heals the partition after it elapses; empty keeps it until teardown
	Duration DurationString `yaml:"duration,omitempty"`
}

// Post-migration checks.
const (
	CheckDestinationRunning = "destinationRunning"
	CheckSourceGone         = "sourceGone"
	CheckSourceUndefined    = "sourceUndefined"
)

// DurationString is a time.Duration written as "30s".
type DurationString string

// Duration parses the DurationString into a time.Duration.
func (d DurationString) Duration() (time.Duration, error) {
	if d == "" {
		return 0, nil
	}
	return time.ParseDuration(string(d))
}

// ByteSize is a size written as "64MiB" or "1G".
type ByteSize string

// Bytes parses the ByteSize.
func (b ByteSize) Bytes() (uint64, error) {
	if b == "" {
		return 0, nil
	}
	return ParseSize(string(b))
}
