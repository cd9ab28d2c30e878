package scenario

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/alexandremahdhaoui/virtmig/pkg/vmm"
)

// ValidationError represents a validation error with detailed context.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error in field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors represents multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var (
	validTransports = []string{"ssh", "tcp", "tls"}
	validHosts      = []string{HostSource, HostDestination}
	validSELinux    = []string{"Enforcing", "Permissive"}
	validActions    = []string{
		ActionCancel, ActionAbort, ActionSetSpeed, ActionSetMaxDowntime,
		ActionSetCompCache, ActionGetCompCache, ActionPartition,
	}
	validChecks = []string{CheckDestinationRunning, CheckSourceGone, CheckSourceUndefined}

	validCPUModes       = []string{"custom", "host-model", "host-passthrough", "maximum"}
	validCPUMatches     = []string{"exact", "minimum", "strict"}
	validCPUFallbacks   = []string{"allow", "forbid"}
	validCPUPolicies    = []string{"force", "require", "optional", "disable", "forbid"}
	validSmartcardModes = []string{SmartcardHost, SmartcardPassthrough}
)

// Validate validates a Scenario and returns every problem found as
// ValidationErrors.
func Validate(s *Scenario) error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if s.Name == "" {
		add("name", "name is required")
	}
	if s.Description == "" {
		add("description", "description is required")
	}
	if s.Domain == "" {
		add("domain", "domain is required")
	}

	if s.Destination.URI == "" {
		add("destination.uri", "destination URI is required")
	} else if u, err := url.Parse(s.Destination.URI); err != nil || u.Scheme == "" {
		add("destination.uri", "invalid libvirt URI '%s'", s.Destination.URI)
	}

	if s.Transport != "" && !slices.Contains(validTransports, s.Transport) {
		add("transport", "invalid transport '%s', must be one of: %s", s.Transport, strings.Join(validTransports, ", "))
	}
	if s.Transport == "tls" && (s.TLS == nil || (len(s.TLS.Certs) == 0 && !s.TLS.Generate)) {
		add("tls.certs", "at least one certificate or tls.generate is required for the tls transport")
	}
	if s.TLS != nil {
		if s.TLS.Generate && len(s.TLS.Certs) > 0 {
			add("tls.generate", "tls.generate and tls.certs are mutually exclusive")
		}
		if s.TLS.Validity != "" {
			if d, err := s.TLS.Validity.Duration(); err != nil || d <= 0 {
				add("tls.validity", "invalid validity '%s'", s.TLS.Validity)
			}
		}
		for i, c := range s.TLS.Certs {
			if c.Local == "" || c.Remote == "" {
				add(fmt.Sprintf("tls.certs[%d]", i), "local and remote paths are required")
			}
		}
	}

	errs = append(errs, validateMigration(s)...)
	errs = append(errs, validateSetup(s.Setup)...)

	for i, iv := range s.Interventions {
		errs = append(errs, validateIntervention(iv, i, s.Migration.Background)...)
	}

	for i, c := range s.Checks {
		if !slices.Contains(validChecks, c) {
			add(fmt.Sprintf("checks[%d]", i), "invalid check '%s', must be one of: %s", c, strings.Join(validChecks, ", "))
		}
		if c == CheckSourceUndefined && !s.Migration.UndefineSource {
			add(fmt.Sprintf("checks[%d]", i), "check '%s' requires migration.undefineSource", c)
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateMigration(s *Scenario) ValidationErrors {
	var errs ValidationErrors
	m := s.Migration

	validateDuration := func(field string, d DurationString) {
		if v, err := d.Duration(); err != nil {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration format: %v", err)})
		} else if v < 0 {
			errs = append(errs, ValidationError{Field: field, Message: "duration must not be negative"})
		}
	}
	validateDuration("migration.maxDowntime", m.MaxDowntime)
	validateDuration("migration.timeout", m.Timeout)

	if _, err := m.CompressionCache.Bytes(); err != nil {
		errs = append(errs, ValidationError{
			Field:   "migration.compressionCache",
			Message: fmt.Sprintf("invalid size: %v", err),
		})
	}
	if _, err := SplitArgs(m.Extra); err != nil {
		errs = append(errs, ValidationError{
			Field:   "migration.extra",
			Message: fmt.Sprintf("invalid arguments: %v", err),
		})
	}

	if m.CopyStorageAll && m.CopyStorageInc {
		errs = append(errs, ValidationError{
			Field:   "migration",
			Message: "copyStorageAll and copyStorageInc are mutually exclusive",
		})
	}
	if m.OutputPattern != "" {
		if _, err := regexp.Compile(m.OutputPattern); err != nil {
			errs = append(errs, ValidationError{
				Field:   "migration.outputPattern",
				Message: fmt.Sprintf("invalid regular expression: %v", err),
			})
		}
	}
	if m.CreateTargetImages && !m.CopyStorageAll && !m.CopyStorageInc {
		errs = append(errs, ValidationError{
			Field:   "migration.createTargetImages",
			Message: "createTargetImages requires copyStorageAll or copyStorageInc",
		})
	}
	if m.Live && m.Offline {
		errs = append(errs, ValidationError{Field: "migration", Message: "live and offline are mutually exclusive"})
	}
	if (m.MaxDowntime != "" || m.CompressionCache != "") && !m.Background {
		errs = append(errs, ValidationError{
			Field:   "migration",
			Message: "maxDowntime and compressionCache are applied to the running job and require background",
		})
	}

	return errs
}

func validateSetup(setup SetupSpec) ValidationErrors {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}
	host := func(field, h string) {
		if !slices.Contains(validHosts, h) {
			add(field, "invalid host '%s', must be one of: %s", h, strings.Join(validHosts, ", "))
		}
	}

	for i, se := range setup.SELinux {
		prefix := fmt.Sprintf("setup.selinux[%d]", i)
		host(prefix+".host", se.Host)
		if !slices.Contains(validSELinux, se.Mode) {
			add(prefix+".mode", "invalid mode '%s', must be one of: %s", se.Mode, strings.Join(validSELinux, ", "))
		}
	}

	for i, c := range setup.ConfigEdits {
		prefix := fmt.Sprintf("setup.configEdits[%d]", i)
		host(prefix+".host", c.Host)
		if c.Path == "" {
			add(prefix+".path", "path is required")
		}
		if len(c.Settings) == 0 {
			add(prefix+".settings", "at least one setting is required")
		}
	}

	for i, m := range setup.Mounts {
		prefix := fmt.Sprintf("setup.mounts[%d]", i)
		host(prefix+".host", m.Host)
		if m.Source == "" {
			add(prefix+".source", "source is required")
		}
		if m.Target == "" {
			add(prefix+".target", "target is required")
		}
	}

	for i, d := range setup.DiskImages {
		prefix := fmt.Sprintf("setup.diskImages[%d]", i)
		host(prefix+".host", d.Host)
		if d.Path == "" {
			add(prefix+".path", "path is required")
		}
		size, err := d.Size.Bytes()
		switch {
		case err != nil:
			add(prefix+".size", "invalid size: %v", err)
		case size == 0 && d.BackingFile == "":
			add(prefix+".size", "size is required without a backing file")
		}
	}

	if setup.GuestXML != nil {
		errs = append(errs, validateGuestXML(*setup.GuestXML)...)
	}

	targets := map[string]bool{}
	for i, a := range setup.AttachDisks {
		prefix := fmt.Sprintf("setup.attachDisks[%d]", i)
		if a.Path == "" {
			add(prefix+".path", "path is required")
		}
		if a.Target == "" {
			add(prefix+".target", "target is required")
		} else if targets[a.Target] {
			add(prefix+".target", "duplicate target '%s'", a.Target)
		}
		targets[a.Target] = true
	}

	for i, p := range setup.Processes {
		prefix := fmt.Sprintf("setup.processes[%d]", i)
		host(prefix+".host", p.Host)
		if args, err := SplitArgs(p.Command); err != nil {
			add(prefix+".command", "invalid command: %v", err)
		} else if len(args) == 0 {
			add(prefix+".command", "command is required")
		}
	}

	return errs
}

func validateIntervention(iv InterventionSpec, index int, background bool) ValidationErrors {
	var errs ValidationErrors
	prefix := fmt.Sprintf("interventions[%d]", index)
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: prefix + field, Message: fmt.Sprintf(format, args...)})
	}

	if !slices.Contains(validActions, iv.Action) {
		add(".action", "invalid action '%s', must be one of: %s", iv.Action, strings.Join(validActions, ", "))
		return errs
	}
	if !background {
		add(".action", "interventions require migration.background")
	}

	if _, err := iv.After.Duration(); err != nil {
		add(".after", "invalid duration format: %v", err)
	}

	switch iv.Action {
	case ActionSetSpeed:
		if _, err := ParseSpeed(iv.Value); err != nil {
			add(".value", "invalid speed '%s', expected MiB/s", iv.Value)
		}
	case ActionSetMaxDowntime:
		if d, err := ParseDowntime(iv.Value); err != nil || d <= 0 {
			add(".value", "invalid downtime '%s'", iv.Value)
		}
	case ActionSetCompCache:
		if n, err := ParseSize(iv.Value); err != nil || n == 0 {
			add(".value", "invalid size '%s'", iv.Value)
		}
	case ActionPartition:
		if iv.Address != "" && net.ParseIP(iv.Address) == nil {
			if _, _, err := net.ParseCIDR(iv.Address); err != nil {
				add(".address", "invalid address '%s'", iv.Address)
			}
		}
		if _, err := iv.Duration.Duration(); err != nil {
			add(".duration", "invalid duration format: %v", err)
		}
	}

	return errs
}

func validateGuestXML(g GuestXMLSpec) ValidationErrors {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}
	oneOf := func(field, value string, valid []string) {
		if value != "" && !slices.Contains(valid, value) {
			add(field, "invalid value '%s', must be one of: %s", value, strings.Join(valid, ", "))
		}
	}

	if cpu := g.CPU; cpu != nil {
		switch {
		case cpu.Baseline && (cpu.Model != "" || cpu.Vendor != ""):
			add("setup.guestXML.cpu", "baseline and model/vendor are mutually exclusive")
		case !cpu.Baseline && (cpu.Model == "" || cpu.Vendor == ""):
			add("setup.guestXML.cpu", "model and vendor are required without baseline")
		}
		oneOf("setup.guestXML.cpu.mode", cpu.Mode, validCPUModes)
		oneOf("setup.guestXML.cpu.match", cpu.Match, validCPUMatches)
		oneOf("setup.guestXML.cpu.fallback", cpu.Fallback, validCPUFallbacks)
		for name, policy := range cpu.Features {
			oneOf("setup.guestXML.cpu.features."+name, policy, validCPUPolicies)
		}
	}

	if g.Watchdog != nil && g.Watchdog.Model == "" {
		add("setup.guestXML.watchdog.model", "model is required")
	}

	if sc := g.Smartcard; sc != nil {
		if !slices.Contains(validSmartcardModes, sc.Mode) {
			add("setup.guestXML.smartcard.mode", "invalid mode '%s', must be one of: %s",
				sc.Mode, strings.Join(validSmartcardModes, ", "))
		}
		if sc.Mode == SmartcardPassthrough && sc.Type != "" && sc.Type != SmartcardSpiceVMC {
			add("setup.guestXML.smartcard.type", "unsupported passthrough type '%s'", sc.Type)
		}
		if sc.Mode == SmartcardHost && sc.Type != "" {
			add("setup.guestXML.smartcard.type", "type only applies to passthrough")
		}
	}

	if iface := g.Interface; iface != nil {
		if iface.Model == "" && iface.Address == "" {
			add("setup.guestXML.interface", "model or address is required")
		}
		if iface.Address != "" {
			if _, err := vmm.ParsePCIAddress(iface.Address); err != nil {
				add("setup.guestXML.interface.address", "%v", err)
			}
		}
	}

	return errs
}
