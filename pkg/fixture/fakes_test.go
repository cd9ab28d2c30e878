//go:build unit

package fixture

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
)

var errFake = errors.New("fake failure")

// fakeHost records commands and answers them from a table keyed by the
// joined command line prefix.
type fakeHost struct {
	name  string
	local bool

	mu       sync.Mutex
	commands []string
	fail     map[string]bool
	outputs  map[string]string
	files    map[string][]byte
	started  []string
	stopped  []string
}

func newFakeHost(name string) *fakeHost {
	return &fakeHost{
		name:    name,
		fail:    map[string]bool{},
		outputs: map[string]string{},
		files:   map[string][]byte{},
	}
}

func (h *fakeHost) Name() string { return h.name }
func (h *fakeHost) Local() bool  { return h.local }

func (h *fakeHost) Run(_ context.Context, cmd ...string) (string, error) {
	line := strings.Join(cmd, " ")

	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, line)

	for prefix, failing := range h.fail {
		if failing && strings.HasPrefix(line, prefix) {
			return "", errFake
		}
	}
	for prefix, out := range h.outputs {
		if strings.HasPrefix(line, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func (h *fakeHost) Start(_ context.Context, cmd ...string) (StopFunc, error) {
	line := strings.Join(cmd, " ")

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail["start"] {
		return nil, errFake
	}
	h.started = append(h.started, line)
	return func(context.Context) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.stopped = append(h.stopped, line)
		return nil
	}, nil
}

func (h *fakeHost) ReadFile(_ context.Context, path string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, ok := h.files[path]
	if !ok {
		return nil, errFake
	}
	return data, nil
}

func (h *fakeHost) WriteFile(_ context.Context, path string, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail["write "+path] {
		return errFake
	}
	h.files[path] = data
	return nil
}

func (h *fakeHost) Commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.commands...)
}

type fakeFirewall struct {
	rules  map[string]bool
	exists bool
	fail   bool
}

func (f *fakeFirewall) key(table, chain string, rule []string) string {
	return table + "/" + chain + "/" + strings.Join(rule, " ")
}

func (f *fakeFirewall) Exists(table, chain string, rulespec ...string) (bool, error) {
	if f.fail {
		return false, errFake
	}
	return f.exists || f.rules[f.key(table, chain, rulespec)], nil
}

func (f *fakeFirewall) Insert(table, chain string, _ int, rulespec ...string) error {
	f.rules[f.key(table, chain, rulespec)] = true
	return nil
}

func (f *fakeFirewall) Delete(table, chain string, rulespec ...string) error {
	delete(f.rules, f.key(table, chain, rulespec))
	return nil
}

type fakeVirsh struct {
	xml       string
	defined   []string
	attached  []string
	detached  []string
	exists    bool
	destroyed bool
	undefined bool
	failOn    string

	baseline      string
	baselineInput string
}

func (v *fakeVirsh) err(op string) error {
	if v.failOn == op {
		return errFake
	}
	return nil
}

func (v *fakeVirsh) DumpXML(context.Context, string) (string, error) {
	return v.xml, v.err("dumpxml")
}

func (v *fakeVirsh) Define(_ context.Context, path string) error {
	v.defined = append(v.defined, path)
	return v.err("define")
}

func (v *fakeVirsh) AttachDevice(_ context.Context, _, path string) error {
	v.attached = append(v.attached, path)
	return v.err("attach")
}

func (v *fakeVirsh) DetachDevice(_ context.Context, _, path string) error {
	v.detached = append(v.detached, path)
	return v.err("detach")
}

func (v *fakeVirsh) CPUBaseline(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	v.baselineInput = string(data)
	return v.baseline, v.err("cpu-baseline")
}

func (v *fakeVirsh) DomainExists(context.Context, string) (bool, error) {
	return v.exists, v.err("exists")
}

func (v *fakeVirsh) Destroy(context.Context, string) error {
	v.destroyed = true
	return v.err("destroy")
}

func (v *fakeVirsh) Undefine(context.Context, string) error {
	v.undefined = true
	if err := v.err("undefine"); err != nil {
		return err
	}
	v.exists = false
	return nil
}

type fakeSELinux struct {
	mode SELinuxMode
	sets []SELinuxMode
}

func (s *fakeSELinux) Mode() SELinuxMode { return s.mode }

func (s *fakeSELinux) SetMode(mode SELinuxMode) error {
	s.sets = append(s.sets, mode)
	s.mode = mode
	return nil
}
