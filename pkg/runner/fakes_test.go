//go:build unit

package runner

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/alexandremahdhaoui/virtmig/pkg/command"
	"github.com/alexandremahdhaoui/virtmig/pkg/fixture"
	"github.com/alexandremahdhaoui/virtmig/pkg/migration"
	"github.com/stretchr/testify/mock"
)

var errFake = errors.New("fake failure")

const abortedStderr = "error: operation aborted: migration out job: canceled by client\n"

type fakeProcess struct {
	done chan struct{}

	mu          sync.Mutex
	result      command.Result
	onInterrupt *command.Result
	killed      bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) exitOnInterrupt(res command.Result) *fakeProcess {
	p.onInterrupt = &res
	return p
}

func (p *fakeProcess) exitAfter(d time.Duration, res command.Result) *fakeProcess {
	go func() {
		time.Sleep(d)
		p.exit(res)
	}()
	return p
}

func (p *fakeProcess) exit(res command.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.done:
		return
	default:
	}
	p.result = res
	close(p.done)
}

func (p *fakeProcess) Pid() int { return 4242 }

func (p *fakeProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *fakeProcess) Signal(sig os.Signal) error {
	if !p.Alive() {
		return command.ErrProcessExited
	}
	p.mu.Lock()
	onInterrupt := p.onInterrupt
	p.mu.Unlock()

	if sig == os.Interrupt && onInterrupt != nil {
		p.exit(*onInterrupt)
	}
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Wait() (command.Result, error) {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result, nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit(command.Result{ExitCode: -1})
	return nil
}

func (p *fakeProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

type fakeRunner struct {
	mu      sync.Mutex
	proc    *fakeProcess
	started int
}

func (r *fakeRunner) Run(context.Context, string, ...string) (command.Result, error) {
	return command.Result{}, nil
}

func (r *fakeRunner) Start(context.Context, string, ...string) (command.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
	return r.proc, nil
}

func (r *fakeRunner) Started() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// fakeBackend reports the job as running from the first query on.
type fakeBackend struct {
	mu sync.Mutex

	info    *migration.JobInfo
	onAbort func()
	speed   uint64
	cache   uint64
}

func (b *fakeBackend) JobInfo(context.Context, string) (*migration.JobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.info == nil {
		return &migration.JobInfo{Type: migration.JobUnbounded, Operation: "Outgoing migration"}, nil
	}
	return b.info, nil
}

func (b *fakeBackend) AbortJob(context.Context, string) error {
	if b.onAbort != nil {
		b.onAbort()
	}
	return nil
}

func (b *fakeBackend) SetMaxSpeed(_ context.Context, _ string, mibps uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.speed = mibps
	return nil
}

func (b *fakeBackend) SetMaxDowntime(context.Context, string, time.Duration) error { return nil }

func (b *fakeBackend) SetCompressionCache(_ context.Context, _ string, size uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache = size
	return nil
}

func (b *fakeBackend) CompressionCache(context.Context, string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cache, nil
}

func (b *fakeBackend) Speed() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.speed
}

func (b *fakeBackend) MigrateCommand(req migration.Request) (string, []string) {
	return "virsh", []string{"migrate", "--live", req.Domain, req.DestinationURI}
}

type mockDomains struct {
	mock.Mock
}

func (m *mockDomains) DumpXML(ctx context.Context, domain string) (string, error) {
	args := m.Called(ctx, domain)
	return args.String(0), args.Error(1)
}

func (m *mockDomains) Define(ctx context.Context, path string) error {
	return m.Called(ctx, path).Error(0)
}

func (m *mockDomains) AttachDevice(ctx context.Context, domain, path string) error {
	return m.Called(ctx, domain, path).Error(0)
}

func (m *mockDomains) DetachDevice(ctx context.Context, domain, path string) error {
	return m.Called(ctx, domain, path).Error(0)
}

func (m *mockDomains) DomainExists(ctx context.Context, domain string) (bool, error) {
	args := m.Called(ctx, domain)
	return args.Bool(0), args.Error(1)
}

func (m *mockDomains) Destroy(ctx context.Context, domain string) error {
	return m.Called(ctx, domain).Error(0)
}

func (m *mockDomains) Undefine(ctx context.Context, domain string) error {
	return m.Called(ctx, domain).Error(0)
}

func (m *mockDomains) CPUBaseline(ctx context.Context, path string) (string, error) {
	args := m.Called(ctx, path)
	return args.String(0), args.Error(1)
}

func (m *mockDomains) DomainState(ctx context.Context, domain string) (string, error) {
	args := m.Called(ctx, domain)
	return args.String(0), args.Error(1)
}

type fakeHost struct {
	name string

	mu       sync.Mutex
	commands []string
	fail     map[string]bool
	stopErr  error
}

func newFakeHost(name string) *fakeHost {
	return &fakeHost{name: name, fail: map[string]bool{}}
}

func (h *fakeHost) Name() string { return h.name }
func (h *fakeHost) Local() bool  { return false }

func (h *fakeHost) Run(_ context.Context, cmd ...string) (string, error) {
	line := strings.Join(cmd, " ")
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, line)
	for prefix := range h.fail {
		if strings.HasPrefix(line, prefix) {
			return "", errFake
		}
	}
	return "", nil
}

func (h *fakeHost) Start(_ context.Context, cmd ...string) (fixture.StopFunc, error) {
	h.mu.Lock()
	h.commands = append(h.commands, "start "+strings.Join(cmd, " "))
	h.mu.Unlock()
	return func(context.Context) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.commands = append(h.commands, "stop "+strings.Join(cmd, " "))
		return h.stopErr
	}, nil
}

func (h *fakeHost) ReadFile(context.Context, string) ([]byte, error) { return nil, nil }
func (h *fakeHost) WriteFile(context.Context, string, []byte) error  { return nil }

func (h *fakeHost) Commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.commands...)
}

type fakeFirewall struct {
	mu    sync.Mutex
	rules map[string]bool
	log   []string
	// deleteDelay slows down healing.
	deleteDelay time.Duration
}

func newFakeFirewall() *fakeFirewall {
	return &fakeFirewall{rules: map[string]bool{}}
}

func (f *fakeFirewall) Exists(_, _ string, rulespec ...string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rules[strings.Join(rulespec, " ")], nil
}

func (f *fakeFirewall) Insert(_, _ string, _ int, rulespec ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[strings.Join(rulespec, " ")] = true
	f.log = append(f.log, "insert")
	return nil
}

func (f *fakeFirewall) Delete(_, _ string, rulespec ...string) error {
	time.Sleep(f.deleteDelay)

	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rules, strings.Join(rulespec, " "))
	f.log = append(f.log, "delete")
	return nil
}

func (f *fakeFirewall) Log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}
