//go:build unit

package migration_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/alexandremahdhaoui/virtmig/pkg/command"
	"github.com/alexandremahdhaoui/virtmig/pkg/migration"
)

type fakeProcess struct {
	done chan struct{}

	mu          sync.Mutex
	result      command.Result
	onInterrupt *command.Result
	// beforeSignal runs ahead of every signal delivery.
	beforeSignal func()
	signals      []os.Signal
	killed       bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

// exitOnInterrupt makes the process exit with res when it receives SIGINT.
func (p *fakeProcess) exitOnInterrupt(res command.Result) *fakeProcess {
	p.onInterrupt = &res
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
	if p.beforeSignal != nil {
		p.beforeSignal()
	}
	if !p.Alive() {
		return command.ErrProcessExited
	}

	p.mu.Lock()
	p.signals = append(p.signals, sig)
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

func (p *fakeProcess) Signals() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]os.Signal{}, p.signals...)
}

func (p *fakeProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

type fakeRunner struct {
	proc      *fakeProcess
	startErr  error
	runResult command.Result
	runErr    error

	name string
	args []string
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) (command.Result, error) {
	r.name, r.args = name, args
	return r.runResult, r.runErr
}

func (r *fakeRunner) Start(_ context.Context, name string, args ...string) (command.Process, error) {
	r.name, r.args = name, args
	if r.startErr != nil {
		return nil, r.startErr
	}
	return r.proc, nil
}

type fakeBackend struct {
	mu sync.Mutex

	// jobInfo answers the n-th query, starting at 1.
	jobInfo func(n int) (*migration.JobInfo, error)
	queries int

	abortErr error
	aborted  bool
	// onAbort runs inside AbortJob, before it returns.
	onAbort func()

	tuneErr  error
	speed    uint64
	downtime time.Duration
	cache    uint64
}

func runningAfter(n int) func(int) (*migration.JobInfo, error) {
	return func(i int) (*migration.JobInfo, error) {
		if i < n {
			return nil, errors.New("error: Requested operation is not valid: domain is not running")
		}
		return &migration.JobInfo{Type: migration.JobUnbounded, Operation: "Outgoing migration"}, nil
	}
}

func (b *fakeBackend) JobInfo(_ context.Context, _ string) (*migration.JobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.queries++
	if b.jobInfo == nil {
		return &migration.JobInfo{Type: migration.JobNone}, nil
	}
	return b.jobInfo(b.queries)
}

func (b *fakeBackend) Queries() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queries
}

func (b *fakeBackend) AbortJob(_ context.Context, _ string) error {
	if b.onAbort != nil {
		b.onAbort()
	}
	if b.abortErr != nil {
		return b.abortErr
	}

	b.mu.Lock()
	b.aborted = true
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) Aborted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.aborted
}

func (b *fakeBackend) SetMaxSpeed(_ context.Context, _ string, mibps uint64) error {
	b.speed = mibps
	return b.tuneErr
}

func (b *fakeBackend) SetMaxDowntime(_ context.Context, _ string, downtime time.Duration) error {
	b.downtime = downtime
	return b.tuneErr
}

func (b *fakeBackend) SetCompressionCache(_ context.Context, _ string, size uint64) error {
	b.cache = size
	return b.tuneErr
}

func (b *fakeBackend) CompressionCache(_ context.Context, _ string) (uint64, error) {
	return b.cache, b.tuneErr
}

func (b *fakeBackend) MigrateCommand(req migration.Request) (string, []string) {
	args := []string{"migrate"}
	if req.Live {
		args = append(args, "--live")
	}
	if req.Verbose {
		args = append(args, "--verbose")
	}
	return "virsh", append(args, req.Domain, req.DestinationURI)
}
