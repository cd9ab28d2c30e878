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

package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/alexandremahdhaoui/virtmig/pkg/command"
	"k8s.io/apimachinery/pkg/util/wait"
)

// DefaultCancelPattern matches the error virsh prints when a migration job
// is aborted through domjobabort.
const DefaultCancelPattern = `operation aborted: .*job.*canceled by client`

const killTimeout = 10 * time.Second

var (
	errJobFailed      = errors.New("migration command failed")
	errKillTimeout    = errors.New("job process did not exit after SIGKILL")
	errOutputMismatch = errors.New("migration command output does not match")
)

// Config tunes how a Controller observes and unwinds a job.
type Config struct {
	// PollInterval separates two job queries.
	PollInterval time.Duration
	// PollCeiling is the number of queries after which a background job that
	// was never observed is considered failed to launch.
	PollCeiling int
	// CancelGrace is how long the job process gets to exit after SIGINT
	// before it is killed.
	CancelGrace time.Duration
	// CancelPattern must match the job process stderr for an abort to be
	// confirmed.
	CancelPattern *regexp.Regexp
}

func DefaultConfig() Config {
	return Config{
		PollInterval:  time.Second,
		PollCeiling:   10,
		CancelGrace:   30 * time.Second,
		CancelPattern: regexp.MustCompile(DefaultCancelPattern),
	}
}

// Controller owns exactly one migration job.
type Controller struct {
	runner  command.Runner
	querier JobQuerier
	control JobControl
	builder CommandBuilder

	cfg     Config
	metrics *Metrics
	now     func() time.Time

	mu     sync.Mutex
	handle *JobHandle
	// abortDone is broadcast on mu each time an AbortJob call returns.
	abortDone *sync.Cond
}

type Option func(*Controller)

// WithConfig overrides the default Config. Zero fields keep their default.
func WithConfig(cfg Config) Option {
	return func(c *Controller) {
		def := DefaultConfig()
		if cfg.PollInterval <= 0 {
			cfg.PollInterval = def.PollInterval
		}
		if cfg.PollCeiling <= 0 {
			cfg.PollCeiling = def.PollCeiling
		}
		if cfg.CancelGrace <= 0 {
			cfg.CancelGrace = def.CancelGrace
		}
		if cfg.CancelPattern == nil {
			cfg.CancelPattern = def.CancelPattern
		}
		c.cfg = cfg
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// NewController returns an IDLE Controller.
func NewController(
	runner command.Runner,
	querier JobQuerier,
	control JobControl,
	builder CommandBuilder,
	opts ...Option,
) *Controller {
	c := &Controller{
		runner:  runner,
		querier: querier,
		control: control,
		builder: builder,
		cfg:     DefaultConfig(),
		now:     time.Now,
	}
	c.abortDone = sync.NewCond(&c.mu)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle returns a snapshot of the current job, or nil while IDLE.
func (c *Controller) Handle() *JobHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return nil
	}
	cp := *c.handle
	return &cp
}

// Phase returns the current phase of the job.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return PhaseIdle
	}
	return c.handle.Phase
}

// Launch dispatches req. A foreground job is run to completion and is
// terminal when Launch returns. A background job is started and polled until
// the daemon reports it; the returned handle is then RUNNING, unless the
// process exited during the launch window, in which case it is terminal.
func (c *Controller) Launch(ctx context.Context, req Request) (*JobHandle, error) {
	if err := req.Validate(); err != nil {
		return nil, errors.Join(err, ErrLaunch)
	}
	if c.builder == nil {
		return nil, errors.Join(errNoCommandBuilder, ErrLaunch)
	}

	c.mu.Lock()
	if c.handle != nil {
		c.mu.Unlock()
		return nil, ErrJobInProgress
	}
	c.handle = &JobHandle{
		Request:   req,
		StartedAt: c.now(),
		Phase:     PhaseLaunching,
	}
	c.mu.Unlock()

	name, args := c.builder.MigrateCommand(req)
	slog.InfoContext(ctx, "launching migration",
		"domain", req.Domain,
		"destination", req.DestinationURI,
		"background", req.Background,
	)

	if !req.Background {
		return c.launchForeground(ctx, name, args)
	}
	return c.launchBackground(ctx, name, args)
}

func (c *Controller) launchForeground(ctx context.Context, name string, args []string) (*JobHandle, error) {
	res, err := c.runner.Run(ctx, name, args...)
	if err != nil {
		err = errors.Join(err, ErrLaunch)
		c.finish(ctx, res, err)
		return c.Handle(), err
	}

	c.finish(ctx, res, nil)
	return c.Handle(), nil
}

func (c *Controller) launchBackground(ctx context.Context, name string, args []string) (*JobHandle, error) {
	proc, err := c.runner.Start(ctx, name, args...)
	if err != nil {
		err = errors.Join(err, ErrLaunch)
		c.finish(ctx, command.Result{ExitCode: -1}, err)
		return c.Handle(), err
	}

	c.mu.Lock()
	c.handle.Process = proc
	domain := c.handle.Request.Domain
	c.mu.Unlock()

	polls := 0
	observed := false
	pollErr := wait.PollUntilContextCancel(ctx, c.cfg.PollInterval, true, func(ctx context.Context) (bool, error) {
		polls++

		select {
		case <-proc.Done():
			return true, nil
		default:
		}

		info, err := c.querier.JobInfo(ctx, domain)
		if err != nil {
			slog.DebugContext(ctx, "job info not available", "poll", polls, "error", err.Error())
		} else {
			c.recordInfo(info)
			if info.Type.Active() {
				observed = true
				return true, nil
			}
		}

		if polls >= c.cfg.PollCeiling {
			return false, errPollCeiling
		}
		return false, nil
	})

	switch {
	case observed:
		c.mu.Lock()
		c.handle.Phase = PhaseRunning
		c.handle.ObservedAt = c.now()
		c.mu.Unlock()

		slog.InfoContext(ctx, "migration job is running", "domain", domain, "pid", proc.Pid(), "polls", polls)
		return c.Handle(), nil

	case pollErr == nil, exited(proc):
		// The process ended inside the launch window.
		res, werr := proc.Wait()
		c.finish(ctx, res, werr)
		return c.Handle(), nil

	case errors.Is(pollErr, errPollCeiling):
		slog.ErrorContext(ctx, "no migration job observed, killing the job process",
			"domain", domain,
			"polls", polls,
			"pid", proc.Pid(),
		)
		err := errors.Join(fmt.Errorf("%w after %d polls", errPollCeiling, polls), ErrLaunch)
		res := command.Result{ExitCode: -1}
		if kerr := c.kill(proc); kerr != nil {
			err = errors.Join(err, kerr)
		} else {
			res, _ = proc.Wait()
		}
		c.finish(ctx, res, err)
		return c.Handle(), err

	default:
		// The caller's context ended while launching: unwind like a cancel.
		unwindCtx := context.WithoutCancel(ctx)
		res := command.Result{ExitCode: -1}
		if _, ierr := c.interrupt(unwindCtx, proc, markCanceled); ierr == nil {
			res, _ = proc.Wait()
		}
		c.finish(unwindCtx, res, nil)
		return c.Handle(), errors.Join(pollErr, ErrLaunch)
	}
}

// Wait blocks until the RUNNING job ends, sampling its statistics every
// PollInterval. When the request timeout elapses the job is unwound like a
// cancel and ends TIMED_OUT. On a terminal job Wait returns its Outcome.
// The only error reported alongside an Outcome is ErrAbortUnconfirmed.
func (c *Controller) Wait(ctx context.Context) (*Outcome, error) {
	c.mu.Lock()
	h := c.handle
	if h == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: phase %s", ErrNotRunning, PhaseIdle)
	}
	if h.Outcome != nil {
		o := h.Outcome
		c.mu.Unlock()
		return o, outcomeErr(o)
	}
	if h.Phase != PhaseRunning {
		phase := h.Phase
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: phase %s", ErrNotRunning, phase)
	}
	proc := h.Process
	req := h.Request
	observedAt := h.ObservedAt
	c.mu.Unlock()

	var deadline <-chan time.Time
	if req.Timeout > 0 {
		timer := time.NewTimer(observedAt.Add(req.Timeout).Sub(c.now()))
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-proc.Done():
			res, err := proc.Wait()
			o := c.finish(ctx, res, err)
			return o, outcomeErr(o)

		case <-ticker.C:
			info, err := c.querier.JobInfo(ctx, req.Domain)
			if err != nil {
				slog.DebugContext(ctx, "failed to sample job info", "error", err.Error())
				continue
			}
			c.recordInfo(info)
			slog.DebugContext(ctx, "migration progress",
				"type", info.Type,
				"elapsed", info.TimeElapsed,
				"remaining", info.DataRemaining,
			)

		case <-deadline:
			slog.WarnContext(ctx, "migration timed out", "domain", req.Domain, "timeout", req.Timeout)
			unwindCtx := context.WithoutCancel(ctx)
			res := command.Result{ExitCode: -1}
			if _, err := c.interrupt(unwindCtx, proc, markTimedOut); err != nil {
				slog.ErrorContext(ctx, "failed to stop timed out job", "pid", proc.Pid(), "error", err.Error())
			} else {
				res, _ = proc.Wait()
			}
			o := c.finish(unwindCtx, res, nil)
			return o, outcomeErr(o)

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Cancel delivers SIGINT to the background job process and blocks until its
// exit is confirmed, killing it after CancelGrace.
func (c *Controller) Cancel(ctx context.Context) (*Outcome, error) {
	c.mu.Lock()
	h := c.handle
	if h == nil || h.Process == nil || h.Phase.Terminal() {
		phase := PhaseIdle
		if h != nil {
			phase = h.Phase
		}
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot cancel in phase %s", ErrNotRunning, phase)
	}
	proc := h.Process
	domain := h.Request.Domain
	c.mu.Unlock()

	slog.InfoContext(ctx, "cancelling migration job", "domain", domain, "pid", proc.Pid())

	delivered, err := c.interrupt(ctx, proc, markCanceled)
	if err != nil {
		return nil, err
	}
	if !delivered {
		slog.InfoContext(ctx, "migration job ended before the cancel signal", "domain", domain)
	}

	res, werr := proc.Wait()
	o := c.finish(ctx, res, werr)
	return o, outcomeErr(o)
}

// Abort asks the daemon to abort the RUNNING job and records its
// acknowledgement. The job ends ABORTED only if its process also reported
// the cancellation. A job process exiting while the request is in flight is
// classified once the daemon has answered.
func (c *Controller) Abort(ctx context.Context) error {
	c.mu.Lock()
	domain, err := c.runningDomainLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.handle.abortsInFlight++
	c.mu.Unlock()

	err = c.control.AbortJob(ctx, domain)

	c.mu.Lock()
	c.handle.abortsInFlight--
	if err == nil {
		c.handle.abortAcked = true
	}
	c.abortDone.Broadcast()
	c.mu.Unlock()

	if err != nil {
		return errors.Join(err, fmt.Errorf("aborting job of domain %q", domain), ErrDaemon)
	}
	slog.InfoContext(ctx, "daemon acknowledged job abort", "domain", domain)
	return nil
}

// SetMaxSpeed caps the migration bandwidth in MiB/s.
func (c *Controller) SetMaxSpeed(ctx context.Context, mibps uint64) error {
	domain, err := c.runningDomain()
	if err != nil {
		return err
	}
	if err := c.control.SetMaxSpeed(ctx, domain, mibps); err != nil {
		return errors.Join(err, ErrDaemon)
	}
	slog.InfoContext(ctx, "set migration max speed", "domain", domain, "mibps", mibps)
	return nil
}

// SetMaxDowntime sets the tolerated guest downtime at switchover.
func (c *Controller) SetMaxDowntime(ctx context.Context, downtime time.Duration) error {
	domain, err := c.runningDomain()
	if err != nil {
		return err
	}
	if err := c.control.SetMaxDowntime(ctx, domain, downtime); err != nil {
		return errors.Join(err, ErrDaemon)
	}
	slog.InfoContext(ctx, "set migration max downtime", "domain", domain, "downtime", downtime)
	return nil
}

// SetCompressionCache sets the XBZRLE cache size in bytes.
func (c *Controller) SetCompressionCache(ctx context.Context, size uint64) error {
	domain, err := c.runningDomain()
	if err != nil {
		return err
	}
	if err := c.control.SetCompressionCache(ctx, domain, size); err != nil {
		return errors.Join(err, ErrDaemon)
	}
	slog.InfoContext(ctx, "set migration compression cache", "domain", domain, "bytes", size)
	return nil
}

// CompressionCache returns the XBZRLE cache size in bytes.
func (c *Controller) CompressionCache(ctx context.Context) (uint64, error) {
	domain, err := c.runningDomain()
	if err != nil {
		return 0, err
	}
	size, err := c.control.CompressionCache(ctx, domain)
	if err != nil {
		return 0, errors.Join(err, ErrDaemon)
	}
	return size, nil
}

// Terminate kills the job process if it is still alive. It is meant to be
// registered as a teardown release: it never panics and only reports.
func (c *Controller) Terminate(ctx context.Context) error {
	c.mu.Lock()
	h := c.handle
	if h == nil || h.Process == nil {
		c.mu.Unlock()
		return nil
	}
	proc := h.Process
	if !proc.Alive() {
		c.mu.Unlock()
		return nil
	}
	if h.Outcome == nil {
		h.terminated = true
	}
	c.mu.Unlock()

	slog.WarnContext(ctx, "terminating job process still alive after the scenario", "pid", proc.Pid())
	if err := c.kill(proc); err != nil {
		slog.ErrorContext(ctx, "failed to terminate job process", "pid", proc.Pid(), "error", err.Error())
		return err
	}

	res, _ := proc.Wait()
	c.finish(ctx, res, nil)
	return nil
}

func (c *Controller) runningDomain() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runningDomainLocked()
}

func (c *Controller) runningDomainLocked() (string, error) {
	if c.handle == nil {
		return "", fmt.Errorf("%w: phase %s", ErrNotRunning, PhaseIdle)
	}
	if c.handle.Phase != PhaseRunning {
		return "", fmt.Errorf("%w: phase %s", ErrNotRunning, c.handle.Phase)
	}
	return c.handle.Request.Domain, nil
}

func (c *Controller) recordInfo(info *JobInfo) {
	c.mu.Lock()
	c.handle.LastInfo = info
	c.mu.Unlock()
}

// finish moves the job to its terminal phase once; later calls return the
// first Outcome.
func (c *Controller) finish(ctx context.Context, res command.Result, cause error) *Outcome {
	c.mu.Lock()
	h := c.handle
	for h.Outcome == nil && h.abortsInFlight > 0 {
		c.abortDone.Wait()
	}
	if h.Outcome != nil {
		o := h.Outcome
		c.mu.Unlock()
		return o
	}

	o := &Outcome{
		Result:   res,
		Duration: c.now().Sub(h.StartedAt),
		LastInfo: h.LastInfo,
	}

	switch {
	case cause != nil:
		o.Phase, o.Err = PhaseFailed, cause
	case h.timedOut:
		o.Phase, o.Err = PhaseTimedOut, fmt.Errorf("%w after %s", ErrTimeout, h.Request.Timeout)
	case h.canceled:
		o.Phase = PhaseCancelled
	case h.terminated:
		o.Phase, o.Err = PhaseFailed, errTerminated
	case h.abortAcked:
		if c.cfg.CancelPattern.MatchString(res.Stderr) {
			o.Phase = PhaseAborted
		} else {
			o.Phase = PhaseFailed
			o.Err = fmt.Errorf("%w: stderr does not match %q", ErrAbortUnconfirmed, c.cfg.CancelPattern.String())
		}
	case res.Clean() && h.Request.OutputPattern != nil && !h.Request.OutputPattern.MatchString(res.Stdout):
		o.Phase = PhaseFailed
		o.Err = fmt.Errorf("%w %q", errOutputMismatch, h.Request.OutputPattern.String())
	case res.Clean():
		o.Phase = PhaseCompleted
	default:
		o.Phase = PhaseFailed
		o.Err = fmt.Errorf("%w: exit status %d: %s", errJobFailed, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	h.Phase = o.Phase
	h.Outcome = o
	c.mu.Unlock()

	c.metrics.observe(o)

	attrs := []any{"domain", h.Request.Domain, "phase", o.Phase, "duration", o.Duration, "exitCode", res.ExitCode}
	if o.Err != nil {
		attrs = append(attrs, "error", o.Err.Error())
	}
	slog.InfoContext(ctx, "migration job ended", attrs...)

	return o
}

func markCanceled(h *JobHandle) { h.canceled = true }

func markTimedOut(h *JobHandle) { h.timedOut = true }

// interrupt sends SIGINT and waits up to CancelGrace, then kills the
// process. delivered is false when the job had already ended, in which case
// mark is not applied and the job keeps the classification of its own exit.
func (c *Controller) interrupt(ctx context.Context, proc command.Process, mark func(*JobHandle)) (delivered bool, err error) {
	c.mu.Lock()
	if c.handle.Outcome != nil {
		c.mu.Unlock()
		return false, nil
	}
	serr := proc.Signal(os.Interrupt)
	if errors.Is(serr, command.ErrProcessExited) {
		c.mu.Unlock()
		return false, nil
	}
	mark(c.handle)
	c.mu.Unlock()

	if serr != nil {
		slog.WarnContext(ctx, "failed to interrupt job process", "pid", proc.Pid(), "error", serr.Error())
	}

	grace := time.NewTimer(c.cfg.CancelGrace)
	defer grace.Stop()

	select {
	case <-proc.Done():
		return true, nil
	case <-grace.C:
		slog.WarnContext(ctx, "job process ignored SIGINT, killing it", "pid", proc.Pid(), "grace", c.cfg.CancelGrace)
	case <-ctx.Done():
	}

	return true, c.kill(proc)
}

func (c *Controller) kill(proc command.Process) error {
	if err := proc.Kill(); err != nil {
		return err
	}

	timer := time.NewTimer(killTimeout)
	defer timer.Stop()

	select {
	case <-proc.Done():
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: pid %d", errKillTimeout, proc.Pid())
	}
}

func exited(proc command.Process) bool {
	select {
	case <-proc.Done():
		return true
	default:
		return false
	}
}

func outcomeErr(o *Outcome) error {
	if o != nil && errors.Is(o.Err, ErrAbortUnconfirmed) {
		return o.Err
	}
	return nil
}
