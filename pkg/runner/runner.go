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
// Package runner executes migration scenarios: it acquires their fixtures,
// drives the job through a migration.Controller, applies interventions,
// computes the verdict once and always tears the fixtures down.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/alexandremahdhaoui/virtmig/pkg/command"
	"github.com/alexandremahdhaoui/virtmig/pkg/fixture"
	"github.com/alexandremahdhaoui/virtmig/pkg/migration"
	"github.com/alexandremahdhaoui/virtmig/pkg/registry"
	"github.com/alexandremahdhaoui/virtmig/pkg/scenario"
	"github.com/google/uuid"
)

var (
	errNoDestination = errors.New("no destination factory configured")
	errCheckFailed   = errors.New("post-migration check failed")
	errInterrupted   = errors.New("scenario interrupted")
	errResolve       = errors.New("cannot resolve partition address")
)

// Domains manages guests on one hypervisor.
type Domains interface {
	fixture.Definer
	fixture.DeviceAttacher
	fixture.DomainRemover
	fixture.CPUBaseliner
	DomainState(ctx context.Context, domain string) (string, error)
}

// Backend queries and controls the job on the source hypervisor.
type Backend interface {
	migration.JobQuerier
	migration.JobControl
}

// Destination is what a scenario needs from the destination hypervisor.
type Destination struct {
	Host    fixture.Host
	Domains Domains
	// Address is the destination host name or IP, used as the default
	// partition target.
	Address string
}

// DestinationFunc connects to the destination of a scenario.
type DestinationFunc func(ctx context.Context, s *scenario.Scenario) (*Destination, error)

// Dependencies are the collaborators shared by every scenario run.
type Dependencies struct {
	// Runner starts the migrate command.
	Runner command.Runner
	// Source is the local host.
	Source        fixture.Host
	SourceDomains Domains
	Backend       Backend
	Builder       migration.CommandBuilder
	Destination   DestinationFunc

	// Firewall defaults to fixture.NewFirewall.
	Firewall func(address string) (fixture.Firewall, error)
	// Resolve defaults to net.DefaultResolver.
	Resolve func(ctx context.Context, host string) ([]string, error)
}

// Executor runs scenarios one at a time.
type Executor struct {
	deps Dependencies

	controllerOpts []migration.Option
	registryOpts   []registry.Option
	tempDir        string
	now            func() time.Time
	newID          func() string
}

type Option func(*Executor)

// WithControllerOptions are passed to every migration.Controller.
func WithControllerOptions(opts ...migration.Option) Option {
	return func(e *Executor) {
		e.controllerOpts = append(e.controllerOpts, opts...)
	}
}

// WithRegistryOptions are passed to every registry.Registry.
func WithRegistryOptions(opts ...registry.Option) Option {
	return func(e *Executor) {
		e.registryOpts = append(e.registryOpts, opts...)
	}
}

// WithTempDir sets where generated XML files are written.
func WithTempDir(dir string) Option {
	return func(e *Executor) {
		e.tempDir = dir
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

func New(deps Dependencies, opts ...Option) *Executor {
	e := &Executor{
		deps:    deps,
		tempDir: os.TempDir(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	if e.deps.Firewall == nil {
		e.deps.Firewall = fixture.NewFirewall
	}
	if e.deps.Resolve == nil {
		e.deps.Resolve = net.DefaultResolver.LookupHost
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run is the state of a single Execute call.
type run struct {
	e        *Executor
	scenario *scenario.Scenario
	result   *Result
	reg      *registry.Registry
	dest     *Destination
	ctrl     *migration.Controller
	req      migration.Request

	// heals tracks the partitions waiting to be healed.
	heals sync.WaitGroup

	mu sync.Mutex
}

func (r *run) record(event string, details map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Events = append(r.result.Events, Event{
		Timestamp: r.e.now(),
		Event:     event,
		Details:   details,
	})
}

func (r *run) snapshot(info *migration.JobInfo) {
	if info == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result.Job == nil {
		r.result.Job = &JobReport{}
	}
	r.result.Job.Snapshots = append(r.result.Job.Snapshots, Snapshot{Timestamp: r.e.now(), Info: *info})
}

// Execute runs s and returns its Result. It never returns nil. Fixtures are
// released on a context detached from ctx, so an interrupted run still
// cleans up.
func (e *Executor) Execute(ctx context.Context, s *scenario.Scenario) *Result {
	r := &run{
		e:        e,
		scenario: s,
		reg:      registry.New(e.registryOpts...),
		result: &Result{
			Version: ReportVersion,
			RunID:   e.newID(),
			Scenario: ScenarioInfo{
				Name:          s.Name,
				Description:   s.Description,
				Tags:          s.Tags,
				Domain:        s.Domain,
				Destination:   s.Destination.URI,
				ExpectFailure: s.ExpectFailure,
			},
			Execution: ExecutionInfo{StartTime: e.now()},
			Events:    []Event{},
		},
	}

	log := slog.With("scenario", s.Name, "runID", r.result.RunID)
	log.InfoContext(ctx, "running scenario", "domain", s.Domain, "destination", s.Destination.URI)

	verdict, err := r.execute(ctx)
	r.teardown(context.WithoutCancel(ctx))

	res := r.result
	res.Err = err
	res.Verdict = VerdictInfo{Passed: verdict.Passed, Phase: verdict.Phase, Reason: verdict.Reason}
	res.Execution.EndTime = e.now()
	res.Execution.Duration = res.Execution.EndTime.Sub(res.Execution.StartTime).Seconds()
	res.Execution.Status = StatusFailed
	if verdict.Passed {
		res.Execution.Status = StatusPassed
	}

	attrs := []any{"passed", verdict.Passed, "phase", verdict.Phase, "reason", verdict.Reason}
	if len(res.TeardownFailures) > 0 {
		attrs = append(attrs, "teardownFailures", len(res.TeardownFailures))
	}
	log.InfoContext(ctx, "scenario finished", attrs...)

	return res
}

// execute returns the verdict and, for a failed one, the error behind it.
func (r *run) execute(ctx context.Context) (migration.Verdict, error) {
	s := r.scenario

	req, err := s.Request()
	if err != nil {
		return failed("", errors.Join(err, migration.ErrSetup))
	}
	r.req = req

	if r.e.deps.Destination == nil {
		return failed("", errors.Join(errNoDestination, migration.ErrSetup))
	}
	dest, err := r.e.deps.Destination(ctx, s)
	if err != nil {
		return failed("", errors.Join(err, migration.ErrSetup))
	}
	r.dest = dest

	steps, err := r.steps()
	if err != nil {
		return failed("", errors.Join(err, migration.ErrSetup))
	}

	r.record(EventSetupStarted, map[string]any{"steps": len(steps)})
	if err := fixture.Apply(ctx, r.reg, steps...); err != nil {
		r.record(EventSetupFailed, map[string]any{"error": err.Error()})
		return failed("", err)
	}

	// Both are released before the fixtures above: the job process first,
	// then the guest it may have left on the destination.
	if _, err := fixture.Acquire(ctx, r.reg, &fixture.DestinationCleanup{
		Destination: dest.Domains,
		Domain:      req.TargetName(),
	}); err != nil {
		return failed("", err)
	}

	r.ctrl = migration.NewController(
		r.e.deps.Runner,
		r.e.deps.Backend,
		r.e.deps.Backend,
		r.e.deps.Builder,
		r.e.controllerOpts...,
	)
	r.reg.Register(registry.Resource{
		Kind:    registry.KindSpawnedProcess,
		Name:    "migration-job/" + s.Domain,
		Release: r.ctrl.Terminate,
	})

	name, args := r.e.deps.Builder.MigrateCommand(req)
	r.result.Job = &JobReport{Command: append([]string{name}, args...)}

	h, err := r.ctrl.Launch(ctx, req)
	r.record(EventJobLaunched, map[string]any{"background": req.Background})
	if err != nil {
		r.reportJob()
		return failed(r.ctrl.Phase(), err)
	}

	outcome := h.Outcome
	if outcome == nil {
		r.record(EventJobRunning, map[string]any{"observedAt": h.ObservedAt})
		r.snapshot(h.LastInfo)

		outcome, err = r.monitor(ctx, req)
		if err != nil && !errors.Is(err, migration.ErrAbortUnconfirmed) {
			r.reportJob()
			return failed(r.ctrl.Phase(), err)
		}
	}

	r.reportJob()
	r.record(EventJobEnded, map[string]any{"phase": outcome.Phase, "exitCode": outcome.Result.ExitCode})

	verdict := migration.Classify(s.ExpectFailure, outcome)
	if !verdict.Passed {
		return verdict, verdict.Err()
	}

	if outcome.Phase == migration.PhaseCompleted {
		if err := r.check(ctx); err != nil {
			return migration.Verdict{Passed: false, Phase: outcome.Phase, Reason: err.Error()}, err
		}
	}
	return verdict, nil
}

// monitor tunes the running job, schedules the interventions and waits for
// the job to end.
func (r *run) monitor(ctx context.Context, req migration.Request) (*migration.Outcome, error) {
	jobCtx, stop := context.WithCancel(ctx)
	defer stop()

	tuneErr := r.tune(ctx, req)
	wait := r.intervene(jobCtx)

	outcome, err := r.ctrl.Wait(ctx)
	stop()
	ivErr := wait()

	if ctx.Err() != nil && outcome == nil {
		return nil, errors.Join(ctx.Err(), errInterrupted)
	}
	if err != nil {
		return outcome, err
	}
	// A tuning or intervention that could not be applied invalidates the
	// scenario even when the job ended as expected.
	if tuneErr != nil {
		return nil, tuneErr
	}
	if ivErr != nil {
		return nil, ivErr
	}
	return outcome, nil
}

func (r *run) tune(ctx context.Context, req migration.Request) error {
	if req.MaxDowntime > 0 {
		if err := r.ignoreEnded(r.ctrl.SetMaxDowntime(ctx, req.MaxDowntime)); err != nil {
			return fmt.Errorf("set max downtime: %w", err)
		}
		r.record(EventTuned, map[string]any{"maxDowntime": req.MaxDowntime.String()})
	}
	if req.CompressionCache > 0 {
		if err := r.ignoreEnded(r.ctrl.SetCompressionCache(ctx, req.CompressionCache)); err != nil {
			return fmt.Errorf("set compression cache: %w", err)
		}
		r.record(EventTuned, map[string]any{"compressionCache": req.CompressionCache})
	}
	return nil
}

func (r *run) reportJob() {
	h := r.ctrl.Handle()
	if h == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.result.Job
	job.Phase = h.Phase
	job.LastInfo = h.LastInfo
	if o := h.Outcome; o != nil {
		job.ExitCode = o.Result.ExitCode
		job.Stdout = o.Result.Stdout
		job.Stderr = o.Result.Stderr
		job.Duration = o.Duration.Seconds()
		if o.LastInfo != nil {
			job.LastInfo = o.LastInfo
		}
		if o.Err != nil {
			job.Error = o.Err.Error()
		}
	}
}

func (r *run) teardown(ctx context.Context) {
	r.record(EventTeardown, map[string]any{"resources": r.reg.Len()})

	failures := r.reg.ReleaseAll(ctx)
	if len(failures) == 0 {
		return
	}

	for _, f := range failures {
		r.result.TeardownFailures = append(r.result.TeardownFailures, TeardownFailure{
			Kind:  f.Resource.Kind,
			Name:  f.Resource.Name,
			Error: f.Err.Error(),
		})
	}
	r.result.TeardownErr = errors.Join(registry.Err(failures), migration.ErrTeardown)
}

// ignoreEnded drops errors caused by the job ending before a delayed
// action fired.
func (r *run) ignoreEnded(err error) error {
	if err == nil || errors.Is(err, migration.ErrNotRunning) {
		return nil
	}
	if h := r.ctrl.Handle(); h != nil && h.Process != nil && !h.Process.Alive() {
		return nil
	}
	return err
}

func failed(phase migration.Phase, err error) (migration.Verdict, error) {
	return migration.Verdict{Passed: false, Phase: phase, Reason: err.Error()}, err
}
