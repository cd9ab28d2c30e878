// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"text/tabwriter"

	"github.com/alexandremahdhaoui/virtmig/internal/util/gracefulshutdown"
	"github.com/alexandremahdhaoui/virtmig/internal/util/httputil"
	"github.com/alexandremahdhaoui/virtmig/pkg/reporting"
	"github.com/alexandremahdhaoui/virtmig/pkg/runner"
	"github.com/alexandremahdhaoui/virtmig/pkg/scenario"
	"github.com/spf13/cobra"
)

var (
	errNoScenario        = errors.New("no scenario given; pass scenario files or --all")
	errScenariosFailed   = errors.New("one or more scenarios failed")
	errInvalidScenarios  = errors.New("one or more scenarios are invalid")
	errRunInterrupted    = errors.New("interrupted before every scenario ran")
	errLoadScenarioFiles = errors.New("failed to load scenarios")
)

// --------------------------------------------- run ------------------------------------------------------------ //

type scenarioExecutor interface {
	Execute(ctx context.Context, s *scenario.Scenario) *runner.Result
}

// loadedScenario keeps the file a scenario was read from.
type loadedScenario struct {
	path     string
	scenario *scenario.Scenario
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "run [scenario.yaml...]",
		Short: "run migration scenarios and write their reports",
		Long:  "Run each scenario in order. Exits non-zero when any verdict fails.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Starting %s version %s (%s) %s\n", Name, Version, CommitSHA, BuildTimestamp)

			loaded, err := loadScenarios(scenario.NewLoader(cfg.ScenarioDir), args, all)
			if err != nil {
				return err
			}

			format, err := reporting.ParseFormat(cfg.ReportFormat)
			if err != nil {
				return err
			}

			gs := gracefulshutdown.New(Name)
			defer gs.Stop()
			ctx := gs.Context()

			metrics := newMetrics()
			if cfg.MetricsBind != "" {
				stop := httputil.Serve(ctx, map[string]*http.Server{
					"metrics": setupMetricsServer(cfg.MetricsBind, metrics),
				}, gs.WaitGroup())
				defer stop()
			}

			w, err := newWiring(cfg, metrics)
			if err != nil {
				return err
			}
			defer func() {
				if err := w.Close(); err != nil {
					slog.Warn("closing backend", "error", err.Error())
				}
			}()

			reporter := reporting.NewReporter(cfg.ArtifactDir).WithOutput(cmd.OutOrStdout())
			_, err = runScenarios(ctx, w.executor, reporter, format, loaded)
			return err
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "run every scenario of the scenario directory")
	return cmd
}

// loadScenarios loads args, or every scenario of the loader directory when
// all is set. Any invalid scenario aborts before anything runs.
func loadScenarios(loader *scenario.Loader, args []string, all bool) ([]loadedScenario, error) {
	paths := args
	if all {
		listed, err := loader.List()
		if err != nil {
			return nil, err
		}
		paths = append(paths, listed...)
	}
	if len(paths) == 0 {
		return nil, errNoScenario
	}

	var errs []error
	loaded := make([]loadedScenario, 0, len(paths))
	for _, p := range paths {
		s, err := loader.Load(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		loaded = append(loaded, loadedScenario{path: p, scenario: s})
	}
	if len(errs) > 0 {
		return nil, errors.Join(append(errs, errLoadScenarioFiles)...)
	}
	return loaded, nil
}

// runScenarios executes every scenario, writes its report and prints the
// summary. Scenarios left when ctx is cancelled are not started.
func runScenarios(
	ctx context.Context,
	exec scenarioExecutor,
	reporter *reporting.Reporter,
	format reporting.ReportFormat,
	loaded []loadedScenario,
) ([]*runner.Result, error) {
	results := make([]*runner.Result, 0, len(loaded))
	for _, l := range loaded {
		if ctx.Err() != nil {
			slog.WarnContext(ctx, "skipping remaining scenarios", "remaining", len(loaded)-len(results))
			break
		}

		res := exec.Execute(ctx, l.scenario)
		res.Scenario.File = l.path
		results = append(results, res)

		path, err := reporter.WriteReport(res, format)
		if err != nil {
			slog.ErrorContext(ctx, "writing report", "scenario", l.scenario.Name, "error", err.Error())
			continue
		}
		slog.InfoContext(ctx, "report written", "scenario", l.scenario.Name, "path", path)
	}

	if err := reporter.PrintSummary(results...); err != nil {
		return results, err
	}

	var errs []error
	for _, res := range results {
		if !res.Passed() {
			errs = append(errs, errScenariosFailed)
			break
		}
	}
	if len(results) < len(loaded) {
		errs = append(errs, errRunInterrupted)
	}
	return results, errors.Join(errs...)
}

// --------------------------------------------- list-scenarios ------------------------------------------------- //

func newListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list-scenarios",
		Short: "list the scenarios of the scenario directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listScenarios(cmd.OutOrStdout(), scenario.NewLoader(opts.cfg.ScenarioDir))
		},
	}
}

func listScenarios(out io.Writer, loader *scenario.Loader) error {
	paths, err := loader.List()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tFILE\tDESCRIPTION")
	for _, p := range paths {
		s, err := loader.Load(p)
		if err != nil {
			_, _ = fmt.Fprintf(tw, "<invalid>\t%s\t%s\n", p, err.Error())
			continue
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, p, s.Description)
	}
	return tw.Flush()
}

// --------------------------------------------- validate ------------------------------------------------------- //

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [scenario.yaml...]",
		Short: "validate scenario files without running them",
		Long:  "Validate the given scenarios, or every scenario of the scenario directory when none is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateScenarios(cmd.OutOrStdout(), scenario.NewLoader(opts.cfg.ScenarioDir), args)
		},
	}
}

func validateScenarios(out io.Writer, loader *scenario.Loader, paths []string) error {
	if len(paths) == 0 {
		listed, err := loader.List()
		if err != nil {
			return err
		}
		paths = listed
	}
	if len(paths) == 0 {
		return errNoScenario
	}

	invalid := 0
	for _, p := range paths {
		if _, err := loader.Load(p); err != nil {
			invalid++
			_, _ = fmt.Fprintf(out, "✗ %s\n  %s\n", p, err.Error())
			continue
		}
		_, _ = fmt.Fprintf(out, "✓ %s\n", p)
	}

	if invalid > 0 {
		return fmt.Errorf("%w: %d of %d", errInvalidScenarios, invalid, len(paths))
	}
	return nil
}
