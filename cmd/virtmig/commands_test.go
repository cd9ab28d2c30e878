//go:build unit

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/alexandremahdhaoui/virtmig/pkg/migration"
	"github.com/alexandremahdhaoui/virtmig/pkg/reporting"
	"github.com/alexandremahdhaoui/virtmig/pkg/runner"
	"github.com/alexandremahdhaoui/virtmig/pkg/scenario"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenario = `name: %s
description: test scenario
domain: vm1
destination:
  uri: qemu+ssh://host2/system
migration:
  live: true
`

func writeScenario(t *testing.T, dir, file, content string) string {
	t.Helper()
	p := filepath.Join(dir, file)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

type fakeExecutor struct {
	fail  map[string]bool
	onRun func(name string)
	ran   []string
}

func (f *fakeExecutor) Execute(_ context.Context, s *scenario.Scenario) *runner.Result {
	f.ran = append(f.ran, s.Name)
	if f.onRun != nil {
		f.onRun(s.Name)
	}

	res := &runner.Result{
		Version:  runner.ReportVersion,
		RunID:    "run-" + s.Name,
		Scenario: runner.ScenarioInfo{Name: s.Name, Domain: s.Domain},
		Verdict:  runner.VerdictInfo{Passed: true, Phase: migration.PhaseCompleted, Reason: "job completed as expected"},
	}
	res.Execution.Status = runner.StatusPassed
	if f.fail[s.Name] {
		res.Verdict = runner.VerdictInfo{Phase: migration.PhaseFailed, Reason: "job ended FAILED"}
		res.Execution.Status = runner.StatusFailed
	}
	return res
}

func loaded(names ...string) []loadedScenario {
	out := make([]loadedScenario, 0, len(names))
	for _, n := range names {
		out = append(out, loadedScenario{
			path:     n + ".yaml",
			scenario: &scenario.Scenario{Name: n, Domain: "vm1"},
		})
	}
	return out
}

func TestRunScenarios(t *testing.T) {
	t.Run("all passed", func(t *testing.T) {
		dir := t.TempDir()
		var out bytes.Buffer
		reporter := reporting.NewReporter(dir).WithOutput(&out)
		exec := &fakeExecutor{}

		results, err := runScenarios(context.Background(), exec, reporter, reporting.FormatJSON, loaded("a", "b"))
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, []string{"a", "b"}, exec.ran)
		assert.Equal(t, "a.yaml", results[0].Scenario.File)
		assert.FileExists(t, filepath.Join(dir, "run-a", "report.json"))
		assert.FileExists(t, filepath.Join(dir, "run-b", "report.json"))
		assert.Contains(t, out.String(), "Scenarios: 2 total, 2 passed, 0 failed")
	})

	t.Run("a failed verdict fails the run", func(t *testing.T) {
		reporter := reporting.NewReporter(t.TempDir()).WithOutput(&bytes.Buffer{})
		exec := &fakeExecutor{fail: map[string]bool{"a": true}}

		results, err := runScenarios(context.Background(), exec, reporter, reporting.FormatText, loaded("a", "b"))
		assert.ErrorIs(t, err, errScenariosFailed)
		assert.Len(t, results, 2, "a failure does not stop later scenarios")
	})

	t.Run("interruption skips the remaining scenarios", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		reporter := reporting.NewReporter(t.TempDir()).WithOutput(&bytes.Buffer{})
		exec := &fakeExecutor{onRun: func(string) { cancel() }}

		results, err := runScenarios(ctx, exec, reporter, reporting.FormatText, loaded("a", "b", "c"))
		assert.ErrorIs(t, err, errRunInterrupted)
		assert.Len(t, results, 1)
		assert.Equal(t, []string{"a"}, exec.ran)
	})
}

func TestLoadScenarios(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "a.yaml", fmtScenario("a"))
	writeScenario(t, dir, "b.yml", fmtScenario("b"))
	loader := scenario.NewLoader(dir)

	_, err := loadScenarios(loader, nil, false)
	assert.ErrorIs(t, err, errNoScenario)

	got, err := loadScenarios(loader, []string{"a.yaml"}, false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].scenario.Name)

	got, err = loadScenarios(loader, nil, true)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, filepath.Join(dir, "a.yaml"), got[0].path)

	writeScenario(t, dir, "broken.yaml", "name: broken\n")
	_, err = loadScenarios(loader, nil, true)
	assert.ErrorIs(t, err, errLoadScenarioFiles)
}

func TestValidateScenarios(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "good.yaml", fmtScenario("good"))
	loader := scenario.NewLoader(dir)

	var out bytes.Buffer
	require.NoError(t, validateScenarios(&out, loader, nil))
	assert.Contains(t, out.String(), "✓ ")

	writeScenario(t, dir, "bad.yaml", "name: bad\ndomain: vm1\n")
	out.Reset()
	err := validateScenarios(&out, loader, nil)
	assert.ErrorIs(t, err, errInvalidScenarios)
	assert.ErrorContains(t, err, "1 of 2")
	assert.Contains(t, out.String(), "✗ ")
	assert.Contains(t, out.String(), "destination URI is required")
}

func TestListScenarios(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "a.yaml", fmtScenario("alpha"))
	writeScenario(t, dir, "z.yaml", "domain: [\n")

	var out bytes.Buffer
	require.NoError(t, listScenarios(&out, scenario.NewLoader(dir)))

	s := out.String()
	assert.Contains(t, s, "NAME")
	assert.Contains(t, s, "alpha")
	assert.Contains(t, s, "<invalid>")
}

func TestDestinationHost(t *testing.T) {
	tests := []struct {
		name     string
		dest     scenario.DestinationSpec
		fallback string
		want     string
		wantErr  bool
	}{
		{name: "explicit host wins", dest: scenario.DestinationSpec{URI: "qemu+ssh://host2/system", Host: "10.0.0.2"}, want: "10.0.0.2"},
		{name: "uri host", dest: scenario.DestinationSpec{URI: "qemu+tcp://host2:16509/system"}, want: "host2"},
		{name: "fallback", dest: scenario.DestinationSpec{URI: "qemu:///system"}, fallback: "dst", want: "dst"},
		{name: "nothing", dest: scenario.DestinationSpec{URI: "qemu:///system"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := destinationHost(&scenario.Scenario{Destination: tt.dest}, tt.fallback)
			if tt.wantErr {
				assert.ErrorIs(t, err, errNoDestinationHost)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "virtmig version dev")
}

func fmtScenario(name string) string {
	return fmt.Sprintf(validScenario, name)
}
