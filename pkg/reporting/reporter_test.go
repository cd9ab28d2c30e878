//go:build unit

package reporting_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexandremahdhaoui/virtmig/pkg/migration"
	"github.com/alexandremahdhaoui/virtmig/pkg/registry"
	"github.com/alexandremahdhaoui/virtmig/pkg/reporting"
	"github.com/alexandremahdhaoui/virtmig/pkg/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passedResult() *runner.Result {
	start := time.Date(2025, 11, 16, 10, 30, 0, 0, time.UTC)
	end := start.Add(42 * time.Second)

	return &runner.Result{
		Version: runner.ReportVersion,
		RunID:   "9f1c2b7e-1f4e-4c55-9a52-3d0c6a7b1e01",
		Scenario: runner.ScenarioInfo{
			Name:        "live-ssh",
			Description: "Live migration over the default SSH transport",
			File:        "test/scenarios/live-ssh.yaml",
			Domain:      "guest1",
			Destination: "qemu+ssh://dst/system",
		},
		Execution: runner.ExecutionInfo{
			StartTime: start,
			EndTime:   end,
			Duration:  42,
			Status:    runner.StatusPassed,
		},
		Verdict: runner.VerdictInfo{
			Passed: true,
			Phase:  migration.PhaseCompleted,
			Reason: "job completed as expected",
		},
		Job: &runner.JobReport{
			Command:  []string{"virsh", "migrate", "--live", "guest1", "qemu+ssh://dst/system"},
			Phase:    migration.PhaseCompleted,
			Duration: 38.5,
			LastInfo: &migration.JobInfo{
				Type:          migration.JobUnbounded,
				TimeElapsed:   3 * time.Second,
				DataTotal:     2 << 30,
				DataProcessed: 1 << 30,
				DataRemaining: 1 << 30,
			},
			Snapshots: []runner.Snapshot{{
				Timestamp: start.Add(5 * time.Second),
				Info:      migration.JobInfo{Type: migration.JobUnbounded, TimeElapsed: time.Second},
			}},
		},
		Events: []runner.Event{
			{Timestamp: start, Event: runner.EventSetupStarted},
			{Timestamp: start.Add(2 * time.Second), Event: runner.EventJobLaunched},
			{Timestamp: start.Add(40 * time.Second), Event: runner.EventJobEnded, Details: map[string]any{"phase": "COMPLETED", "exitCode": 0}},
		},
	}
}

func failedResult() *runner.Result {
	r := passedResult()
	r.Scenario.Name = "live-tls-abort"
	r.Execution.Status = runner.StatusFailed
	r.Verdict = runner.VerdictInfo{
		Passed: false,
		Phase:  migration.PhaseFailed,
		Reason: "job ended FAILED, expected COMPLETED",
	}
	r.TeardownFailures = []runner.TeardownFailure{{
		Kind:  registry.KindMount,
		Name:  "/mnt/nfs",
		Error: "umount: target is busy",
	}}
	return r
}

func TestParseFormat(t *testing.T) {
	f, err := reporting.ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, reporting.FormatJSON, f)

	f, err = reporting.ParseFormat("text")
	require.NoError(t, err)
	assert.Equal(t, reporting.FormatText, f)

	_, err = reporting.ParseFormat("xml")
	assert.ErrorIs(t, err, reporting.ErrUnsupportedFormat)
}

func TestGenerateReport_JSON(t *testing.T) {
	r := reporting.NewReporter(t.TempDir())

	out, err := r.GenerateReport(failedResult(), reporting.FormatJSON)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, runner.ReportVersion, got["version"])

	verdict := got["verdict"].(map[string]any)
	assert.Equal(t, false, verdict["passed"])
	assert.Equal(t, "FAILED", verdict["phase"])

	failures := got["teardownFailures"].([]any)
	require.Len(t, failures, 1)
	assert.Equal(t, "/mnt/nfs", failures[0].(map[string]any)["name"])
}

func TestGenerateReport_Text(t *testing.T) {
	r := reporting.NewReporter(t.TempDir())

	t.Run("passed", func(t *testing.T) {
		out, err := r.GenerateReport(passedResult(), reporting.FormatText)
		require.NoError(t, err)

		assert.Contains(t, out, "MIGRATION SCENARIO REPORT")
		assert.Contains(t, out, "Scenario:     live-ssh")
		assert.Contains(t, out, "✓ PASSED")
		assert.Contains(t, out, "virsh migrate --live guest1 qemu+ssh://dst/system")
		assert.Contains(t, out, "1.0 GiB/2.0 GiB processed")
		assert.Contains(t, out, "Snapshots (1):")
		assert.Contains(t, out, "040.00s  Migration job ended (exitCode=0, phase=COMPLETED)")
		assert.NotContains(t, out, "TEARDOWN FAILURES")
	})

	t.Run("failed with teardown failures", func(t *testing.T) {
		out, err := r.GenerateReport(failedResult(), reporting.FormatText)
		require.NoError(t, err)

		assert.Contains(t, out, "✗ FAILED")
		assert.Contains(t, out, "job ended FAILED, expected COMPLETED")
		assert.Contains(t, out, "TEARDOWN FAILURES")
		assert.Contains(t, out, "mount//mnt/nfs")
		assert.Contains(t, out, "umount: target is busy")
	})

	t.Run("no job", func(t *testing.T) {
		res := failedResult()
		res.Job = nil
		out, err := r.GenerateReport(res, reporting.FormatText)
		require.NoError(t, err)
		assert.NotContains(t, out, "MIGRATION JOB")
	})
}

func TestGenerateReport_UnsupportedFormat(t *testing.T) {
	r := reporting.NewReporter(t.TempDir())

	_, err := r.GenerateReport(passedResult(), reporting.ReportFormat("yaml"))
	assert.ErrorIs(t, err, reporting.ErrUnsupportedFormat)
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	r := reporting.NewReporter(dir)
	res := passedResult()

	for _, format := range []reporting.ReportFormat{reporting.FormatJSON, reporting.FormatText} {
		path, err := r.WriteReport(res, format)
		require.NoError(t, err)
		assert.Equal(t, dir, filepath.Dir(filepath.Dir(path)))
		assert.Equal(t, res.RunID, filepath.Base(filepath.Dir(path)))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	}

	assert.FileExists(t, filepath.Join(dir, res.RunID, "report.json"))
	assert.FileExists(t, filepath.Join(dir, res.RunID, "report.txt"))
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	r := reporting.NewReporter(t.TempDir()).WithOutput(&buf)

	require.NoError(t, r.PrintSummary(passedResult(), failedResult()))

	out := buf.String()
	assert.Contains(t, out, "SCENARIO SUMMARY")
	assert.Contains(t, out, "live-ssh")
	assert.Contains(t, out, "live-tls-abort")
	assert.Contains(t, out, "Scenarios: 2 total, 1 passed, 1 failed")
}
