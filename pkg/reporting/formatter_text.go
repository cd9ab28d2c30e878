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

package reporting

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/alexandremahdhaoui/virtmig/pkg/migration"
	"github.com/alexandremahdhaoui/virtmig/pkg/runner"
	"github.com/dustin/go-humanize"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

const (
	wideRule   = 80
	narrowRule = 60
	wrapWidth  = 64
)

func formatText(result *runner.Result) string {
	var sb strings.Builder

	sb.WriteString(strings.Repeat("=", wideRule) + "\n")
	sb.WriteString("MIGRATION SCENARIO REPORT\n")
	sb.WriteString(strings.Repeat("=", wideRule) + "\n\n")

	section(&sb, "SUMMARY")
	fmt.Fprintf(&sb, "Scenario:     %s\n", result.Scenario.Name)
	if result.Scenario.Description != "" {
		fmt.Fprintf(&sb, "Description:  %s\n", wrapText(result.Scenario.Description, 14))
	}
	if result.Scenario.File != "" {
		fmt.Fprintf(&sb, "File:         %s\n", result.Scenario.File)
	}
	fmt.Fprintf(&sb, "Domain:       %s\n", result.Scenario.Domain)
	fmt.Fprintf(&sb, "Destination:  %s\n", result.Scenario.Destination)
	fmt.Fprintf(&sb, "Status:       %s\n", formatStatus(result.Execution.Status))
	fmt.Fprintf(&sb, "Duration:     %.2fs\n", result.Execution.Duration)
	fmt.Fprintf(&sb, "Started:      %s\n", result.Execution.StartTime.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Completed:    %s\n", result.Execution.EndTime.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Run ID:       %s\n\n", result.RunID)

	section(&sb, "VERDICT")
	expected := "success"
	if result.Scenario.ExpectFailure {
		expected = "failure"
	}
	fmt.Fprintf(&sb, "Expected:     %s\n", expected)
	if result.Verdict.Phase != "" {
		fmt.Fprintf(&sb, "Final phase:  %s\n", result.Verdict.Phase)
	}
	fmt.Fprintf(&sb, "Reason:       %s\n\n", wrapText(result.Verdict.Reason, 14))

	if job := result.Job; job != nil {
		formatJob(&sb, job)
	}

	if len(result.Events) > 0 {
		section(&sb, "TIMELINE")
		for _, e := range result.Events {
			elapsed := e.Timestamp.Sub(result.Execution.StartTime).Seconds()
			fmt.Fprintf(&sb, "  %06.2fs  %s\n", elapsed, formatEvent(e))
		}
		sb.WriteString("\n")
	}

	if len(result.TeardownFailures) > 0 {
		section(&sb, "TEARDOWN FAILURES")
		for i, f := range result.TeardownFailures {
			fmt.Fprintf(&sb, "[%d] %s%s%s %s/%s\n", i+1, colorYellow, "⚠", colorReset, f.Kind, f.Name)
			fmt.Fprintf(&sb, "    Error: %s\n", wrapText(f.Error, 11))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(strings.Repeat("=", wideRule) + "\n")
	fmt.Fprintf(&sb, "SCENARIO RESULT: %s\n", formatStatus(result.Execution.Status))
	sb.WriteString(strings.Repeat("=", wideRule) + "\n")

	return sb.String()
}

func formatJob(sb *strings.Builder, job *runner.JobReport) {
	section(sb, "MIGRATION JOB")
	fmt.Fprintf(sb, "Command:      %s\n", wrapText(strings.Join(job.Command, " "), 14))
	fmt.Fprintf(sb, "Phase:        %s\n", formatPhase(job.Phase))
	fmt.Fprintf(sb, "Exit code:    %d\n", job.ExitCode)
	fmt.Fprintf(sb, "Duration:     %.2fs\n", job.Duration)
	if job.Error != "" {
		fmt.Fprintf(sb, "Error:        %s\n", wrapText(job.Error, 14))
	}
	if s := strings.TrimSpace(job.Stderr); s != "" {
		fmt.Fprintf(sb, "Stderr:       %s\n", wrapText(s, 14))
	}
	if job.LastInfo != nil {
		fmt.Fprintf(sb, "Last stats:   %s\n", formatJobInfo(*job.LastInfo))
	}
	sb.WriteString("\n")

	if len(job.Snapshots) > 0 {
		fmt.Fprintf(sb, "  Snapshots (%d):\n", len(job.Snapshots))
		for _, s := range job.Snapshots {
			fmt.Fprintf(sb, "    %s  %s\n", s.Timestamp.Format(time.TimeOnly), formatJobInfo(s.Info))
		}
		sb.WriteString("\n")
	}
}

func formatJobInfo(info migration.JobInfo) string {
	if info.DataTotal == 0 {
		return fmt.Sprintf("%s, elapsed %s", info.Type, info.TimeElapsed)
	}
	return fmt.Sprintf("%s, elapsed %s, %s/%s processed, %s remaining",
		info.Type, info.TimeElapsed,
		humanize.IBytes(info.DataProcessed), humanize.IBytes(info.DataTotal),
		humanize.IBytes(info.DataRemaining))
}

func section(sb *strings.Builder, title string) {
	sb.WriteString(title + "\n")
	sb.WriteString(strings.Repeat("-", len(title)) + "\n")
}

func formatStatus(status string) string {
	switch strings.ToLower(status) {
	case runner.StatusPassed:
		return fmt.Sprintf("%s✓ PASSED%s", colorGreen, colorReset)
	case runner.StatusFailed:
		return fmt.Sprintf("%s✗ FAILED%s", colorRed, colorReset)
	default:
		return status
	}
}

func formatPhase(p migration.Phase) string {
	switch p {
	case migration.PhaseCompleted:
		return fmt.Sprintf("%s%s%s", colorGreen, p, colorReset)
	case migration.PhaseCancelled, migration.PhaseAborted:
		return fmt.Sprintf("%s%s%s", colorYellow, p, colorReset)
	case migration.PhaseFailed, migration.PhaseTimedOut:
		return fmt.Sprintf("%s%s%s", colorRed, p, colorReset)
	default:
		return string(p)
	}
}

func formatEvent(e runner.Event) string {
	desc := eventDescription(e.Event)
	if len(e.Details) == 0 {
		return desc
	}

	parts := make([]string, 0, len(e.Details))
	for _, k := range slices.Sorted(maps.Keys(e.Details)) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Details[k]))
	}
	return fmt.Sprintf("%s (%s)", desc, strings.Join(parts, ", "))
}

func eventDescription(event string) string {
	switch event {
	case runner.EventSetupStarted:
		return "Setup started"
	case runner.EventSetupFailed:
		return "Setup failed"
	case runner.EventJobLaunched:
		return "Migration job launched"
	case runner.EventJobRunning:
		return "Migration job running"
	case runner.EventJobEnded:
		return "Migration job ended"
	case runner.EventTuned:
		return "Job tuned"
	case runner.EventIntervention:
		return "Intervention applied"
	case runner.EventInterventionFailed:
		return "Intervention failed"
	case runner.EventPartitionHealed:
		return "Network partition healed"
	case runner.EventCheck:
		return "Check evaluated"
	case runner.EventTeardown:
		return "Teardown finished"
	default:
		return event
	}
}

// wrapText wraps text at word boundaries with indentation
func wrapText(text string, indent int) string {
	if len(text) <= wrapWidth {
		return text
	}

	var result strings.Builder
	words := strings.Fields(text)
	lineLen := 0
	indentStr := strings.Repeat(" ", indent)

	for i, word := range words {
		if i > 0 && lineLen+len(word)+1 > wrapWidth {
			result.WriteString("\n" + indentStr)
			lineLen = 0
		} else if i > 0 {
			result.WriteString(" ")
			lineLen++
		}
		result.WriteString(word)
		lineLen += len(word)
	}

	return result.String()
}

func formatSummary(results []*runner.Result) string {
	var sb strings.Builder

	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", narrowRule) + "\n")
	sb.WriteString("SCENARIO SUMMARY\n")
	sb.WriteString(strings.Repeat("=", narrowRule) + "\n")

	passed := 0
	for _, r := range results {
		if r.Passed() {
			passed++
		}
		phase := "-"
		if r.Verdict.Phase != "" {
			phase = string(r.Verdict.Phase)
		}
		fmt.Fprintf(&sb, "%s  %-32s %-10s %7.2fs  %s\n",
			formatStatus(r.Execution.Status), r.Scenario.Name, phase, r.Execution.Duration, r.Verdict.Reason)
	}

	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Scenarios: %d total, %d passed, %d failed\n", len(results), passed, len(results)-passed)
	sb.WriteString(strings.Repeat("=", narrowRule) + "\n")

	return sb.String()
}
