//go:build unit

package migration_test

import (
	"fmt"
	"testing"

	"github.com/alexandremahdhaoui/virtmig/pkg/command"
	"github.com/alexandremahdhaoui/virtmig/pkg/migration"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		expectFailure bool
		outcome       *migration.Outcome
		wantPassed    bool
	}{
		{
			name:       "success expected, completed cleanly",
			outcome:    &migration.Outcome{Phase: migration.PhaseCompleted, Result: command.Result{ExitCode: 0}},
			wantPassed: true,
		},
		{
			name:          "failure expected, completed",
			expectFailure: true,
			outcome:       &migration.Outcome{Phase: migration.PhaseCompleted},
			wantPassed:    false,
		},
		{
			name:    "success expected, failed",
			outcome: &migration.Outcome{Phase: migration.PhaseFailed, Err: fmt.Errorf("exit status 1")},
		},
		{
			name:    "success expected, cancelled",
			outcome: &migration.Outcome{Phase: migration.PhaseCancelled},
		},
		{
			name:    "success expected, timed out",
			outcome: &migration.Outcome{Phase: migration.PhaseTimedOut, Err: migration.ErrTimeout},
		},
		{
			name:          "failure expected, failed",
			expectFailure: true,
			outcome:       &migration.Outcome{Phase: migration.PhaseFailed},
			wantPassed:    true,
		},
		{
			name:          "failure expected, aborted",
			expectFailure: true,
			outcome:       &migration.Outcome{Phase: migration.PhaseAborted},
			wantPassed:    true,
		},
		{
			name:          "failure expected, cancelled",
			expectFailure: true,
			outcome:       &migration.Outcome{Phase: migration.PhaseCancelled},
			wantPassed:    true,
		},
		{
			name:          "unconfirmed abort fails even when failure is expected",
			expectFailure: true,
			outcome:       &migration.Outcome{Phase: migration.PhaseFailed, Err: migration.ErrAbortUnconfirmed},
		},
		{
			name:          "non-terminal phase",
			expectFailure: true,
			outcome:       &migration.Outcome{Phase: migration.PhaseRunning},
		},
		{
			name:    "no outcome",
			outcome: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := migration.Classify(tt.expectFailure, tt.outcome)

			assert.Equal(t, tt.wantPassed, v.Passed)
			assert.NotEmpty(t, v.Reason)
			if tt.wantPassed {
				assert.NoError(t, v.Err())
			} else {
				assert.ErrorIs(t, v.Err(), migration.ErrUnexpectedOutcome)
			}
		})
	}
}
