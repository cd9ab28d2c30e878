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
	"errors"
	"fmt"
)

// Verdict is the pass/fail result of a scenario.
type Verdict struct {
	Passed bool   `json:"passed"`
	Phase  Phase  `json:"phase"`
	Reason string `json:"reason"`
}

// Err returns nil for a passing verdict and an ErrUnexpectedOutcome otherwise.
func (v Verdict) Err() error {
	if v.Passed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnexpectedOutcome, v.Reason)
}

// Classify compares the observed outcome with the expectation. A COMPLETED
// job fails a scenario expecting failure; any other terminal phase fails a
// scenario expecting success. An unconfirmed abort always fails.
func Classify(expectFailure bool, o *Outcome) Verdict {
	if o == nil {
		return Verdict{Phase: PhaseIdle, Reason: "no migration outcome was recorded"}
	}

	v := Verdict{Phase: o.Phase}

	switch {
	case errors.Is(o.Err, ErrAbortUnconfirmed):
		v.Reason = o.Err.Error()
	case !o.Phase.Terminal():
		v.Reason = fmt.Sprintf("migration job did not reach a terminal phase (%s)", o.Phase)
	case o.Phase == PhaseCompleted && expectFailure:
		v.Reason = "migration completed but was expected to fail"
	case o.Phase == PhaseCompleted:
		v.Passed = true
		v.Reason = "migration completed as expected"
	case expectFailure:
		v.Passed = true
		v.Reason = fmt.Sprintf("migration ended %s as expected", o.Phase)
	default:
		v.Reason = fmt.Sprintf("migration ended %s but was expected to succeed", o.Phase)
		if o.Err != nil {
			v.Reason = fmt.Sprintf("%s: %s", v.Reason, o.Err)
		}
	}

	return v
}
