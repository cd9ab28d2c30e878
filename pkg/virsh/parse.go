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

package virsh

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alexandremahdhaoui/virtmig/pkg/migration"
	"github.com/dustin/go-humanize"
)

var jobTypes = map[string]migration.JobType{
	"none":      migration.JobNone,
	"bounded":   migration.JobBounded,
	"unbounded": migration.JobUnbounded,
	"completed": migration.JobCompleted,
	"failed":    migration.JobFailed,
	"cancelled": migration.JobCancelled,
}

// ParseJobInfo parses the "key: value" table printed by "virsh domjobinfo".
// Unknown keys are ignored.
func ParseJobInfo(out string) (*migration.JobInfo, error) {
	info := &migration.JobInfo{}
	seenType := false

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		var err error
		switch key {
		case "job type":
			t, found := jobTypes[strings.ToLower(value)]
			if !found {
				return nil, fmt.Errorf("%w: unknown job type %q", errParseJobInfo, value)
			}
			info.Type = t
			seenType = true
		case "operation":
			info.Operation = value
		case "time elapsed":
			info.TimeElapsed, err = parseMillis(value)
		case "data total":
			info.DataTotal, err = ParseSize(value)
		case "data processed":
			info.DataProcessed, err = ParseSize(value)
		case "data remaining":
			info.DataRemaining, err = ParseSize(value)
		}
		if err != nil {
			return nil, errors.Join(fmt.Errorf("%w: field %q", errParseJobInfo, key), err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Join(err, errParseJobInfo)
	}

	if !seenType {
		return nil, fmt.Errorf("%w: missing job type", errParseJobInfo)
	}
	return info, nil
}

// ParseCompressionCache parses "Compression cache: 64.000 MiB".
func ParseCompressionCache(out string) (uint64, error) {
	_, value, ok := strings.Cut(strings.TrimSpace(out), ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q", errParseSize, out)
	}
	return ParseSize(value)
}

// ParseSize parses virsh sizes such as "1.650 GiB" or "512 bytes".
func ParseSize(value string) (uint64, error) {
	value = strings.TrimSpace(value)
	value = strings.TrimSuffix(value, " bytes")

	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, errors.Join(fmt.Errorf("%w: %q", errParseSize, value), err)
	}
	return n, nil
}

// parseMillis parses "1521         ms".
func parseMillis(value string) (time.Duration, error) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return 0, errors.New("empty duration")
	}
	ms, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}
