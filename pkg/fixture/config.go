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

package fixture

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/alexandremahdhaoui/virtmig/pkg/registry"
	"github.com/avast/retry-go"
	"go.uber.org/multierr"
)

const (
	restartAttempts = 3
	restartDelay    = 2 * time.Second
)

// ConfigEdit sets "key = value" entries in a daemon configuration file and
// restarts the daemon. Release restores the original file and restarts the
// daemon again.
type ConfigEdit struct {
	Host     Host
	Path     string
	Settings map[string]string
	// Service is restarted after each write. Empty skips the restart.
	Service string

	// RestartDelay overrides the delay between restart attempts.
	RestartDelay time.Duration
}

func (c *ConfigEdit) Name() string        { return fmt.Sprintf("config/%s:%s", c.Host.Name(), c.Path) }
func (c *ConfigEdit) Kind() registry.Kind { return registry.KindModifiedConfig }

func (c *ConfigEdit) Acquire(ctx context.Context) (registry.ReleaseFunc, error) {
	original, err := c.Host.ReadFile(ctx, c.Path)
	if err != nil {
		return nil, err
	}

	restore := func(ctx context.Context) error {
		err := c.Host.WriteFile(ctx, c.Path, original)
		if err != nil {
			return err
		}
		return c.restart(ctx)
	}

	edited := EditConfig(string(original), c.Settings)
	if err := c.Host.WriteFile(ctx, c.Path, []byte(edited)); err != nil {
		// The write may have partially happened.
		return restore, err
	}
	if err := c.restart(ctx); err != nil {
		return restore, err
	}
	return restore, nil
}

func (c *ConfigEdit) restart(ctx context.Context) error {
	if c.Service == "" {
		return nil
	}

	delay := c.RestartDelay
	if delay <= 0 {
		delay = restartDelay
	}

	var errs error
	err := retry.Do(
		func() error {
			_, err := c.Host.Run(ctx, "systemctl", "restart", c.Service)
			errs = multierr.Append(errs, err)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(restartAttempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
	)
	if err != nil {
		return errs
	}
	return nil
}

// EditConfig sets each key of settings in a "key = value" configuration
// text. An existing, possibly commented out, assignment is replaced in
// place; a missing key is appended.
func EditConfig(text string, settings map[string]string) string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := strings.Split(text, "\n")
	for _, key := range keys {
		line := fmt.Sprintf("%s = %s", key, settings[key])
		re := regexp.MustCompile(`^\s*#?\s*` + regexp.QuoteMeta(key) + `\s*=`)

		replaced := false
		for i, l := range lines {
			if re.MatchString(l) {
				lines[i] = line
				replaced = true
				break
			}
		}
		if replaced {
			continue
		}

		// keep a trailing newline last
		if n := len(lines); n > 0 && lines[n-1] == "" {
			lines = append(lines[:n-1], line, "")
		} else {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
