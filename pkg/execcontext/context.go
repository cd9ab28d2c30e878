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

// Package execcontext describes how a command is executed: which environment
// variables are injected and which command (e.g. sudo) is prepended. The same
// Context is used for local processes and for commands sent over SSH.
package execcontext

import (
	"fmt"
	"maps"
	"os/exec"
	"slices"
	"sort"
	"strings"

	"github.com/alessio/shellescape"
)

type Context interface {
	Envs() map[string]string
	PrependCmd() []string
}

func New(envs map[string]string, prependCmd []string) Context {
	return &context{
		prependCmd: prependCmd,
		envs:       envs,
	}
}

// Empty returns a Context that neither injects env vars nor prepends a command.
func Empty() Context {
	return New(nil, nil)
}

// Sudo returns a Context prepending "sudo -n" when enabled is true.
func Sudo(enabled bool) Context {
	if !enabled {
		return Empty()
	}
	return New(nil, []string{"sudo", "-n"})
}

type context struct {
	envs       map[string]string
	prependCmd []string
}

// Envs implements Context.
func (c *context) Envs() map[string]string {
	out := make(map[string]string, len(c.envs))
	maps.Copy(out, c.envs)
	return out
}

// PrependCmd implements Context.
func (c *context) PrependCmd() []string {
	return slices.Clone(c.prependCmd)
}

// ApplyToCmd rewrites cmd so it runs through the prepended command with the
// context's environment appended to cmd.Env.
func ApplyToCmd(ctx Context, cmd *exec.Cmd) {
	for _, k := range sortedKeys(ctx.Envs()) {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, ctx.Envs()[k]))
	}

	prependCmd := ctx.PrependCmd()
	if len(prependCmd) < 1 {
		return
	}

	tmpCmd := exec.Command(prependCmd[0], prependCmd[1:]...)
	cmd.Path = tmpCmd.Path
	cmd.Args = append(tmpCmd.Args, cmd.Args...)
	cmd.Err = tmpCmd.Err
}

// FormatCmd renders the command as a single shell line, e.g. for an SSH
// session. Arguments are shell-quoted; control operators such as "&&" are
// kept verbatim so callers can chain commands.
func FormatCmd(ctx Context, cmd ...string) string {
	parts := make([]string, 0, len(cmd)+4)

	envs := ctx.Envs()
	for _, k := range sortedKeys(envs) {
		parts = append(parts, fmt.Sprintf("%s=%s", k, shellescape.Quote(envs[k])))
	}

	for _, s := range ctx.PrependCmd() {
		parts = append(parts, quote(s))
	}

	for _, s := range cmd {
		parts = append(parts, quote(s))
	}

	return strings.Join(parts, " ")
}

var unquotable = map[string]struct{}{
	"&&":   {},
	"||":   {},
	";":    {},
	"&":    {},
	"|":    {},
	">":    {},
	"2>&1": {},
}

func quote(s string) string {
	if _, ok := unquotable[s]; ok {
		return s
	}
	return shellescape.Quote(s)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
