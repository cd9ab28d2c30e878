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

// Package testutil holds helpers for integration tests that need a running
// libvirt daemon.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// libvirtGroups are the groups the qemu driver commonly runs as.
var libvirtGroups = []string{"libvirt", "libvirt-qemu", "kvm", "qemu"}

// SkipWithoutCommands skips t unless every command is in PATH.
func SkipWithoutCommands(t *testing.T, cmds ...string) {
	t.Helper()
	for _, c := range cmds {
		if _, err := exec.LookPath(c); err != nil {
			t.Skipf("%s not found in PATH", c)
		}
	}
}

// LibvirtDir returns a fresh directory the qemu driver can read and write,
// for disk images created by a test. Ancestors up to /tmp are made
// traversable, leaving the temp root alone, and libvirt groups are granted
// an ACL when setfacl is usable.
func LibvirtDir(t *testing.T, name string) string {
	t.Helper()

	parent := t.TempDir()
	path := filepath.Join(parent, name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("create %s: %v", path, err)
	}

	for d := parent; d != "/" && d != "/tmp" && d != os.TempDir(); d = filepath.Dir(d) {
		if err := os.Chmod(d, 0o755); err != nil {
			t.Logf("chmod %s: %v", d, err)
			break
		}
	}

	if _, err := exec.LookPath("setfacl"); err != nil {
		return path
	}
	for _, group := range detectGroups() {
		for _, args := range [][]string{
			{"-n", "setfacl", "-m", "g:" + group + ":rwx", path},
			{"-n", "setfacl", "-d", "-m", "g:" + group + ":rwx", path},
		} {
			if out, err := exec.Command("sudo", args...).CombinedOutput(); err != nil {
				t.Logf("setfacl for group %s: %v: %s", group, err, strings.TrimSpace(string(out)))
			}
		}
	}

	return path
}

// detectGroups returns the group set in qemu.conf, if any, plus the common
// libvirt groups that exist on this host.
func detectGroups() []string {
	seen := make(map[string]struct{})
	var groups []string
	add := func(g string) {
		if _, ok := seen[g]; ok || g == "" {
			return
		}
		seen[g] = struct{}{}
		groups = append(groups, g)
	}

	if data, err := os.ReadFile("/etc/libvirt/qemu.conf"); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if v, ok := strings.CutPrefix(line, "group = "); ok {
				add(strings.Trim(v, `"`))
			}
		}
	}

	for _, g := range libvirtGroups {
		if exec.Command("getent", "group", g).Run() == nil {
			add(g)
		}
	}
	return groups
}
