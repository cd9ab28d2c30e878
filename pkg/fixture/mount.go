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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/alexandremahdhaoui/virtmig/pkg/registry"
	"github.com/moby/sys/mountinfo"
)

// Mount mounts a shared filesystem (NFS, glusterfs) on Host. A target that
// is already mounted is left alone and not released.
type Mount struct {
	Host    Host
	Source  string
	Target  string
	FSType  string
	Options []string

	// mounted is overridable in tests.
	mounted func(target string) (bool, error)
}

func (m *Mount) Name() string        { return fmt.Sprintf("mount/%s:%s", m.Host.Name(), m.Target) }
func (m *Mount) Kind() registry.Kind { return registry.KindMount }

func (m *Mount) Acquire(ctx context.Context) (registry.ReleaseFunc, error) {
	already, err := m.isMounted(ctx)
	if err != nil {
		return nil, err
	}
	if already {
		return nil, nil
	}

	if _, err := m.Host.Run(ctx, "mkdir", "-p", m.Target); err != nil {
		return nil, err
	}

	args := []string{"mount"}
	if m.FSType != "" {
		args = append(args, "-t", m.FSType)
	}
	if len(m.Options) > 0 {
		args = append(args, "-o", strings.Join(m.Options, ","))
	}
	args = append(args, m.Source, m.Target)

	if _, err := m.Host.Run(ctx, args...); err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		_, err := m.Host.Run(ctx, "umount", m.Target)
		return err
	}, nil
}

func (m *Mount) isMounted(ctx context.Context) (bool, error) {
	if m.Host.Local() {
		if m.mounted != nil {
			return m.mounted(m.Target)
		}
		if _, err := os.Stat(m.Target); errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return mountinfo.Mounted(m.Target)
	}
	// mountpoint exits 1 for a plain directory and 32 for a missing one.
	_, err := m.Host.Run(ctx, "mountpoint", "-q", m.Target)
	return err == nil, nil
}

func dir(p string) string {
	return path.Dir(p)
}
