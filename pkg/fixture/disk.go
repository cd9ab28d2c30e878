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
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/alexandremahdhaoui/virtmig/pkg/registry"
	"github.com/alexandremahdhaoui/virtmig/pkg/vmm"
	"go.uber.org/multierr"
)

var (
	errImageExists   = errors.New("disk image already exists")
	errInvalidImage  = errors.New("invalid disk image")
	errWriteTempFile = errors.New("failed to write temporary file")
	errImageInfo     = errors.New("failed to read disk image info")
)

// DiskImage creates a disk image with qemu-img on Host. An existing file is
// refused so release never deletes data it did not create.
type DiskImage struct {
	Host   Host
	Path   string
	Format string
	// Size is in bytes.
	Size uint64
	// BackingFile is optional.
	BackingFile string
}

func (d *DiskImage) Name() string        { return fmt.Sprintf("disk/%s:%s", d.Host.Name(), d.Path) }
func (d *DiskImage) Kind() registry.Kind { return registry.KindCreatedFile }

func (d *DiskImage) Acquire(ctx context.Context) (registry.ReleaseFunc, error) {
	if d.Path == "" || (d.Size == 0 && d.BackingFile == "") {
		return nil, fmt.Errorf("%w: path and size are required", errInvalidImage)
	}

	if _, err := d.Host.Run(ctx, "test", "-e", d.Path); err == nil {
		return nil, fmt.Errorf("%w: %s", errImageExists, d.Path)
	}

	if _, err := d.Host.Run(ctx, "mkdir", "-p", dir(d.Path)); err != nil {
		return nil, err
	}

	args := []string{"qemu-img", "create", "-f", defaultFormat(d.Format)}
	if d.BackingFile != "" {
		args = append(args, "-b", d.BackingFile, "-F", defaultFormat(d.Format))
	}
	args = append(args, d.Path)
	if d.Size > 0 {
		args = append(args, fmt.Sprintf("%d", d.Size))
	}

	release := func(ctx context.Context) error {
		_, err := d.Host.Run(ctx, "rm", "-f", d.Path)
		return err
	}

	if _, err := d.Host.Run(ctx, args...); err != nil {
		// qemu-img may leave a truncated file behind.
		return release, err
	}
	return release, nil
}

// DestinationImages creates on Dest an empty image for every disk of Domain,
// with the format and virtual size of its source image, so a copy-storage
// migration has a target to write to. Each image is removed on release.
type DestinationImages struct {
	Virsh  Definer
	Domain string
	Source Host
	Dest   Host
}

func (d *DestinationImages) Name() string        { return "destination-images/" + d.Domain }
func (d *DestinationImages) Kind() registry.Kind { return registry.KindCreatedFile }

func (d *DestinationImages) Acquire(ctx context.Context) (registry.ReleaseFunc, error) {
	domainXML, err := d.Virsh.DumpXML(ctx, d.Domain)
	if err != nil {
		return nil, err
	}
	paths, err := vmm.DiskSources(domainXML)
	if err != nil {
		return nil, err
	}

	var releases []registry.ReleaseFunc
	releaseAll := func(ctx context.Context) error {
		var errs error
		for i := len(releases) - 1; i >= 0; i-- {
			errs = multierr.Append(errs, releases[i](ctx))
		}
		return errs
	}

	for _, path := range paths {
		info, err := imageInfo(ctx, d.Source, path)
		if err != nil {
			return releaseAll, err
		}

		img := &DiskImage{Host: d.Dest, Path: path, Format: info.Format, Size: info.VirtualSize}
		release, err := img.Acquire(ctx)
		if release != nil {
			releases = append(releases, release)
		}
		if err != nil {
			return releaseAll, err
		}
	}

	if len(releases) == 0 {
		return nil, nil
	}
	return releaseAll, nil
}

type diskImageInfo struct {
	Format      string `json:"format"`
	VirtualSize uint64 `json:"virtual-size"`
}

func imageInfo(ctx context.Context, h Host, path string) (diskImageInfo, error) {
	out, err := h.Run(ctx, "qemu-img", "info", "--output=json", path)
	if err != nil {
		return diskImageInfo{}, err
	}

	var info diskImageInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		return diskImageInfo{}, errors.Join(err, fmt.Errorf("%w: %s", errImageInfo, path))
	}
	if info.VirtualSize == 0 {
		return diskImageInfo{}, fmt.Errorf("%w: %s has no virtual size", errImageInfo, path)
	}
	return info, nil
}

func defaultFormat(format string) string {
	if format == "" {
		return "qcow2"
	}
	return format
}

// DeviceAttacher hot-plugs devices described by an XML file.
type DeviceAttacher interface {
	AttachDevice(ctx context.Context, domain, path string) error
	DetachDevice(ctx context.Context, domain, path string) error
}

// AttachDevice hot-plugs a disk into the guest before migration and
// detaches it on release.
type AttachDevice struct {
	Virsh  DeviceAttacher
	Domain string
	Disk   vmm.DiskConfig
	// TempDir holds the generated XML. Defaults to os.TempDir().
	TempDir string
}

func (a *AttachDevice) Name() string {
	return fmt.Sprintf("attach/%s:%s", a.Domain, a.Disk.Target)
}
func (a *AttachDevice) Kind() registry.Kind { return registry.KindAttachedDevice }

func (a *AttachDevice) Acquire(ctx context.Context) (registry.ReleaseFunc, error) {
	xml, err := vmm.DiskXML(a.Disk)
	if err != nil {
		return nil, err
	}

	path, err := writeTemp(a.TempDir, "virtmig-disk-*.xml", xml)
	if err != nil {
		return nil, err
	}

	if err := a.Virsh.AttachDevice(ctx, a.Domain, path); err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	return func(ctx context.Context) error {
		defer os.Remove(path)
		return a.Virsh.DetachDevice(ctx, a.Domain, path)
	}, nil
}

func writeTemp(dir, pattern, content string) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", errors.Join(err, errWriteTempFile)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		_ = os.Remove(f.Name())
		return "", errors.Join(err, errWriteTempFile)
	}
	return f.Name(), nil
}
